package models

import "sort"

// GroupByDate splits records into date groups keyed by DateKey.
// Keys are returned sorted so processing order is deterministic.
func GroupByDate(records []*RateInventoryRecord) ([]string, map[string][]*RateInventoryRecord) {
	groups := make(map[string][]*RateInventoryRecord)
	for _, r := range records {
		key := r.DateKey()
		groups[key] = append(groups[key], r)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, groups
}
