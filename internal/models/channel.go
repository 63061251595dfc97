package models

import "time"

type Property struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Timezone  string    `json:"timezone" yaml:"timezone"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

type ChannelConfig struct {
	ChannelID       string            `json:"channel_id" yaml:"channel_id"`
	PropertyID      string            `json:"property_id" yaml:"property_id"`
	Name            string            `json:"name" yaml:"name"`
	ProviderType    string            `json:"provider_type" yaml:"provider_type"`
	HotelID         string            `json:"hotel_id" yaml:"hotel_id"`
	Currency        string            `json:"currency" yaml:"currency"`
	RoomTypeMapping map[string]string `json:"room_type_mapping" yaml:"room_type_mapping"`
	RatePlanMapping map[string]string `json:"rate_plan_mapping" yaml:"rate_plan_mapping"`
	IsActive        bool              `json:"is_active" yaml:"is_active"`
}

// RoomTypeCode maps an internal room code, falling through to the internal code.
func (c ChannelConfig) RoomTypeCode(internal string) string {
	if code, ok := c.RoomTypeMapping[internal]; ok && code != "" {
		return code
	}
	return internal
}

// RatePlanCode maps an internal rate plan code, falling through to the internal code.
func (c ChannelConfig) RatePlanCode(internal string) string {
	if code, ok := c.RatePlanMapping[internal]; ok && code != "" {
		return code
	}
	return internal
}
