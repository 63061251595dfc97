package models

import "time"

const (
	// MaxRecordsPerRequest верхняя граница recordIds в одном запросе
	MaxRecordsPerRequest = 1000

	// DefaultStatusPageSize размер страницы истории синхронизаций
	DefaultStatusPageSize = 50

	// DefaultRetryBudget количество повторов для одной записи
	DefaultRetryBudget = 3

	// DefaultRetryDelay задержка перед первым повтором
	DefaultRetryDelay = 5 * time.Second

	// ProviderCallTimeout таймаут одного вызова провайдера
	ProviderCallTimeout = 45 * time.Second

	// DateLayout формат календарной даты записи
	DateLayout = "2006-01-02"
)

const (
	ProviderREST   = "rest"
	ProviderSheets = "sheets"
)

const (
	QueuePrimary = "primary"
	QueueRetry   = "retry"
)
