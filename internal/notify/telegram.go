package notify

import (
	"context"
	"fmt"
	"strings"

	"chansync/internal/config"
	"chansync/internal/domain"
	"chansync/internal/events"
	"chansync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const (
	queueSize      = 256
	maxSummaryText = 1500
)

// NewBot connects to the Telegram Bot API.
func NewBot(cfg config.TelegramAlertConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

// Notifier turns sync events into Telegram alerts for operators.
// Event handlers only format and queue messages; Run delivers them.
type Notifier struct {
	bot     domain.TelegramSender
	chatIDs []int64
	outbox  chan string
	logger  zerolog.Logger
}

func NewNotifier(bot domain.TelegramSender, chatIDs []int64, logger *zerolog.Logger) *Notifier {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "telegram_alerts").Logger()
	}
	return &Notifier{
		bot:     bot,
		chatIDs: chatIDs,
		outbox:  make(chan string, queueSize),
		logger:  l,
	}
}

// Subscribe registers the notifier on the bus.
func (n *Notifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventSyncCompleted, n.onCompleted)
	bus.Subscribe(events.EventSyncRetryAbandoned, n.onAbandoned)
}

func (n *Notifier) onCompleted(e *events.Event) error {
	var p events.SyncEventPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	switch models.SyncStatus(p.Status) {
	case models.SyncStatusFailed, models.SyncStatusPartialSuccess:
	default:
		return nil
	}
	n.enqueue(formatCompleted(p))
	return nil
}

func (n *Notifier) onAbandoned(e *events.Event) error {
	var p events.RetryEventPayload
	if err := e.Decode(&p); err != nil {
		return err
	}
	n.enqueue(formatAbandoned(p))
	return nil
}

func (n *Notifier) enqueue(text string) {
	select {
	case n.outbox <- text:
	default:
		n.logger.Warn().Msg("alert queue full, message dropped")
	}
}

// Run delivers queued alerts until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-n.outbox:
			n.send(text)
		}
	}
}

func (n *Notifier) send(text string) {
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send alert")
		}
	}
}

func formatCompleted(p events.SyncEventPayload) string {
	var b strings.Builder
	icon := "⚠️"
	if p.Status == string(models.SyncStatusFailed) {
		icon = "❌"
	}
	fmt.Fprintf(&b, "%s Sync %s\n", icon, p.Status)
	fmt.Fprintf(&b, "Property: %s\nChannel: %s", p.PropertyID, p.ChannelID)
	if p.ProviderType != "" {
		fmt.Fprintf(&b, " (%s)", p.ProviderType)
	}
	fmt.Fprintf(&b, "\nOperation: %s\n", p.Operation)
	fmt.Fprintf(&b, "Records: %d ok / %d failed of %d\n", p.SuccessCount, p.FailedCount, p.TotalRecords)
	if p.RetryCount > 0 {
		fmt.Fprintf(&b, "Retry #%d of %s\n", p.RetryCount, p.ParentSyncID)
	}
	fmt.Fprintf(&b, "Sync ID: %s", p.SyncID)
	if p.ErrorSummary != "" {
		summary := p.ErrorSummary
		if len(summary) > maxSummaryText {
			summary = summary[:maxSummaryText] + "..."
		}
		fmt.Fprintf(&b, "\n\n%s", summary)
	}
	return b.String()
}

func formatAbandoned(p events.RetryEventPayload) string {
	return fmt.Sprintf("🛑 Record %s given up\nProperty: %s\nChannel: %s\nSync ID: %s\nReason: %s",
		p.RecordID, p.PropertyID, p.ChannelID, p.SyncID, p.Reason)
}
