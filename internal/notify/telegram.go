package notify

import (
	"fmt"
	"strings"

	"tablesync/internal/config"
	"tablesync/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the part of the bot API used for notifications.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier tells operators about retry chains that ran out of attempts.
type TelegramNotifier struct {
	bot     Sender
	chatIDs []int64
	logger  zerolog.Logger
}

// NewTelegramBot connects to the Bot API with the configured token.
func NewTelegramBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return bot, nil
}

func NewTelegramNotifier(bot Sender, chatIDs []int64, logger *zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:     bot,
		chatIDs: chatIDs,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Attach subscribes the notifier to exhausted retry chains. Messages are
// sent off the publisher's goroutine.
func (n *TelegramNotifier) Attach(bus *events.EventBus) {
	bus.SubscribeAsync(events.EventJobExhausted, n.HandleExhausted)
}

func (n *TelegramNotifier) HandleExhausted(event *events.Event) error {
	var p events.JobEventPayload
	if err := event.Decode(&p); err != nil {
		return err
	}

	text := FormatExhausted(&p)
	var failed []string
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Str("job_id", p.JobID).Msg("Failed to send notification")
			failed = append(failed, fmt.Sprint(chatID))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("notify chats %s failed", strings.Join(failed, ","))
	}
	return nil
}

// FormatExhausted renders the notification text.
func FormatExhausted(p *events.JobEventPayload) string {
	var b strings.Builder
	name := p.JobName
	if name == "" {
		name = p.JobID
	}
	fmt.Fprintf(&b, "*Sync job failed*: %s\n", tgbotapi.EscapeText(tgbotapi.ModeMarkdown, name))
	fmt.Fprintf(&b, "Job ID: `%s`\n", p.JobID)
	fmt.Fprintf(&b, "Attempts: %d (max retries %d)\n", p.RetryCount, p.MaxRetries)
	if p.Error != "" {
		fmt.Fprintf(&b, "Last error: %s\n", tgbotapi.EscapeText(tgbotapi.ModeMarkdown, p.Error))
	}
	if !p.At.IsZero() {
		fmt.Fprintf(&b, "At: %s", p.At.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	return strings.TrimRight(b.String(), "\n")
}
