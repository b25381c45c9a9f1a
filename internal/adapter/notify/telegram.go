package notify

import (
	"context"
	"fmt"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/semmidev/stackvault/internal/config"
)

// maxMessageLen is Telegram's limit for a text message, in characters.
const maxMessageLen = 4096

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: cfg.ChatID}, nil
}

// NewTelegramWithBot wraps an already constructed bot.
func NewTelegramWithBot(bot *tgbotapi.BotAPI, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

func (t *Telegram) Notify(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, truncate(message, maxMessageLen))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
