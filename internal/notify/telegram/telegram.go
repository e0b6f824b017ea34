package telegram

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const alertPrefix = "🚨 "

// Sink sends notifications to one Telegram chat.
type Sink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewSink authorizes the bot token against the Telegram API.
func NewSink(token string, chatID int64) (*Sink, error) {
	return NewSinkWithEndpoint(token, chatID, tgbotapi.APIEndpoint, &http.Client{})
}

// NewSinkWithEndpoint is NewSink against a custom API endpoint format.
func NewSinkWithEndpoint(token string, chatID int64, endpoint string, client *http.Client) (*Sink, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram bot: %w", err)
	}

	return &Sink{
		bot:    bot,
		chatID: chatID,
	}, nil
}

// Send implements notify.Sink. Non-alert messages are delivered silently.
func (s *Sink) Send(ctx context.Context, message string, alert bool) error {
	if alert {
		message = alertPrefix + message
	}

	msg := tgbotapi.NewMessage(s.chatID, message)
	msg.DisableNotification = !alert

	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}
