package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ballee/spendguard/internal/config"
	"github.com/ballee/spendguard/internal/errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramAdapter delivers notifications to a Telegram chat and long-polls
// for approve/reject replies.
type TelegramAdapter struct {
	token           string
	updateTimeout   int
	responseHandler ResponseHandler
	bot             *tgbotapi.BotAPI
}

func NewTelegramAdapter(token string, responseHandler ResponseHandler, updateTimeout int) *TelegramAdapter {
	if updateTimeout <= 0 {
		updateTimeout = config.DefaultTelegramTimeout
	}
	return &TelegramAdapter{
		token:           token,
		updateTimeout:   updateTimeout,
		responseHandler: responseHandler,
	}
}

func (t *TelegramAdapter) Name() string { return "telegram" }

func (t *TelegramAdapter) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return errors.Wrap(err, "failed to init telegram bot")
	}
	t.bot = bot
	slog.Info("Telegram Adapter started", "user", bot.Self.UserName)

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = t.updateTimeout
	go t.pumpUpdates(ctx, bot.GetUpdatesChan(updateCfg))

	return nil
}

func (t *TelegramAdapter) Stop(ctx context.Context) error {
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	return nil
}

// pumpUpdates drains the long-poll channel until the context ends.
func (t *TelegramAdapter) pumpUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *TelegramAdapter) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || t.responseHandler == nil {
		return
	}

	recordID, response, ok := ParseResponse(msg.Text)
	if !ok {
		return
	}

	metadata := map[string]string{
		"chat_id": fmt.Sprintf("%d", msg.Chat.ID),
		"msg_id":  fmt.Sprintf("%d", msg.MessageID),
	}
	if err := t.responseHandler(ctx, "telegram", recordID, response, responderName(msg.From), metadata); err != nil {
		slog.Error("Failed to handle Telegram response", "record", recordID, "error", err)
	}
}

func responderName(from *tgbotapi.User) string {
	if from == nil {
		return "unknown"
	}
	if from.UserName != "" {
		return from.UserName
	}
	return fmt.Sprintf("%d", from.ID)
}

// Send delivers a message to a Telegram chat. target is the chat ID.
func (t *TelegramAdapter) Send(ctx context.Context, target string, content string) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return errors.DataQuality("invalid telegram chat ID: " + err.Error())
	}

	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, content)); err != nil {
		return errors.Wrap(err, "failed to send telegram message")
	}
	slog.Debug("Telegram message sent", "chat_id", target)
	return nil
}

func (t *TelegramAdapter) Health(ctx context.Context) error {
	if t.bot == nil {
		return errors.Transient("Telegram bot not initialized")
	}
	if _, err := t.bot.GetMe(); err != nil {
		return errors.Transient("Telegram connection failed: " + err.Error())
	}
	return nil
}
