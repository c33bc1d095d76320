// Package telegramadapter implements botport.BotPort on top of the Telegram client.
package telegramadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dkalashnik/doctor-ai-bot/pkg/bot"
	"github.com/dkalashnik/doctor-ai-bot/pkg/logging"
	"github.com/dkalashnik/doctor-ai-bot/pkg/ports/botport"
)

type telegramClient interface {
	SendMessage(chatID int64, text string, markup interface{}) (tgbotapi.Message, error)
	EditMessageText(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error)
	AnswerCallback(callbackID string, text string) error
	SendDocument(chatID int64, name string, data []byte, caption string) (tgbotapi.Message, error)
	SendChatAction(chatID int64, action string) error
}

// Adapter wraps a Telegram client and satisfies botport.BotPort.
type Adapter struct {
	client telegramClient
	log    *slog.Logger
}

var _ telegramClient = (*bot.Client)(nil)
var _ botport.BotPort = (*Adapter)(nil)

func New(client telegramClient, log *slog.Logger) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("telegramadapter: client is nil")
	}
	return &Adapter{
		client: client,
		log:    logging.Or(log).With("component", "botport"),
	}, nil
}

func (a *Adapter) SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) (botport.BotMessage, error) {
	if err := ctx.Err(); err != nil {
		return botport.BotMessage{}, wrapContextError("send_message", err)
	}
	msg, err := a.client.SendMessage(chatID, text, markup)
	if err != nil {
		return botport.BotMessage{}, a.wrapAndLogError(ctx, "send_message", chatID, 0, err)
	}
	bm := toBotMessage(msg, markup)
	a.log.DebugContext(ctx, "botport op", "op", "send_message", "chat_id", bm.ChatID, "message_id", bm.MessageID)
	return bm, nil
}

func (a *Adapter) EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup interface{}) (botport.BotMessage, error) {
	if err := ctx.Err(); err != nil {
		return botport.BotMessage{}, wrapContextError("edit_message", err)
	}
	inlineMarkup, err := toInlineKeyboard(markup)
	if err != nil {
		return botport.BotMessage{}, botport.NewBotError("edit_message", botport.CodeBadPayload, err)
	}
	msg, err := a.client.EditMessageText(chatID, messageID, text, inlineMarkup)
	if err != nil {
		return botport.BotMessage{}, a.wrapAndLogError(ctx, "edit_message", chatID, messageID, err)
	}
	var meta interface{}
	if inlineMarkup != nil {
		meta = inlineMarkup
	}
	bm := toBotMessage(msg, meta)
	a.log.DebugContext(ctx, "botport op", "op", "edit_message", "chat_id", bm.ChatID, "message_id", bm.MessageID)
	return bm, nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return wrapContextError("answer_callback", err)
	}
	if err := a.client.AnswerCallback(callbackID, text); err != nil {
		return a.wrapAndLogError(ctx, "answer_callback", 0, 0, err)
	}
	a.log.DebugContext(ctx, "botport op", "op", "answer_callback", "callback_id", callbackID)
	return nil
}

func (a *Adapter) SendDocument(ctx context.Context, chatID int64, doc botport.Document) (botport.BotMessage, error) {
	if err := ctx.Err(); err != nil {
		return botport.BotMessage{}, wrapContextError("send_document", err)
	}
	if doc.Name == "" || len(doc.Data) == 0 {
		return botport.BotMessage{}, botport.NewBotError("send_document", botport.CodeBadPayload, errors.New("document name and data are required"))
	}
	msg, err := a.client.SendDocument(chatID, doc.Name, doc.Data, doc.Caption)
	if err != nil {
		return botport.BotMessage{}, a.wrapAndLogError(ctx, "send_document", chatID, 0, err)
	}
	bm := toBotMessage(msg, nil)
	if bm.Meta == nil {
		bm.Meta = map[string]string{}
	}
	bm.Meta["document_name"] = doc.Name
	a.log.DebugContext(ctx, "botport op", "op", "send_document", "chat_id", bm.ChatID, "name", doc.Name, "bytes", len(doc.Data))
	return bm, nil
}

func (a *Adapter) SendChatAction(ctx context.Context, chatID int64, action string) error {
	if err := ctx.Err(); err != nil {
		return wrapContextError("send_chat_action", err)
	}
	if err := a.client.SendChatAction(chatID, action); err != nil {
		return a.wrapAndLogError(ctx, "send_chat_action", chatID, 0, err)
	}
	return nil
}

func (a *Adapter) wrapAndLogError(ctx context.Context, op string, chatID int64, messageID int, err error) error {
	wrapped := wrapTelegramError(op, err)
	code := getBotErrorCode(wrapped)
	level := slog.LevelWarn
	if code == botport.CodeMessageNotModified {
		level = slog.LevelDebug
	}
	a.log.Log(ctx, level, "botport op failed",
		"op", op,
		"chat_id", chatID,
		"message_id", messageID,
		"code", code,
		"error", err)
	return wrapped
}

func toInlineKeyboard(markup interface{}) (*tgbotapi.InlineKeyboardMarkup, error) {
	if markup == nil {
		return nil, nil
	}
	switch v := markup.(type) {
	case tgbotapi.InlineKeyboardMarkup:
		return &v, nil
	case *tgbotapi.InlineKeyboardMarkup:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported markup type %T", markup)
	}
}

func toBotMessage(msg tgbotapi.Message, markup interface{}) botport.BotMessage {
	payload := msg.Text
	if payload == "" {
		payload = msg.Caption
	}
	return botport.BotMessage{
		ChatID:    chatIDFromMessage(msg),
		MessageID: msg.MessageID,
		Transport: "telegram",
		Payload:   payload,
		Meta:      metaFromMarkup(markup),
	}
}

func metaFromMarkup(markup interface{}) map[string]string {
	if markup == nil {
		return nil
	}
	meta := map[string]string{
		"markup_type": fmt.Sprintf("%T", markup),
	}
	if raw, err := json.Marshal(markup); err == nil {
		meta["raw_markup"] = string(raw)
	}
	return meta
}

func chatIDFromMessage(msg tgbotapi.Message) int64 {
	if msg.Chat != nil {
		return msg.Chat.ID
	}
	return 0
}

func wrapContextError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return &botport.BotError{Op: op, Code: "context_canceled", Wrapped: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &botport.BotError{Op: op, Code: "context_deadline", Wrapped: err}
	}
	return &botport.BotError{Op: op, Code: "context_error", Wrapped: err}
}

func wrapTelegramError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapContextError(op, err)
	}
	code, retry := classifyTelegramError(err)
	return &botport.BotError{
		Op:         op,
		Code:       code,
		RetryAfter: retry,
		Wrapped:    err,
	}
}

var retryAfterRegex = regexp.MustCompile(`(?i)retry after (\d+)`)

func classifyTelegramError(err error) (string, time.Duration) {
	if err == nil {
		return botport.CodeUnknown, 0
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return botport.CodeRateLimited, time.Duration(tgErr.RetryAfter) * time.Second
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "message is not modified"):
		return botport.CodeMessageNotModified, 0
	case strings.Contains(msg, "too many requests"):
		return botport.CodeRateLimited, extractRetryAfter(msg)
	case strings.Contains(msg, "bad request"):
		return botport.CodeBadRequest, 0
	case strings.Contains(msg, "forbidden"):
		return botport.CodeForbidden, 0
	default:
		return botport.CodeUnknown, 0
	}
}

func extractRetryAfter(msg string) time.Duration {
	matches := retryAfterRegex.FindStringSubmatch(msg)
	if len(matches) != 2 {
		return 0
	}
	seconds, err := time.ParseDuration(matches[1] + "s")
	if err != nil {
		return 0
	}
	return seconds
}

func getBotErrorCode(err error) string {
	var be *botport.BotError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
