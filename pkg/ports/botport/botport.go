// Package botport is the outbound boundary between conversation handling and
// chat transports. Adapters normalize their failures into BotError codes.
package botport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	CodeMessageNotModified = "message_not_modified"
	CodeRateLimited        = "rate_limited"
	CodeBadRequest         = "bad_request"
	CodeForbidden          = "forbidden"
	CodeBadPayload         = "bad_payload"
	CodeUnknown            = "unknown"
)

// ActionTyping is the chat action shown while an answer is being generated.
const ActionTyping = "typing"

// BotMessage captures adapter-agnostic identifiers for sent messages.
type BotMessage struct {
	ChatID    int64
	MessageID int
	Transport string
	Payload   string
	Meta      map[string]string
}

// Document is a file attachment sent to a chat.
type Document struct {
	Name    string
	Data    []byte
	Caption string
}

// BotError wraps adapter failures with retry hints and normalized codes.
type BotError struct {
	Op         string
	Code       string
	RetryAfter time.Duration
	Wrapped    error
}

func (e *BotError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *BotError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Wrapped
}

func NewBotError(op, code string, err error) *BotError {
	return &BotError{
		Op:      op,
		Code:    code,
		Wrapped: err,
	}
}

// IsCode reports whether err is a BotError with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var be *BotError
	if errors.As(err, &be) {
		return be != nil && be.Code == code
	}
	return false
}

// BotPort abstracts outbound operations for adapters (Telegram, fake).
type BotPort interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup interface{}) (BotMessage, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, markup interface{}) (BotMessage, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	SendDocument(ctx context.Context, chatID int64, doc Document) (BotMessage, error)
	SendChatAction(ctx context.Context, chatID int64, action string) error
}
