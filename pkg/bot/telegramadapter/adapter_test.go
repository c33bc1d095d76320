package telegramadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dkalashnik/doctor-ai-bot/pkg/ports/botport"
)

func TestAdapterSendMessageSuccess(t *testing.T) {
	fc := &fakeClient{
		sendFn: func(chatID int64, text string, markup interface{}) (tgbotapi.Message, error) {
			return tgbotapi.Message{
				MessageID: 42,
				Text:      text,
				Chat:      &tgbotapi.Chat{ID: chatID},
			}, nil
		},
	}
	adapter, err := New(fc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⭐️", "rate:1:1"),
		),
	)

	msg, err := adapter.SendMessage(context.Background(), 7, "hello", keyboard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.ChatID != 7 || msg.MessageID != 42 {
		t.Fatalf("unexpected bot message: %+v", msg)
	}
	if msg.Transport != "telegram" || msg.Payload != "hello" {
		t.Fatalf("unexpected transport/payload: %+v", msg)
	}
	if msg.Meta["markup_type"] == "" || msg.Meta["raw_markup"] == "" {
		t.Fatalf("expected markup metadata to be set: %+v", msg.Meta)
	}
}

func TestAdapterSendMessageWrapsRateLimitError(t *testing.T) {
	fc := &fakeClient{
		sendFn: func(int64, string, interface{}) (tgbotapi.Message, error) {
			return tgbotapi.Message{}, errors.New("Too Many Requests: retry after 3")
		},
	}
	adapter, _ := New(fc, nil)

	_, err := adapter.SendMessage(context.Background(), 1, "hi", nil)
	var be *botport.BotError
	if !errors.As(err, &be) {
		t.Fatalf("expected BotError, got %T", err)
	}
	if be.Code != botport.CodeRateLimited || be.RetryAfter != 3*time.Second {
		t.Fatalf("unexpected bot error: %+v", be)
	}
}

func TestAdapterClassifiesTelegramAPIError(t *testing.T) {
	apiErr := &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 5}}
	fc := &fakeClient{
		sendFn: func(int64, string, interface{}) (tgbotapi.Message, error) {
			return tgbotapi.Message{}, apiErr
		},
	}
	adapter, _ := New(fc, nil)

	_, err := adapter.SendMessage(context.Background(), 1, "hi", nil)
	var be *botport.BotError
	if !errors.As(err, &be) || be.Code != botport.CodeRateLimited || be.RetryAfter != 5*time.Second {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdapterEditMessageRejectsInvalidMarkup(t *testing.T) {
	adapter, _ := New(&fakeClient{}, nil)

	_, err := adapter.EditMessage(context.Background(), 1, 2, "text", "bad markup")
	if !botport.IsCode(err, botport.CodeBadPayload) {
		t.Fatalf("expected bad_payload, got %v", err)
	}
}

func TestAdapterEditMessageNotModified(t *testing.T) {
	fc := &fakeClient{
		editFn: func(int64, int, string, *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
			return tgbotapi.Message{}, errors.New("Bad Request: message is not modified")
		},
	}
	adapter, _ := New(fc, nil)

	_, err := adapter.EditMessage(context.Background(), 1, 2, "text", nil)
	if !botport.IsCode(err, botport.CodeMessageNotModified) {
		t.Fatalf("expected message_not_modified, got %v", err)
	}
}

func TestAdapterSendDocument(t *testing.T) {
	var gotName, gotCaption string
	var gotData []byte
	fc := &fakeClient{
		docFn: func(chatID int64, name string, data []byte, caption string) (tgbotapi.Message, error) {
			gotName, gotData, gotCaption = name, data, caption
			return tgbotapi.Message{MessageID: 5, Caption: caption, Chat: &tgbotapi.Chat{ID: chatID}}, nil
		},
	}
	adapter, _ := New(fc, nil)

	msg, err := adapter.SendDocument(context.Background(), 3, botport.Document{Name: "stats.csv", Data: []byte("a,b"), Caption: "📊"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotName != "stats.csv" || string(gotData) != "a,b" || gotCaption != "📊" {
		t.Fatalf("document not forwarded: %q %q %q", gotName, gotData, gotCaption)
	}
	if msg.MessageID != 5 || msg.Payload != "📊" || msg.Meta["document_name"] != "stats.csv" {
		t.Fatalf("unexpected bot message: %+v", msg)
	}

	_, err = adapter.SendDocument(context.Background(), 3, botport.Document{Name: "empty.csv"})
	if !botport.IsCode(err, botport.CodeBadPayload) {
		t.Fatalf("expected bad_payload for empty document, got %v", err)
	}
}

func TestAdapterHonoursCancelledContext(t *testing.T) {
	adapter, _ := New(&fakeClient{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := adapter.SendChatAction(ctx, 1, botport.ActionTyping); !botport.IsCode(err, "context_canceled") {
		t.Fatalf("expected context_canceled, got %v", err)
	}
}

func TestNewRejectsNilClient(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

type fakeClient struct {
	sendFn func(chatID int64, text string, markup interface{}) (tgbotapi.Message, error)
	editFn func(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error)
	cbFn   func(callbackID string, text string) error
	docFn  func(chatID int64, name string, data []byte, caption string) (tgbotapi.Message, error)
}

func (f *fakeClient) SendMessage(chatID int64, text string, markup interface{}) (tgbotapi.Message, error) {
	if f.sendFn == nil {
		return tgbotapi.Message{}, nil
	}
	return f.sendFn(chatID, text, markup)
}

func (f *fakeClient) EditMessageText(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	if f.editFn == nil {
		return tgbotapi.Message{}, nil
	}
	return f.editFn(chatID, messageID, text, markup)
}

func (f *fakeClient) AnswerCallback(callbackID string, text string) error {
	if f.cbFn == nil {
		return nil
	}
	return f.cbFn(callbackID, text)
}

func (f *fakeClient) SendDocument(chatID int64, name string, data []byte, caption string) (tgbotapi.Message, error) {
	if f.docFn == nil {
		return tgbotapi.Message{}, nil
	}
	return f.docFn(chatID, name, data, caption)
}

func (f *fakeClient) SendChatAction(int64, string) error {
	return nil
}
