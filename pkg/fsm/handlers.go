package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dkalashnik/doctor-ai-bot/pkg/export"
	"github.com/dkalashnik/doctor-ai-bot/pkg/feedback"
	"github.com/dkalashnik/doctor-ai-bot/pkg/logging"
	"github.com/dkalashnik/doctor-ai-bot/pkg/models"
	"github.com/dkalashnik/doctor-ai-bot/pkg/ports/botport"
	"github.com/dkalashnik/doctor-ai-bot/pkg/state"
	"github.com/dkalashnik/doctor-ai-bot/pkg/stats"
	"github.com/dkalashnik/doctor-ai-bot/pkg/storage"
)

// HandlerDeps wires the Telegram handler to the domain services.
type HandlerDeps struct {
	Bot      botport.BotPort
	Sessions *state.Store
	Engine   *Engine
	Store    storage.Store
	Feedback *feedback.Recorder
	Stats    *stats.Aggregator
	Location *time.Location
	Logger   *slog.Logger
}

type Handler struct {
	bot      botport.BotPort
	sessions *state.Store
	engine   *Engine
	store    storage.Store
	feedback *feedback.Recorder
	stats    *stats.Aggregator
	loc      *time.Location
	log      *slog.Logger
}

func NewHandler(d HandlerDeps) *Handler {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		bot:      d.Bot,
		sessions: d.Sessions,
		engine:   d.Engine,
		store:    d.Store,
		feedback: d.Feedback,
		stats:    d.Stats,
		loc:      loc,
		log:      logging.Or(d.Logger).With("component", "handler"),
	}
}

// HandleUpdate processes one Telegram update. Messages run inside the
// sender's critical section; callbacks only touch the store and skip it.
// It is safe to call from many goroutines.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		h.dispatchMessage(ctx, update.UpdateID, update.Message)
	case update.CallbackQuery != nil:
		query := update.CallbackQuery
		if query.From == nil {
			h.log.WarnContext(ctx, "callback without sender", "update_id", update.UpdateID)
			return
		}
		if query.Message == nil || query.Message.Chat == nil {
			h.log.WarnContext(ctx, "callback without message or chat", "update_id", update.UpdateID)
			return
		}
		if err := h.handleCallbackQuery(ctx, query); err != nil {
			h.log.ErrorContext(ctx, "callback failed", "user_id", query.From.ID, "update_id", update.UpdateID, "error", err)
		}
	default:
		h.log.DebugContext(ctx, "ignoring update", "update_id", update.UpdateID)
	}
}

func (h *Handler) dispatchMessage(ctx context.Context, updateID int, message *tgbotapi.Message) {
	if message.From == nil || message.Chat == nil {
		h.log.WarnContext(ctx, "message without sender or chat", "update_id", updateID)
		return
	}
	from := message.From
	userName := from.FirstName
	if from.LastName != "" {
		userName += " " + from.LastName
	}

	err := h.sessions.WithUser(from.ID, userName, func(us *state.UserState) error {
		return h.handleMessage(ctx, message, us)
	})
	if err != nil {
		h.log.ErrorContext(ctx, "update failed", "user_id", from.ID, "update_id", updateID, "error", err)
	}
}

func (h *Handler) handleMessage(ctx context.Context, message *tgbotapi.Message, us *state.UserState) error {
	chatID := message.Chat.ID

	if message.IsCommand() {
		switch message.Command() {
		case "start":
			return h.handleStart(ctx, message, us)
		default:
			h.send(ctx, chatID, textUnknownCommand, nil)
			return nil
		}
	}

	if message.Contact != nil {
		return h.handleContact(ctx, message, us)
	}

	switch us.SessionFSM.Current() {
	case StateCategorySelecting:
		return h.handleCategorySelection(ctx, chatID, message.Text, us)
	case StateConversing:
		return h.handleConversation(ctx, chatID, message.Text, us)
	default:
		return h.handleMainMenu(ctx, chatID, message.Text, us)
	}
}

func (h *Handler) handleStart(ctx context.Context, message *tgbotapi.Message, us *state.UserState) error {
	from := message.From
	profile, err := h.store.Profiles().TouchProfile(ctx, models.Identity{
		UserID:       from.ID,
		FirstName:    from.FirstName,
		LastName:     from.LastName,
		Username:     from.UserName,
		LanguageCode: from.LanguageCode,
	}, time.Now())
	if err != nil {
		h.send(ctx, message.Chat.ID, textGenericError, nil)
		return fmt.Errorf("start: %w", err)
	}

	h.engine.Reset(ctx, us)
	h.log.InfoContext(ctx, "session started", "user_id", us.UserID)

	text := fmt.Sprintf(textWelcome, from.FirstName)
	if profile.PhoneNumber == "" {
		h.send(ctx, message.Chat.ID, text+textAskPhone, contactKeyboard())
		return nil
	}
	h.send(ctx, message.Chat.ID, text, mainMenuKeyboard())
	return nil
}

func (h *Handler) handleContact(ctx context.Context, message *tgbotapi.Message, us *state.UserState) error {
	contact := message.Contact
	if contact.UserID != 0 && contact.UserID != us.UserID {
		h.send(ctx, message.Chat.ID, textUseButtons, contactKeyboard())
		return nil
	}
	if _, err := h.store.Profiles().EnsureProfile(ctx, us.UserID); err != nil {
		h.send(ctx, message.Chat.ID, textGenericError, nil)
		return fmt.Errorf("contact: %w", err)
	}
	if err := h.store.Profiles().SetPhoneNumber(ctx, us.UserID, contact.PhoneNumber); err != nil {
		h.send(ctx, message.Chat.ID, textGenericError, nil)
		return fmt.Errorf("contact: %w", err)
	}
	h.send(ctx, message.Chat.ID, textPhoneSaved, mainMenuKeyboard())
	return nil
}

func (h *Handler) handleMainMenu(ctx context.Context, chatID int64, text string, us *state.UserState) error {
	switch strings.TrimSpace(text) {
	case ButtonAsk:
		outcome, err := h.engine.Ask(ctx, us)
		if err != nil {
			h.send(ctx, chatID, textGenericError, mainMenuKeyboard())
			return err
		}
		switch outcome {
		case AskBlocked:
			h.send(ctx, chatID, textBlocked, mainMenuKeyboard())
		case AskQuotaExceeded:
			h.send(ctx, chatID, textQuotaExceeded, mainMenuKeyboard())
		default:
			h.send(ctx, chatID, textChooseCategory, categoryKeyboard())
		}
	case ButtonStats:
		return h.handleStatistics(ctx, chatID, us)
	case ButtonInfo:
		h.send(ctx, chatID, textInfo, mainMenuKeyboard())
	default:
		h.send(ctx, chatID, textUseButtons, mainMenuKeyboard())
	}
	return nil
}

func (h *Handler) handleCategorySelection(ctx context.Context, chatID int64, text string, us *state.UserState) error {
	outcome, err := h.engine.SelectCategory(ctx, us, text)
	if err != nil {
		h.engine.Reset(ctx, us)
		h.send(ctx, chatID, textSessionLost, mainMenuKeyboard())
		return err
	}
	switch outcome {
	case SelectBack:
		h.send(ctx, chatID, textBackToMenu, mainMenuKeyboard())
	case SelectChosen:
		h.send(ctx, chatID, fmt.Sprintf(textSessionStarted, us.Category.Title()), conversationKeyboard())
	default:
		h.send(ctx, chatID, textInvalidCategory, categoryKeyboard())
	}
	return nil
}

func (h *Handler) handleConversation(ctx context.Context, chatID int64, text string, us *state.UserState) error {
	if t := strings.TrimSpace(text); t != "" && t != ButtonMainMenu && t != ButtonChangeCategory {
		if err := h.bot.SendChatAction(ctx, chatID, botport.ActionTyping); err != nil {
			h.log.DebugContext(ctx, "typing action failed", "user_id", us.UserID, "error", err)
		}
	}

	turn, err := h.engine.Converse(ctx, us, text)
	if err != nil {
		if errors.Is(err, ErrNotRecorded) {
			h.send(ctx, chatID, textNotRecorded, conversationKeyboard())
		} else {
			h.send(ctx, chatID, textGenericError, conversationKeyboard())
		}
		return err
	}

	switch turn.Kind {
	case TurnAnswered:
		chunks := splitMessage(turn.Text, maxMessageRunes)
		for i, chunk := range chunks {
			var markup interface{}
			if i == len(chunks)-1 {
				markup = conversationKeyboard()
			}
			h.send(ctx, chatID, chunk, markup)
		}
		h.send(ctx, chatID, textRatePrompt, ratingKeyboard(turn.ConsultationID))
	case TurnFallback:
		h.send(ctx, chatID, turn.Text, conversationKeyboard())
	case TurnMainMenu:
		h.send(ctx, chatID, textBackToMenu, mainMenuKeyboard())
	case TurnChangeCategory:
		h.send(ctx, chatID, textNewCategory, categoryKeyboard())
	case TurnQuotaExceeded:
		h.send(ctx, chatID, textQuotaExceeded, conversationKeyboard())
	case TurnBlocked:
		h.send(ctx, chatID, textBlocked, conversationKeyboard())
	case TurnEmptyQuestion:
		h.send(ctx, chatID, textEmptyQuestion, conversationKeyboard())
	case TurnSessionLost:
		h.send(ctx, chatID, textSessionLost, mainMenuKeyboard())
	}
	return nil
}

func (h *Handler) handleStatistics(ctx context.Context, chatID int64, us *state.UserState) error {
	profile, err := h.store.Profiles().GetProfile(ctx, us.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		h.send(ctx, chatID, textProfileNotFound, mainMenuKeyboard())
		return nil
	}
	if err != nil {
		h.send(ctx, chatID, textGenericError, mainMenuKeyboard())
		return fmt.Errorf("statistics: %w", err)
	}

	summary, err := h.stats.Summary(ctx, us.UserID)
	if err != nil {
		h.send(ctx, chatID, textGenericError, mainMenuKeyboard())
		return fmt.Errorf("statistics: %w", err)
	}

	text, err := renderStatsMessage(buildStatsPayload(profile, summary, h.loc))
	if err != nil {
		h.send(ctx, chatID, textGenericError, mainMenuKeyboard())
		return fmt.Errorf("statistics: render: %w", err)
	}
	h.send(ctx, chatID, text, statsKeyboard())
	return nil
}

func (h *Handler) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	userID := query.From.ID
	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID

	if err := h.bot.AnswerCallback(ctx, query.ID, ""); err != nil {
		h.log.WarnContext(ctx, "answer callback failed", "user_id", userID, "callback_id", query.ID, "error", err)
	}

	prefix, value := splitCallbackData(query.Data)
	h.log.DebugContext(ctx, "callback received", "user_id", userID, "prefix", prefix, "value", value)

	switch prefix {
	case CallbackRatePrefix:
		return h.handleRating(ctx, chatID, messageID, value, userID)
	case CallbackStatsPrefix:
		switch value {
		case StatsActionCharts:
			return h.sendExport(ctx, chatID, userID, "chart", textChartsError)
		case StatsActionExport:
			return h.sendExport(ctx, chatID, userID, "csv", textExportError)
		}
	}
	h.log.WarnContext(ctx, "unknown callback", "user_id", userID, "data", query.Data)
	return nil
}

func (h *Handler) handleRating(ctx context.Context, chatID int64, messageID int, value string, userID int64) error {
	consultationID, score, err := parseRating(value)
	if err != nil {
		h.log.WarnContext(ctx, "malformed rating callback", "user_id", userID, "value", value)
		return nil
	}

	err = h.feedback.Submit(ctx, userID, consultationID, score)
	switch {
	case err == nil:
		h.edit(ctx, chatID, messageID, fmt.Sprintf(textRated, stars(score)))
		return nil
	case errors.Is(err, storage.ErrAlreadyResolved), errors.Is(err, storage.ErrNotFound):
		h.edit(ctx, chatID, messageID, textAlreadyRated)
		return nil
	case errors.Is(err, feedback.ErrInvalidScore):
		return nil
	default:
		h.edit(ctx, chatID, messageID, textGenericError)
		return err
	}
}

func (h *Handler) sendExport(ctx context.Context, chatID, userID int64, format, failText string) error {
	exporter := export.Get(format)
	if exporter == nil {
		h.send(ctx, chatID, failText, nil)
		return fmt.Errorf("export: no exporter %q", format)
	}

	report, err := h.stats.Report(ctx, userID)
	if err != nil {
		h.send(ctx, chatID, failText, nil)
		return fmt.Errorf("export %s: %w", format, err)
	}
	file, err := exporter.Export(report)
	if err != nil {
		h.send(ctx, chatID, failText, nil)
		return fmt.Errorf("export %s: %w", format, err)
	}

	_, err = h.bot.SendDocument(ctx, chatID, botport.Document{Name: file.Name, Data: file.Data, Caption: file.Caption})
	if err != nil {
		h.send(ctx, chatID, failText, nil)
		return fmt.Errorf("export %s: send: %w", format, err)
	}
	return nil
}

func (h *Handler) send(ctx context.Context, chatID int64, text string, markup interface{}) {
	if _, err := h.bot.SendMessage(ctx, chatID, text, markup); err != nil {
		h.log.WarnContext(ctx, "send message failed", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) edit(ctx context.Context, chatID int64, messageID int, text string) {
	_, err := h.bot.EditMessage(ctx, chatID, messageID, text, emptyInlineKeyboard())
	if err != nil && !botport.IsCode(err, botport.CodeMessageNotModified) {
		h.log.WarnContext(ctx, "edit message failed", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

func splitCallbackData(data string) (string, string) {
	parts := strings.SplitN(data, ":", 2)
	if len(parts) < 2 {
		return parts[0], ""
	}
	return parts[0] + ":", parts[1]
}

// parseRating reads "<consultation id>:<score>".
func parseRating(value string) (uint, int, error) {
	idPart, scorePart, ok := strings.Cut(value, ":")
	if !ok {
		return 0, 0, fmt.Errorf("rating %q: missing score", value)
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || id == 0 {
		return 0, 0, fmt.Errorf("rating %q: bad consultation id", value)
	}
	score, err := strconv.Atoi(scorePart)
	if err != nil {
		return 0, 0, fmt.Errorf("rating %q: bad score", value)
	}
	return uint(id), score, nil
}
