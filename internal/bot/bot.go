package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/rescue-bot/internal/models"
	"github.com/xaenox/rescue-bot/internal/router"
	"go.uber.org/zap"
)

const (
	queueSize   = 32
	idleTimeout = 10 * time.Minute
	historySize = 6
)

// Engine is the part of the router the chat transport drives.
type Engine interface {
	Process(ctx context.Context, in router.Inbound) models.Response
	EnsureSession(ctx context.Context, id string) (*models.Session, error)
	SetGPSLocation(ctx context.Context, id string, lat, lon float64, accuracy *float64, address string) error
	DenyLocation(ctx context.Context, id, reason string) error
	SetPhone(ctx context.Context, id, number, countryCode string) error
	Confirm(ctx context.Context, sessionID string, confirmed bool) (models.Response, error)
	Arrived(ctx context.Context, sessionID string) (models.Response, error)
	History(ctx context.Context, id string) ([]models.HistoryEntry, error)
	ClearHistory(ctx context.Context, id string) error
	Summary(ctx context.Context, id string) (router.SessionSummary, error)
}

type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api    botAPI
	engine Engine
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[int64]string
	workers  map[int64]chan *tgbotapi.Message
	wg       sync.WaitGroup
}

func New(token string, engine Engine, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Authorized on Telegram", zap.String("username", api.Self.UserName))
	return newBot(api, engine, logger), nil
}

func newBot(api botAPI, engine Engine, logger *zap.Logger) *Bot {
	return &Bot{
		api:      api,
		engine:   engine,
		logger:   logger,
		sessions: make(map[int64]string),
		workers:  make(map[int64]chan *tgbotapi.Message),
	}
}

// Start polls for updates until ctx is cancelled. Messages from one chat are
// handled in arrival order; different chats are handled in parallel.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.Chat == nil {
				continue
			}
			b.enqueue(ctx, update.Message)
		}
	}
}

func (b *Bot) enqueue(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	b.mu.Lock()
	defer b.mu.Unlock()

	queue, ok := b.workers[chatID]
	if !ok {
		queue = make(chan *tgbotapi.Message, queueSize)
		b.workers[chatID] = queue
		b.wg.Add(1)
		go b.work(ctx, chatID, queue)
	}

	select {
	case queue <- message:
	default:
		b.logger.Warn("Chat queue full, dropping message", zap.Int64("chat_id", chatID))
		go b.sendErrorMessage(chatID, "I'm still working on your previous messages. If this is an emergency call 1122 now.")
	}
}

func (b *Bot) work(ctx context.Context, chatID int64, queue chan *tgbotapi.Message) {
	defer b.wg.Done()

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message := <-queue:
			b.handleMessage(ctx, message)
			idle.Reset(idleTimeout)
		case <-idle.C:
			b.mu.Lock()
			if len(queue) > 0 {
				b.mu.Unlock()
				idle.Reset(idleTimeout)
				continue
			}
			delete(b.workers, chatID)
			b.mu.Unlock()
			return
		}
	}
}

// sessionFor maps a chat to its routing session, replacing sessions that
// expired in the meantime.
func (b *Bot) sessionFor(ctx context.Context, chatID int64) (string, error) {
	b.mu.Lock()
	id := b.sessions[chatID]
	b.mu.Unlock()

	s, err := b.engine.EnsureSession(ctx, id)
	if err != nil {
		return "", err
	}
	if s.ID != id {
		b.mu.Lock()
		b.sessions[chatID] = s.ID
		b.mu.Unlock()
	}
	return s.ID, nil
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	sessionID, err := b.sessionFor(ctx, chatID)
	if err != nil {
		b.logger.Error("Failed to get session", zap.Error(err), zap.Int64("chat_id", chatID))
		b.sendErrorMessage(chatID, "Sorry, I couldn't start a conversation. If this is an emergency call 1122 now.")
		return
	}

	switch {
	case message.Location != nil:
		b.handleLocation(ctx, sessionID, message)
		return
	case message.Contact != nil:
		b.handleContact(ctx, sessionID, message)
		return
	case message.IsCommand():
		b.handleCommand(ctx, sessionID, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		b.sendMessage(chatID, "Please describe your emergency in a text message.")
		return
	}

	resp := b.engine.Process(ctx, router.Inbound{SessionID: sessionID, Message: content})
	if resp.SessionID != "" && resp.SessionID != sessionID {
		b.mu.Lock()
		b.sessions[chatID] = resp.SessionID
		b.mu.Unlock()
	}
	b.sendResponse(chatID, message.MessageID, resp)
}

func (b *Bot) handleLocation(ctx context.Context, sessionID string, message *tgbotapi.Message) {
	loc := message.Location
	var accuracy *float64
	if loc.HorizontalAccuracy > 0 {
		accuracy = models.Float(loc.HorizontalAccuracy)
	}
	if err := b.engine.SetGPSLocation(ctx, sessionID, loc.Latitude, loc.Longitude, accuracy, ""); err != nil {
		b.logger.Error("Failed to save location",
			zap.Error(err),
			zap.String("session_id", sessionID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't save your location. Please type your address instead.")
		return
	}
	b.sendPlain(message.Chat.ID, "Location saved. Tell me what is happening.", tgbotapi.NewRemoveKeyboard(true))
}

func (b *Bot) handleContact(ctx context.Context, sessionID string, message *tgbotapi.Message) {
	number := message.Contact.PhoneNumber
	if !strings.HasPrefix(number, "+") && strings.HasPrefix(number, "92") {
		number = "+" + number
	}
	if err := b.engine.SetPhone(ctx, sessionID, number, ""); err != nil {
		b.logger.Error("Failed to save phone",
			zap.Error(err),
			zap.String("session_id", sessionID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't save your phone number. Please type it instead.")
		return
	}
	b.sendPlain(message.Chat.ID, "Phone number saved.", tgbotapi.NewRemoveKeyboard(true))
}

func (b *Bot) handleCommand(ctx context.Context, sessionID string, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "location":
		b.sendPlain(message.Chat.ID, "Tap the button below to share your location, or type your address.", locationKeyboard())
	case "nolocation":
		b.handleDenyLocation(ctx, sessionID, message)
	case "phone":
		b.sendPlain(message.Chat.ID, "Tap the button below to share your phone number, or type it (e.g. 0300-1234567).", contactKeyboard())
	case "confirm":
		b.handleConfirm(ctx, sessionID, message, true)
	case "cancel":
		b.handleConfirm(ctx, sessionID, message, false)
	case "arrived":
		b.handleArrived(ctx, sessionID, message)
	case "status":
		b.handleStatus(ctx, sessionID, message)
	case "history":
		b.handleHistory(ctx, sessionID, message)
	case "reset":
		b.handleReset(ctx, sessionID, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to the Karachi emergency assistant.
Describe what is happening and I'll route you to medical, fire or police services.

To dispatch help I need your location and a phone number. Share them with /location and /phone.
If you are in immediate danger call 1122 (Rescue), 15 (Police) or 16 (Fire).`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/location - Share your location
/nolocation - Continue without sharing location
/phone - Share your phone number
/confirm - Confirm a pending dispatch
/cancel - Cancel a pending dispatch
/arrived - Tell me help has arrived
/status - Show what I know about your request
/history - Show recent messages
/reset - Clear the conversation`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleDenyLocation(ctx context.Context, sessionID string, message *tgbotapi.Message) {
	if err := b.engine.DenyLocation(ctx, sessionID, "declined in chat"); err != nil {
		b.logger.Error("Failed to record location denial",
			zap.Error(err),
			zap.String("session_id", sessionID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}
	b.sendMessage(message.Chat.ID, "Okay. Please type your address or nearest landmark so responders can find you.")
}

func (b *Bot) handleConfirm(ctx context.Context, sessionID string, message *tgbotapi.Message, confirmed bool) {
	resp, err := b.engine.Confirm(ctx, sessionID, confirmed)
	if err != nil {
		b.logger.Error("Failed to confirm dispatch",
			zap.Error(err),
			zap.String("session_id", sessionID),
			zap.Bool("confirmed", confirmed))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't update the dispatch. Please try again.")
		return
	}
	b.sendResponse(message.Chat.ID, message.MessageID, resp)
}

func (b *Bot) handleArrived(ctx context.Context, sessionID string, message *tgbotapi.Message) {
	resp, err := b.engine.Arrived(ctx, sessionID)
	if err != nil {
		b.logger.Error("Failed to close dispatch",
			zap.Error(err),
			zap.String("session_id", sessionID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't update the dispatch. Please try again.")
		return
	}
	b.sendResponse(message.Chat.ID, message.MessageID, resp)
}

func (b *Bot) handleStatus(ctx context.Context, sessionID string, message *tgbotapi.Message) {
	sum, err := b.engine.Summary(ctx, sessionID)
	if err != nil {
		b.logger.Error("Failed to get session summary",
			zap.Error(err),
			zap.String("session_id", sessionID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't load your request.")
		return
	}
	b.sendMessage(message.Chat.ID, formatSummary(sum))
}

func (b *Bot) handleHistory(ctx context.Context, sessionID string, message *tgbotapi.Message) {
	entries, err := b.engine.History(ctx, sessionID)
	if err != nil {
		b.logger.Error("Failed to get history",
			zap.Error(err),
			zap.String("session_id", sessionID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your message history.")
		return
	}

	if len(entries) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any messages yet.")
		return
	}
	if len(entries) > historySize {
		entries = entries[len(entries)-historySize:]
	}

	response := "*Your recent messages:*\n\n"
	for _, e := range entries {
		response += fmt.Sprintf("*%s*\n", escapeMarkdown(e.Role))
		response += fmt.Sprintf("_%s_\n\n", escapeMarkdown(e.Content))
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, response)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send history message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleReset(ctx context.Context, sessionID string, message *tgbotapi.Message) {
	if err := b.engine.ClearHistory(ctx, sessionID); err != nil {
		b.logger.Error("Failed to clear history",
			zap.Error(err),
			zap.String("session_id", sessionID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't clear the conversation.")
		return
	}
	b.sendMessage(message.Chat.ID, "Conversation cleared.")
}

func formatSummary(sum router.SessionSummary) string {
	yesNo := func(v bool) string {
		if v {
			return "yes"
		}
		return "no"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Messages: %d\n", sum.MessageCount)
	fmt.Fprintf(&sb, "Location shared: %s\n", yesNo(sum.HasLocation))
	fmt.Fprintf(&sb, "Phone shared: %s\n", yesNo(sum.HasPhone))
	if sum.LastCategory != "" {
		fmt.Fprintf(&sb, "Last request: %s\n", sum.LastCategory)
	}
	if len(sum.AwaitingInput) > 0 {
		fmt.Fprintf(&sb, "Waiting for: %s\n", strings.Join(sum.AwaitingInput, ", "))
	}
	return strings.TrimSpace(sb.String())
}

// formatResponse renders a routing response as MarkdownV2.
func formatResponse(resp models.Response) string {
	var header string
	switch resp.Type {
	case models.ResponseConfirmation:
		header = "*Action needed*\n\n"
	case models.ResponseSystem:
		header = "⚠️ "
	}
	text := header + escapeMarkdown(resp.Content)
	if len(resp.Dispatches) > 0 {
		units := make([]string, len(resp.Dispatches))
		for i, d := range resp.Dispatches {
			units[i] = fmt.Sprintf("%s \\(%s, %d min\\)", escapeMarkdown(d.UnitID), escapeMarkdown(string(d.Status)), d.ETAMinutes)
		}
		text += "\n\n*Units:* " + strings.Join(units, ", ")
	}
	return text
}

func (b *Bot) sendResponse(chatID int64, replyToID int, resp models.Response) {
	msg := tgbotapi.NewMessage(chatID, formatResponse(resp))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.ReplyToMessageID = replyToID
	if kb, ok := keyboardFor(resp.Missing); ok {
		msg.ReplyMarkup = kb
	}

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send response",
			zap.Error(err),
			zap.Int64("chat_id", chatID),
			zap.String("message_id", resp.MessageID))
	}
}

func keyboardFor(missing []string) (tgbotapi.ReplyKeyboardMarkup, bool) {
	var row []tgbotapi.KeyboardButton
	for _, field := range missing {
		switch field {
		case "location":
			row = append(row, tgbotapi.NewKeyboardButtonLocation("📍 Share location"))
		case "phone":
			row = append(row, tgbotapi.NewKeyboardButtonContact("📞 Share phone number"))
		}
	}
	if len(row) == 0 {
		return tgbotapi.ReplyKeyboardMarkup{}, false
	}
	kb := tgbotapi.NewReplyKeyboard(row)
	kb.OneTimeKeyboard = true
	return kb, true
}

func locationKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb, _ := keyboardFor([]string{"location"})
	return kb
}

func contactKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb, _ := keyboardFor([]string{"phone"})
	return kb
}

// escapeMarkdown escapes the characters MarkdownV2 treats as markup.
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendPlain(chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
