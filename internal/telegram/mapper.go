package telegram

import (
	"strconv"
	"strings"

	"github.com/holfizz/objection-trainer/internal/trainer"
)

// inbound is one update translated into a trainer event plus the transport
// details needed to render its reply.
type inbound struct {
	chatID            int64
	telegramID        string
	event             trainer.Event
	callbackID        string
	callbackChatID    int64
	callbackMessageID int64
	voiceFileID       string
}

// categoryFor resolves a menu button to its catalog category name by the same
// substring vocabulary the buttons are written in.
func categoryFor(text string) (string, bool) {
	switch {
	case strings.Contains(text, "цене"):
		return "Цена", true
	case strings.Contains(text, "доверию"):
		return "Доверие", true
	case strings.Contains(text, "срочности"):
		return "Срочность", true
	case strings.Contains(text, "потребности"):
		return "Потребность", true
	case strings.Contains(text, "функциональности"):
		return "Функциональность", true
	}
	return "", false
}

// isMenuText reports whether a text message is a button press rather than an
// analyzable reply.
func isMenuText(text string) bool {
	for _, prefix := range []string{"🎯", "💰", "🤝", "⏱", "🛒", "⚙️", "🤖", "🔄", "🏠"} {
		if strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

// mapUpdate translates one update into an inbound event. Updates the bot does
// not understand are dropped.
func mapUpdate(u Update) (*inbound, bool) {
	if u.CallbackQuery != nil {
		cb := u.CallbackQuery
		if cb.From == nil || cb.Data != callbackTryAgain {
			return nil, false
		}
		in := &inbound{
			telegramID: strconv.FormatInt(cb.From.ID, 10),
			callbackID: cb.ID,
			event:      trainer.Retry{},
		}
		if cb.Message != nil {
			in.chatID = cb.Message.Chat.ID
			in.callbackChatID = cb.Message.Chat.ID
			in.callbackMessageID = cb.Message.MessageID
		}
		return in, true
	}

	msg := u.Message
	if msg == nil || msg.From == nil {
		return nil, false
	}
	in := &inbound{
		chatID:     msg.Chat.ID,
		telegramID: strconv.FormatInt(msg.From.ID, 10),
	}

	if msg.Voice != nil {
		in.event = trainer.Voice{}
		in.voiceFileID = msg.Voice.FileID
		return in, true
	}

	text := strings.TrimSpace(msg.Text)
	switch {
	case text == "":
		return nil, false
	case text == "/start" || strings.HasPrefix(text, "/start "):
		in.event = trainer.Start{}
	case text == buttonMainMenu:
		in.event = trainer.Start{}
	case text == buttonRandomObjection || text == buttonAnotherObjection:
		in.event = trainer.PickRandom{}
	case text == buttonGenerateObjections:
		in.event = trainer.RequestGeneration{}
	default:
		if name, ok := categoryFor(text); ok && isMenuText(text) {
			in.event = trainer.PickCategory{Name: name}
			return in, true
		}
		if isMenuText(text) {
			// Unmapped button press, nothing to do.
			return nil, false
		}
		in.event = trainer.FreeText{Text: text}
	}
	return in, true
}
