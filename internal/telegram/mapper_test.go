package telegram

import (
	"testing"

	"github.com/holfizz/objection-trainer/internal/trainer"
)

func textUpdate(userID, chatID int64, text string) Update {
	return Update{
		UpdateID: 1,
		Message: &Message{
			MessageID: 1,
			From:      &User{ID: userID},
			Chat:      Chat{ID: chatID},
			Text:      text,
		},
	}
}

func TestMapUpdateRoutesButtons(t *testing.T) {
	cases := []struct {
		name string
		text string
		want trainer.Event
	}{
		{"start command", "/start", trainer.Start{}},
		{"start with payload", "/start ref123", trainer.Start{}},
		{"main menu", buttonMainMenu, trainer.Start{}},
		{"random", buttonRandomObjection, trainer.PickRandom{}},
		{"another", buttonAnotherObjection, trainer.PickRandom{}},
		{"generate", buttonGenerateObjections, trainer.RequestGeneration{}},
		{"price", buttonPriceCategory, trainer.PickCategory{Name: "Цена"}},
		{"trust", buttonTrustCategory, trainer.PickCategory{Name: "Доверие"}},
		{"urgency", buttonUrgencyCategory, trainer.PickCategory{Name: "Срочность"}},
		{"need", buttonNeedCategory, trainer.PickCategory{Name: "Потребность"}},
		{"function", buttonFunctionCategory, trainer.PickCategory{Name: "Функциональность"}},
		{"free text", "Я понимаю, но давайте посчитаем выгоду", trainer.FreeText{Text: "Я понимаю, но давайте посчитаем выгоду"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, ok := mapUpdate(textUpdate(5, 7, tc.text))
			if !ok {
				t.Fatalf("update dropped")
			}
			if in.event != tc.want {
				t.Fatalf("got event %#v, want %#v", in.event, tc.want)
			}
			if in.telegramID != "5" || in.chatID != 7 {
				t.Fatalf("unexpected routing fields: %#v", in)
			}
		})
	}
}

func TestMapUpdateDropsUnmappedTraffic(t *testing.T) {
	cases := []struct {
		name string
		u    Update
	}{
		{"empty update", Update{UpdateID: 1}},
		{"no sender", Update{UpdateID: 1, Message: &Message{Chat: Chat{ID: 7}, Text: "hi"}}},
		{"empty text", textUpdate(5, 7, "   ")},
		{"unknown button", textUpdate(5, 7, "🔄 Что-то новое")},
		{"foreign callback", Update{UpdateID: 1, CallbackQuery: &CallbackQuery{ID: "cb", From: &User{ID: 5}, Data: "other"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := mapUpdate(tc.u); ok {
				t.Fatalf("expected update to be dropped")
			}
		})
	}
}

func TestMapUpdateVoiceCarriesFileID(t *testing.T) {
	u := Update{
		UpdateID: 1,
		Message: &Message{
			MessageID: 1,
			From:      &User{ID: 5},
			Chat:      Chat{ID: 7},
			Voice:     &Voice{FileID: "voice-file-1", Duration: 4},
		},
	}
	in, ok := mapUpdate(u)
	if !ok {
		t.Fatalf("voice update dropped")
	}
	if _, isVoice := in.event.(trainer.Voice); !isVoice {
		t.Fatalf("expected voice event, got %#v", in.event)
	}
	if in.voiceFileID != "voice-file-1" {
		t.Fatalf("unexpected file id %q", in.voiceFileID)
	}
}

func TestMapUpdateTryAgainCallback(t *testing.T) {
	u := Update{
		UpdateID: 1,
		CallbackQuery: &CallbackQuery{
			ID:   "cb-1",
			From: &User{ID: 5},
			Data: callbackTryAgain,
			Message: &Message{
				MessageID: 33,
				Chat:      Chat{ID: 7},
			},
		},
	}
	in, ok := mapUpdate(u)
	if !ok {
		t.Fatalf("callback dropped")
	}
	if _, isRetry := in.event.(trainer.Retry); !isRetry {
		t.Fatalf("expected retry event, got %#v", in.event)
	}
	if in.callbackID != "cb-1" || in.callbackChatID != 7 || in.callbackMessageID != 33 {
		t.Fatalf("unexpected callback fields: %#v", in)
	}
}

func TestIsMenuTextCoversButtonVocabulary(t *testing.T) {
	for _, label := range []string{
		buttonRandomObjection, buttonAnotherObjection, buttonPriceCategory,
		buttonTrustCategory, buttonUrgencyCategory, buttonNeedCategory,
		buttonFunctionCategory, buttonGenerateObjections, buttonMainMenu, buttonTryAgain,
	} {
		if !isMenuText(label) {
			t.Fatalf("button %q not treated as menu text", label)
		}
	}
	if isMenuText("Это слишком дорого для нас") {
		t.Fatalf("plain reply treated as menu text")
	}
}
