package telegram

import "github.com/holfizz/objection-trainer/internal/trainer"

// Menu button labels. These strings are the inbound vocabulary too: an exact
// or prefix match routes a text message to its action instead of the
// analyzable-reply path.
const (
	buttonRandomObjection    = "🎯 Случайное возражение"
	buttonAnotherObjection   = "🔄 Другое возражение"
	buttonPriceCategory      = "💰 Возражения по цене"
	buttonTrustCategory      = "🤝 Возражения по доверию"
	buttonUrgencyCategory    = "⏱ Возражения по срочности"
	buttonNeedCategory       = "🛒 Возражения по потребности"
	buttonFunctionCategory   = "⚙️ Возражения по функциональности"
	buttonGenerateObjections = "🤖 Сгенерировать возражения"
	buttonMainMenu           = "🏠 Главное меню"
	buttonTryAgain           = "🔄 Попробовать еще раз"
)

const callbackTryAgain = "try_again"

func row(labels ...string) []KeyboardButton {
	buttons := make([]KeyboardButton, 0, len(labels))
	for _, label := range labels {
		buttons = append(buttons, KeyboardButton{Text: label})
	}
	return buttons
}

var startKeyboard = ReplyKeyboardMarkup{
	Keyboard: [][]KeyboardButton{
		row(buttonRandomObjection),
		row(buttonPriceCategory),
		row(buttonTrustCategory),
		row(buttonUrgencyCategory),
		row(buttonNeedCategory),
		row(buttonFunctionCategory),
		row(buttonGenerateObjections),
	},
	ResizeKeyboard: true,
}

var mainKeyboard = ReplyKeyboardMarkup{
	Keyboard: [][]KeyboardButton{
		row(buttonRandomObjection),
		row(buttonPriceCategory, buttonTrustCategory),
		row(buttonUrgencyCategory, buttonNeedCategory),
		row(buttonFunctionCategory),
		row(buttonGenerateObjections),
	},
	ResizeKeyboard: true,
}

var afterObjectionKeyboard = ReplyKeyboardMarkup{
	Keyboard: [][]KeyboardButton{
		row(buttonRandomObjection),
		row(buttonGenerateObjections, buttonMainMenu),
	},
	ResizeKeyboard: true,
}

var tryAgainKeyboard = InlineKeyboardMarkup{
	InlineKeyboard: [][]InlineKeyboardButton{
		{{Text: buttonTryAgain, CallbackData: callbackTryAgain}},
	},
}

// keyboardFor maps the engine's menu hint onto a concrete reply keyboard.
func keyboardFor(menu trainer.Menu) any {
	switch menu {
	case trainer.MenuStart:
		return startKeyboard
	case trainer.MenuMain:
		return mainKeyboard
	case trainer.MenuAfterObjection:
		return afterObjectionKeyboard
	default:
		return nil
	}
}
