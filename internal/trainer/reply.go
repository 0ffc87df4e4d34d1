package trainer

import "github.com/holfizz/objection-trainer/internal/dialog"

// Menu selects which reply keyboard the transport renders alongside a Reply.
type Menu string

const (
	MenuNone           Menu = ""
	MenuStart          Menu = "start"
	MenuMain           Menu = "main"
	MenuAfterObjection Menu = "after_objection"
)

// Reply is the delivery payload produced for one inbound event. The transport
// renders it: Text first, then the errors block, then voice with VoiceCaption
// (or the caption as plain text when VoiceAudio is empty).
type Reply struct {
	Text         string
	VoiceAudio   []byte
	VoiceCaption string
	Transcript   string
	Feedback     *dialog.Assessment
	Errors       []string
	Menu         Menu
	OfferRetry   bool
}
