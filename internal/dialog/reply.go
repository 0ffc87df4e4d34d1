package dialog

import (
	"encoding/json"
	"strings"
)

// Reply is the decoded outcome of one dialog exchange. Structured replies come
// from the bot's JSON envelope; freeform replies carry the raw text untouched.
type Reply struct {
	Text       string
	Errors     []string
	Structured bool
}

type replyEnvelope struct {
	GrebenukResponse string   `json:"grebenuk_response"`
	Response         string   `json:"response"`
	Errors           []string `json:"errors"`
}

// DecodeReply interprets the assistant's answer content. Malformed JSON is not
// an error; the raw text becomes the reply.
func DecodeReply(raw string) Reply {
	var env replyEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Reply{Text: raw}
	}
	text := env.GrebenukResponse
	if text == "" {
		text = env.Response
	}
	if text == "" {
		return Reply{Text: raw, Errors: env.Errors}
	}
	return Reply{Text: text, Errors: env.Errors, Structured: true}
}

// extractJSON finds the outermost braced region of a model answer, which may
// be wrapped in prose or markdown fences.
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
