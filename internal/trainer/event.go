package trainer

// Event is one inbound user action. The set is closed: transports map raw
// updates onto these variants and the engine dispatches on nothing else.
type Event interface {
	eventType() string
}

// Start resets the session and presents the category menu.
type Start struct{}

// PickCategory draws a random objection from the named category.
type PickCategory struct {
	Name string
}

// PickRandom draws a random objection from the full catalog.
type PickRandom struct{}

// RequestGeneration asks the user for a topic to generate an objection from.
type RequestGeneration struct{}

// TopicText carries the topic for objection generation.
type TopicText struct {
	Topic string
}

// FreeText is a plain text message. Depending on phase it is either a topic
// or an answer to the current objection.
type FreeText struct {
	Text string
}

// Voice is a spoken answer to the current objection.
type Voice struct {
	Data []byte
}

// Retry replays the current objection with the last exchange as context.
type Retry struct{}

func (Start) eventType() string             { return "start" }
func (PickCategory) eventType() string      { return "pick_category" }
func (PickRandom) eventType() string        { return "pick_random" }
func (RequestGeneration) eventType() string { return "request_generation" }
func (TopicText) eventType() string         { return "topic_text" }
func (FreeText) eventType() string          { return "free_text" }
func (Voice) eventType() string             { return "voice" }
func (Retry) eventType() string             { return "retry" }
