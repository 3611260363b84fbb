package internal

// Callback is the Slack Events API envelope delivered to the webhook.
type Callback struct {
	Type      string `json:"type"`
	Token     string `json:"token"`
	Challenge string `json:"challenge"`
	TeamID    string `json:"team_id"`
	Event     *Event `json:"event"`
}

// Event is the inner message event. Edits arrive with subtype
// "message_changed" and carry the new and previous text in nested objects.
type Event struct {
	Type            string        `json:"type"`
	Subtype         string        `json:"subtype"`
	Text            string        `json:"text"`
	User            string        `json:"user"`
	Channel         string        `json:"channel"`
	BotID           string        `json:"bot_id"`
	TS              string        `json:"ts"`
	Message         *EventMessage `json:"message"`
	PreviousMessage *EventMessage `json:"previous_message"`
}

// EventMessage is the nested message object present on edited events.
type EventMessage struct {
	Text string `json:"text"`
	User string `json:"user"`
	TS   string `json:"ts"`
}

const (
	eventTypeMessage      = "message"
	subtypeMessageChanged = "message_changed"
)

// IsMessage reports whether the event is a message event at all.
func (e *Event) IsMessage() bool {
	return e != nil && e.Type == eventTypeMessage
}

// MessageText returns the best-available human-visible text for the event.
// Edits prefer the new text and fall back to the previous one. Always
// returns a (possibly empty) string.
func (e *Event) MessageText() string {
	if e == nil {
		return ""
	}
	if e.Subtype == subtypeMessageChanged {
		if e.Message != nil && e.Message.Text != "" {
			return e.Message.Text
		}
		if e.PreviousMessage != nil {
			return e.PreviousMessage.Text
		}
		return ""
	}
	return e.Text
}
