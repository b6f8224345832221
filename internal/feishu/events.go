package feishu

import "encoding/json"

// Webhook event types the bot understands. Anything else is logged and
// acknowledged.
const (
	EventMessageReceive  = "im.message.receive_v1"
	EventReactionCreated = "im.message.reaction.created_v1"
	EventReactionDeleted = "im.message.reaction.deleted_v1"
)

// OperatorUser marks a reaction applied by a human user (as opposed to an
// app or system operator).
const OperatorUser = "user"

// Event is the decoded webhook envelope. Field coverage is deliberately
// partial: only what the bot reads.
type Event struct {
	// Challenge is set on platform verification requests and must be
	// echoed back verbatim. Token accompanies it at the top level on
	// those requests; regular events carry the token in the header.
	Challenge string `json:"challenge"`
	Token     string `json:"token"`

	Header struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`

	Event struct {
		Sender struct {
			SenderID struct {
				OpenID string `json:"open_id"`
			} `json:"sender_id"`
		} `json:"sender"`

		Message struct {
			MessageID string    `json:"message_id"`
			ChatID    string    `json:"chat_id"`
			ChatType  string    `json:"chat_type"`
			Content   string    `json:"content"`
			Mentions  []Mention `json:"mentions"`
		} `json:"message"`

		// Reaction events carry the message id at the event level.
		MessageID    string `json:"message_id"`
		OperatorType string `json:"operator_type"`
		ReactionType struct {
			EmojiType string `json:"emoji_type"`
		} `json:"reaction_type"`
		// UserID identifies who applied or removed the reaction.
		UserID struct {
			OpenID string `json:"open_id"`
		} `json:"user_id"`
		OperatorID struct {
			OpenID string `json:"open_id"`
		} `json:"operator_id"`
	} `json:"event"`
}

// Mention is one @-mention inside a received message. Key is the literal
// placeholder in the text ("@_user_1") and ID carries the mentioned open id.
type Mention struct {
	Key string `json:"key"`
	ID  struct {
		OpenID string `json:"open_id"`
	} `json:"id"`
}

// Type returns the envelope's event type, empty for verification requests.
func (e *Event) Type() string { return e.Header.EventType }

// VerifyToken returns the verification token wherever the platform put it:
// top level for verification requests, header for regular events.
func (e *Event) VerifyToken() string {
	if e.Token != "" {
		return e.Token
	}
	return e.Header.Token
}

// MsgID returns the id of the message the event concerns: the received
// message for message events, the reacted-to message for reaction events.
func (e *Event) MsgID() string {
	if e.Event.Message.MessageID != "" {
		return e.Event.Message.MessageID
	}
	return e.Event.MessageID
}

// Text extracts the plain text from a received message's JSON-encoded
// content. Returns false when the content does not decode to text.
func (e *Event) Text() (string, bool) {
	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(e.Event.Message.Content), &content); err != nil {
		return "", false
	}
	return content.Text, true
}

// ReactorID returns the open id of the user behind a reaction event.
// Created events carry it under user_id, deleted events under operator_id.
func (e *Event) ReactorID() string {
	if id := e.Event.UserID.OpenID; id != "" {
		return id
	}
	return e.Event.OperatorID.OpenID
}
