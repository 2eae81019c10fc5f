// ABOUTME: Activity envelope types for the emulated Bot Framework channel
// ABOUTME: Defines Activity, ChannelAccount, ConversationAccount and type constants

package activity

import "encoding/json"

// ChannelID is the channel identifier stamped on every activity the
// emulator produces. Bots use it to detect they are talking to the emulator.
const ChannelID = "emulator"

// Activity type constants, matching the Bot Framework protocol on the wire.
const (
	TypeMessage               = "message"
	TypeTyping                = "typing"
	TypeConversationUpdate    = "conversationUpdate"
	TypeContactRelationUpdate = "contactRelationUpdate"
	TypeEndOfConversation     = "endOfConversation"
	TypeTrace                 = "trace"
	TypePing                  = "ping"
)

// Account roles.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

// ChannelAccount identifies a participant (user or bot) in a conversation.
type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
// The emulator uses ids of the form "{guid}|{mode}".
type ConversationAccount struct {
	ID string `json:"id"`
}

// Attachment carries rich content alongside a message activity. Content is
// kept as raw JSON so card payloads round-trip byte for byte.
type Attachment struct {
	ContentType string          `json:"contentType"`
	ContentURL  string          `json:"contentUrl,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
	Name        string          `json:"name,omitempty"`
}

// Activity is a single protocol message or event exchanged between the
// simulated user and the bot. Instances are treated as immutable once
// inserted into a transcript.
//
// Timestamp and LocalTimestamp are ISO-8601 strings, assigned at creation
// and monotonically non-decreasing within a conversation.
type Activity struct {
	ID             string               `json:"id,omitempty"`
	Type           string               `json:"type"`
	Timestamp      string               `json:"timestamp,omitempty"`
	LocalTimestamp string               `json:"localTimestamp,omitempty"`
	ServiceURL     string               `json:"serviceUrl,omitempty"`
	ChannelID      string               `json:"channelId,omitempty"`
	From           *ChannelAccount      `json:"from,omitempty"`
	Recipient      *ChannelAccount      `json:"recipient,omitempty"`
	Conversation   *ConversationAccount `json:"conversation,omitempty"`
	Text           string               `json:"text,omitempty"`
	InputHint      string               `json:"inputHint,omitempty"`
	ReplyToID      string               `json:"replyToId,omitempty"`
	MembersAdded   []ChannelAccount     `json:"membersAdded,omitempty"`
	MembersRemoved []ChannelAccount     `json:"membersRemoved,omitempty"`
	Attachments    []Attachment         `json:"attachments,omitempty"`
	Action         string               `json:"action,omitempty"`
	Name           string               `json:"name,omitempty"`
	Label          string               `json:"label,omitempty"`
	ValueType      string               `json:"valueType,omitempty"`
	Value          json.RawMessage      `json:"value,omitempty"`
}

// Clone returns a shallow copy of the activity with its own copies of the
// account and slice fields, so callers can stamp ids and routing onto a
// caller-supplied activity without mutating the original.
func (a *Activity) Clone() *Activity {
	cp := *a
	if a.From != nil {
		from := *a.From
		cp.From = &from
	}
	if a.Recipient != nil {
		recipient := *a.Recipient
		cp.Recipient = &recipient
	}
	if a.Conversation != nil {
		conv := *a.Conversation
		cp.Conversation = &conv
	}
	if a.MembersAdded != nil {
		cp.MembersAdded = append([]ChannelAccount(nil), a.MembersAdded...)
	}
	if a.MembersRemoved != nil {
		cp.MembersRemoved = append([]ChannelAccount(nil), a.MembersRemoved...)
	}
	if a.Attachments != nil {
		cp.Attachments = append([]Attachment(nil), a.Attachments...)
	}
	return &cp
}
