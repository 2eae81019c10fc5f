// ABOUTME: Factory for protocol-correct activity envelopes
// ABOUTME: Stamps fresh uuids, monotonic timestamp pairs and conversation references

package activity

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Factory produces fully-populated activities for one conversation. It owns
// id generation and the timestamp clock: timestamps it assigns never move
// backwards within the conversation, even if the wall clock does.
type Factory struct {
	conversationID string
	serviceURL     func() string

	mu   sync.Mutex
	last time.Time
}

// NewFactory creates a factory for the given conversation. serviceURL is
// resolved at stamping time so tunnel changes propagate to new activities.
func NewFactory(conversationID string, serviceURL func() string) *Factory {
	if serviceURL == nil {
		serviceURL = func() string { return "" }
	}
	return &Factory{
		conversationID: conversationID,
		serviceURL:     serviceURL,
	}
}

// next returns the timestamp pair for a new activity, clamped so it never
// precedes the previously issued one.
func (f *Factory) next() (utc, local string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	if now.Before(f.last) {
		now = f.last
	}
	f.last = now
	return now.UTC().Format(time.RFC3339Nano), now.Format(time.RFC3339Nano)
}

// Stamp populates the envelope fields of a caller-supplied activity: a fresh
// id when missing, the timestamp pair, channel and conversation references.
// Semantic fields (type, text, members, value) are left untouched.
func (f *Factory) Stamp(a *Activity) *Activity {
	out := a.Clone()
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	utc, local := f.next()
	if out.Timestamp == "" {
		out.Timestamp = utc
	}
	if out.LocalTimestamp == "" {
		out.LocalTimestamp = local
	}
	out.ChannelID = ChannelID
	out.Conversation = &ConversationAccount{ID: f.conversationID}
	if out.ServiceURL == "" {
		out.ServiceURL = f.serviceURL()
	}
	return out
}

// Message builds a message activity from the given sender to the given
// recipient.
func (f *Factory) Message(from, recipient ChannelAccount, text string) *Activity {
	return f.Stamp(&Activity{
		Type:      TypeMessage,
		From:      &from,
		Recipient: &recipient,
		Text:      text,
	})
}

// Typing builds a typing indicator activity.
func (f *Factory) Typing(from, recipient ChannelAccount) *Activity {
	return f.Stamp(&Activity{
		Type:      TypeTyping,
		From:      &from,
		Recipient: &recipient,
	})
}

// Ping builds a ping activity for probing endpoint reachability.
func (f *Factory) Ping(from, recipient ChannelAccount) *Activity {
	return f.Stamp(&Activity{
		Type:      TypePing,
		From:      &from,
		Recipient: &recipient,
	})
}

// ConversationUpdate builds a conversationUpdate carrying the given member
// deltas.
func (f *Factory) ConversationUpdate(from, recipient ChannelAccount, added, removed []ChannelAccount) *Activity {
	return f.Stamp(&Activity{
		Type:           TypeConversationUpdate,
		From:           &from,
		Recipient:      &recipient,
		MembersAdded:   added,
		MembersRemoved: removed,
	})
}

// ContactRelationUpdate builds a contactRelationUpdate with action "add" or
// "remove".
func (f *Factory) ContactRelationUpdate(from, recipient ChannelAccount, action string) *Activity {
	return f.Stamp(&Activity{
		Type:      TypeContactRelationUpdate,
		From:      &from,
		Recipient: &recipient,
		Action:    action,
	})
}

// EndOfConversation builds an endOfConversation activity.
func (f *Factory) EndOfConversation(from, recipient ChannelAccount) *Activity {
	return f.Stamp(&Activity{
		Type:      TypeEndOfConversation,
		From:      &from,
		Recipient: &recipient,
	})
}

// Trace builds a trace activity carrying an arbitrary JSON value. Trace
// activities are emulator-internal and never forwarded to the bot.
func (f *Factory) Trace(name, label, valueType string, value []byte) *Activity {
	return f.Stamp(&Activity{
		Type:      TypeTrace,
		Name:      name,
		Label:     label,
		ValueType: valueType,
		Value:     value,
	})
}

// ValidateReplyTo checks that a reply's correlation id references an
// activity the owning conversation already holds. known reports whether an
// id is present in the transcript. A dangling replyToId is a caller
// contract error, never silently corrected.
func ValidateReplyTo(a *Activity, known func(id string) bool) error {
	if a.ReplyToID == "" {
		return nil
	}
	if known == nil || !known(a.ReplyToID) {
		return fmt.Errorf("replyToId %q does not reference an activity in conversation %q", a.ReplyToID, conversationID(a))
	}
	return nil
}

func conversationID(a *Activity) string {
	if a.Conversation == nil {
		return ""
	}
	return a.Conversation.ID
}
