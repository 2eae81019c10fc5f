// ABOUTME: Tests for the activity factory
// ABOUTME: Covers id uniqueness, conversation stamping, timestamp ordering and replyToId validation

package activity

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

func testAccounts() (user, bot ChannelAccount) {
	user = ChannelAccount{ID: "1234", Name: "User", Role: RoleUser}
	bot = ChannelAccount{ID: "http://localhost:3978/api/messages", Name: "Bot", Role: RoleBot}
	return user, bot
}

func TestFactory_Message_StampsEnvelope(t *testing.T) {
	f := NewFactory("convo1|livechat", func() string { return "http://localhost:6728" })
	user, bot := testAccounts()

	a := f.Message(user, bot, "hi")

	assert.Regexp(t, guidPattern, a.ID)
	assert.Equal(t, TypeMessage, a.Type)
	assert.Equal(t, "hi", a.Text)
	assert.Equal(t, ChannelID, a.ChannelID)
	require.NotNil(t, a.Conversation)
	assert.Equal(t, "convo1|livechat", a.Conversation.ID)
	assert.Equal(t, "http://localhost:6728", a.ServiceURL)
	require.NotNil(t, a.From)
	assert.Equal(t, "1234", a.From.ID)

	_, err := time.Parse(time.RFC3339Nano, a.Timestamp)
	assert.NoError(t, err)
	_, err = time.Parse(time.RFC3339Nano, a.LocalTimestamp)
	assert.NoError(t, err)
}

func TestFactory_IDsAreUnique(t *testing.T) {
	f := NewFactory("convo1|livechat", nil)
	user, bot := testAccounts()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		a := f.Message(user, bot, "x")
		assert.False(t, seen[a.ID], "duplicate id %s", a.ID)
		seen[a.ID] = true
	}
}

func TestFactory_TimestampsNeverDecrease(t *testing.T) {
	f := NewFactory("convo1|livechat", nil)
	user, bot := testAccounts()

	var prev time.Time
	for i := 0; i < 50; i++ {
		a := f.Typing(user, bot)
		ts, err := time.Parse(time.RFC3339Nano, a.Timestamp)
		require.NoError(t, err)
		assert.False(t, ts.Before(prev), "timestamp went backwards")
		prev = ts
	}
}

func TestFactory_Stamp_KeepsExistingID(t *testing.T) {
	f := NewFactory("convo1|livechat", nil)

	a := f.Stamp(&Activity{Type: TypeMessage, ID: "someId"})

	assert.Equal(t, "someId", a.ID)
	assert.Equal(t, "convo1|livechat", a.Conversation.ID)
}

func TestFactory_Stamp_DoesNotMutateInput(t *testing.T) {
	f := NewFactory("convo1|livechat", nil)
	in := &Activity{Type: TypeMessage, Text: "hi"}

	out := f.Stamp(in)

	assert.Empty(t, in.ID)
	assert.Nil(t, in.Conversation)
	assert.NotEmpty(t, out.ID)
}

func TestFactory_ConversationUpdate_CarriesMembers(t *testing.T) {
	f := NewFactory("convo1|livechat", nil)
	user, bot := testAccounts()

	a := f.ConversationUpdate(user, bot, []ChannelAccount{user}, nil)

	assert.Equal(t, TypeConversationUpdate, a.Type)
	require.Len(t, a.MembersAdded, 1)
	assert.Equal(t, "1234", a.MembersAdded[0].ID)
	assert.Empty(t, a.MembersRemoved)
}

func TestFactory_ContactRelationUpdate(t *testing.T) {
	f := NewFactory("convo1|livechat", nil)
	user, bot := testAccounts()

	a := f.ContactRelationUpdate(user, bot, "add")

	assert.Equal(t, TypeContactRelationUpdate, a.Type)
	assert.Equal(t, "add", a.Action)
}

func TestFactory_Trace_CarriesValue(t *testing.T) {
	f := NewFactory("convo1|livechat", nil)

	a := f.Trace("network failure", "delivery", "https://www.botframework.com/schemas/error", []byte(`{"message":"boom"}`))

	assert.Equal(t, TypeTrace, a.Type)
	assert.Equal(t, "network failure", a.Name)
	assert.JSONEq(t, `{"message":"boom"}`, string(a.Value))
}

func TestValidateReplyTo(t *testing.T) {
	known := func(id string) bool { return id == "present" }

	assert.NoError(t, ValidateReplyTo(&Activity{}, known))
	assert.NoError(t, ValidateReplyTo(&Activity{ReplyToID: "present"}, known))
	assert.Error(t, ValidateReplyTo(&Activity{ReplyToID: "missing"}, known))
	assert.Error(t, ValidateReplyTo(&Activity{ReplyToID: "present"}, nil))
}
