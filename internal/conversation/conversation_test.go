// ABOUTME: Tests for the Conversation state machine
// ABOUTME: Covers posting paths, failure rollback, feeding, correlation and concurrency rejection

package conversation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/southworks/botemulator/internal/activity"
	"github.com/southworks/botemulator/internal/endpoint"
	"github.com/southworks/botemulator/internal/store"
)

var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// mockPoster implements Poster for testing
type mockPoster struct {
	mu      sync.Mutex
	result  *endpoint.Result
	err     error
	posted  []*activity.Activity
	block   chan struct{} // when set, Post waits until closed
	started chan struct{} // when set, closed once Post has begun
}

func (m *mockPoster) Post(ctx context.Context, ep *endpoint.BotEndpoint, a *activity.Activity) (*endpoint.Result, error) {
	m.mu.Lock()
	m.posted = append(m.posted, a)
	started := m.started
	block := m.block
	m.mu.Unlock()

	if started != nil {
		close(started)
		m.mu.Lock()
		m.started = nil
		m.mu.Unlock()
	}
	if block != nil {
		<-block
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.result != nil {
		return m.result, nil
	}
	return &endpoint.Result{StatusCode: 200}, nil
}

func newTestConversation(t *testing.T, p Poster) *Conversation {
	t.Helper()
	r := newTestRegistry(p)
	ep := endpoint.NewBotEndpoint("http://localhost:3978/api/messages", "", "")
	c, err := r.NewConversation(ep, testUser(), "convo1|livechat", ModeLivechat)
	require.NoError(t, err)
	return c
}

func TestConversation_PostActivityToBot_Success(t *testing.T) {
	poster := &mockPoster{result: &endpoint.Result{StatusCode: 200}}
	c := newTestConversation(t, poster)

	result, err := c.PostActivityToBot(context.Background(), &activity.Activity{
		Type: activity.TypeMessage,
		Text: "hi",
	})
	require.NoError(t, err)

	assert.Regexp(t, guidPattern, result.ActivityID)
	assert.Equal(t, 200, result.StatusCode)
	assert.Equal(t, Idle, c.State())

	transcript := c.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, result.ActivityID, transcript[0].ID)
	assert.Equal(t, "convo1|livechat", transcript[0].Conversation.ID)
	assert.Equal(t, "1234", transcript[0].From.ID)

	require.Len(t, poster.posted, 1)
	assert.Equal(t, result.ActivityID, poster.posted[0].ID)
}

func TestConversation_PostActivityToBot_EndToEnd(t *testing.T) {
	// The spec scenario: real delivery client against a 200-returning endpoint
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := endpoint.NewClient(nil, nil)
	r := NewRegistry(client, nil, nil, func() string { return srv.URL }, nil)
	ep := endpoint.NewBotEndpoint(srv.URL, "", "")

	c, err := r.NewConversation(ep, activity.ChannelAccount{ID: "1234", Name: "User"}, "convo1", ModeLivechat)
	require.NoError(t, err)

	result, err := c.PostActivityToBot(context.Background(), &activity.Activity{
		Type: activity.TypeMessage,
		Text: "hi",
	})
	require.NoError(t, err)
	assert.Regexp(t, guidPattern, result.ActivityID)
	assert.Equal(t, 200, result.StatusCode)
}

func TestConversation_PostActivityToBot_FailureKeepsActivityAndRevertsToIdle(t *testing.T) {
	poster := &mockPoster{err: fmt.Errorf("%w: connect refused", endpoint.ErrNetwork)}
	c := newTestConversation(t, poster)

	events, _ := c.broadcaster.Subscribe(context.Background(), c.ID())

	_, err := c.PostActivityToBot(context.Background(), &activity.Activity{
		Type: activity.TypeMessage,
		Text: "hi",
	})
	assert.ErrorIs(t, err, endpoint.ErrNetwork)

	// The outbound activity stays in the transcript so the UI can mark it failed
	transcript := c.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, "hi", transcript[0].Text)
	assert.Equal(t, Idle, c.State())

	// Subscribers see the add followed by the delivery failure
	ev := <-events
	assert.Equal(t, EventActivityAdd, ev.Type)
	ev = <-events
	assert.Equal(t, EventDeliveryFailure, ev.Type)
	assert.Contains(t, ev.Error, "unreachable")

	// The caller may retry immediately
	poster.err = nil
	_, err = c.PostActivityToBot(context.Background(), &activity.Activity{
		Type: activity.TypeMessage,
		Text: "hi again",
	})
	assert.NoError(t, err)
}

func TestConversation_PostActivityToBot_RejectsConcurrentPost(t *testing.T) {
	poster := &mockPoster{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	c := newTestConversation(t, poster)

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.PostActivityToBot(context.Background(), &activity.Activity{Type: activity.TypeMessage, Text: "first"})
		firstDone <- err
	}()

	select {
	case <-poster.started:
	case <-time.After(time.Second):
		t.Fatal("first post never reached the endpoint")
	}

	assert.Equal(t, AwaitingBotReply, c.State())

	_, err := c.PostActivityToBot(context.Background(), &activity.Activity{Type: activity.TypeMessage, Text: "second"})
	assert.ErrorIs(t, err, ErrPostInFlight)

	close(poster.block)
	require.NoError(t, <-firstDone)
	assert.Equal(t, Idle, c.State())
}

func TestConversation_PostActivityToBot_NoEndpoint(t *testing.T) {
	r := newTestRegistry(&mockPoster{})
	c, err := r.NewConversation(nil, testUser(), "convo1", ModeLivechat)
	require.NoError(t, err)

	_, err = c.PostActivityToBot(context.Background(), &activity.Activity{Type: activity.TypeMessage})
	assert.ErrorIs(t, err, ErrNoBotEndpoint)
}

func TestConversation_PostActivityToBot_RecordsSynchronousReplies(t *testing.T) {
	poster := &mockPoster{result: &endpoint.Result{
		StatusCode: 200,
		Replies: []*activity.Activity{
			{Type: activity.TypeMessage, Text: "sync reply"},
		},
	}}
	c := newTestConversation(t, poster)

	result, err := c.PostActivityToBot(context.Background(), &activity.Activity{
		Type: activity.TypeMessage,
		Text: "hi",
	})
	require.NoError(t, err)

	transcript := c.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, "sync reply", transcript[1].Text)
	assert.Equal(t, result.ActivityID, transcript[1].ReplyToID)
	assert.Equal(t, activity.RoleBot, transcript[1].From.Role)
}

func TestConversation_PostActivityToUser(t *testing.T) {
	c := newTestConversation(t, &mockPoster{})

	posted, err := c.PostActivityToUser(context.Background(), &activity.Activity{
		Type: activity.TypeMessage,
		Text: "bot says hi",
	})
	require.NoError(t, err)

	assert.Regexp(t, guidPattern, posted.ID)
	assert.Equal(t, "convo1|livechat", posted.Conversation.ID)
	assert.Equal(t, activity.RoleBot, posted.From.Role)

	transcript := c.Transcript()
	require.Len(t, transcript, 1)
	assert.Equal(t, posted.ID, transcript[0].ID)
}

func TestConversation_PostActivityToUser_ValidatesReplyTo(t *testing.T) {
	c := newTestConversation(t, &mockPoster{})

	_, err := c.PostActivityToUser(context.Background(), &activity.Activity{
		Type:      activity.TypeMessage,
		Text:      "orphan reply",
		ReplyToID: "no-such-activity",
	})
	require.Error(t, err)
	assert.Empty(t, c.Transcript())

	// A reply to a known activity is accepted
	first, err := c.PostActivityToUser(context.Background(), &activity.Activity{Type: activity.TypeMessage, Text: "hello"})
	require.NoError(t, err)

	_, err = c.PostActivityToUser(context.Background(), &activity.Activity{
		Type:      activity.TypeMessage,
		Text:      "reply",
		ReplyToID: first.ID,
	})
	assert.NoError(t, err)
}

func TestConversation_FeedActivities_PreservesOrderAndReplyTo(t *testing.T) {
	c := newTestConversation(t, &mockPoster{})

	activities := make([]*activity.Activity, 10)
	for i := range activities {
		activities[i] = &activity.Activity{
			ID:        fmt.Sprintf("fed-%d", i),
			Type:      activity.TypeMessage,
			Text:      fmt.Sprintf("message %d", i),
			ReplyToID: "fed-0",
		}
	}
	activities[0].ReplyToID = ""

	require.NoError(t, c.FeedActivities(context.Background(), activities))

	transcript := c.Transcript()
	require.Len(t, transcript, 10)
	for i, a := range transcript {
		assert.Equal(t, fmt.Sprintf("fed-%d", i), a.ID)
		if i > 0 {
			assert.Equal(t, "fed-0", a.ReplyToID, "replyToId must not be altered")
		}
	}
}

func TestConversation_FeedActivities_UpdatesMembers(t *testing.T) {
	c := newTestConversation(t, &mockPoster{})

	newcomer := activity.ChannelAccount{ID: "u2", Name: "Second User"}
	require.NoError(t, c.FeedActivities(context.Background(), []*activity.Activity{
		{
			ID:           "update-1",
			Type:         activity.TypeConversationUpdate,
			MembersAdded: []activity.ChannelAccount{newcomer},
		},
	}))

	members := c.Members()
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	assert.Contains(t, ids, "u2")
}

func TestConversation_FeedActivities_RejectsDuplicateID(t *testing.T) {
	c := newTestConversation(t, &mockPoster{})

	err := c.FeedActivities(context.Background(), []*activity.Activity{
		{ID: "dup", Type: activity.TypeMessage},
		{ID: "dup", Type: activity.TypeMessage},
	})
	assert.Error(t, err)
}

func TestConversation_Transcript_DefensiveCopy(t *testing.T) {
	c := newTestConversation(t, &mockPoster{})

	_, err := c.PostActivityToUser(context.Background(), &activity.Activity{Type: activity.TypeMessage, Text: "hi"})
	require.NoError(t, err)

	got := c.Transcript()
	got[0] = nil

	again := c.Transcript()
	require.NotNil(t, again[0])
	assert.Equal(t, "hi", again[0].Text)
}

func TestConversation_ArchivesToLedger(t *testing.T) {
	ledger := &mockLedger{}
	r := NewRegistry(&mockPoster{}, ledger, nil, nil, nil)
	ep := endpoint.NewBotEndpoint("http://localhost:3978/api/messages", "", "")
	c, err := r.NewConversation(ep, testUser(), "convo1", ModeLivechat)
	require.NoError(t, err)

	_, err = c.PostActivityToBot(context.Background(), &activity.Activity{Type: activity.TypeMessage, Text: "hi"})
	require.NoError(t, err)
	_, err = c.PostActivityToUser(context.Background(), &activity.Activity{Type: activity.TypeMessage, Text: "reply"})
	require.NoError(t, err)

	records := ledger.records()
	require.Len(t, records, 2)
	assert.Equal(t, store.DirectionToBot, records[0].Direction)
	assert.Equal(t, store.DirectionToUser, records[1].Direction)
	assert.Equal(t, "convo1", records[0].ConversationID)
}

func TestConversation_MemberHelpers(t *testing.T) {
	poster := &mockPoster{}
	c := newTestConversation(t, poster)

	newcomer := activity.ChannelAccount{ID: "u2", Name: "Second"}
	_, err := c.AddMember(context.Background(), newcomer)
	require.NoError(t, err)

	require.Len(t, poster.posted, 1)
	assert.Equal(t, activity.TypeConversationUpdate, poster.posted[0].Type)
	require.Len(t, poster.posted[0].MembersAdded, 1)
	assert.Equal(t, "u2", poster.posted[0].MembersAdded[0].ID)

	_, err = c.RemoveMember(context.Background(), newcomer)
	require.NoError(t, err)
	assert.Equal(t, activity.TypeConversationUpdate, poster.posted[1].Type)
	require.Len(t, poster.posted[1].MembersRemoved, 1)

	_, err = c.BotContactAdded(context.Background())
	require.NoError(t, err)
	assert.Equal(t, activity.TypeContactRelationUpdate, poster.posted[2].Type)
	assert.Equal(t, "add", poster.posted[2].Action)

	_, err = c.SendTyping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, activity.TypeTyping, poster.posted[3].Type)

	_, err = c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, activity.TypePing, poster.posted[4].Type)
}

// mockLedger implements Ledger for testing
type mockLedger struct {
	mu   sync.Mutex
	recs []*store.ActivityRecord
}

func (m *mockLedger) SaveActivity(ctx context.Context, rec *store.ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *mockLedger) records() []*store.ActivityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*store.ActivityRecord(nil), m.recs...)
}
