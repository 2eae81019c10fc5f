// ABOUTME: Conversation aggregate: transcript, state machine and delivery paths
// ABOUTME: All activities converge on the transcript append whatever path they arrive by

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/southworks/botemulator/internal/activity"
	"github.com/southworks/botemulator/internal/endpoint"
	"github.com/southworks/botemulator/internal/store"
)

// Conversation errors
var (
	// ErrPostInFlight is returned when a second post to the bot is attempted
	// while one is still awaiting its reply. Mutations of one conversation
	// never interleave.
	ErrPostInFlight = errors.New("a post to the bot is already in flight")

	// ErrNoBotEndpoint is returned when posting to the bot of a conversation
	// that has none (transcript replay conversations).
	ErrNoBotEndpoint = errors.New("conversation has no bot endpoint")
)

// Mode distinguishes how a conversation was started. It is embedded in the
// conversation id as "{guid}|{mode}".
type Mode string

const (
	ModeLivechat    Mode = "livechat"
	ModeLivechatURL Mode = "livechat-url"
	ModeDebug       Mode = "debug"
)

// State of the per-conversation delivery state machine.
type State int

const (
	Idle State = iota
	AwaitingBotReply
)

// Poster defines what a conversation needs from the delivery layer
type Poster interface {
	Post(ctx context.Context, ep *endpoint.BotEndpoint, a *activity.Activity) (*endpoint.Result, error)
}

// Ledger defines what a conversation needs from the history store
type Ledger interface {
	SaveActivity(ctx context.Context, rec *store.ActivityRecord) error
}

// PostResult is returned from a successful post to the bot.
type PostResult struct {
	ActivityID string `json:"activityId"`
	StatusCode int    `json:"statusCode"`
}

// Conversation is a logical session between a simulated user and a bot
// endpoint, holding the ordered transcript. Instances are created and owned
// exclusively by the Registry; at most one exists per conversation id.
type Conversation struct {
	conversationID string
	mode           Mode
	user           activity.ChannelAccount
	bot            activity.ChannelAccount
	endpoint       *endpoint.BotEndpoint

	factory     *activity.Factory
	poster      Poster
	ledger      Ledger
	broadcaster *Broadcaster
	logger      *slog.Logger

	mu         sync.Mutex
	state      State
	transcript []*activity.Activity
	ids        map[string]struct{}
	members    map[string]activity.ChannelAccount
}

func newConversation(id string, mode Mode, ep *endpoint.BotEndpoint, user activity.ChannelAccount, deps registryDeps) *Conversation {
	bot := activity.ChannelAccount{ID: "bot", Name: "Bot", Role: activity.RoleBot}
	if ep != nil {
		bot.ID = ep.URL
	}
	if user.Role == "" {
		user.Role = activity.RoleUser
	}

	c := &Conversation{
		conversationID: id,
		mode:           mode,
		user:           user,
		bot:            bot,
		endpoint:       ep,
		factory:        activity.NewFactory(id, deps.serviceURL),
		poster:         deps.poster,
		ledger:         deps.ledger,
		broadcaster:    deps.broadcaster,
		logger:         deps.logger.With("component", "conversation", "conversation_id", id),
		ids:            make(map[string]struct{}),
		members:        make(map[string]activity.ChannelAccount),
	}
	c.members[user.ID] = user
	c.members[bot.ID] = bot
	return c
}

// ID returns the conversation id ("{guid}|{mode}").
func (c *Conversation) ID() string { return c.conversationID }

// Mode returns the conversation mode.
func (c *Conversation) Mode() Mode { return c.mode }

// User returns the simulated user account.
func (c *Conversation) User() activity.ChannelAccount { return c.user }

// Endpoint returns the bot endpoint reference, nil for replay conversations.
func (c *Conversation) Endpoint() *endpoint.BotEndpoint { return c.endpoint }

// Factory returns the conversation's activity factory.
func (c *Conversation) Factory() *activity.Factory { return c.factory }

// State returns the current delivery state.
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Members returns the accounts currently in the conversation.
func (c *Conversation) Members() []activity.ChannelAccount {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]activity.ChannelAccount, 0, len(c.members))
	for _, m := range c.members {
		out = append(out, m)
	}
	return out
}

// Transcript returns a copy of the ordered transcript. Mutating the
// returned slice does not affect the conversation.
func (c *Conversation) Transcript() []*activity.Activity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*activity.Activity(nil), c.transcript...)
}

// HasActivity reports whether an activity id is present in the transcript.
func (c *Conversation) HasActivity(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

// PostActivityToBot stamps the activity, appends it to the transcript and
// delivers it to the bot endpoint. The outbound activity is recorded before
// delivery is attempted, so a failed send still shows in the transcript.
// Synchronous replies carried in the HTTP response are appended with
// replyToId set to the posted activity; asynchronous replies arrive later
// through PostActivityToUser and take the same append path.
//
// A second post while one is awaiting its reply fails with ErrPostInFlight.
// On delivery failure the state reverts to Idle so the caller may retry.
func (c *Conversation) PostActivityToBot(ctx context.Context, a *activity.Activity) (*PostResult, error) {
	if c.endpoint == nil {
		return nil, ErrNoBotEndpoint
	}

	stamped := c.factory.Stamp(a)
	if stamped.From == nil {
		from := c.user
		stamped.From = &from
	}
	if stamped.Recipient == nil {
		recipient := c.bot
		stamped.Recipient = &recipient
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return nil, ErrPostInFlight
	}
	if err := c.appendLocked(stamped); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.state = AwaitingBotReply
	c.mu.Unlock()

	c.archive(stamped, store.DirectionToBot)
	c.publishActivity(stamped)

	result, err := c.poster.Post(ctx, c.endpoint, stamped)

	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("delivery to bot failed", "activity_id", stamped.ID, "error", err)
		c.broadcaster.Publish(c.conversationID, &Event{
			Type:           EventDeliveryFailure,
			ConversationID: c.conversationID,
			Activity:       stamped,
			Error:          err.Error(),
		})
		return nil, err
	}

	for _, reply := range result.Replies {
		reply = reply.Clone()
		reply.ReplyToID = stamped.ID
		if _, err := c.PostActivityToUser(ctx, reply); err != nil {
			c.logger.Warn("discarding malformed synchronous reply", "error", err)
		}
	}

	c.logger.Debug("activity posted to bot", "activity_id", stamped.ID, "status", result.StatusCode)
	return &PostResult{ActivityID: stamped.ID, StatusCode: result.StatusCode}, nil
}

// PostActivityToUser appends a bot-originated activity to the transcript
// and notifies subscribers. No network call is made. Used for replies
// delivered through the callback server as well as synchronous ones, so
// ordering is preserved regardless of delivery path. A replyToId that does
// not reference an activity already in the transcript is an error.
func (c *Conversation) PostActivityToUser(ctx context.Context, a *activity.Activity) (*activity.Activity, error) {
	stamped := c.factory.Stamp(a)
	if stamped.From == nil {
		from := c.bot
		stamped.From = &from
	}
	if stamped.Recipient == nil {
		recipient := c.user
		stamped.Recipient = &recipient
	}

	if err := activity.ValidateReplyTo(stamped, c.HasActivity); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if err := c.appendLocked(stamped); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.updateMembersLocked(stamped)
	c.mu.Unlock()

	c.archive(stamped, store.DirectionToUser)
	c.publishActivity(stamped)
	return stamped, nil
}

// FeedActivities bulk-appends a pre-built ordered sequence, used when
// replaying a transcript from disk or seeding from a chat file. Activities
// are appended as given: replyToId fields and envelope data already present
// are not altered, and the bot is not invoked.
func (c *Conversation) FeedActivities(ctx context.Context, activities []*activity.Activity) error {
	for _, a := range activities {
		if a.ID == "" {
			a = c.factory.Stamp(a)
		}

		c.mu.Lock()
		if err := c.appendLocked(a); err != nil {
			c.mu.Unlock()
			return err
		}
		c.updateMembersLocked(a)
		c.mu.Unlock()

		c.archive(a, store.DirectionFed)
		c.publishActivity(a)
	}
	c.logger.Debug("activities fed", "count", len(activities))
	return nil
}

// AddMember inserts an account into the conversation and posts the
// resulting conversationUpdate to the bot.
func (c *Conversation) AddMember(ctx context.Context, member activity.ChannelAccount) (*PostResult, error) {
	if member.Role == "" {
		member.Role = activity.RoleUser
	}
	c.mu.Lock()
	c.members[member.ID] = member
	c.mu.Unlock()

	update := c.factory.ConversationUpdate(member, c.bot, []activity.ChannelAccount{member}, nil)
	return c.PostActivityToBot(ctx, update)
}

// RemoveMember removes an account and posts the conversationUpdate.
func (c *Conversation) RemoveMember(ctx context.Context, member activity.ChannelAccount) (*PostResult, error) {
	c.mu.Lock()
	delete(c.members, member.ID)
	c.mu.Unlock()

	update := c.factory.ConversationUpdate(member, c.bot, nil, []activity.ChannelAccount{member})
	return c.PostActivityToBot(ctx, update)
}

// BotContactAdded posts a contactRelationUpdate with action "add".
func (c *Conversation) BotContactAdded(ctx context.Context) (*PostResult, error) {
	return c.PostActivityToBot(ctx, c.factory.ContactRelationUpdate(c.user, c.bot, "add"))
}

// BotContactRemoved posts a contactRelationUpdate with action "remove".
func (c *Conversation) BotContactRemoved(ctx context.Context) (*PostResult, error) {
	return c.PostActivityToBot(ctx, c.factory.ContactRelationUpdate(c.user, c.bot, "remove"))
}

// Ping posts a ping activity to the bot to probe reachability.
func (c *Conversation) Ping(ctx context.Context) (*PostResult, error) {
	return c.PostActivityToBot(ctx, c.factory.Ping(c.user, c.bot))
}

// SendTyping posts a typing indicator to the bot.
func (c *Conversation) SendTyping(ctx context.Context) (*PostResult, error) {
	return c.PostActivityToBot(ctx, c.factory.Typing(c.user, c.bot))
}

// EndConversation posts an endOfConversation activity to the bot.
func (c *Conversation) EndConversation(ctx context.Context) (*PostResult, error) {
	return c.PostActivityToBot(ctx, c.factory.EndOfConversation(c.user, c.bot))
}

// appendLocked inserts an activity into the transcript, enforcing id
// uniqueness. Callers hold c.mu.
func (c *Conversation) appendLocked(a *activity.Activity) error {
	if a.ID == "" {
		return fmt.Errorf("activity has no id")
	}
	if _, dup := c.ids[a.ID]; dup {
		return fmt.Errorf("activity %q already present in conversation %q", a.ID, c.conversationID)
	}
	c.ids[a.ID] = struct{}{}
	c.transcript = append(c.transcript, a)
	return nil
}

// updateMembersLocked applies member deltas carried by conversationUpdate
// activities. Callers hold c.mu.
func (c *Conversation) updateMembersLocked(a *activity.Activity) {
	if a.Type != activity.TypeConversationUpdate {
		return
	}
	for _, m := range a.MembersAdded {
		c.members[m.ID] = m
	}
	for _, m := range a.MembersRemoved {
		delete(c.members, m.ID)
	}
}

// archive writes an activity to the history ledger. Ledger failures are
// logged, never propagated: history is best-effort, the transcript is the
// source of truth for the live conversation.
func (c *Conversation) archive(a *activity.Activity, direction store.Direction) {
	if c.ledger == nil {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		c.logger.Error("failed to encode activity for ledger", "activity_id", a.ID, "error", err)
		return
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = c.ledger.SaveActivity(saveCtx, &store.ActivityRecord{
		ActivityID:     a.ID,
		ConversationID: c.conversationID,
		Direction:      direction,
		Type:           a.Type,
		ReplyToID:      a.ReplyToID,
		Payload:        payload,
		CreatedAt:      time.Now(),
	})
	if err != nil && !errors.Is(err, store.ErrDuplicateActivity) {
		c.logger.Error("failed to archive activity", "activity_id", a.ID, "error", err)
	}
}

func (c *Conversation) publishActivity(a *activity.Activity) {
	c.broadcaster.Publish(c.conversationID, &Event{
		Type:           EventActivityAdd,
		ConversationID: c.conversationID,
		Activity:       a,
	})
}
