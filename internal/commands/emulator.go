// ABOUTME: The emulator command surface: the exact set of operations callable from outside
// ABOUTME: Binds bot/transcript/conversation handlers onto a command registry

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/southworks/botemulator/internal/activity"
	"github.com/southworks/botemulator/internal/conversation"
	"github.com/southworks/botemulator/internal/emulator"
	"github.com/southworks/botemulator/internal/transcript"
)

// Command names. These are the only callable entry points into the core.
const (
	BotOpen                    = "bot:open"
	BotSetActive               = "bot:set-active"
	TranscriptOpen             = "transcript:open"
	FeedTranscriptFromMemory   = "emulator:feed-transcript-from-memory"
	PostActivityToConversation = "emulator:post-activity-to-conversation"
	NewTranscript              = "emulator:new-transcript"
	DeleteConversation         = "emulator:delete-conversation"
)

// Bind builds the command registry for an emulator instance.
func Bind(em *emulator.Emulator, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	b := &binder{em: em}

	// Registration happens once at startup with unique literal names, so
	// errors here are programming mistakes.
	must := func(name string, h Handler) {
		if err := r.Register(name, h); err != nil {
			panic(err)
		}
	}

	must(BotOpen, b.botOpen)
	must(BotSetActive, b.botSetActive)
	must(TranscriptOpen, b.transcriptOpen)
	must(FeedTranscriptFromMemory, b.feedTranscriptFromMemory)
	must(PostActivityToConversation, b.postActivityToConversation)
	must(NewTranscript, b.newTranscript)
	must(DeleteConversation, b.deleteConversation)

	return r
}

type binder struct {
	em *emulator.Emulator
}

type botOpenRequest struct {
	Path string `json:"path"`
}

// botOpen loads a .bot configuration file from disk and returns it.
func (b *binder) botOpen(ctx context.Context, params json.RawMessage) (any, error) {
	var req botOpenRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("decoding bot:open request: %w", err)
	}
	return emulator.LoadBotFile(req.Path)
}

// botSetActive loads a bot file and makes it the active delivery target.
func (b *binder) botSetActive(ctx context.Context, params json.RawMessage) (any, error) {
	var req botOpenRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("decoding bot:set-active request: %w", err)
	}

	bot, err := emulator.LoadBotFile(req.Path)
	if err != nil {
		return nil, err
	}
	if err := b.em.SetActiveBot(bot); err != nil {
		return nil, err
	}
	return bot, nil
}

type transcriptOpenRequest struct {
	Path           string `json:"path"`
	ConversationID string `json:"conversationId,omitempty"`
}

// transcriptOpenResult is returned from transcript:open.
type transcriptOpenResult struct {
	ConversationID string `json:"conversationId"`
	FileName       string `json:"fileName"`
	Count          int    `json:"count"`
}

// transcriptOpen reads a .transcript file and replays it into a fresh
// conversation with no bot endpoint attached.
func (b *binder) transcriptOpen(ctx context.Context, params json.RawMessage) (any, error) {
	var req transcriptOpenRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("decoding transcript:open request: %w", err)
	}

	activities, err := transcript.ReadFile(req.Path)
	if err != nil {
		return nil, err
	}

	c, err := b.em.Registry().ReplaceConversation(nil, emulator.DefaultUser(), req.ConversationID, conversation.ModeLivechat)
	if err != nil {
		return nil, err
	}
	if err := c.FeedActivities(ctx, activities); err != nil {
		return nil, err
	}

	return &transcriptOpenResult{
		ConversationID: c.ID(),
		FileName:       filepath.Base(req.Path),
		Count:          len(activities),
	}, nil
}

type feedTranscriptRequest struct {
	ConversationID string               `json:"conversationId"`
	BotID          string               `json:"botId,omitempty"`
	UserID         string               `json:"userId,omitempty"`
	Activities     []*activity.Activity `json:"activities"`
}

// feedTranscriptFromMemory bulk-appends pre-parsed activities into a
// conversation, creating it if needed. Used for deep-linked transcripts.
func (b *binder) feedTranscriptFromMemory(ctx context.Context, params json.RawMessage) (any, error) {
	var req feedTranscriptRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("decoding feed request: %w", err)
	}

	c := b.em.Registry().ConversationByID(req.ConversationID)
	if c == nil {
		user := emulator.DefaultUser()
		if req.UserID != "" {
			user = activity.ChannelAccount{ID: req.UserID, Name: "User", Role: activity.RoleUser}
		}
		var err error
		c, err = b.em.Registry().NewConversation(b.em.ActiveEndpoint(), user, req.ConversationID, conversation.ModeLivechat)
		if err != nil {
			return nil, err
		}
	}

	if err := c.FeedActivities(ctx, req.Activities); err != nil {
		return nil, err
	}
	return len(req.Activities), nil
}

type postActivityRequest struct {
	ConversationID string             `json:"conversationId"`
	Activity       *activity.Activity `json:"activity"`
	ToUser         bool               `json:"toUser,omitempty"`
}

// postActivityToConversation posts an activity into a conversation, either
// toward the bot endpoint or directly to the user-side transcript.
func (b *binder) postActivityToConversation(ctx context.Context, params json.RawMessage) (any, error) {
	var req postActivityRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("decoding post request: %w", err)
	}
	if req.Activity == nil {
		return nil, fmt.Errorf("post request has no activity")
	}

	c := b.em.Registry().ConversationByID(req.ConversationID)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", conversation.ErrNotFound, req.ConversationID)
	}

	if req.ToUser {
		return c.PostActivityToUser(ctx, req.Activity)
	}
	return c.PostActivityToBot(ctx, req.Activity)
}

type newTranscriptRequest struct {
	ConversationID string `json:"conversationId"`
}

// newTranscript creates a fresh conversation for recording a transcript,
// wired to the active bot endpoint when one is set.
func (b *binder) newTranscript(ctx context.Context, params json.RawMessage) (any, error) {
	var req newTranscriptRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("decoding new-transcript request: %w", err)
	}

	c, err := b.em.Registry().NewConversation(b.em.ActiveEndpoint(), emulator.DefaultUser(), req.ConversationID, conversation.ModeLivechat)
	if err != nil {
		return nil, err
	}
	return &transcriptOpenResult{ConversationID: c.ID()}, nil
}

type deleteConversationRequest struct {
	ConversationID string `json:"conversationId"`
}

// deleteConversation removes a conversation from the registry, releasing
// its subscribers. Unknown ids are a no-op.
func (b *binder) deleteConversation(ctx context.Context, params json.RawMessage) (any, error) {
	var req deleteConversationRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("decoding delete request: %w", err)
	}

	b.em.Registry().DeleteConversation(req.ConversationID)
	return true, nil
}
