// ABOUTME: Registry of live conversations, the sole owner of Conversation instances
// ABOUTME: Enforces at-most-one conversation per id; create/lookup/delete only

package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/southworks/botemulator/internal/activity"
	"github.com/southworks/botemulator/internal/endpoint"
)

// Registry errors
var (
	// ErrConflict is returned when creating a conversation whose id already
	// exists and replacement was not requested.
	ErrConflict = errors.New("conversation already exists")

	// ErrNotFound is returned when operating on an unknown conversation id.
	ErrNotFound = errors.New("conversation not found")
)

// registryDeps bundles the collaborators handed to each new conversation.
type registryDeps struct {
	poster      Poster
	ledger      Ledger
	broadcaster *Broadcaster
	serviceURL  func() string
	logger      *slog.Logger
}

// Registry is the in-memory store of live conversations keyed by
// conversation id. Side effects are confined to the map; lookups never
// block behind deliveries.
type Registry struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	deps          registryDeps
}

// NewRegistry creates a registry. ledger may be nil to disable history
// archiving; pass nil logger for default.
func NewRegistry(poster Poster, ledger Ledger, broadcaster *Broadcaster, serviceURL func() string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if serviceURL == nil {
		serviceURL = func() string { return "" }
	}
	if broadcaster == nil {
		broadcaster = NewBroadcaster(logger)
	}
	return &Registry{
		conversations: make(map[string]*Conversation),
		deps: registryDeps{
			poster:      poster,
			ledger:      ledger,
			broadcaster: broadcaster,
			serviceURL:  serviceURL,
			logger:      logger,
		},
	}
}

// Broadcaster returns the transcript event broadcaster shared by all
// conversations in this registry.
func (r *Registry) Broadcaster() *Broadcaster { return r.deps.broadcaster }

// NewConversation creates and registers a conversation. conversationID may
// be empty, in which case a "{guid}|{mode}" id is generated. Fails with
// ErrConflict if the id is already registered.
func (r *Registry) NewConversation(ep *endpoint.BotEndpoint, user activity.ChannelAccount, conversationID string, mode Mode) (*Conversation, error) {
	if conversationID == "" {
		conversationID = fmt.Sprintf("%s|%s", uuid.New().String(), mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conversations[conversationID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrConflict, conversationID)
	}

	c := newConversation(conversationID, mode, ep, user, r.deps)
	r.conversations[conversationID] = c

	r.deps.logger.Debug("conversation created",
		"conversation_id", conversationID,
		"mode", mode,
		"user_id", user.ID)
	return c, nil
}

// ReplaceConversation registers a conversation for the given id, destroying
// any existing one (its subscribers are released first).
func (r *Registry) ReplaceConversation(ep *endpoint.BotEndpoint, user activity.ChannelAccount, conversationID string, mode Mode) (*Conversation, error) {
	if conversationID == "" {
		return r.NewConversation(ep, user, conversationID, mode)
	}
	r.DeleteConversation(conversationID)
	return r.NewConversation(ep, user, conversationID, mode)
}

// ConversationByID returns the conversation for the given id, nil when absent.
func (r *Registry) ConversationByID(id string) *Conversation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conversations[id]
}

// DeleteConversation removes a conversation from the registry and releases
// its streaming subscribers. Deleting an unknown id is a no-op, not an error.
func (r *Registry) DeleteConversation(id string) {
	r.mu.Lock()
	_, existed := r.conversations[id]
	delete(r.conversations, id)
	r.mu.Unlock()

	if existed {
		r.deps.broadcaster.CloseConversation(id)
		r.deps.logger.Debug("conversation deleted", "conversation_id", id)
	}
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conversations)
}
