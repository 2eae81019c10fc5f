// ABOUTME: Emulator is the application-state container owning all core collaborators
// ABOUTME: Explicitly constructed and passed down, replacing ambient singleton lookup

package emulator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/southworks/botemulator/internal/activity"
	"github.com/southworks/botemulator/internal/config"
	"github.com/southworks/botemulator/internal/conversation"
	"github.com/southworks/botemulator/internal/endpoint"
	"github.com/southworks/botemulator/internal/store"
	"github.com/southworks/botemulator/internal/transcript"
)

// Emulator owns the live conversation registry, the delivery client, the
// history ledger and the active bot endpoint. One long-lived instance is
// created by the application root and passed by reference into everything
// that needs it.
type Emulator struct {
	registry *conversation.Registry
	ledger   store.Store
	client   *endpoint.Client
	logger   *slog.Logger

	mu         sync.RWMutex
	serviceURL string
	activeBot  *BotFile
	activeEP   *endpoint.BotEndpoint
}

// New creates the emulator from configuration. ledger may be nil to run
// without history archiving.
func New(cfg *config.Config, ledger store.Store, logger *slog.Logger) *Emulator {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{Timeout: endpoint.DefaultTimeout}
	if cfg.Bot.Timeout > 0 {
		httpClient.Timeout = cfg.Bot.Timeout
	}

	e := &Emulator{
		ledger:     ledger,
		client:     endpoint.NewClient(httpClient, logger),
		logger:     logger.With("component", "emulator"),
		serviceURL: cfg.ServiceURL(),
	}

	var ledgerDep conversation.Ledger
	if ledger != nil {
		ledgerDep = ledger
	}
	e.registry = conversation.NewRegistry(
		e.client,
		ledgerDep,
		conversation.NewBroadcaster(logger),
		e.ServiceURL,
		logger,
	)

	if cfg.Bot.Endpoint != "" {
		e.activeEP = endpoint.NewBotEndpoint(cfg.Bot.Endpoint, cfg.Bot.AppID, cfg.Bot.AppPassword)
	}

	return e
}

// Registry returns the conversation registry.
func (e *Emulator) Registry() *conversation.Registry { return e.registry }

// Ledger returns the history store, nil when archiving is disabled.
func (e *Emulator) Ledger() store.Store { return e.ledger }

// Broadcaster returns the shared transcript event broadcaster.
func (e *Emulator) Broadcaster() *conversation.Broadcaster { return e.registry.Broadcaster() }

// ServiceURL returns the public-facing URL bots are given as serviceUrl.
func (e *Emulator) ServiceURL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.serviceURL
}

// SetServiceURL replaces the public-facing URL, e.g. when a tunnel comes
// up. New activities pick it up immediately.
func (e *Emulator) SetServiceURL(url string) {
	e.mu.Lock()
	e.serviceURL = url
	e.mu.Unlock()
	e.logger.Info("service url changed", "service_url", url)
}

// ActiveEndpoint returns the delivery target of the active bot, nil when
// no bot is active.
func (e *Emulator) ActiveEndpoint() *endpoint.BotEndpoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeEP
}

// ActiveBot returns the active bot configuration, nil when none is set.
func (e *Emulator) ActiveBot() *BotFile {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeBot
}

// SetActiveBot makes the given bot configuration active. When the new bot
// shares the messaging URL with the current endpoint only the credentials
// are swapped, so conversations holding the endpoint reference keep
// working without restart.
func (e *Emulator) SetActiveBot(bot *BotFile) error {
	svc := bot.EndpointService()
	if svc == nil {
		return fmt.Errorf("bot %q has no endpoint service", bot.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.activeBot = bot
	if e.activeEP != nil && e.activeEP.URL == svc.Endpoint {
		e.activeEP.SetCredentials(svc.AppID, svc.AppPassword)
	} else {
		e.activeEP = endpoint.NewBotEndpoint(svc.Endpoint, svc.AppID, svc.AppPassword)
	}

	e.logger.Info("active bot changed", "bot", bot.Name, "endpoint", svc.Endpoint)
	return nil
}

// SaveTranscript writes a conversation's transcript to a .transcript file.
func (e *Emulator) SaveTranscript(conversationID, path string) error {
	c := e.registry.ConversationByID(conversationID)
	if c == nil {
		return fmt.Errorf("%w: %s", conversation.ErrNotFound, conversationID)
	}
	return transcript.WriteFile(path, c.Transcript())
}

// ExportTranscriptHTML renders a conversation's transcript as HTML.
func (e *Emulator) ExportTranscriptHTML(conversationID string) ([]byte, error) {
	c := e.registry.ConversationByID(conversationID)
	if c == nil {
		return nil, fmt.Errorf("%w: %s", conversation.ErrNotFound, conversationID)
	}
	return transcript.ExportHTML(conversationID, c.Transcript())
}

// History returns the archived activities for a conversation from the
// ledger, which outlives the live conversation.
func (e *Emulator) History(ctx context.Context, conversationID string, limit int) ([]*store.ActivityRecord, error) {
	if e.ledger == nil {
		return nil, nil
	}
	return e.ledger.GetActivities(ctx, conversationID, limit)
}

// DefaultUser is the simulated user used when the caller does not name one.
func DefaultUser() activity.ChannelAccount {
	return activity.ChannelAccount{ID: "default-user", Name: "User", Role: activity.RoleUser}
}

// Close shuts down shared resources.
func (e *Emulator) Close() error {
	e.Broadcaster().Close()
	if e.ledger != nil {
		return e.ledger.Close()
	}
	return nil
}
