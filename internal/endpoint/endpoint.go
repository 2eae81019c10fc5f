// ABOUTME: BotEndpoint delivery target and credential handling
// ABOUTME: Acquires Bearer tokens via OAuth2 client credentials when an app id is configured

package endpoint

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the login endpoint used to exchange app credentials
// for a Bearer token.
const DefaultTokenURL = "https://login.microsoftonline.com/botframework.com/oauth2/v2.0/token"

// DefaultScope is the OAuth2 scope requested for bot delivery tokens.
const DefaultScope = "https://api.botframework.com/.default"

// BotEndpoint describes where and how activities are delivered to a bot.
// Conversations hold a *BotEndpoint, never a copy, so credential changes
// made through SetCredentials propagate to in-flight conversations.
type BotEndpoint struct {
	// URL is the bot's messaging endpoint, e.g. http://localhost:3978/api/messages.
	URL string

	// TokenURL overrides DefaultTokenURL, used by tests.
	TokenURL string

	mu          sync.RWMutex
	appID       string
	appPassword string
	tokens      oauth2.TokenSource
}

// NewBotEndpoint creates an endpoint for the given messaging URL with
// optional app credentials.
func NewBotEndpoint(url, appID, appPassword string) *BotEndpoint {
	e := &BotEndpoint{URL: url}
	e.SetCredentials(appID, appPassword)
	return e
}

// SetCredentials replaces the endpoint's app credentials and drops any
// cached token so the next delivery authenticates with the new pair.
func (e *BotEndpoint) SetCredentials(appID, appPassword string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.appID = appID
	e.appPassword = appPassword
	e.tokens = nil
}

// AppID returns the configured app id, empty when the bot is unauthenticated.
func (e *BotEndpoint) AppID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.appID
}

// Token returns a Bearer token for delivery, or "" when the endpoint has no
// credentials configured. Tokens are cached and refreshed by the underlying
// client-credentials source.
func (e *BotEndpoint) Token(ctx context.Context) (string, error) {
	e.mu.Lock()
	if e.appID == "" || e.appPassword == "" {
		e.mu.Unlock()
		return "", nil
	}
	if e.tokens == nil {
		tokenURL := e.TokenURL
		if tokenURL == "" {
			tokenURL = DefaultTokenURL
		}
		cfg := &clientcredentials.Config{
			ClientID:     e.appID,
			ClientSecret: e.appPassword,
			TokenURL:     tokenURL,
			Scopes:       []string{DefaultScope},
		}
		e.tokens = cfg.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, http.DefaultClient))
	}
	source := e.tokens
	e.mu.Unlock()

	tok, err := source.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
