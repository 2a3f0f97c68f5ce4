package llm

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/loomworks/loom/pkg/credentials"
)

// Route is the result of a routing decision: a ready-to-use provider and
// whether it runs over the user's own subscription (in which case usage is
// not billed through the backend).
type Route struct {
	Provider     Provider
	Subscription bool
	// Token is the bearer token in use on the subscription path, kept for
	// the usage-endpoint lookup on quota errors. Empty on the managed path.
	Token string
}

// RouteSource picks transports per request and owns the shared cooldown
// state. Router is the production implementation; the interpreter and the
// run engine depend on this interface so routing can be faked in tests.
type RouteSource interface {
	Resolve(ctx context.Context, modelID string) Route
	Managed(modelID string) Route
	Cooldown() *CooldownStore
}

// RouterConfig configures a Router. BackendAPIKey is required; the
// subscription path is optional and engaged only when credentials are
// obtainable.
type RouterConfig struct {
	BackendURL    string
	BackendAPIKey string
	// ForceManaged pins all requests to the managed path.
	ForceManaged bool
	Logger       zerolog.Logger
}

// Router decides, per request, whether a model is served over the user's
// subscription or through the managed backend. The cooldown store is
// injected so the sharing-across-runs behavior is an explicit dependency.
type Router struct {
	cfg      RouterConfig
	cooldown *CooldownStore
	log      zerolog.Logger

	// Seams for tests.
	loadCreds    func() (*credentials.OAuthCredentials, error)
	refreshCreds func(ctx context.Context, c *credentials.OAuthCredentials) (*credentials.OAuthCredentials, error)
	newDirect    func(token, model string) Provider
	newManaged   func(baseURL, apiKey, model string) Provider
	now          func() time.Time
}

func NewRouter(cfg RouterConfig, cooldown *CooldownStore) *Router {
	if cooldown == nil {
		cooldown = NewCooldownStore()
	}
	return &Router{
		cfg:       cfg,
		cooldown:  cooldown,
		log:       cfg.Logger,
		loadCreds: credentials.Load,
		refreshCreds: func(ctx context.Context, c *credentials.OAuthCredentials) (*credentials.OAuthCredentials, error) {
			return credentials.Refresh(ctx, c)
		},
		newDirect: func(token, model string) Provider {
			return WrapWithRetry(NewAnthropicProvider(token, model), DefaultRetryConfig())
		},
		newManaged: func(baseURL, apiKey, model string) Provider {
			return WrapWithRetry(NewBackendProvider(baseURL, apiKey, model), DefaultRetryConfig())
		},
		now: time.Now,
	}
}

// Cooldown exposes the shared store, e.g. for the interpreter to mark a
// quota failure discovered mid-stream.
func (r *Router) Cooldown() *CooldownStore { return r.cooldown }

// subscriptionEligible reports whether the model family can be served over
// a user subscription at all.
func subscriptionEligible(modelID string) bool {
	return strings.HasPrefix(strings.ToLower(modelID), "claude-")
}

// Resolve picks the transport for a model. Decision order: forced managed,
// active cooldown, subscription-eligible model with obtainable credentials,
// managed fallback. Never returns an error for credential problems: those
// degrade to the managed path.
func (r *Router) Resolve(ctx context.Context, modelID string) Route {
	if r.cfg.ForceManaged {
		return r.managed(modelID)
	}
	if r.cooldown.Active() {
		r.log.Debug().Time("until", r.cooldown.Until()).Msg("subscription path cooling down, using managed")
		return r.managed(modelID)
	}
	if !subscriptionEligible(modelID) {
		return r.managed(modelID)
	}

	creds, err := r.loadCreds()
	if err != nil {
		r.log.Debug().Err(err).Msg("no subscription credentials, using managed")
		return r.managed(modelID)
	}

	if creds.Expiring(r.now()) {
		refreshed, err := r.refreshCreds(ctx, creds)
		if err != nil {
			// Refresh failure is not fatal to the call.
			r.log.Warn().Err(err).Msg("subscription token refresh failed, using managed")
			return r.managed(modelID)
		}
		creds = refreshed
	}

	r.log.Debug().Str("model", modelID).Msg("routing over subscription")
	return Route{
		Provider:     r.newDirect(creds.AccessToken, modelID),
		Subscription: true,
		Token:        creds.AccessToken,
	}
}

// Managed returns the managed route unconditionally; the interpreter uses
// it as the fallback target after a subscription failure.
func (r *Router) Managed(modelID string) Route {
	return r.managed(modelID)
}

func (r *Router) managed(modelID string) Route {
	return Route{
		Provider: r.newManaged(r.cfg.BackendURL, r.cfg.BackendAPIKey, modelID),
	}
}
