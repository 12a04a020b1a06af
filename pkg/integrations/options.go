package integrations

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	httputil "github.com/fitglue/workoutsync/pkg/infrastructure/http"
	"github.com/fitglue/workoutsync/pkg/infrastructure/oauth"
)

const (
	// LookupTimeout bounds lightweight calls such as who-am-I and revoke.
	LookupTimeout = 10 * time.Second
	// EnrichmentSpacing is the minimum gap between per-activity enrichment calls.
	EnrichmentSpacing = 250 * time.Millisecond
	// RetryDelay is the pause before retrying a single-activity fetch after a 5xx.
	RetryDelay = time.Second
)

// ProviderConfig holds the OAuth client registration for one vendor.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	// ProxyURL routes all vendor traffic through an http(s) or socks5 proxy.
	ProxyURL string
}

// Enabled reports whether the integration can start an OAuth flow.
func (c ProviderConfig) Enabled() bool {
	return c.ClientID != "" && c.RedirectURI != ""
}

// Options carries the injectable collaborators of an adapter. Zero values get defaults.
type Options struct {
	// HTTPClient is used for list and detail calls.
	HTTPClient *http.Client
	// LookupClient is used for who-am-I, registration and revoke calls.
	LookupClient *http.Client
	// Limiter spaces enrichment calls.
	Limiter    *rate.Limiter
	RetryDelay time.Duration
	Locker     oauth.Locker
	Logger     *slog.Logger
	Now        func() time.Time
}

// WithDefaults fills unset fields. Clients honour cfg.ProxyURL.
func (o Options) WithDefaults(cfg ProviderConfig) (Options, error) {
	var err error
	if o.HTTPClient == nil {
		if o.HTTPClient, err = httputil.NewClient(httputil.DefaultTimeout, cfg.ProxyURL); err != nil {
			return o, err
		}
	}
	if o.LookupClient == nil {
		if o.LookupClient, err = httputil.NewClient(LookupTimeout, cfg.ProxyURL); err != nil {
			return o, err
		}
	}
	if o.Limiter == nil {
		o.Limiter = rate.NewLimiter(rate.Every(EnrichmentSpacing), 1)
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = RetryDelay
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o, nil
}
