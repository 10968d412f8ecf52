// Package platforms defines the pluggable extractor contract and the
// built-in platform implementations. Adding a platform means registering
// one Descriptor and one Extractor; nothing else branches on the name.
package platforms

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/soulprint/soulprint-sync/internal/model"
)

// PriorState carries what the orchestrator already knows about a pair so
// extractors can limit how far back they fetch.
type PriorState struct {
	LastSyncAt *time.Time
}

// Extractor turns an access token into soul data points. Implementations
// call a small set of read-only endpoints and must never fabricate
// placeholder data: absence of data surfaces as an empty result or error.
type Extractor interface {
	Platform() string
	Extract(ctx context.Context, accessToken string, prior *PriorState) ([]*model.SoulDataPoint, error)
}

// WebhookScheme describes how a provider signs push deliveries.
// If TimestampHeader is set, the HMAC covers "<timestamp>.<body>" and
// deliveries older than Tolerance are rejected (Stripe-style scheme);
// otherwise the HMAC covers the raw body alone (GitHub-style).
type WebhookScheme struct {
	SignatureHeader string
	SignaturePrefix string
	EventIDHeader   string
	// EventTypeHeader names the provider's event-kind header
	// (GitHub's X-GitHub-Event).
	EventTypeHeader string
	TimestampHeader string
	Tolerance       time.Duration
}

// Descriptor is the static capability record for one platform.
type Descriptor struct {
	Name     string
	Category string

	// OAuth application endpoints and scopes.
	OAuth  oauth2.Endpoint
	Scopes []string

	// Webhook support. Nil scheme means the platform is poll-only.
	SupportsWebhooks bool
	WebhookScheme    *WebhookScheme
	// WebhookRegisterURL is the provider endpoint a registration is POSTed to.
	WebhookRegisterURL string
	// WebhookRegistrationBody builds the provider-specific payload for the
	// registration POST. A platform without one cannot register hooks.
	WebhookRegistrationBody func(callbackURL, secret string) interface{}

	// Quality thresholds: usable-record counts for high and medium tiers.
	QualityHigh   int
	QualityMedium int
}

// QualityFor maps a usable-record count onto a tier. Monotonic in count.
func (d Descriptor) QualityFor(records int) model.Quality {
	switch {
	case records >= d.QualityHigh:
		return model.QualityHigh
	case records >= d.QualityMedium:
		return model.QualityMedium
	default:
		return model.QualityLow
	}
}

// Registry is the lookup table for platform capabilities.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
	extractors  map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[string]Descriptor),
		extractors:  make(map[string]Extractor),
	}
}

// Register adds one platform. Registering an existing name replaces it.
func (r *Registry) Register(d Descriptor, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[d.Name] = d
	r.extractors[d.Name] = e
}

// Extractor returns the extractor registered for a platform name.
func (r *Registry) Extractor(name string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[name]
	return e, ok
}

// Descriptor returns the capability record for a platform name.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// Names returns all registered platform names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry registers the built-in platforms with a shared per-call
// timeout for their HTTP clients.
func DefaultRegistry(timeout time.Duration) *Registry {
	r := NewRegistry()
	r.Register(SpotifyDescriptor(), NewSpotifyExtractor(timeout))
	r.Register(GitHubDescriptor(), NewGitHubExtractor(timeout))
	r.Register(DiscordDescriptor(), NewDiscordExtractor(timeout))
	r.Register(YouTubeDescriptor(), NewYouTubeExtractor(timeout))
	return r
}

// PollOnly returns the names of registered platforms without webhook
// support; these are covered by polling sweeps.
func (r *Registry) PollOnly() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, d := range r.descriptors {
		if !d.SupportsWebhooks {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
