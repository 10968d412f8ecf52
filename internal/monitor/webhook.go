package monitor

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/soulprint/soulprint-sync/internal/extraction"
	"github.com/soulprint/soulprint-sync/internal/metrics"
	"github.com/soulprint/soulprint-sync/internal/model"
	"github.com/soulprint/soulprint-sync/internal/platforms"
	"github.com/soulprint/soulprint-sync/internal/store"
	"github.com/soulprint/soulprint-sync/internal/tokens"
	"github.com/soulprint/soulprint-sync/internal/vault"
)

const (
	dedupeSize = 4096
	dedupeTTL  = 30 * time.Minute
)

// Verification failures reported to callers. All map to a rejected delivery;
// the distinction matters only for logs and metrics.
var (
	ErrUnknownRegistration = errors.New("unknown webhook registration")
	ErrBadSignature        = errors.New("webhook signature mismatch")
	ErrStaleDelivery       = errors.New("webhook delivery outside tolerance")
	ErrDuplicateDelivery   = errors.New("duplicate webhook delivery")
)

// Receiver verifies, deduplicates, and acts on inbound webhook deliveries.
// Providers deliver at least once, so replays inside the dedupe window are
// acknowledged without being reprocessed.
type Receiver struct {
	store    store.Store
	vault    *vault.Vault
	registry *platforms.Registry
	orch     *extraction.Orchestrator
	pub      tokens.Publisher
	seen     *expirable.LRU[string, struct{}]
	log      zerolog.Logger
	now      func() time.Time
}

// NewReceiver constructs a Receiver.
func NewReceiver(s store.Store, v *vault.Vault, reg *platforms.Registry, orch *extraction.Orchestrator, pub tokens.Publisher, log zerolog.Logger) *Receiver {
	return &Receiver{
		store:    s,
		vault:    v,
		registry: reg,
		orch:     orch,
		pub:      pub,
		seen:     expirable.NewLRU[string, struct{}](dedupeSize, nil, dedupeTTL),
		log:      log.With().Str("component", "webhook-receiver").Logger(),
		now:      time.Now,
	}
}

// Handle processes one delivery addressed to a registration. The body has
// already been read in full; headers carry the provider's signature.
func (r *Receiver) Handle(ctx context.Context, platform, registrationID string, headers http.Header, body []byte) error {
	desc, ok := r.registry.Descriptor(platform)
	if !ok || !desc.SupportsWebhooks {
		metrics.ObserveWebhook(platform, "rejected")
		return ErrUnknownRegistration
	}

	reg, err := r.store.Webhooks().Get(ctx, registrationID)
	if err != nil {
		metrics.ObserveWebhook(platform, "rejected")
		if errors.Is(err, model.ErrNotFound) {
			return ErrUnknownRegistration
		}
		return err
	}
	if reg.Platform != platform {
		metrics.ObserveWebhook(platform, "rejected")
		return ErrUnknownRegistration
	}

	secret, err := r.vault.Decrypt(reg.EncryptedSecret)
	if err != nil {
		metrics.ObserveWebhook(platform, "rejected")
		return err
	}

	if err := verifySignature(desc.WebhookScheme, secret, headers, body, r.now()); err != nil {
		metrics.ObserveWebhook(platform, "rejected")
		r.log.Warn().Err(err).
			Str("platform", platform).
			Str("registrationId", registrationID).
			Msg("webhook rejected")
		return err
	}

	eventID := headers.Get(desc.WebhookScheme.EventIDHeader)
	if eventID == "" {
		sum := sha256.Sum256(body)
		eventID = hex.EncodeToString(sum[:])
	}
	eventType := headers.Get(desc.WebhookScheme.EventTypeHeader)
	dedupeKey := platform + ":" + eventID
	if _, dup := r.seen.Get(dedupeKey); dup {
		metrics.ObserveWebhook(platform, "duplicate")
		return ErrDuplicateDelivery
	}
	r.seen.Add(dedupeKey, struct{}{})

	metrics.ObserveWebhook(platform, "accepted")
	r.log.Info().
		Str("platform", platform).
		Str("userId", reg.UserID).
		Str("eventId", eventID).
		Msg("webhook accepted")

	if r.pub != nil {
		data := map[string]interface{}{
			"source":  "webhook",
			"eventId": eventID,
		}
		if eventType != "" {
			data["eventType"] = eventType
		}
		r.pub.Publish(model.UpdateEvent{
			Type:      model.EventPlatformSync,
			UserID:    reg.UserID,
			Platform:  platform,
			Data:      data,
			Timestamp: r.now().UTC(),
		})
	}

	// The push only signals that new data exists; the extraction pipeline
	// fetches it with the usual ledger guarantees. A concurrent run already
	// covering the pair is fine.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := r.orch.ExtractOne(ctx, reg.UserID, platform); err != nil && !errors.Is(err, extraction.ErrAlreadyRunning) {
			r.log.Warn().Err(err).
				Str("userId", reg.UserID).
				Str("platform", platform).
				Msg("webhook-triggered extraction failed")
		}
	}()
	return nil
}

// verifySignature checks the delivery against the platform's signing scheme
// using constant-time comparison. A platform without a scheme cannot be
// verified, so its deliveries are rejected outright.
func verifySignature(scheme *platforms.WebhookScheme, secret string, headers http.Header, body []byte, now time.Time) error {
	if scheme == nil {
		return ErrBadSignature
	}
	signature := headers.Get(scheme.SignatureHeader)
	if signature == "" {
		return ErrBadSignature
	}

	signed := body
	if scheme.TimestampHeader != "" {
		raw := headers.Get(scheme.TimestampHeader)
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return ErrBadSignature
		}
		age := now.Sub(time.Unix(ts, 0))
		if age < -scheme.Tolerance || age > scheme.Tolerance {
			return ErrStaleDelivery
		}
		signed = append([]byte(raw+"."), body...)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signed)
	expected := scheme.SignaturePrefix + hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	return nil
}
