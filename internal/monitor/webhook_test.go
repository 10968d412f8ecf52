package monitor

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulprint/soulprint-sync/internal/config"
	"github.com/soulprint/soulprint-sync/internal/extraction"
	"github.com/soulprint/soulprint-sync/internal/logger"
	"github.com/soulprint/soulprint-sync/internal/migrations"
	"github.com/soulprint/soulprint-sync/internal/model"
	"github.com/soulprint/soulprint-sync/internal/platforms"
	"github.com/soulprint/soulprint-sync/internal/store"
	"github.com/soulprint/soulprint-sync/internal/store/sqlite"
	"github.com/soulprint/soulprint-sync/internal/tokens"
	"github.com/soulprint/soulprint-sync/internal/vault"
)

type recordingExtractor struct {
	mu    sync.Mutex
	calls int
}

func (e *recordingExtractor) Platform() string { return "github" }

func (e *recordingExtractor) Extract(ctx context.Context, token string, prior *platforms.PriorState) ([]*model.SoulDataPoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return []*model.SoulDataPoint{{
		Platform:  "github",
		Category:  "technical",
		DataType:  "code_profile",
		Quality:   model.QualityLow,
		Timestamp: time.Now().UTC(),
	}}, nil
}

func (e *recordingExtractor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type receiverEnv struct {
	store    store.Store
	vault    *vault.Vault
	receiver *Receiver
	ext      *recordingExtractor
	pub      *capturePublisher
	secret   string
	reg      *model.WebhookRegistration
}

func githubScheme() *platforms.WebhookScheme {
	return &platforms.WebhookScheme{
		SignatureHeader: "X-Hub-Signature-256",
		SignaturePrefix: "sha256=",
		EventIDHeader:   "X-GitHub-Delivery",
		EventTypeHeader: "X-GitHub-Event",
	}
}

type capturePublisher struct {
	mu     sync.Mutex
	events []model.UpdateEvent
}

func (p *capturePublisher) Publish(e model.UpdateEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) all() []model.UpdateEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.UpdateEvent(nil), p.events...)
}

func newReceiverEnv(t *testing.T, scheme *platforms.WebhookScheme) *receiverEnv {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(db, "sqlite"))
	st := sqlite.NewWithDB(db)

	cfg := config.NewForTesting()
	v, err := vault.New(cfg.EncryptionKeyBytes())
	require.NoError(t, err)

	ext := &recordingExtractor{}
	reg := platforms.NewRegistry()
	reg.Register(platforms.Descriptor{
		Name:             "github",
		SupportsWebhooks: true,
		WebhookScheme:    scheme,
		QualityHigh:      30,
		QualityMedium:    10,
	}, ext)

	log := logger.New("webhook-test")
	tm := tokens.NewManager(st, v, reg, cfg, log)
	orch := extraction.NewOrchestrator(st, tm, reg, nil, log)

	encToken, err := v.Encrypt("gh-token")
	require.NoError(t, err)
	_, err = st.Connections().Upsert(context.Background(), &model.PlatformConnection{
		UserID:               "user-1",
		Platform:             "github",
		EncryptedAccessToken: encToken,
		Status:               model.ConnectionConnected,
	})
	require.NoError(t, err)

	secret := "super-secret-signing-key"
	encSecret, err := v.Encrypt(secret)
	require.NoError(t, err)
	registration, err := st.Webhooks().Create(context.Background(), &model.WebhookRegistration{
		UserID:            "user-1",
		Platform:          "github",
		ExternalWebhookID: "42",
		EncryptedSecret:   encSecret,
		Status:            "active",
	})
	require.NoError(t, err)

	pub := &capturePublisher{}
	return &receiverEnv{
		store:    st,
		vault:    v,
		receiver: NewReceiver(st, v, reg, orch, pub, log),
		ext:      ext,
		pub:      pub,
		secret:   secret,
		reg:      registration,
	}
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestHandleAcceptsSignedDelivery(t *testing.T) {
	e := newReceiverEnv(t, githubScheme())
	body := []byte(`{"action":"push"}`)

	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", "sha256="+sign(e.secret, body))
	headers.Set("X-GitHub-Delivery", "delivery-1")
	headers.Set("X-GitHub-Event", "push")

	err := e.receiver.Handle(context.Background(), "github", e.reg.ID, headers, body)
	require.NoError(t, err)

	events := e.pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventPlatformSync, events[0].Type)
	assert.Equal(t, "user-1", events[0].UserID)
	assert.Equal(t, "delivery-1", events[0].Data["eventId"])
	assert.Equal(t, "push", events[0].Data["eventType"])

	// The triggered extraction runs asynchronously; once it settles the
	// stored points belong to the registration's user.
	require.Eventually(t, func() bool {
		n, err := e.store.DataPoints().CountByUser(context.Background(), "user-1")
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, e.ext.count())

	points, err := e.store.DataPoints().Latest(context.Background(), "user-1", "github")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "user-1", points[0].UserID)
}

func TestHandleRejectsBadSignature(t *testing.T) {
	e := newReceiverEnv(t, githubScheme())
	body := []byte(`{"action":"push"}`)

	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", "sha256="+sign("wrong-secret", body))
	headers.Set("X-GitHub-Delivery", "delivery-1")

	err := e.receiver.Handle(context.Background(), "github", e.reg.ID, headers, body)
	require.ErrorIs(t, err, ErrBadSignature)
	assert.Zero(t, e.ext.count())
}

func TestHandleRejectsMissingSignature(t *testing.T) {
	e := newReceiverEnv(t, githubScheme())

	err := e.receiver.Handle(context.Background(), "github", e.reg.ID, http.Header{}, []byte(`{}`))
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestHandleRejectsUnknownRegistration(t *testing.T) {
	e := newReceiverEnv(t, githubScheme())
	body := []byte(`{}`)

	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", "sha256="+sign(e.secret, body))

	err := e.receiver.Handle(context.Background(), "github", "no-such-registration", headers, body)
	require.ErrorIs(t, err, ErrUnknownRegistration)
}

func TestHandleDeduplicatesDeliveries(t *testing.T) {
	e := newReceiverEnv(t, githubScheme())
	body := []byte(`{"action":"push"}`)

	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", "sha256="+sign(e.secret, body))
	headers.Set("X-GitHub-Delivery", "delivery-dup")

	require.NoError(t, e.receiver.Handle(context.Background(), "github", e.reg.ID, headers, body))
	err := e.receiver.Handle(context.Background(), "github", e.reg.ID, headers, body)
	require.ErrorIs(t, err, ErrDuplicateDelivery)

	require.Eventually(t, func() bool {
		return e.ext.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, e.ext.count(), "duplicate must not trigger a second extraction")
}

func TestHandleTimestampedScheme(t *testing.T) {
	scheme := &platforms.WebhookScheme{
		SignatureHeader: "X-Signature",
		EventIDHeader:   "X-Event-Id",
		TimestampHeader: "X-Timestamp",
		Tolerance:       5 * time.Minute,
	}
	e := newReceiverEnv(t, scheme)
	body := []byte(`{"action":"push"}`)

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	headers := http.Header{}
	headers.Set("X-Timestamp", ts)
	headers.Set("X-Event-Id", "evt-1")
	headers.Set("X-Signature", sign(e.secret, []byte(ts+"."+string(body))))

	require.NoError(t, e.receiver.Handle(context.Background(), "github", e.reg.ID, headers, body))

	// Same signature replayed with an old timestamp is stale.
	old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	headers.Set("X-Timestamp", old)
	headers.Set("X-Event-Id", "evt-2")
	headers.Set("X-Signature", sign(e.secret, []byte(old+"."+string(body))))
	err := e.receiver.Handle(context.Background(), "github", e.reg.ID, headers, body)
	require.ErrorIs(t, err, ErrStaleDelivery)
}

func TestVerifySignatureConstantScheme(t *testing.T) {
	scheme := githubScheme()
	body := []byte("payload")
	headers := http.Header{}
	headers.Set("X-Hub-Signature-256", "sha256="+sign("s3cret", body))

	require.NoError(t, verifySignature(scheme, "s3cret", headers, body, time.Now()))
	require.ErrorIs(t, verifySignature(scheme, "other", headers, body, time.Now()), ErrBadSignature)
	require.ErrorIs(t, verifySignature(nil, "s3cret", headers, body, time.Now()), ErrBadSignature)
}
