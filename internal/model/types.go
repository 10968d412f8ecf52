package model

import "time"

// ConnectionStatus tracks the health of one OAuth grant.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionNeedsReauth  ConnectionStatus = "needs_reauth"
	ConnectionDisconnected ConnectionStatus = "disconnected"
)

// JobStatus tracks the lifecycle of one extraction job. Transitions are
// monotonic: pending -> running -> completed|failed.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Quality is a coarse confidence tier derived from usable record volume.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// MonitorMode records how updates for a (user, platform) pair are obtained.
type MonitorMode string

const (
	MonitorUnmonitored MonitorMode = "unmonitored"
	MonitorWebhook     MonitorMode = "webhook"
	MonitorPolling     MonitorMode = "polling"
)

// PlatformConnection is one OAuth grant for a (user, platform) pair.
// At most one connection exists per pair; reconnecting upserts.
// Token material is stored encrypted and never leaves the vault in plaintext.
type PlatformConnection struct {
	ID                    string           `json:"id"`
	UserID                string           `json:"userId"`
	Platform              string           `json:"platform"`
	EncryptedAccessToken  string           `json:"-"`
	EncryptedRefreshToken *string          `json:"-"`
	TokenExpiresAt        *time.Time       `json:"tokenExpiresAt,omitempty"`
	Status                ConnectionStatus `json:"status"`
	LastSyncAt            *time.Time       `json:"lastSyncAt,omitempty"`
	LastSyncStatus        *string          `json:"lastSyncStatus,omitempty"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

// ExtractionJob is one tracked unit of extraction work for a (user, platform)
// pair. The store enforces at most one running job per pair.
type ExtractionJob struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Platform       string     `json:"platform"`
	Status         JobStatus  `json:"status"`
	TotalItems     int        `json:"totalItems"`
	ProcessedItems int        `json:"processedItems"`
	FailedItems    int        `json:"failedItems"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// SoulDataPoint is one extracted behavioral signal. Rows are immutable;
// later extractions of the same dataType supersede rather than mutate.
type SoulDataPoint struct {
	ID                string                 `json:"id"`
	UserID            string                 `json:"userId"`
	Platform          string                 `json:"platform"`
	Category          string                 `json:"category"`
	DataType          string                 `json:"dataType"`
	RawData           map[string]interface{} `json:"rawData,omitempty"`
	ExtractedPatterns map[string]interface{} `json:"extractedPatterns,omitempty"`
	Quality           Quality                `json:"quality"`
	Timestamp         time.Time              `json:"timestamp"`
}

// WebhookRegistration records that a provider has been asked to push events
// for one (user, platform) pair. The signing secret is stored encrypted.
type WebhookRegistration struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Platform          string    `json:"platform"`
	ExternalWebhookID string    `json:"externalWebhookId"`
	EncryptedSecret   string    `json:"-"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
}

// OAuthState is a short-lived CSRF record for one authorization flow.
// It is consumed exactly once by the callback handler.
type OAuthState struct {
	State     string    `json:"state"`
	UserID    string    `json:"userId"`
	Platform  string    `json:"platform"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PlatformResult is the per-platform outcome of a multi-platform extraction.
type PlatformResult struct {
	Platform   string  `json:"platform"`
	Status     string  `json:"status"` // "fulfilled" or "rejected"
	JobID      string  `json:"jobId,omitempty"`
	DataPoints int     `json:"dataPoints"`
	Error      *string `json:"error,omitempty"`
}

// ExtractionSummary aggregates ExtractAll outcomes. It always carries exactly
// one PlatformResult per connected platform.
type ExtractionSummary struct {
	UserID       string           `json:"userId"`
	SuccessCount int              `json:"successCount"`
	FailureCount int              `json:"failureCount"`
	Results      []PlatformResult `json:"results"`
}

// UpdateEvent is the normalized shape every inbound update (webhook or poll)
// is reduced to before fan-out.
type UpdateEvent struct {
	Type      string                 `json:"type"`
	UserID    string                 `json:"userId"`
	Platform  string                 `json:"platform"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Update event types emitted to live channels.
const (
	EventPlatformSync   = "platform_sync"
	EventTokenRefreshed = "token_refreshed"
	EventNewData        = "new_data"
)
