// Package postgres implements store.Store on PostgreSQL via the pgx
// stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/soulprint/soulprint-sync/internal/model"
	"github.com/soulprint/soulprint-sync/internal/store"
)

// Open opens a PostgreSQL connection using the pgx stdlib driver and
// verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewWithDB constructs a Postgres store backed directly by database/sql.
func NewWithDB(db *sql.DB) store.Store { return &pgStore{db: db} }

type pgStore struct{ db *sql.DB }

func (s *pgStore) Connections() store.Connections { return &connections{db: s.db} }
func (s *pgStore) Jobs() store.Jobs               { return &jobs{db: s.db} }
func (s *pgStore) DataPoints() store.DataPoints   { return &dataPoints{db: s.db} }
func (s *pgStore) Webhooks() store.Webhooks       { return &webhooks{db: s.db} }
func (s *pgStore) OAuthStates() store.OAuthStates { return &oauthStates{db: s.db} }

// HealthPing implements health.Pinger for the Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Connections ---

type connections struct{ db *sql.DB }

func (r *connections) Upsert(ctx context.Context, c *model.PlatformConnection) (*model.PlatformConnection, error) {
	out := *c
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.Status == "" {
		out.Status = model.ConnectionConnected
	}
	now := time.Now().UTC()
	out.UpdatedAt = now

	// Reconnect keeps the original row id; only credential material and
	// status are replaced.
	row := r.db.QueryRowContext(ctx, `
        INSERT INTO platform_connections
            (id, user_id, platform, encrypted_access_token, encrypted_refresh_token,
             token_expires_at, status, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
        ON CONFLICT (user_id, platform) DO UPDATE SET
            encrypted_access_token  = EXCLUDED.encrypted_access_token,
            encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
            token_expires_at        = EXCLUDED.token_expires_at,
            status                  = EXCLUDED.status,
            updated_at              = EXCLUDED.updated_at
        RETURNING id, created_at
    `, out.ID, out.UserID, out.Platform, out.EncryptedAccessToken, out.EncryptedRefreshToken,
		out.TokenExpiresAt, out.Status, now)
	if err := row.Scan(&out.ID, &out.CreatedAt); err != nil {
		return nil, err
	}
	return &out, nil
}

const connectionColumns = `
    id, user_id, platform, encrypted_access_token, encrypted_refresh_token,
    token_expires_at, status, last_sync_at, last_sync_status, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*model.PlatformConnection, error) {
	var c model.PlatformConnection
	err := row.Scan(&c.ID, &c.UserID, &c.Platform, &c.EncryptedAccessToken, &c.EncryptedRefreshToken,
		&c.TokenExpiresAt, &c.Status, &c.LastSyncAt, &c.LastSyncStatus, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *connections) Get(ctx context.Context, id string) (*model.PlatformConnection, error) {
	return scanConnection(r.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM platform_connections WHERE id=$1`, id))
}

func (r *connections) GetByUserPlatform(ctx context.Context, userID, platform string) (*model.PlatformConnection, error) {
	return scanConnection(r.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM platform_connections WHERE user_id=$1 AND platform=$2`,
		userID, platform))
}

func (r *connections) list(ctx context.Context, query string, args ...any) ([]*model.PlatformConnection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PlatformConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *connections) ListByUser(ctx context.Context, userID string) ([]*model.PlatformConnection, error) {
	return r.list(ctx,
		`SELECT `+connectionColumns+` FROM platform_connections WHERE user_id=$1 ORDER BY platform`, userID)
}

func (r *connections) ListConnectedByPlatform(ctx context.Context, platform string) ([]*model.PlatformConnection, error) {
	return r.list(ctx,
		`SELECT `+connectionColumns+` FROM platform_connections
         WHERE platform=$1 AND status='connected' ORDER BY user_id`, platform)
}

func (r *connections) ListExpiring(ctx context.Context, cutoff time.Time) ([]*model.PlatformConnection, error) {
	return r.list(ctx,
		`SELECT `+connectionColumns+` FROM platform_connections
         WHERE status='connected' AND token_expires_at IS NOT NULL AND token_expires_at < $1
         ORDER BY token_expires_at`, cutoff)
}

func (r *connections) UpdateTokens(ctx context.Context, id, encAccess string, encRefresh *string, expiresAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE platform_connections
        SET encrypted_access_token=$2,
            encrypted_refresh_token=COALESCE($3, encrypted_refresh_token),
            token_expires_at=$4,
            updated_at=$5
        WHERE id=$1
    `, id, encAccess, encRefresh, expiresAt, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *connections) UpdateStatus(ctx context.Context, id string, status model.ConnectionStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE platform_connections SET status=$2, updated_at=$3 WHERE id=$1`,
		id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *connections) UpdateSyncState(ctx context.Context, id string, at time.Time, syncStatus string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE platform_connections SET last_sync_at=$2, last_sync_status=$3, updated_at=$4 WHERE id=$1`,
		id, at, syncStatus, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// --- Jobs ---

type jobs struct{ db *sql.DB }

func (r *jobs) Create(ctx context.Context, j *model.ExtractionJob) (*model.ExtractionJob, error) {
	out := *j
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	out.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO extraction_jobs
            (id, user_id, platform, status, total_items, processed_items, failed_items,
             started_at, completed_at, error_message, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    `, out.ID, out.UserID, out.Platform, out.Status, out.TotalItems, out.ProcessedItems,
		out.FailedItems, out.StartedAt, out.CompletedAt, out.ErrorMessage, out.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrConflict
		}
		return nil, err
	}
	return &out, nil
}

const jobColumns = `
    id, user_id, platform, status, total_items, processed_items, failed_items,
    started_at, completed_at, error_message, created_at`

func scanJob(row interface{ Scan(...any) error }) (*model.ExtractionJob, error) {
	var j model.ExtractionJob
	err := row.Scan(&j.ID, &j.UserID, &j.Platform, &j.Status, &j.TotalItems, &j.ProcessedItems,
		&j.FailedItems, &j.StartedAt, &j.CompletedAt, &j.ErrorMessage, &j.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *jobs) Get(ctx context.Context, id string) (*model.ExtractionJob, error) {
	return scanJob(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs WHERE id=$1`, id))
}

func (r *jobs) Complete(ctx context.Context, id string, total, processed, failed int) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE extraction_jobs
        SET status='completed', total_items=$2, processed_items=$3, failed_items=$4, completed_at=$5
        WHERE id=$1 AND status='running'
    `, id, total, processed, failed, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *jobs) Fail(ctx context.Context, id, errorMessage string) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE extraction_jobs
        SET status='failed', error_message=$2, completed_at=$3
        WHERE id=$1 AND status IN ('pending','running')
    `, id, errorMessage, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *jobs) ReapStale(ctx context.Context, cutoff time.Time, errorMessage string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE extraction_jobs
        SET status='failed', error_message=$2, completed_at=$3
        WHERE status='running' AND started_at < $1
    `, cutoff, errorMessage, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *jobs) LatestForPair(ctx context.Context, userID, platform string) (*model.ExtractionJob, error) {
	return scanJob(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs
         WHERE user_id=$1 AND platform=$2 ORDER BY created_at DESC LIMIT 1`,
		userID, platform))
}

func (r *jobs) ListByUser(ctx context.Context, userID string, limit int) ([]*model.ExtractionJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM extraction_jobs
         WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ExtractionJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// --- DataPoints ---

type dataPoints struct{ db *sql.DB }

func (r *dataPoints) InsertBatch(ctx context.Context, points []*model.SoulDataPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO soul_data_points
            (id, user_id, platform, category, data_type, raw_data, extracted_patterns, quality, ts)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range points {
		id := p.ID
		if id == "" {
			id = uuid.New().String()
		}
		ts := p.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		raw, err := marshalJSON(p.RawData)
		if err != nil {
			return err
		}
		patterns, err := marshalJSON(p.ExtractedPatterns)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, id, p.UserID, p.Platform, p.Category, p.DataType,
			raw, patterns, p.Quality, ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *dataPoints) Latest(ctx context.Context, userID, platform string) ([]*model.SoulDataPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT DISTINCT ON (data_type)
            id, user_id, platform, category, data_type, raw_data, extracted_patterns, quality, ts
        FROM soul_data_points
        WHERE user_id=$1 AND platform=$2
        ORDER BY data_type, ts DESC
    `, userID, platform)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectDataPoints(rows)
}

func (r *dataPoints) CountByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM soul_data_points WHERE user_id=$1`, userID).Scan(&n)
	return n, err
}

func collectDataPoints(rows *sql.Rows) ([]*model.SoulDataPoint, error) {
	var out []*model.SoulDataPoint
	for rows.Next() {
		var p model.SoulDataPoint
		var raw, patterns []byte
		if err := rows.Scan(&p.ID, &p.UserID, &p.Platform, &p.Category, &p.DataType,
			&raw, &patterns, &p.Quality, &p.Timestamp); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(raw, &p.RawData); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(patterns, &p.ExtractedPatterns); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func marshalJSON(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalJSON(raw []byte, dst *map[string]interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// --- Webhooks ---

type webhooks struct{ db *sql.DB }

func (r *webhooks) Create(ctx context.Context, w *model.WebhookRegistration) (*model.WebhookRegistration, error) {
	out := *w
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	if out.Status == "" {
		out.Status = "active"
	}
	out.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
        INSERT INTO webhook_registrations
            (id, user_id, platform, external_webhook_id, encrypted_secret, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
    `, out.ID, out.UserID, out.Platform, out.ExternalWebhookID, out.EncryptedSecret, out.Status, out.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.ErrConflict
		}
		return nil, err
	}
	return &out, nil
}

const webhookColumns = `id, user_id, platform, external_webhook_id, encrypted_secret, status, created_at`

func scanWebhook(row interface{ Scan(...any) error }) (*model.WebhookRegistration, error) {
	var w model.WebhookRegistration
	err := row.Scan(&w.ID, &w.UserID, &w.Platform, &w.ExternalWebhookID, &w.EncryptedSecret, &w.Status, &w.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *webhooks) Get(ctx context.Context, id string) (*model.WebhookRegistration, error) {
	return scanWebhook(r.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhook_registrations WHERE id=$1`, id))
}

func (r *webhooks) GetByUserPlatform(ctx context.Context, userID, platform string) (*model.WebhookRegistration, error) {
	return scanWebhook(r.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhook_registrations WHERE user_id=$1 AND platform=$2`,
		userID, platform))
}

func (r *webhooks) DeleteByUserPlatform(ctx context.Context, userID, platform string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM webhook_registrations WHERE user_id=$1 AND platform=$2`, userID, platform)
	return err
}

// --- OAuthStates ---

type oauthStates struct{ db *sql.DB }

func (r *oauthStates) Create(ctx context.Context, s *model.OAuthState) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_states (state, user_id, platform, expires_at) VALUES ($1,$2,$3,$4)`,
		s.State, s.UserID, s.Platform, s.ExpiresAt)
	if err != nil && isUniqueViolation(err) {
		return model.ErrConflict
	}
	return err
}

func (r *oauthStates) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	// DELETE .. RETURNING makes consumption atomic: a replayed state finds
	// no row and fails validation.
	var s model.OAuthState
	err := r.db.QueryRowContext(ctx, `
        DELETE FROM oauth_states WHERE state=$1
        RETURNING state, user_id, platform, expires_at
    `, state).Scan(&s.State, &s.UserID, &s.Platform, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(s.ExpiresAt) {
		return nil, model.ErrNotFound
	}
	return &s, nil
}

func (r *oauthStates) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
