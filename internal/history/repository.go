package history

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/heimdex/vidcut/internal/timeline"
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

const defaultListLimit = 50

type Repository interface {
	CreateExport(ctx context.Context, e *Export) error
	GetExport(ctx context.Context, id string) (*Export, error)
	ListExports(ctx context.Context, limit int) ([]*Export, error)
	CompleteExport(ctx context.Context, id string, elapsed time.Duration) error
	FailExport(ctx context.Context, id, errorMsg, errorCode string, errorStep int, elapsed time.Duration) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateExport(ctx context.Context, e *Export) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.Status == "" {
		e.Status = StatusRunning
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = e.CreatedAt

	spans := e.Regions
	if spans == nil {
		spans = []Span{}
	}
	regionsJSON, err := json.Marshal(spans)
	if err != nil {
		return fmt.Errorf("encode regions: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO exports (id, source, destination, region_count, total_ms, regions_json, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Source, e.Destination, e.RegionCount, int64(e.TotalMs), string(regionsJSON), e.Status,
		e.CreatedAt.Format(timeLayout), e.UpdatedAt.Format(timeLayout))
	return err
}

const exportColumns = `id, source, destination, region_count, total_ms, regions_json, status,
	error, error_code, error_step, elapsed_ms, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanExport(s scanner) (*Export, error) {
	var e Export
	var totalMs int64
	var regionsJSON, createdAt, updatedAt string
	var errMsg, errCode sql.NullString
	var errStep sql.NullInt64

	if err := s.Scan(&e.ID, &e.Source, &e.Destination, &e.RegionCount, &totalMs, &regionsJSON, &e.Status,
		&errMsg, &errCode, &errStep, &e.ElapsedMs, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	e.TotalMs = timeline.Millis(totalMs)
	e.Error = errMsg.String
	e.ErrorCode = errCode.String
	e.ErrorStep = int(errStep.Int64)
	if err := json.Unmarshal([]byte(regionsJSON), &e.Regions); err != nil {
		return nil, fmt.Errorf("decode regions of %s: %w", e.ID, err)
	}
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	e.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &e, nil
}

func (r *SQLiteRepository) GetExport(ctx context.Context, id string) (*Export, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+exportColumns+` FROM exports WHERE id = ?`, id)
	e, err := scanExport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ListExports returns the most recent exports first.
func (r *SQLiteRepository) ListExports(ctx context.Context, limit int) ([]*Export, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+exportColumns+` FROM exports ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exports := []*Export{}
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, err
		}
		exports = append(exports, e)
	}
	return exports, rows.Err()
}

func (r *SQLiteRepository) CompleteExport(ctx context.Context, id string, elapsed time.Duration) error {
	return r.finish(ctx, id, StatusCompleted, "", "", 0, elapsed)
}

func (r *SQLiteRepository) FailExport(ctx context.Context, id, errorMsg, errorCode string, errorStep int, elapsed time.Duration) error {
	return r.finish(ctx, id, StatusFailed, errorMsg, errorCode, errorStep, elapsed)
}

func (r *SQLiteRepository) finish(ctx context.Context, id, status, errorMsg, errorCode string, errorStep int, elapsed time.Duration) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE exports SET status = ?, error = ?, error_code = ?, error_step = ?, elapsed_ms = ?, updated_at = ?
		WHERE id = ?
	`, status, nullString(errorMsg), nullString(errorCode), nullInt(errorStep), elapsed.Milliseconds(),
		time.Now().UTC().Format(timeLayout), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("export %s not found", id)
	}
	return nil
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// EnsureSecret returns the hex value stored under key, generating and
// storing size random bytes on first use.
func EnsureSecret(ctx context.Context, repo Repository, key string, size int) (string, error) {
	existing, err := repo.GetConfig(ctx, key)
	if err == nil && existing != "" {
		return existing, nil
	}

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	value := hex.EncodeToString(b)

	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}
