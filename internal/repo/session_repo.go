package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/libraryid/server/internal/model"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)

// Mutator changes a session in place. Returning an error aborts the update and
// leaves the stored session untouched.
type Mutator func(s *model.Session) error

// SessionRepo stores one conversation session per canonical identity.
// Update is atomic with respect to other updates of the same identity.
type SessionRepo interface {
	Get(ctx context.Context, identity string) (model.Session, error)
	Create(ctx context.Context, identity string) (model.Session, error)
	Update(ctx context.Context, identity string, fn Mutator) (model.Session, error)
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a PostgreSQL-backed SessionRepo
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

const sessionColumns = `id, identity, stage, name, father_name, age, shift, amount, photo_ref,
	payment_link_id, payment_link_url, credential_url, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (model.Session, error) {
	var s model.Session
	var idStr, stage string
	err := row.Scan(
		&idStr,
		&s.Identity,
		&stage,
		&s.Name,
		&s.FatherName,
		&s.Age,
		&s.Shift,
		&s.Amount,
		&s.PhotoRef,
		&s.PaymentLinkID,
		&s.PaymentLinkURL,
		&s.CredentialURL,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrSessionNotFound
		}
		return model.Session{}, fmt.Errorf("scan session: %w", err)
	}
	s.Stage = model.Stage(stage)
	s.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Session{}, fmt.Errorf("parse session ID: %w", err)
	}
	return s, nil
}

// Get returns the session for identity
func (r *sessionRepo) Get(ctx context.Context, identity string) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE identity = $1`, identity)
	return scanSession(row)
}

// Create inserts a new session. The unique index on identity makes concurrent
// creation for the same identity produce exactly one row.
func (r *sessionRepo) Create(ctx context.Context, identity string) (model.Session, error) {
	s := model.NewSession(identity, time.Now().UTC())
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, identity, stage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (identity) DO NOTHING
	`, s.ID, s.Identity, string(s.Stage), s.CreatedAt)
	if err != nil {
		return model.Session{}, fmt.Errorf("insert session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return model.Session{}, fmt.Errorf("insert session: %w", err)
	}
	if n == 0 {
		return model.Session{}, ErrSessionExists
	}
	return s, nil
}

// Update locks the row for identity, applies fn and writes the result back in one transaction.
func (r *sessionRepo) Update(ctx context.Context, identity string, fn Mutator) (model.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Session{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	before, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE identity = $1 FOR UPDATE`, identity))
	if err != nil {
		return model.Session{}, err
	}

	after := before
	if err := fn(&after); err != nil {
		return model.Session{}, err
	}
	if err := model.ValidateTransition(before, after); err != nil {
		return model.Session{}, err
	}
	after.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET stage = $2, name = $3, father_name = $4, age = $5, shift = $6, amount = $7,
		    photo_ref = $8, payment_link_id = $9, payment_link_url = $10, credential_url = $11,
		    updated_at = $12, completed_at = $13
		WHERE identity = $1
	`, identity, string(after.Stage), after.Name, after.FatherName, after.Age, after.Shift, after.Amount,
		after.PhotoRef, after.PaymentLinkID, after.PaymentLinkURL, after.CredentialURL,
		after.UpdatedAt, after.CompletedAt)
	if err != nil {
		return model.Session{}, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Session{}, fmt.Errorf("commit: %w", err)
	}
	return after, nil
}

// DeleteIdleBefore removes sessions not updated since cutoff
func (r *sessionRepo) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}
