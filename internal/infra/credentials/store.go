package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// Store persists the provider credential pool.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// ListActive returns every active credential, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]domain.Credential, error) {
	return s.list(ctx, sqlinline.QListActiveCredentials)
}

// List returns the whole pool including deactivated credentials.
func (s *Store) List(ctx context.Context) ([]domain.Credential, error) {
	return s.list(ctx, sqlinline.QListCredentials)
}

func (s *Store) list(ctx context.Context, query string) ([]domain.Credential, error) {
	rows, err := s.sql.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("credentials: list: %w", err)
	}
	defer rows.Close()
	var out []domain.Credential
	for rows.Next() {
		var c domain.Credential
		if err := rows.Scan(&c.ID, &c.Label, &c.Secret, &c.Active, &c.LastUsedAt, &c.UsageCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("credentials: scan: %w", err)
		}
		c.Secret = strings.TrimSpace(c.Secret)
		if c.Secret == "" {
			continue
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credentials: list: %w", err)
	}
	return out, nil
}

// MarkUsed persists a usage tick. The static fallback key is not stored.
func (s *Store) MarkUsed(ctx context.Context, credentialID string, at time.Time) error {
	if credentialID == "" || credentialID == domain.StaticCredentialID {
		return nil
	}
	_, err := s.sql.Exec(ctx, sqlinline.QMarkCredentialUsed, credentialID, at)
	return err
}

// Add inserts a new active credential and returns its id.
func (s *Store) Add(ctx context.Context, label, secret string) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("credential secret is required")
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = "key-" + Mask(secret)
	}
	var id string
	if err := s.sql.QueryRow(ctx, sqlinline.QInsertCredential, label, secret).Scan(&id); err != nil {
		return "", fmt.Errorf("credentials: insert: %w", err)
	}
	return id, nil
}

// SetActive enables or disables a credential.
func (s *Store) SetActive(ctx context.Context, credentialID string, active bool) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QSetCredentialActive, credentialID, active)
	if err != nil {
		return fmt.Errorf("credentials: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Mask shortens a secret for logs and listings.
func Mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

var _ domain.CredentialStore = (*Store)(nil)
