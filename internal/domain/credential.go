package domain

import "time"

// Credential is a rotating provider API key.
type Credential struct {
	ID         string
	Label      string
	Secret     string
	Active     bool
	LastUsedAt time.Time
	UsageCount int64
	CreatedAt  time.Time
}

// Static reports whether the credential is the configured fallback key that
// does not live in the credential pool.
func (c Credential) Static() bool {
	return c.ID == StaticCredentialID
}

// StaticCredentialID identifies the environment-provided fallback key.
const StaticCredentialID = "static"
