// Package storage copies provider artifacts into durable storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"mediagen/internal/infra"
)

// ObjectWriter is a storage backend.
type ObjectWriter interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// Persister downloads an artifact from its temporary location and writes it
// to an ObjectWriter.
type Persister struct {
	writer     ObjectWriter
	httpClient *http.Client
	logger     infra.Logger
}

// NewPersister builds a Persister. A nil client gets a five minute timeout,
// enough for large video downloads.
func NewPersister(writer ObjectWriter, httpClient *http.Client, logger infra.Logger) *Persister {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Persister{writer: writer, httpClient: httpClient, logger: infra.Component(logger, "storage")}
}

// Persist fetches sourceURL and stores it under key, returning the durable URL.
func (p *Persister) Persist(ctx context.Context, key, sourceURL string) (string, error) {
	if p == nil || p.writer == nil {
		return "", errors.New("storage: no store configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("storage: build download request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: download artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("storage: download artifact: status %d", resp.StatusCode)
	}
	started := time.Now()
	url, err := p.writer.Put(ctx, key, resp.Body, resp.ContentLength, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", err
	}
	p.logger.Info().
		Str("key", key).
		Int64("bytes", resp.ContentLength).
		Dur("duration", time.Since(started)).
		Msg("artifact persisted")
	return url, nil
}
