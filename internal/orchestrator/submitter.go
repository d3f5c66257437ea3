package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/observability"
	"mediagen/internal/providers/veo"
)

// PortraitAspectRatio selects the portrait model.
const PortraitAspectRatio = "9:16"

// Models names the provider model per orientation.
type Models struct {
	Landscape string
	Portrait  string
}

// For returns the model for an aspect ratio. Anything that is not portrait
// is generated in landscape.
func (m Models) For(aspectRatio string) string {
	if aspectRatio == PortraitAspectRatio {
		return m.Portrait
	}
	return m.Landscape
}

// Submission is the handle of an accepted generation request.
type Submission struct {
	OperationName string
	CorrelationID string
	Seed          uint32
	CredentialID  string
}

// SubmitterOptions configures a Submitter.
type SubmitterOptions struct {
	Models  Models
	Timeout time.Duration
	Logger  infra.Logger
	Now     func() time.Time
	Seed    func() uint32
}

// Submitter issues one generation request with a chosen credential.
type Submitter struct {
	provider    Provider
	governor    CredentialGovernor
	credentials domain.CredentialStore
	models      Models
	timeout     time.Duration
	now         func() time.Time
	seed        func() uint32
	logger      infra.Logger
}

// NewSubmitter builds a Submitter. credentials may be nil.
func NewSubmitter(provider Provider, governor CredentialGovernor, credentials domain.CredentialStore, opts SubmitterOptions) *Submitter {
	s := &Submitter{
		provider:    provider,
		governor:    governor,
		credentials: credentials,
		models:      opts.Models,
		timeout:     opts.Timeout,
		now:         opts.Now,
		seed:        opts.Seed,
		logger:      infra.Component(opts.Logger, "submitter"),
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.seed == nil {
		s.seed = rand.Uint32
	}
	return s
}

// Submit starts generation for job with cred. On success the credential's
// usage is recorded. Errors wrap one of ErrNoCredentialAvailable,
// ErrNetworkTimeout, ErrUpstream or ErrNoOperationReturned.
func (s *Submitter) Submit(ctx context.Context, job domain.QueuedJob, cred domain.Credential) (Submission, error) {
	if cred.Secret == "" {
		return Submission{}, fmt.Errorf("%w: credential %q has no secret", domain.ErrNoCredentialAvailable, cred.ID)
	}
	sub := Submission{
		CorrelationID: uuid.NewString(),
		Seed:          s.seed(),
		CredentialID:  cred.ID,
	}
	model := s.models.For(job.AspectRatio)

	ctx, span := observability.StartSpan(ctx, "orchestrator.submit",
		attribute.String("job.id", job.JobID),
		attribute.String("credential.id", cred.ID),
		attribute.String("model", model),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	op, err := s.provider.Submit(callCtx, veo.SubmitRequest{
		Prompt:        job.Prompt,
		AspectRatio:   job.AspectRatio,
		Model:         model,
		Seed:          sub.Seed,
		CorrelationID: sub.CorrelationID,
		APIKey:        cred.Secret,
	})
	if err != nil {
		err = classifySubmitError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Submission{}, err
	}
	if op.Name == "" {
		span.SetStatus(codes.Error, "no operation")
		return Submission{}, fmt.Errorf("%w: model %s", domain.ErrNoOperationReturned, model)
	}
	sub.OperationName = op.Name

	s.governor.RecordUsage(cred.ID)
	if s.credentials != nil && !cred.Static() {
		if err := s.credentials.MarkUsed(ctx, cred.ID, s.now()); err != nil {
			s.logger.Warn().Err(err).Str("credential_id", cred.ID).Msg("submitter: mark used failed")
		}
	}
	s.logger.Info().
		Str("job_id", job.JobID).
		Str("credential_id", cred.ID).
		Str("operation", op.Name).
		Str("correlation_id", sub.CorrelationID).
		Msg("submitter: generation started")
	return sub, nil
}

func classifySubmitError(err error) error {
	switch {
	case errors.Is(err, veo.ErrMissingAPIKey):
		return fmt.Errorf("%w: %v", domain.ErrNoCredentialAvailable, err)
	case errors.Is(err, domain.ErrUpstream):
		return fmt.Errorf("%w: %v", domain.ErrUpstream, strings.TrimPrefix(err.Error(), "veo: "))
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrNetworkTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", domain.ErrNetworkTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
}
