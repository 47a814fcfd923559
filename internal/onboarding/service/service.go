// Package service orchestrates customer onboarding: one idempotent,
// transactional pass over two external verification partners ending in a
// deterministic decision.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"onboarding-gateway/internal/onboarding/metrics"
	"onboarding-gateway/internal/onboarding/models"
	"onboarding-gateway/internal/onboarding/store"
	"onboarding-gateway/internal/platform/config"
	"onboarding-gateway/internal/verification"
	identityv "onboarding-gateway/internal/verification/identity"
	vmetrics "onboarding-gateway/internal/verification/metrics"
	residencev "onboarding-gateway/internal/verification/residence"
	"onboarding-gateway/internal/verification/resilience"
	id "onboarding-gateway/pkg/domain"
	dErrors "onboarding-gateway/pkg/domain-errors"
	"onboarding-gateway/pkg/platform/audit"
	"onboarding-gateway/pkg/platform/sentinel"
	"onboarding-gateway/pkg/requestcontext"
)

const defaultMaxConcurrent = 64

// Service is the onboarding orchestrator.
//
// A creation request runs in three phases:
//  1. claim: the idempotency begin and the pending record commit in one
//     transaction, so at most one execution owns a request id
//  2. verify: identity first, then residence, each behind its own retry
//     and circuit breaker; an identity rejection short-circuits residence
//  3. finalize: the record mutation, the cached response, and the audit
//     event commit in one transaction
//
// Phase boundaries are where crashes land: an orphaned claim is healed by
// the reaper, and the pending record is adopted by the retry.
type Service struct {
	records store.RecordStore
	idem    store.IdempotencyStore
	tx      Tx

	identityClient  identityv.Client
	residenceClient residencev.Client
	identity        *resilience.Wrapper[identityv.Result]
	residence       *resilience.Wrapper[residencev.Result]

	auditor *audit.Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	sem     *semaphore.Weighted
	now     func() time.Time

	// idemJoinsTx is true when the idempotency store's writes join the
	// finalization transaction. Stores outside the transaction (Redis,
	// memory) have their entries completed only after the decision commits.
	idemJoinsTx bool

	reaperMaxAge time.Duration
}

// Option configures the Service.
type Option func(*options)

type options struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	vmetrics      *vmetrics.Metrics
	auditor       *audit.Publisher
	maxConcurrent int64
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time
	reaperMaxAge  time.Duration
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the orchestrator metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithVerificationMetrics sets the metrics collector shared by both
// resilience wrappers.
func WithVerificationMetrics(m *vmetrics.Metrics) Option {
	return func(o *options) { o.vmetrics = m }
}

// WithAudit sets the fail-closed audit publisher.
func WithAudit(publisher *audit.Publisher) Option {
	return func(o *options) { o.auditor = publisher }
}

// WithMaxConcurrent bounds concurrently executing orchestrations.
func WithMaxConcurrent(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrent = n
		}
	}
}

// WithRetrySleep replaces the backoff sleeper in both wrappers; tests use
// this to avoid real delays.
func WithRetrySleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithClock replaces the finalization clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithReaperMaxAge sets how long an in-progress claim may go untouched
// before the reaper releases it.
func WithReaperMaxAge(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reaperMaxAge = d
		}
	}
}

// NewService constructs the orchestrator. Each verifier gets its own
// resilience wrapper built from cfg.
func NewService(
	records store.RecordStore,
	idem store.IdempotencyStore,
	txRunner Tx,
	identityClient identityv.Client,
	residenceClient residencev.Client,
	cfg config.ResilienceConfig,
	opts ...Option,
) *Service {
	o := &options{
		maxConcurrent: defaultMaxConcurrent,
		now:           func() time.Time { return time.Now().UTC() },
		reaperMaxAge:  15 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}

	identityOpts := []resilience.Option[identityv.Result]{
		resilience.WithLogger[identityv.Result](o.logger),
		resilience.WithMetrics[identityv.Result](o.vmetrics),
	}
	residenceOpts := []resilience.Option[residencev.Result]{
		resilience.WithLogger[residencev.Result](o.logger),
		resilience.WithMetrics[residencev.Result](o.vmetrics),
	}
	if o.sleep != nil {
		identityOpts = append(identityOpts, resilience.WithSleep[identityv.Result](o.sleep))
		residenceOpts = append(residenceOpts, resilience.WithSleep[residencev.Result](o.sleep))
	}

	idemJoinsTx := false
	if joiner, ok := idem.(store.TxJoiner); ok {
		idemJoinsTx = joiner.JoinsTx()
	}

	return &Service{
		records:         records,
		idem:            idem,
		tx:              txRunner,
		idemJoinsTx:     idemJoinsTx,
		identityClient:  identityClient,
		residenceClient: residenceClient,
		identity:        resilience.New("identity", cfg, identityOpts...),
		residence:       resilience.New("residence", cfg, residenceOpts...),
		auditor:         o.auditor,
		logger:          o.logger,
		metrics:         o.metrics,
		tracer:          otel.Tracer("onboarding-gateway/onboarding"),
		sem:             semaphore.NewWeighted(o.maxConcurrent),
		now:             o.now,
		reaperMaxAge:    o.reaperMaxAge,
	}
}

// Create runs one onboarding attempt. Safe to call any number of times
// with the same request id: completed attempts replay their stored answer
// with zero external calls, concurrent duplicates are refused, and aborted
// attempts re-execute.
func (s *Service) Create(ctx context.Context, req *models.CreateRequest) (*models.CreateResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fingerprint := req.Fingerprint()

	ctx, span := s.tracer.Start(ctx, "onboarding.create",
		trace.WithAttributes(attribute.String("onboarding.request_id", req.RequestID.String())),
	)
	defer span.End()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "onboarding capacity exhausted")
	}
	defer s.sem.Release(1)

	s.metrics.TrackInFlight(1)
	defer s.metrics.TrackInFlight(-1)
	start := time.Now()
	defer func() { s.metrics.ObserveCreateDuration(time.Since(start).Seconds()) }()

	// Once a claim exists the orchestration must run to a terminal state;
	// a client disconnect must not strand an in_progress entry.
	execCtx := context.WithoutCancel(ctx)
	now := requestcontext.Now(ctx)

	var begin *models.BeginResult
	var record *models.OnboardingRecord
	var recovered *models.OnboardingRecord
	err := s.tx.RunInTx(execCtx, func(txCtx context.Context) error {
		result, err := s.idem.TryBegin(txCtx, req.RequestID, fingerprint, now)
		if err != nil {
			return err
		}
		begin = result
		if result.Outcome != models.BeginInserted {
			return nil
		}

		pending, err := models.NewPendingRecord(id.NewReferenceID(), req, now)
		if err != nil {
			return err
		}
		adopted, err := s.records.CreatePending(txCtx, pending)
		if errors.Is(err, sentinel.ErrInvalidState) {
			// A previous attempt committed its decision but died before
			// completing the idempotency entry. Rebuild the cached answer
			// from the record instead of re-executing.
			finalized, findErr := s.records.FindByRequest(txCtx, req.RequestID)
			if findErr != nil {
				return err
			}
			recovered = finalized
			return nil
		}
		if err != nil {
			return err
		}
		record = adopted
		return nil
	})
	if err != nil {
		// SQL rollback discards the claim; non-transactional stores need
		// the explicit release.
		if begin != nil && begin.Outcome == models.BeginInserted {
			s.abandon(execCtx, req.RequestID)
		}
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.RecordConflict("active_customer")
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "customer already has an active onboarding")
		}
		var de *dErrors.DomainError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "begin onboarding")
	}

	switch begin.Outcome {
	case models.BeginConflict:
		s.metrics.RecordConflict("fingerprint_mismatch")
		return nil, dErrors.New(dErrors.CodeConflict, "request id was reused with a different payload")
	case models.BeginAlreadyInProgress:
		s.metrics.RecordConflict("in_progress")
		return nil, dErrors.New(dErrors.CodeConflict, "an identical request is already being processed")
	case models.BeginAlreadyCompleted:
		s.metrics.RecordReplay()
		return replayResult(begin.Entry)
	}

	if recovered != nil {
		return s.completeFromRecord(execCtx, recovered)
	}

	result, err := s.orchestrate(execCtx, req, record)
	if err != nil {
		s.abandon(execCtx, req.RequestID)
		return nil, err
	}
	return result, nil
}

// orchestrate runs both verifications and finalizes the decision.
func (s *Service) orchestrate(ctx context.Context, req *models.CreateRequest, record *models.OnboardingRecord) (*models.CreateResult, error) {
	outcome := models.VerificationOutcome{
		IdentityStatus:  models.IdentityPending,
		ResidenceStatus: models.ResidencePending,
	}

	idResult, err := s.identity.Do(ctx, func(ctx context.Context) (identityv.Result, error) {
		return s.identityClient.Verify(ctx, identityv.Request{
			TaxID:       req.TaxID,
			FullName:    req.FullName,
			DateOfBirth: req.DateOfBirth,
			Mobile:      req.Mobile,
		})
	})
	if err != nil {
		s.metrics.RecordUnavailable()
		return nil, err
	}
	outcome.IdentityReference = idResult.ReferenceID
	outcome.RiskScore = idResult.RiskScore
	if idResult.Outcome == verification.OutcomeSuccess {
		outcome.IdentityStatus = models.IdentityPassed
	} else {
		outcome.IdentityStatus = models.IdentityFailed
	}

	// Identity rejection short-circuits: residence is never called and its
	// status stays pending.
	if outcome.IdentityStatus == models.IdentityPassed {
		resResult, err := s.residence.Do(ctx, func(ctx context.Context) (residencev.Result, error) {
			return s.residenceClient.Verify(ctx, residencev.Request{
				City:        req.City,
				State:       req.State,
				PostalCode:  req.PostalCode,
				AddressHash: req.AddressHash(),
			})
		})
		if err != nil {
			s.metrics.RecordUnavailable()
			return nil, err
		}
		outcome.ResidenceReference = resResult.ReferenceID
		outcome.Confidence = resResult.Confidence
		if resResult.Outcome == verification.OutcomeSuccess {
			outcome.ResidenceStatus = models.ResidenceVerified
		} else {
			outcome.ResidenceStatus = models.ResidenceFailed
		}
	}

	now := s.now()
	if err := record.CanFinalize(); err != nil {
		return nil, err
	}
	record.ApplyFinalization(outcome, now)

	result := models.ResultFromRecord(record)
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode onboarding result")
	}

	// The audit write runs first so a failure aborts before any state
	// mutation; the idempotency entry completes inside the transaction only
	// when the store joins it. Either way the entry is never completed
	// ahead of a durable decision, so an aborted finalization leaves the
	// claim releasable and the resubmission re-executes.
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.emitDecision(txCtx, record, now); err != nil {
			return err
		}
		if err := s.records.Finalize(txCtx, record); err != nil {
			return err
		}
		if s.idemJoinsTx {
			return s.idem.Finalize(txCtx, record.RequestID, models.IdempotencyCompleted, payload, result.HTTPStatus(), now)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "onboarding was finalized concurrently")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "finalize onboarding")
	}

	if !s.idemJoinsTx {
		// The decision is durable; caching the answer is best effort. On
		// failure the claim stays in_progress until the reaper releases it,
		// and the resubmission rebuilds the entry from the record.
		if err := s.idem.Finalize(ctx, record.RequestID, models.IdempotencyCompleted, payload, result.HTTPStatus(), now); err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "failed to cache onboarding result",
					"request_id", record.RequestID.String(),
					"error", err,
				)
			}
		}
	}

	s.metrics.RecordDecision(string(record.OverallStatus))
	if s.logger != nil {
		s.logger.InfoContext(ctx, "onboarding decided",
			"reference_id", record.ReferenceID.String(),
			"customer_id", record.CustomerID.String(),
			"overall_status", record.OverallStatus,
			"identity_status", record.IdentityStatus,
			"residence_status", record.ResidenceStatus,
		)
	}
	return result, nil
}

// completeFromRecord serves a decision whose record committed but whose
// idempotency entry was never completed (a crash between the transaction
// commit and the entry write for stores outside the transaction). The
// claim held by the caller is completed from the record's terminal state.
func (s *Service) completeFromRecord(ctx context.Context, record *models.OnboardingRecord) (*models.CreateResult, error) {
	result := models.ResultFromRecord(record)
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode onboarding result")
	}

	if err := s.idem.Finalize(ctx, record.RequestID, models.IdempotencyCompleted, payload, result.HTTPStatus(), s.now()); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to cache recovered onboarding result",
				"request_id", record.RequestID.String(),
				"error", err,
			)
		}
	}

	s.metrics.RecordReplay()
	result.Replayed = true
	return result, nil
}

// abandon releases the idempotency claim after an aborted attempt so a
// resubmission re-executes. Best effort: if the release fails the reaper
// frees the claim later.
func (s *Service) abandon(ctx context.Context, requestID id.RequestID) {
	err := s.idem.Finalize(ctx, requestID, models.IdempotencyFailed, nil, 0, s.now())
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to release idempotency claim",
				"request_id", requestID.String(),
				"error", err,
			)
		}
	}
}

// emitDecision writes the audit event inside the finalization transaction.
func (s *Service) emitDecision(ctx context.Context, record *models.OnboardingRecord, now time.Time) error {
	if s.auditor == nil {
		return nil
	}
	action := audit.EventOnboardingCreated
	if record.OverallStatus == models.OverallFailed {
		action = audit.EventOnboardingFailed
	}
	return s.auditor.Emit(ctx, audit.Event{
		Action:          action,
		Timestamp:       now,
		ReferenceID:     record.ReferenceID.String(),
		RequestID:       record.RequestID.String(),
		CustomerID:      record.CustomerID.String(),
		Decision:        string(record.OverallStatus),
		Reason:          failureReason(record),
		IdentityStatus:  string(record.IdentityStatus),
		ResidenceStatus: string(record.ResidenceStatus),
		TaxIDHash:       audit.HashTaxID(record.TaxID),
	})
}

func failureReason(record *models.OnboardingRecord) string {
	switch {
	case record.OverallStatus != models.OverallFailed:
		return ""
	case record.IdentityStatus == models.IdentityFailed:
		return "identity_failed"
	case record.ResidenceStatus == models.ResidenceFailed:
		return "residence_failed"
	default:
		return "incomplete_verification"
	}
}

// replayResult decodes the stored answer for an idempotent replay.
func replayResult(entry *models.IdempotencyEntry) (*models.CreateResult, error) {
	var result models.CreateResult
	if err := json.Unmarshal(entry.ResultPayload, &result); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode stored onboarding result")
	}
	result.Replayed = true
	return &result, nil
}

// GetByReference loads one onboarding record.
func (s *Service) GetByReference(ctx context.Context, referenceID id.ReferenceID) (*models.OnboardingRecord, error) {
	record, err := s.records.FindByReference(ctx, referenceID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "onboarding not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load onboarding record")
	}
	return record, nil
}

// ReapStale releases in_progress claims untouched for longer than the
// configured max age.
func (s *Service) ReapStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.reaperMaxAge)
	count, err := s.idem.ReapStale(ctx, cutoff)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "reap stale onboarding claims")
	}
	if count > 0 {
		s.metrics.RecordReaped(count)
		if s.logger != nil {
			s.logger.InfoContext(ctx, "released stale onboarding claims", "count", count)
		}
		if s.auditor != nil {
			err := s.auditor.Emit(ctx, audit.Event{
				Action:    audit.EventOnboardingReaped,
				Timestamp: s.now(),
				Reason:    "stale_in_progress",
				Decision:  "released",
			})
			if err != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "failed to audit reaper pass", "error", err)
			}
		}
	}
	return count, nil
}
