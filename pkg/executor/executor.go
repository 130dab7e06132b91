package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pipeheal/pipeheal/pkg/breaker"
	"github.com/pipeheal/pipeheal/pkg/config"
	"github.com/pipeheal/pipeheal/pkg/events"
	"github.com/pipeheal/pipeheal/pkg/log"
	"github.com/pipeheal/pipeheal/pkg/metrics"
	"github.com/pipeheal/pipeheal/pkg/platform"
	"github.com/pipeheal/pipeheal/pkg/playbook"
	"github.com/pipeheal/pipeheal/pkg/snapshot"
	"github.com/pipeheal/pipeheal/pkg/types"
	"github.com/pipeheal/pipeheal/pkg/verify"
)

// maxChainDepth bounds how many playbooks one request may chain through
const maxChainDepth = 3

// Executor runs recovery playbooks against platform adapters
type Executor struct {
	registry *playbook.Registry
	adapters *platform.Registry
	breakers *breaker.Fabric
	verifier *verify.Verifier
	broker   *events.Broker
	cfg      config.Remediation

	// sleep is replaceable in tests so backoff does not stall them
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates an executor. The broker may be nil when no event fan-out
// is wanted.
func New(registry *playbook.Registry, adapters *platform.Registry, breakers *breaker.Fabric, verifier *verify.Verifier, broker *events.Broker, cfg config.Remediation) (*Executor, error) {
	if registry == nil {
		return nil, fmt.Errorf("playbook registry is required")
	}
	if adapters == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if breakers == nil {
		return nil, fmt.Errorf("breaker fabric is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("health verifier is required")
	}
	return &Executor{
		registry: registry,
		adapters: adapters,
		breakers: breakers,
		verifier: verifier,
		broker:   broker,
		cfg:      cfg,
		sleep:    sleepCtx,
	}, nil
}

// Breakers exposes the breaker fabric for the operator surface
func (e *Executor) Breakers() *breaker.Fabric {
	return e.breakers
}

// Registry exposes the playbook registry for the operator surface
func (e *Executor) Registry() *playbook.Registry {
	return e.registry
}

// Execute runs the playbook for a classified failure and returns the
// structured outcome
func (e *Executor) Execute(ctx context.Context, req types.RecoveryRequest) types.ExecutionResult {
	start := time.Now()

	if req.TicketID == "" {
		req.TicketID = uuid.NewString()
	}
	if req.Metadata == nil {
		req.Metadata = make(map[string]string)
	}

	logger := log.WithTicketID(req.TicketID).With().Str("error_type", req.ErrorType).Logger()

	if !e.cfg.Enabled {
		logger.Info().Msg("auto-remediation disabled, skipping")
		e.publish(events.EventRecoverySkipped, req, "auto-remediation disabled")
		metrics.RecoveriesTotal.WithLabelValues(req.ErrorType, "skipped").Inc()
		return types.ExecutionResult{
			Success:              false,
			Message:              "auto-remediation is disabled",
			ActionsTaken:         []string{},
			FailureKind:          types.FailureSkipped,
			ExecutionTimeSeconds: time.Since(start).Seconds(),
		}
	}

	e.publish(events.EventRecoveryStarted, req, "recovery started")

	visited := map[string]bool{}
	result := e.run(ctx, req, logger, visited, 0)
	result.ExecutionTimeSeconds = time.Since(start).Seconds()

	outcome := "failure"
	eventType := events.EventRecoveryFailed
	if result.Success {
		outcome = "success"
		eventType = events.EventRecoverySucceeded
	}
	metrics.RecoveriesTotal.WithLabelValues(req.ErrorType, outcome).Inc()
	e.publish(eventType, req, result.Message)

	logger.Info().
		Bool("success", result.Success).
		Int("attempts", result.Attempts).
		Strs("actions", result.ActionsTaken).
		Float64("seconds", result.ExecutionTimeSeconds).
		Msg("recovery finished")

	return result
}

// run executes one playbook; chained playbooks recurse with an
// incremented depth and the shared visited set
func (e *Executor) run(ctx context.Context, req types.RecoveryRequest, logger zerolog.Logger, visited map[string]bool, depth int) types.ExecutionResult {
	result := types.ExecutionResult{
		ActionsTaken: []string{},
		Metadata:     make(map[string]string),
	}

	pb, ok := e.registry.Get(req.ErrorType)
	if !ok {
		logger.Warn().Msg("no playbook for error type")
		result.Message = fmt.Sprintf("no playbook configured for error type %q", req.ErrorType)
		result.ActionsTaken = append(result.ActionsTaken, string(types.ActionNoop))
		result.FailureKind = types.FailurePlaybookNotFound
		return result
	}
	visited[req.ErrorType] = true

	key := breaker.Key(req.ErrorType, primaryResourceID(pb.Action, req.Metadata))
	bcfg := e.breakerConfig(pb)

	// flag and wiring checks come before the breaker gate: they are
	// operator decisions, not recovery outcomes, and an admitted
	// half-open probe must always get its outcome recorded
	adapter := e.adapters.Get(pb.Platform)
	if adapter == nil {
		status := e.breakers.Snapshot(key)
		result.CircuitBreakerStatus = &status
		result.Message = fmt.Sprintf("no adapter registered for platform %q", pb.Platform)
		result.FailureKind = types.FailureActionDisabled
		return result
	}

	if !e.cfg.ActionEnabled(string(pb.Action)) {
		logger.Info().Str("action", string(pb.Action)).Msg("action disabled by feature flag")
		status := e.breakers.Snapshot(key)
		result.CircuitBreakerStatus = &status
		result.Message = fmt.Sprintf("action %s is disabled", pb.Action)
		result.FailureKind = types.FailureActionDisabled
		return result
	}

	allowed, status := e.breakers.Allow(key, bcfg)
	result.CircuitBreakerStatus = &status
	if !allowed {
		logger.Warn().Str("breaker", key).Msg("circuit breaker open, request rejected")
		metrics.BreakerRejectionsTotal.Inc()
		result.Message = fmt.Sprintf("circuit breaker open for %s", key)
		result.FailureKind = types.FailureCircuitOpen
		return result
	}

	// overall budget for this playbook invocation
	overall := time.Duration(pb.TimeoutSeconds*(pb.MaxRetries+1)+pb.HealthCheckTimeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, overall)
	defer cancel()

	snaps := snapshot.NewStore()
	if pb.SnapshotBefore {
		if kind, id := snapshotTarget(pb.Action, req.Metadata); kind != "" {
			if _, err := snaps.Capture(ctx, adapter, kind, id); err != nil {
				logger.Warn().Err(err).Msg("snapshot capture failed, continuing without rollback")
			}
		}
	}

	primary := e.attemptLoop(ctx, adapter, pb, req, snaps, logger, &result)

	if primary.ok {
		e.recordSuccess(key, req, &result)
		result.Success = true
		result.HealthCheckPassed = primary.healthPassed
		result.Message = primary.message

		if pb.ChainedPlaybook != "" {
			chained := e.chain(ctx, pb, req, logger, visited, depth)
			if chained != nil {
				result.ChainedResult = chained
				result.ActionsTaken = append(result.ActionsTaken, chained.ActionsTaken...)
				// chained failure is reported, and the overall verdict
				// is primary AND chained
				result.Success = chained.Success
				if !chained.Success {
					result.Message = fmt.Sprintf("%s; chained playbook %s failed: %s", result.Message, pb.ChainedPlaybook, chained.Message)
				}
			}
		}
		return result
	}

	// primary exhausted: one fallback attempt, same health policy
	if pb.FallbackAction != "" && e.cfg.ActionEnabled(string(pb.FallbackAction)) {
		logger.Info().Str("fallback", string(pb.FallbackAction)).Msg("primary exhausted, invoking fallback")
		fb := e.attemptOnce(ctx, adapter, withAction(pb, pb.FallbackAction), req, snaps, logger, &result)
		result.FallbackInvoked = true
		if fb.ok {
			e.recordSuccess(key, req, &result)
			result.Success = true
			result.HealthCheckPassed = fb.healthPassed
			result.Message = fmt.Sprintf("%s; fallback %s succeeded", primary.message, pb.FallbackAction)
			return result
		}
		primary.message = fmt.Sprintf("%s; fallback %s failed: %s", primary.message, pb.FallbackAction, fb.message)
	}

	e.recordFailure(key, bcfg, req, &result)
	result.Message = primary.message
	result.FailureKind = primary.failureKind

	if snaps.Rollback(ctx, adapter) {
		result.Metadata["rollback"] = "restored pre-action state"
	}
	return result
}

// attemptOutcome summarizes one action attempt (or the whole loop)
type attemptOutcome struct {
	ok           bool
	healthPassed bool
	message      string
	failureKind  types.FailureKind
	errKind      platform.ErrorKind
	retryAfter   time.Duration
}

// retryable reports whether the adapter error kind of a failed action
// allows another attempt (transient or throttled). attemptLoop consults
// it only for action failures; health-check failures are retried within
// budget regardless.
func (a attemptOutcome) retryable() bool {
	return a.errKind == platform.KindTransient || a.errKind == platform.KindThrottled
}

// attemptLoop runs the primary action up to max_retries+1 times with
// exponential backoff. Non-retryable adapter errors end the loop early.
func (e *Executor) attemptLoop(ctx context.Context, adapter platform.Adapter, pb playbook.Config, req types.RecoveryRequest, snaps *snapshot.Store, logger zerolog.Logger, result *types.ExecutionResult) attemptOutcome {
	var last attemptOutcome

	for i := 1; i <= pb.MaxRetries+1; i++ {
		result.Attempts = i
		last = e.attemptOnce(ctx, adapter, pb, req, snaps, logger, result)
		if last.ok {
			return last
		}

		if last.failureKind == types.FailureActionFailed && !last.retryable() {
			logger.Info().Str("action", string(pb.Action)).Msg("non-retryable failure, skipping remaining retries")
			break
		}
		if i > pb.MaxRetries {
			break
		}

		delay := e.backoff(i, last.retryAfter)
		logger.Info().
			Int("attempt", i).
			Int("max_attempts", pb.MaxRetries+1).
			Dur("backoff", delay).
			Msg("attempt failed, backing off")
		if !e.sleep(ctx, delay) {
			last.message = fmt.Sprintf("%s; cancelled while backing off", last.message)
			break
		}
	}
	return last
}

// attemptOnce runs one bounded action attempt including, when
// configured, its health check: a failed health check invalidates the
// attempt.
func (e *Executor) attemptOnce(ctx context.Context, adapter platform.Adapter, pb playbook.Config, req types.RecoveryRequest, snaps *snapshot.Store, logger zerolog.Logger, result *types.ExecutionResult) attemptOutcome {
	timer := metrics.NewTimer()

	actx, cancel := context.WithTimeout(ctx, time.Duration(pb.TimeoutSeconds)*time.Second)
	out, err := e.doAction(actx, adapter, pb, req, snaps)
	cancel()

	result.ActionsTaken = append(result.ActionsTaken, string(pb.Action))
	for k, v := range out.metadata {
		result.Metadata[k] = v
	}

	actionResult := "success"
	if err != nil {
		actionResult = "failure"
	}
	metrics.ActionAttemptsTotal.WithLabelValues(string(pb.Action), actionResult).Inc()
	timer.ObserveDuration(metrics.ActionDuration.WithLabelValues(string(pb.Action)))
	e.publish(events.EventActionExecuted, req, fmt.Sprintf("%s: %s", pb.Action, actionResult))

	if err != nil {
		logger.Warn().Str("action", string(pb.Action)).Err(err).Msg("action failed")
		return attemptOutcome{
			message:     fmt.Sprintf("action %s failed: %v", pb.Action, err),
			failureKind: types.FailureActionFailed,
			errKind:     platform.KindOf(err),
			retryAfter:  platform.RetryAfterOf(err),
		}
	}

	if !pb.VerifyHealth || !e.cfg.HealthCheckEnabled || out.health == nil {
		return attemptOutcome{ok: true, message: fmt.Sprintf("action %s succeeded", pb.Action)}
	}

	htimer := metrics.NewTimer()
	hres := e.verifier.Wait(ctx, adapter, *out.health, e.healthTimeout(pb, out.health.Kind))

	hresult := "healthy"
	if !hres.Healthy {
		hresult = "unhealthy"
		if hres.TimedOut {
			hresult = "timeout"
		}
	}
	htimer.ObserveDuration(metrics.HealthCheckDuration.WithLabelValues(string(out.health.Kind), hresult))

	if hres.Healthy {
		return attemptOutcome{
			ok:           true,
			healthPassed: true,
			message:      fmt.Sprintf("action %s succeeded, %s %s healthy", pb.Action, out.health.Kind, out.health.ID),
		}
	}

	kind := types.FailureHealthCheckFailed
	if hres.TimedOut {
		kind = types.FailureHealthCheckTimeout
	}
	logger.Warn().
		Str("action", string(pb.Action)).
		Str("reason", hres.Reason).
		Msg("health check failed, attempt invalidated")
	return attemptOutcome{
		message:     fmt.Sprintf("action %s succeeded but health check failed: %s", pb.Action, hres.Reason),
		failureKind: kind,
	}
}

// chain executes the chained playbook, guarding depth and cycles
func (e *Executor) chain(ctx context.Context, pb playbook.Config, req types.RecoveryRequest, logger zerolog.Logger, visited map[string]bool, depth int) *types.ExecutionResult {
	if depth+1 >= maxChainDepth {
		logger.Warn().Str("chained", pb.ChainedPlaybook).Msg("chain depth limit reached, not chaining")
		return nil
	}
	if visited[pb.ChainedPlaybook] {
		logger.Warn().Str("chained", pb.ChainedPlaybook).Msg("playbook cycle detected, not chaining")
		return nil
	}

	logger.Info().Str("chained", pb.ChainedPlaybook).Msg("primary succeeded, chaining")
	chainedReq := types.RecoveryRequest{
		ErrorType: pb.ChainedPlaybook,
		TicketID:  req.TicketID,
		Metadata:  req.Metadata,
	}
	res := e.run(ctx, chainedReq, logger, visited, depth+1)
	return &res
}

func (e *Executor) breakerConfig(pb playbook.Config) breaker.Config {
	if !e.cfg.BreakerEnabled {
		return breaker.Config{}
	}
	cfg := breaker.Config{
		FailureThreshold: pb.CircuitBreakerThreshold,
		OpenTimeout:      time.Duration(pb.CircuitBreakerTimeout) * time.Second,
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = e.cfg.BreakerTimeout
	}
	return cfg
}

func (e *Executor) healthTimeout(pb playbook.Config, kind verify.ResourceKind) time.Duration {
	timeout := time.Duration(pb.HealthCheckTimeout) * time.Second
	if kind == verify.KindJobRun && e.cfg.JobCompletionTimeout > timeout {
		timeout = e.cfg.JobCompletionTimeout
	}
	if pb.Action == types.ActionRestartCluster && e.cfg.RestartTimeout > timeout {
		timeout = e.cfg.RestartTimeout
	}
	return timeout
}

// backoff computes the delay before retry attempt+1: base * 2^(attempt-1)
// capped at the max, raised to the platform's Retry-After when larger
// but never beyond the max
func (e *Executor) backoff(attempt int, retryAfter time.Duration) time.Duration {
	delay := e.cfg.RetryBaseDelay << (attempt - 1)
	if delay > e.cfg.RetryMaxDelay || delay <= 0 {
		delay = e.cfg.RetryMaxDelay
	}
	if retryAfter > delay {
		delay = retryAfter
		if delay > e.cfg.RetryMaxDelay {
			delay = e.cfg.RetryMaxDelay
		}
	}
	return delay
}

func (e *Executor) recordSuccess(key string, req types.RecoveryRequest, result *types.ExecutionResult) {
	status := e.breakers.RecordSuccess(key)
	result.CircuitBreakerStatus = &status
	metrics.BreakerTransitionsTotal.WithLabelValues(string(status.State)).Inc()
	e.publish(events.EventBreakerClosed, req, fmt.Sprintf("breaker %s closed", key))
}

func (e *Executor) recordFailure(key string, bcfg breaker.Config, req types.RecoveryRequest, result *types.ExecutionResult) {
	status := e.breakers.RecordFailure(key, bcfg)
	result.CircuitBreakerStatus = &status
	metrics.BreakerTransitionsTotal.WithLabelValues(string(status.State)).Inc()
	if status.State == types.BreakerOpen {
		e.publish(events.EventBreakerOpened, req, fmt.Sprintf("breaker %s opened after %d consecutive failures", key, status.ConsecutiveFailures))
	}
}

func (e *Executor) publish(eventType events.EventType, req types.RecoveryRequest, message string) {
	e.broker.Publish(&events.Event{
		Type:    eventType,
		Message: message,
		Metadata: map[string]string{
			"ticket_id":  req.TicketID,
			"error_type": req.ErrorType,
		},
	})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
