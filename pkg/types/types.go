package types

import (
	"time"
)

// ActionType identifies a recovery action a playbook can run
type ActionType string

const (
	ActionRetryJob        ActionType = "retry_job"
	ActionRestartCluster  ActionType = "restart_cluster"
	ActionScaleCluster    ActionType = "scale_cluster"
	ActionLibraryFallback ActionType = "library_fallback"
	ActionRerunPipeline   ActionType = "rerun_pipeline"
	ActionRollbackConfig  ActionType = "rollback_config"
	ActionNoop            ActionType = "noop"
)

// Platform identifies the source platform a failure came from
type Platform string

const (
	PlatformDatabricks Platform = "databricks"
	PlatformADF        Platform = "adf"
)

// RecoveryRequest is a classified failure handed to the executor
type RecoveryRequest struct {
	ErrorType string            `json:"error_type"`
	TicketID  string            `json:"ticket_id,omitempty"`
	Metadata  map[string]string `json:"metadata"`
}

// Well-known metadata keys on a RecoveryRequest
const (
	MetaJobID         = "job_id"
	MetaRunID         = "run_id"
	MetaClusterID     = "cluster_id"
	MetaPipelineName  = "pipeline_name"
	MetaFactoryName   = "factory_name"
	MetaResourceGroup = "resource_group"
	MetaLibraryName   = "library_name"
	MetaErrorMessage  = "error_message"
)

// BreakerState represents the state of a circuit breaker
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerStatus is a point-in-time snapshot of one circuit breaker
type BreakerStatus struct {
	Key                 string       `json:"key"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	OpenedAt            time.Time    `json:"opened_at,omitzero"`
	LastOutcomeAt       time.Time    `json:"last_outcome_at,omitzero"`
}

// FailureKind classifies why a playbook execution failed
type FailureKind string

const (
	FailurePlaybookNotFound   FailureKind = "playbook_not_found"
	FailureCircuitOpen        FailureKind = "circuit_open"
	FailureActionDisabled     FailureKind = "action_disabled"
	FailureActionFailed       FailureKind = "action_failed"
	FailureHealthCheckFailed  FailureKind = "health_check_failed"
	FailureHealthCheckTimeout FailureKind = "health_check_timeout"
	FailureSkipped            FailureKind = "skipped"
)

// ExecutionResult is the structured outcome of one playbook execution
type ExecutionResult struct {
	Success              bool              `json:"success"`
	Message              string            `json:"message"`
	ActionsTaken         []string          `json:"actions_taken"`
	Attempts             int               `json:"attempts"`
	HealthCheckPassed    bool              `json:"health_check_passed"`
	FallbackInvoked      bool              `json:"fallback_invoked"`
	ChainedResult        *ExecutionResult  `json:"chained_result,omitempty"`
	CircuitBreakerStatus *BreakerStatus    `json:"circuit_breaker_status,omitempty"`
	ExecutionTimeSeconds float64           `json:"execution_time_seconds"`
	FailureKind          FailureKind       `json:"failure_kind,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// Snapshot captures resource state before a mutating action so a
// terminal failure can be rolled back best-effort
type Snapshot struct {
	ResourceKind string            `json:"resource_kind"`
	ResourceID   string            `json:"resource_id"`
	CapturedAt   time.Time         `json:"captured_at"`
	State        map[string]string `json:"state"`
}

// ClusterState reports a compute cluster's current state
type ClusterState struct {
	// State is one of PENDING, RUNNING, RESTARTING, RESIZING,
	// TERMINATING, TERMINATED, ERROR
	State             string `json:"state"`
	TerminationReason string `json:"termination_reason,omitempty"`
	WorkerCount       int    `json:"worker_count"`
}

// RunState reports a job run's current state
type RunState struct {
	// LifeCycleState is one of PENDING, RUNNING, TERMINATING,
	// TERMINATED, SKIPPED, INTERNAL_ERROR
	LifeCycleState string `json:"life_cycle_state"`
	// ResultState is one of SUCCESS, FAILED, TIMEDOUT, CANCELED
	// (set once the run terminates)
	ResultState  string `json:"result_state,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
}

// PipelineRunState reports an ADF pipeline run's current state
type PipelineRunState struct {
	// Status is one of Queued, InProgress, Succeeded, Failed, Cancelled
	Status       string `json:"status"`
	ErrorMessage string `json:"error,omitempty"`
}

// FailureEvent is a raw platform failure extracted from an alert payload,
// before classification
type FailureEvent struct {
	Source        Platform          `json:"source"`
	PipelineName  string            `json:"pipeline_name,omitempty"`
	FactoryName   string            `json:"factory_name,omitempty"`
	ResourceGroup string            `json:"resource_group,omitempty"`
	JobID         string            `json:"job_id,omitempty"`
	RunID         string            `json:"run_id,omitempty"`
	ClusterID     string            `json:"cluster_id,omitempty"`
	ErrorMessage  string            `json:"error_message"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// Classification is the AI (or rule-based) verdict on a failure
type Classification struct {
	ErrorType        string   `json:"error_type"`
	AutoHealPossible bool     `json:"auto_heal_possible"`
	Severity         string   `json:"severity,omitempty"`
	RootCause        string   `json:"root_cause,omitempty"`
	Recommendations  []string `json:"recommendations,omitempty"`
	Provider         string   `json:"provider,omitempty"`
}

// TicketStatus tracks a remediation ticket through its lifecycle
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketRemediated TicketStatus = "remediated"
	TicketEscalated  TicketStatus = "escalated"
	TicketClosed     TicketStatus = "closed"
)

// Ticket correlates an alert, its classification, and the remediation outcome
type Ticket struct {
	ID             string         `json:"id"`
	Source         Platform       `json:"source"`
	RunID          string         `json:"run_id,omitempty"`
	PipelineName   string         `json:"pipeline_name,omitempty"`
	JobID          string         `json:"job_id,omitempty"`
	ClusterID      string         `json:"cluster_id,omitempty"`
	ErrorType      string         `json:"error_type,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	Status         TicketStatus   `json:"status"`
	Classification Classification `json:"classification"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AuditEntry records one remediation decision or outcome for a ticket
type AuditEntry struct {
	TicketID  string    `json:"ticket_id"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}
