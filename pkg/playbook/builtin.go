package playbook

import (
	"github.com/pipeheal/pipeheal/pkg/types"
)

// defaultLibraryVersions are the candidate versions tried, in order,
// when a library install fails and no overlay provides its own list
var defaultLibraryVersions = map[string][]string{
	"pandas":       {"2.1.0", "2.0.3", "1.5.3"},
	"numpy":        {"1.24.3", "1.23.5", "1.22.4"},
	"scikit-learn": {"1.3.0", "1.2.2", "1.1.3"},
	"matplotlib":   {"3.7.2", "3.6.3", "3.5.3"},
	"requests":     {"2.31.0", "2.28.2", "2.27.1"},
	"pyspark":      {"3.4.0", "3.3.2", "3.3.1"},
}

// builtin returns the playbook table shipped in the binary. Callers get
// a fresh copy they may overlay.
func builtin() map[string]Config {
	return map[string]Config{
		// Databricks
		"DatabricksJobExecutionError": {
			Platform:                types.PlatformDatabricks,
			Action:                  types.ActionRetryJob,
			MaxRetries:              3,
			TimeoutSeconds:          600,
			FallbackAction:          types.ActionScaleCluster,
			VerifyHealth:            true,
			HealthCheckTimeout:      600,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Retry failed job with exponential backoff, scale cluster if retries fail",
		},
		"DatabricksClusterStartFailure": {
			Platform:                types.PlatformDatabricks,
			Action:                  types.ActionRestartCluster,
			MaxRetries:              2,
			TimeoutSeconds:          600,
			VerifyHealth:            true,
			HealthCheckTimeout:      600,
			SnapshotBefore:          true,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Restart a cluster that failed to start",
		},
		"DatabricksClusterTerminated": {
			Platform:                types.PlatformDatabricks,
			Action:                  types.ActionRestartCluster,
			MaxRetries:              1,
			TimeoutSeconds:          600,
			VerifyHealth:            true,
			HealthCheckTimeout:      600,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Restart an unexpectedly terminated cluster",
		},
		"DatabricksResourceExhausted": {
			Platform:                types.PlatformDatabricks,
			Action:                  types.ActionScaleCluster,
			MaxRetries:              2,
			TimeoutSeconds:          300,
			VerifyHealth:            true,
			HealthCheckTimeout:      300,
			SnapshotBefore:          true,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Scale up cluster workers to relieve resource exhaustion",
		},
		"DatabricksOutOfMemoryError": {
			Platform:                types.PlatformDatabricks,
			Action:                  types.ActionScaleCluster,
			MaxRetries:              1,
			TimeoutSeconds:          300,
			ChainedPlaybook:         "DatabricksJobExecutionError",
			VerifyHealth:            true,
			HealthCheckTimeout:      300,
			SnapshotBefore:          true,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Scale cluster after OOM, then retry the job",
		},
		"DatabricksDriverNotResponding": {
			Platform:                types.PlatformDatabricks,
			Action:                  types.ActionRestartCluster,
			MaxRetries:              2,
			TimeoutSeconds:          600,
			FallbackAction:          types.ActionScaleCluster,
			VerifyHealth:            true,
			HealthCheckTimeout:      600,
			SnapshotBefore:          true,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Restart unresponsive driver, scale if the restart does not help",
		},
		"DatabricksLibraryInstallationError": {
			Platform:                types.PlatformDatabricks,
			Action:                  types.ActionLibraryFallback,
			MaxRetries:              0,
			TimeoutSeconds:          300,
			FallbackAction:          types.ActionRestartCluster,
			VerifyHealth:            true,
			HealthCheckTimeout:      300,
			SnapshotBefore:          true,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			ActionParams:            ActionParams{LibraryVersions: defaultLibraryVersions},
			Description:             "Try fallback library versions, clean restart if all are rejected",
		},
		"DatabricksConfigurationError": {
			Platform:                types.PlatformDatabricks,
			Action:                  types.ActionRollbackConfig,
			MaxRetries:              1,
			TimeoutSeconds:          180,
			VerifyHealth:            true,
			HealthCheckTimeout:      180,
			SnapshotBefore:          true,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Roll back to the previous working configuration",
		},
		"DatabricksTimeoutError": {
			Platform:                types.PlatformDatabricks,
			Action:                  types.ActionRetryJob,
			MaxRetries:              2,
			TimeoutSeconds:          900,
			FallbackAction:          types.ActionScaleCluster,
			VerifyHealth:            true,
			HealthCheckTimeout:      900,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Retry with an extended budget, scale if the timeout persists",
		},
		"DatabricksPermissionDenied": {
			Platform:       types.PlatformDatabricks,
			Action:         types.ActionNoop,
			MaxRetries:     0,
			TimeoutSeconds: 30,
			// permission issues need a human; no breaker, no health check
			CircuitBreakerThreshold: 0,
			Description:             "Permission issues require manual intervention",
		},
		"DatabricksNetworkError": {
			Platform:                types.PlatformDatabricks,
			Action:                  types.ActionRetryJob,
			MaxRetries:              3,
			TimeoutSeconds:          300,
			VerifyHealth:            true,
			HealthCheckTimeout:      300,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Retry the job after a transient network issue",
		},

		// Azure Data Factory
		"UserErrorSourceBlobNotExists": {
			Platform:                types.PlatformADF,
			Action:                  types.ActionRerunPipeline,
			MaxRetries:              1,
			TimeoutSeconds:          600,
			VerifyHealth:            true,
			HealthCheckTimeout:      600,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Rerun the upstream pipeline to regenerate the missing source blob",
		},
		"GatewayTimeout": {
			Platform:                types.PlatformADF,
			Action:                  types.ActionRerunPipeline,
			MaxRetries:              3,
			TimeoutSeconds:          300,
			VerifyHealth:            true,
			HealthCheckTimeout:      300,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Rerun the pipeline after a gateway timeout",
		},
		"HttpConnectionFailed": {
			Platform:                types.PlatformADF,
			Action:                  types.ActionRerunPipeline,
			MaxRetries:              3,
			TimeoutSeconds:          300,
			VerifyHealth:            true,
			HealthCheckTimeout:      300,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Rerun the pipeline after a connection failure",
		},
		"InternalServerError": {
			Platform:                types.PlatformADF,
			Action:                  types.ActionRerunPipeline,
			MaxRetries:              2,
			TimeoutSeconds:          600,
			VerifyHealth:            true,
			HealthCheckTimeout:      600,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Rerun the pipeline after a service-side error",
		},
		"ActivityThrottlingError": {
			Platform:                types.PlatformADF,
			Action:                  types.ActionRerunPipeline,
			MaxRetries:              3,
			TimeoutSeconds:          900,
			VerifyHealth:            true,
			HealthCheckTimeout:      900,
			CircuitBreakerThreshold: 5,
			CircuitBreakerTimeout:   300,
			Description:             "Rerun the pipeline with backoff while the service is throttling",
		},
	}
}
