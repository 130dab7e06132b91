package classify

import (
	"context"
	"strings"

	"github.com/pipeheal/pipeheal/pkg/types"
)

// rule maps message substrings to an error type. Patterns are matched
// case-insensitively, first hit wins.
type rule struct {
	patterns  []string
	errorType string
	autoHeal  bool
	severity  string
	rootCause string
	advice    []string
}

var databricksRules = []rule{
	{
		patterns:  []string{"out of memory", "outofmemoryerror", "oom", "gc overhead"},
		errorType: "DatabricksOutOfMemoryError",
		autoHeal:  true,
		severity:  "high",
		rootCause: "executor or driver ran out of memory",
		advice:    []string{"scale up the cluster", "review partitioning of the failing stage"},
	},
	{
		patterns:  []string{"resource", "quota exceeded", "insufficient capacity"},
		errorType: "DatabricksResourceExhausted",
		autoHeal:  true,
		severity:  "high",
		rootCause: "cluster capacity exhausted",
		advice:    []string{"scale up the cluster"},
	},
	{
		patterns:  []string{"library", "pip install", "requirement"},
		errorType: "DatabricksLibraryInstallationError",
		autoHeal:  true,
		severity:  "medium",
		rootCause: "library installation failed",
		advice:    []string{"try a known-good library version"},
	},
	{
		patterns:  []string{"cluster terminated", "unexpectedly terminated"},
		errorType: "DatabricksClusterTerminated",
		autoHeal:  true,
		severity:  "high",
		rootCause: "cluster terminated outside a user request",
		advice:    []string{"restart the cluster"},
	},
	{
		patterns:  []string{"failed to start", "cluster start"},
		errorType: "DatabricksClusterStartFailure",
		autoHeal:  true,
		severity:  "high",
		rootCause: "cluster failed to start",
		advice:    []string{"restart the cluster"},
	},
	{
		patterns:  []string{"driver is not responding", "driver unresponsive", "driver not responding"},
		errorType: "DatabricksDriverNotResponding",
		autoHeal:  true,
		severity:  "high",
		rootCause: "driver stopped responding",
		advice:    []string{"restart the cluster"},
	},
	{
		patterns:  []string{"permission", "access denied", "forbidden", "unauthorized"},
		errorType: "DatabricksPermissionDenied",
		autoHeal:  false,
		severity:  "medium",
		rootCause: "missing permissions on the workspace or resource",
		advice:    []string{"review the service principal's grants"},
	},
	{
		patterns:  []string{"timeout", "timed out"},
		errorType: "DatabricksTimeoutError",
		autoHeal:  true,
		severity:  "medium",
		rootCause: "the run exceeded its time budget",
		advice:    []string{"retry with an extended budget"},
	},
	{
		patterns:  []string{"connection reset", "network", "connection refused", "dns"},
		errorType: "DatabricksNetworkError",
		autoHeal:  true,
		severity:  "medium",
		rootCause: "transient network failure",
		advice:    []string{"retry the job"},
	},
}

var adfRules = []rule{
	{
		patterns:  []string{"blob does not exist", "sourceblobnotexists", "source blob"},
		errorType: "UserErrorSourceBlobNotExists",
		autoHeal:  true,
		severity:  "medium",
		rootCause: "an upstream pipeline did not produce the expected blob",
		advice:    []string{"rerun the upstream pipeline"},
	},
	{
		patterns:  []string{"gateway timeout", "504"},
		errorType: "GatewayTimeout",
		autoHeal:  true,
		severity:  "medium",
		rootCause: "gateway timed out",
		advice:    []string{"rerun the pipeline"},
	},
	{
		patterns:  []string{"connection failed", "httpconnectionfailed", "could not connect"},
		errorType: "HttpConnectionFailed",
		autoHeal:  true,
		severity:  "medium",
		rootCause: "a linked service connection failed",
		advice:    []string{"rerun the pipeline", "check the linked service"},
	},
	{
		patterns:  []string{"throttl", "429"},
		errorType: "ActivityThrottlingError",
		autoHeal:  true,
		severity:  "low",
		rootCause: "the service is throttling requests",
		advice:    []string{"rerun the pipeline with backoff"},
	},
	{
		patterns:  []string{"internal server error", "500"},
		errorType: "InternalServerError",
		autoHeal:  true,
		severity:  "medium",
		rootCause: "service-side failure",
		advice:    []string{"rerun the pipeline"},
	},
}

// RuleClassifier is the keyword-based terminal provider. It always
// answers; messages matching nothing come back with auto-heal off.
type RuleClassifier struct{}

// NewRuleClassifier creates the rule-based provider
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Name implements Provider
func (r *RuleClassifier) Name() string {
	return "rules"
}

// Classify implements Provider
func (r *RuleClassifier) Classify(ctx context.Context, failure types.FailureEvent) (types.Classification, error) {
	msg := strings.ToLower(failure.ErrorMessage)

	rules := databricksRules
	if failure.Source == types.PlatformADF {
		rules = adfRules
	}

	for _, ru := range rules {
		for _, pattern := range ru.patterns {
			if strings.Contains(msg, pattern) {
				return types.Classification{
					ErrorType:        ru.errorType,
					AutoHealPossible: ru.autoHeal,
					Severity:         ru.severity,
					RootCause:        ru.rootCause,
					Recommendations:  ru.advice,
				}, nil
			}
		}
	}

	// generic job failure is the safe default on Databricks; ADF
	// failures without a known code go to a human
	if failure.Source == types.PlatformDatabricks {
		return types.Classification{
			ErrorType:        "DatabricksJobExecutionError",
			AutoHealPossible: true,
			Severity:         "medium",
			RootCause:        "unrecognized job failure",
			Recommendations:  []string{"retry the job"},
		}, nil
	}
	return types.Classification{
		ErrorType:        "UnknownError",
		AutoHealPossible: false,
		Severity:         "medium",
		RootCause:        "unrecognized failure",
		Recommendations:  []string{"investigate manually"},
	}, nil
}
