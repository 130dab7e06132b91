// Package extract turns inbound alert payloads into FailureEvents the
// classifier can work with. It understands the Azure Monitor common
// alert schema for ADF and a flat JSON shape for Databricks job
// webhooks. A few named extras (the Databricks job name, the ADF
// failure type and error code dimensions) go into Extra; other fields
// are dropped.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/pipeheal/pipeheal/pkg/types"
)

// flexID accepts ids sent either as JSON numbers or strings
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// databricksAlert is the flat payload our Databricks job-failure
// webhook sends
type databricksAlert struct {
	Source       string `json:"source"`
	JobID        flexID `json:"job_id"`
	RunID        flexID `json:"run_id"`
	ClusterID    string `json:"cluster_id"`
	JobName      string `json:"job_name"`
	ErrorMessage string `json:"error_message"`
}

// azureMonitorAlert is the subset of the Azure Monitor common alert
// schema the ADF alert rule produces
type azureMonitorAlert struct {
	Data struct {
		Essentials struct {
			AlertRule        string   `json:"alertRule"`
			Severity         string   `json:"severity"`
			AlertTargetIDs   []string `json:"alertTargetIDs"`
			Description      string   `json:"description"`
			MonitorCondition string   `json:"monitorCondition"`
		} `json:"essentials"`
		AlertContext struct {
			Condition struct {
				AllOf []struct {
					Dimensions []struct {
						Name  string `json:"name"`
						Value string `json:"value"`
					} `json:"dimensions"`
				} `json:"allOf"`
			} `json:"condition"`
		} `json:"alertContext"`
	} `json:"data"`
}

// Parse decodes an alert payload into a FailureEvent. The source hint
// comes from the webhook route; "auto" sniffs the payload shape.
func Parse(payload []byte, sourceHint string) (types.FailureEvent, error) {
	switch sourceHint {
	case "databricks":
		return parseDatabricks(payload)
	case "adf", "azure-monitor":
		return parseAzureMonitor(payload)
	default:
		if ev, err := parseAzureMonitor(payload); err == nil && ev.PipelineName != "" {
			return ev, nil
		}
		return parseDatabricks(payload)
	}
}

func parseDatabricks(payload []byte) (types.FailureEvent, error) {
	var alert databricksAlert
	if err := json.Unmarshal(payload, &alert); err != nil {
		return types.FailureEvent{}, fmt.Errorf("failed to parse databricks alert: %w", err)
	}
	if alert.ErrorMessage == "" {
		return types.FailureEvent{}, fmt.Errorf("databricks alert has no error_message")
	}

	ev := types.FailureEvent{
		Source:       types.PlatformDatabricks,
		JobID:        string(alert.JobID),
		RunID:        string(alert.RunID),
		ClusterID:    alert.ClusterID,
		ErrorMessage: alert.ErrorMessage,
		Extra:        map[string]string{},
	}
	if alert.JobName != "" {
		ev.Extra["job_name"] = alert.JobName
	}
	if ev.ClusterID == "" {
		ev.ClusterID = clusterIDFromError(alert.ErrorMessage)
	}
	return ev, nil
}

func parseAzureMonitor(payload []byte) (types.FailureEvent, error) {
	var alert azureMonitorAlert
	if err := json.Unmarshal(payload, &alert); err != nil {
		return types.FailureEvent{}, fmt.Errorf("failed to parse azure monitor alert: %w", err)
	}

	ev := types.FailureEvent{
		Source: types.PlatformADF,
		Extra:  map[string]string{},
	}

	for _, cond := range alert.Data.AlertContext.Condition.AllOf {
		for _, dim := range cond.Dimensions {
			switch strings.ToLower(dim.Name) {
			case "pipelinename", "name":
				ev.PipelineName = dim.Value
			case "runid", "pipelinerunid":
				ev.RunID = dim.Value
			case "failuretype", "errorcode":
				ev.Extra[strings.ToLower(dim.Name)] = dim.Value
			}
		}
	}

	// factory name and resource group come from the target resource id:
	// /subscriptions/.../resourceGroups/<rg>/providers/Microsoft.DataFactory/factories/<name>
	for _, target := range alert.Data.Essentials.AlertTargetIDs {
		if rg, factory, ok := parseFactoryTarget(target); ok {
			ev.ResourceGroup = rg
			ev.FactoryName = factory
			break
		}
	}

	if ev.PipelineName == "" {
		ev.PipelineName = alert.Data.Essentials.AlertRule
	}
	ev.ErrorMessage = alert.Data.Essentials.Description
	if ev.ErrorMessage == "" {
		ev.ErrorMessage = fmt.Sprintf("pipeline %s failed", ev.PipelineName)
	}
	if ev.PipelineName == "" {
		return types.FailureEvent{}, fmt.Errorf("azure monitor alert has no pipeline name")
	}
	return ev, nil
}

var factoryTargetRe = regexp.MustCompile(`(?i)/resourceGroups/([^/]+)/providers/Microsoft\.DataFactory/factories/([^/]+)`)

func parseFactoryTarget(target string) (resourceGroup, factory string, ok bool) {
	m := factoryTargetRe.FindStringSubmatch(target)
	if len(m) < 3 {
		return "", "", false
	}
	return m[1], m[2], true
}

var clusterIDRe = regexp.MustCompile(`\b(\d{4}-\d{6}-[a-z0-9]{8})\b`)

// clusterIDFromError finds a Databricks cluster id embedded in an error
// message
func clusterIDFromError(msg string) string {
	m := clusterIDRe.FindStringSubmatch(msg)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// Metadata converts a FailureEvent into executor request metadata
func Metadata(ev types.FailureEvent) map[string]string {
	md := map[string]string{
		types.MetaErrorMessage: ev.ErrorMessage,
	}
	if ev.JobID != "" {
		md[types.MetaJobID] = ev.JobID
	}
	if ev.RunID != "" {
		md[types.MetaRunID] = ev.RunID
	}
	if ev.ClusterID != "" {
		md[types.MetaClusterID] = ev.ClusterID
	}
	if ev.PipelineName != "" {
		md[types.MetaPipelineName] = ev.PipelineName
	}
	if ev.FactoryName != "" {
		md[types.MetaFactoryName] = ev.FactoryName
	}
	if ev.ResourceGroup != "" {
		md[types.MetaResourceGroup] = ev.ResourceGroup
	}
	return md
}
