package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipeheal/pipeheal/pkg/types"
)

func TestParseDatabricks(t *testing.T) {
	payload := `{
		"source": "databricks",
		"job_id": 123,
		"run_id": "456",
		"cluster_id": "0601-123456-abcd1234",
		"job_name": "nightly-etl",
		"error_message": "Job failed: java.lang.OutOfMemoryError"
	}`

	ev, err := Parse([]byte(payload), "databricks")
	require.NoError(t, err)
	assert.Equal(t, types.PlatformDatabricks, ev.Source)
	assert.Equal(t, "123", ev.JobID)
	assert.Equal(t, "456", ev.RunID)
	assert.Equal(t, "0601-123456-abcd1234", ev.ClusterID)
	assert.Contains(t, ev.ErrorMessage, "OutOfMemoryError")
	assert.Equal(t, "nightly-etl", ev.Extra["job_name"])
}

func TestParseDatabricks_ClusterIDFromMessage(t *testing.T) {
	payload := `{
		"job_id": 7,
		"run_id": 8,
		"error_message": "cluster 0601-123456-abcd1234 terminated unexpectedly"
	}`

	ev, err := Parse([]byte(payload), "databricks")
	require.NoError(t, err)
	assert.Equal(t, "0601-123456-abcd1234", ev.ClusterID)
}

func TestParseDatabricks_RequiresErrorMessage(t *testing.T) {
	_, err := Parse([]byte(`{"job_id": 1}`), "databricks")
	assert.Error(t, err)
}

func TestParseAzureMonitor(t *testing.T) {
	payload := `{
		"data": {
			"essentials": {
				"alertRule": "adf-failures",
				"severity": "Sev2",
				"alertTargetIDs": [
					"/subscriptions/abc/resourceGroups/rg-data/providers/Microsoft.DataFactory/factories/df-prod"
				],
				"description": "ErrorCode=UserErrorSourceBlobNotExists: the blob does not exist",
				"monitorCondition": "Fired"
			},
			"alertContext": {
				"condition": {
					"allOf": [
						{
							"dimensions": [
								{"name": "PipelineName", "value": "daily-load"},
								{"name": "RunId", "value": "adf-run-42"}
							]
						}
					]
				}
			}
		}
	}`

	ev, err := Parse([]byte(payload), "adf")
	require.NoError(t, err)
	assert.Equal(t, types.PlatformADF, ev.Source)
	assert.Equal(t, "daily-load", ev.PipelineName)
	assert.Equal(t, "adf-run-42", ev.RunID)
	assert.Equal(t, "rg-data", ev.ResourceGroup)
	assert.Equal(t, "df-prod", ev.FactoryName)
	assert.Contains(t, ev.ErrorMessage, "UserErrorSourceBlobNotExists")
}

func TestParseAutoSniffsShape(t *testing.T) {
	adfPayload := `{
		"data": {
			"essentials": {"alertRule": "adf-failures", "description": "boom"},
			"alertContext": {"condition": {"allOf": [
				{"dimensions": [{"name": "PipelineName", "value": "p1"}]}
			]}}
		}
	}`
	ev, err := Parse([]byte(adfPayload), "")
	require.NoError(t, err)
	assert.Equal(t, types.PlatformADF, ev.Source)

	dbxPayload := `{"job_id": 1, "error_message": "boom"}`
	ev, err = Parse([]byte(dbxPayload), "")
	require.NoError(t, err)
	assert.Equal(t, types.PlatformDatabricks, ev.Source)
}

func TestMetadata(t *testing.T) {
	md := Metadata(types.FailureEvent{
		Source:        types.PlatformADF,
		PipelineName:  "daily-load",
		FactoryName:   "df-prod",
		ResourceGroup: "rg-data",
		RunID:         "r-1",
		ErrorMessage:  "boom",
	})

	assert.Equal(t, "daily-load", md[types.MetaPipelineName])
	assert.Equal(t, "df-prod", md[types.MetaFactoryName])
	assert.Equal(t, "rg-data", md[types.MetaResourceGroup])
	assert.Equal(t, "r-1", md[types.MetaRunID])
	assert.Equal(t, "boom", md[types.MetaErrorMessage])
	_, hasJob := md[types.MetaJobID]
	assert.False(t, hasJob, "empty fields must not appear")
}
