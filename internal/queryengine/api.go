package queryengine

// Wire types for the engine's REST API.

// Engine-side execution statuses.
const (
	statusPending   = "PENDING"
	statusRunning   = "RUNNING"
	statusSucceeded = "SUCCEEDED"
	statusFailed    = "FAILED"
	statusCancelled = "CANCELLED"
)

type createQueryRequest struct {
	SQL            string `json:"sql"`
	OutputLocation string `json:"output_location,omitempty"`
}

type createQueryResponse struct {
	QueryID string `json:"query_id"`
}

type wireTimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type createExecutionRequest struct {
	TimeWindow wireTimeWindow `json:"time_window"`
}

type createExecutionResponse struct {
	ExecutionID string `json:"execution_id"`
}

type executionStatusResponse struct {
	Status         string `json:"status"`
	ResultLocation string `json:"result_location,omitempty"`
	Error          string `json:"error,omitempty"`
}
