package pipeline

import "time"

// ProcessRequest represents a request to run an enrichment job on a record
type ProcessRequest struct {
	RecordID string `json:"record_id"`
	Job      string `json:"job"` // ocr, features
}

// ProcessResponse represents the response from triggering a job
type ProcessResponse struct {
	RunID string `json:"run_id"`
}

// RunStatus represents the state of a dispatched job
type RunStatus struct {
	RunID      string     `json:"run_id"`
	RecordID   string     `json:"record_id"`
	Job        string     `json:"job"`
	State      string     `json:"state"` // pending, running, succeeded, failed
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// JobType constants
const (
	JobOCR      = "ocr"
	JobFeatures = "features"
)

// Run states
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// MetadataBag field names. Downstream consumers read these keys directly,
// so they are part of the external contract.
const (
	FieldOriginalName  = "originalName"
	FieldSize          = "size"
	FieldType          = "type"
	FieldOCRText       = "ocrText"
	FieldOCRTimestamp  = "ocrTimestamp"
	FieldOCRConfidence = "ocrConfidence"
	FieldOCRLanguage   = "ocrLanguage"
	FieldFeatures      = "features"
	FieldFeatureStamp  = "featureTimestamp"
)
