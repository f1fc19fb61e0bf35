package server

import (
	"encoding/json"
	"fmt"
	"time"
)

// BlobState is the lifecycle state of an uploaded blob.
type BlobState string

const (
	StateUploading                BlobState = "UPLOADING"
	StatePendingTransformation    BlobState = "PENDING_TRANSFORMATION"
	StateTransformationInProgress BlobState = "TRANSFORMATION_IN_PROGRESS"
	StateTransformationFailed     BlobState = "TRANSFORMATION_FAILED"
	StateTransformed              BlobState = "TRANSFORMED"
	StateProcessing               BlobState = "PROCESSING"
	StateProcessed                BlobState = "PROCESSED"
	StateAborted                  BlobState = "ABORTED"
)

// AllStates lists every recognized state, in lifecycle order.
var AllStates = []BlobState{
	StateUploading,
	StatePendingTransformation,
	StateTransformationInProgress,
	StateTransformationFailed,
	StateTransformed,
	StateProcessing,
	StateProcessed,
	StateAborted,
}

// ValidState reports whether s is a recognized state.
func ValidState(s BlobState) bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the lifecycle. A terminal blob
// accepts no further update operations.
func (s BlobState) Terminal() bool {
	return s == StateProcessed || s == StateAborted
}

// ImportResult records the outcome of importing one sub-record.
type ImportResult struct {
	Status    string                 `json:"status" bson:"status"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// ProcessingInfo accumulates per-record results as external workers
// report back on a blob.
type ProcessingInfo struct {
	TransformationError interface{}    `json:"transformationError,omitempty" bson:"transformationError,omitempty"`
	NumberOfRecords     int            `json:"numberOfRecords" bson:"numberOfRecords"`
	FailedRecords       []string       `json:"failedRecords" bson:"failedRecords"`
	ImportResults       []ImportResult `json:"importResults" bson:"importResults"`
}

// Blob is the metadata row for one uploaded batch of records. Profile
// and ContentType are fixed at creation; State advances through the
// lifecycle via update operations.
type Blob struct {
	ID               string         `json:"id" bson:"id"`
	CorrelationID    string         `json:"correlationId" bson:"correlationId"`
	Profile          string         `json:"profile" bson:"profile"`
	ContentType      string         `json:"contentType" bson:"contentType"`
	Cataloger        string         `json:"cataloger,omitempty" bson:"cataloger,omitempty"`
	State            BlobState      `json:"state" bson:"state"`
	CreationTime     time.Time      `json:"creationTime" bson:"creationTime"`
	ModificationTime time.Time      `json:"modificationTime" bson:"modificationTime"`
	ProcessingInfo   ProcessingInfo `json:"processingInfo" bson:"processingInfo"`
}

// BlobRef is the listing projection of a blob: its id and resource URL.
// Query results never expose full metadata.
type BlobRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Profile maps an import pipeline name to the identity-provider groups
// allowed to operate on its blobs.
type Profile struct {
	Name   string   `json:"name" bson:"name"`
	Groups []string `json:"groups" bson:"groups"`
}

// User is the already-authenticated caller: an id plus the group set
// resolved by the identity provider.
type User struct {
	ID     string
	Groups []string
}

// UpdateOp is one operation of the blob state machine. Each concrete
// op carries exactly the fields its transition needs; ParseUpdatePayload
// is the only constructor.
type UpdateOp interface {
	Name() string
}

// AbortOp moves a blob to ABORTED.
type AbortOp struct{}

// TransformationStartedOp marks the transformation worker as running.
type TransformationStartedOp struct{}

// TransformationFailedOp records a transformation failure with the
// worker's opaque error payload.
type TransformationFailedOp struct {
	Error interface{}
}

// TransformationDoneOp reports transformation completion: the total
// record count plus the ids of records that failed up front.
type TransformationDoneOp struct {
	NumberOfRecords int
	FailedRecords   []string
}

// RecordProcessedOp reports the import outcome of a single sub-record.
type RecordProcessedOp struct {
	Status   string
	Metadata map[string]interface{}
}

func (AbortOp) Name() string                 { return "abort" }
func (TransformationStartedOp) Name() string { return "transformationStarted" }
func (TransformationFailedOp) Name() string  { return "transformationFailed" }
func (TransformationDoneOp) Name() string    { return "transformationDone" }
func (RecordProcessedOp) Name() string       { return "recordProcessed" }

type updatePayload struct {
	Op              string                 `json:"op"`
	Error           interface{}            `json:"error"`
	NumberOfRecords *int                   `json:"numberOfRecords"`
	FailedRecords   []string               `json:"failedRecords"`
	Status          string                 `json:"status"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// ParseUpdatePayload decodes a raw update body into its UpdateOp
// variant. A missing or unrecognized op, or a variant missing a
// required field, fails with ErrUnprocessable before any store access.
func ParseUpdatePayload(raw []byte) (UpdateOp, error) {
	var p updatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed update payload: %v", ErrUnprocessable, err)
	}

	switch p.Op {
	case "abort":
		return AbortOp{}, nil
	case "transformationStarted":
		return TransformationStartedOp{}, nil
	case "transformationFailed":
		return TransformationFailedOp{Error: p.Error}, nil
	case "transformationDone":
		if p.NumberOfRecords == nil {
			return nil, fmt.Errorf("%w: transformationDone requires numberOfRecords", ErrUnprocessable)
		}
		failed := p.FailedRecords
		if failed == nil {
			failed = []string{}
		}
		return TransformationDoneOp{NumberOfRecords: *p.NumberOfRecords, FailedRecords: failed}, nil
	case "recordProcessed":
		if p.Status == "" {
			return nil, fmt.Errorf("%w: recordProcessed requires status", ErrUnprocessable)
		}
		return RecordProcessedOp{Status: p.Status, Metadata: p.Metadata}, nil
	case "":
		return nil, fmt.Errorf("%w: update payload is missing op", ErrUnprocessable)
	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrUnprocessable, p.Op)
	}
}
