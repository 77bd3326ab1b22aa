package delivery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Credential carries the decrypted destination credential for one surface.
// It exists only in memory; at rest the surface row holds ciphertext.
type Credential struct {
	DatasetID   string `json:"dataset_id"`
	AccessToken string `json:"access_token"`
	TestToken   string `json:"test_token,omitempty"`
}

// Payload is one event in the shape the attribution API accepts.
type Payload struct {
	EventID      uuid.UUID       `json:"-"`
	EventName    string          `json:"event_name"`
	EventTime    int64           `json:"event_time"`
	ActionSource string          `json:"action_source"`
	SourceURL    string          `json:"event_source_url"`
	EventCode    string          `json:"event_id,omitempty"`
	UserData     json.RawMessage `json:"user_data"`
	CustomData   json.RawMessage `json:"custom_data,omitempty"`
}

// Result is the per-event outcome of a delivery attempt.
type Result struct {
	EventID  uuid.UUID
	TraceID  string
	Response json.RawMessage
	Err      error
}

// BatchResult aggregates the outcomes of one Deliver call.
type BatchResult struct {
	Results  []Result
	Duration time.Duration
}

// Failed returns the results whose delivery failed.
func (b BatchResult) Failed() []Result {
	var failed []Result
	for _, r := range b.Results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}

// MaxBatchSize is the hard cap per SendBatch call. Callers chunk well below
// it; exceeding the cap is a programming error, not a retryable condition.
const MaxBatchSize = 1000

// Driver sends event payloads to a destination. Implementations classify
// failures with pkg/errors delivery codes so the scheduler can tell
// retryable outcomes from terminal ones.
type Driver interface {
	SendBatch(ctx context.Context, cred Credential, payloads []Payload) (*BatchResult, error)
}
