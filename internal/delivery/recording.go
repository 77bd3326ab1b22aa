package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// RecordingDriver is a no-op driver that remembers every batch it is handed.
// It always succeeds, which makes it useful both in tests and as a dry-run
// destination when the live credential is not yet provisioned.
type RecordingDriver struct {
	mu      sync.Mutex
	batches [][]Payload
	creds   []Credential
}

// NewRecordingDriver builds an empty recorder.
func NewRecordingDriver() *RecordingDriver {
	return &RecordingDriver{}
}

// SendBatch records the batch and reports success for every payload.
func (d *RecordingDriver) SendBatch(_ context.Context, cred Credential, payloads []Payload) (*BatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	recorded := make([]Payload, len(payloads))
	copy(recorded, payloads)
	d.batches = append(d.batches, recorded)
	d.creds = append(d.creds, cred)

	batch := &BatchResult{Duration: time.Millisecond}
	for i, payload := range payloads {
		batch.Results = append(batch.Results, Result{
			EventID:  payload.EventID,
			TraceID:  fmt.Sprintf("recorded-%d-%d", len(d.batches), i),
			Response: json.RawMessage(`{"recorded":true}`),
		})
	}
	return batch, nil
}

// Batches returns a copy of everything recorded so far.
func (d *RecordingDriver) Batches() [][]Payload {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]Payload, len(d.batches))
	copy(out, d.batches)
	return out
}

// Credentials returns the credentials seen per batch.
func (d *RecordingDriver) Credentials() []Credential {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Credential, len(d.creds))
	copy(out, d.creds)
	return out
}
