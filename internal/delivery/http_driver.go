package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
	pkgerrors "github.com/pixelrelay/pixelrelay-backend/pkg/errors"
)

const defaultChunkSize = 100

// HTTPDriver delivers events to the attribution API over HTTPS. Batches are
// split into chunks; each chunk is one POST and one classification.
type HTTPDriver struct {
	client    *http.Client
	baseURL   string
	chunkSize int
}

// NewHTTPDriver builds the live driver from delivery configuration.
func NewHTTPDriver(cfg config.DeliveryConfig) *HTTPDriver {
	chunk := cfg.ChunkSize
	if chunk <= 0 || chunk > defaultChunkSize {
		chunk = defaultChunkSize
	}
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDriver{
		client:    &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		chunkSize: chunk,
	}
}

type eventsRequest struct {
	Data          []Payload `json:"data"`
	TestEventCode string    `json:"test_event_code,omitempty"`
	AccessToken   string    `json:"access_token"`
}

type eventsResponse struct {
	EventsReceived int    `json:"events_received"`
	TraceID        string `json:"fbtrace_id"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
		TraceID string `json:"fbtrace_id"`
	} `json:"error"`
}

// SendBatch posts the payloads in chunks. Every payload gets a Result; chunk
// failures are classified once and attached to each payload in the chunk,
// then aggregated into the returned error.
func (d *HTTPDriver) SendBatch(ctx context.Context, cred Credential, payloads []Payload) (*BatchResult, error) {
	if len(payloads) == 0 {
		return &BatchResult{}, nil
	}
	if len(payloads) > MaxBatchSize {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("batch of %d exceeds the cap of %d", len(payloads), MaxBatchSize))
	}
	if cred.DatasetID == "" || cred.AccessToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination credential is incomplete")
	}

	start := time.Now()
	batch := &BatchResult{}
	var combined error

	for offset := 0; offset < len(payloads); offset += d.chunkSize {
		end := offset + d.chunkSize
		if end > len(payloads) {
			end = len(payloads)
		}
		chunk := payloads[offset:end]

		traceID, response, err := d.postChunk(ctx, cred, chunk)
		combined = multierr.Append(combined, err)
		for _, payload := range chunk {
			batch.Results = append(batch.Results, Result{
				EventID:  payload.EventID,
				TraceID:  traceID,
				Response: response,
				Err:      err,
			})
		}
	}

	batch.Duration = time.Since(start)
	return batch, combined
}

func (d *HTTPDriver) postChunk(ctx context.Context, cred Credential, chunk []Payload) (string, json.RawMessage, error) {
	body, err := json.Marshal(eventsRequest{
		Data:          chunk,
		TestEventCode: cred.TestToken,
		AccessToken:   cred.AccessToken,
	})
	if err != nil {
		return "", nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode delivery request")
	}

	url := fmt.Sprintf("%s/%s/events", d.baseURL, cred.DatasetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build delivery request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", nil, pkgerrors.Wrap(pkgerrors.CodeDeliveryTransport, err, "post events")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", nil, pkgerrors.Wrap(pkgerrors.CodeDeliveryTransport, err, "read delivery response")
	}

	return classifyResponse(resp.StatusCode, raw)
}

// classifyResponse maps a status code onto the delivery error taxonomy:
// 429 is rate limiting, other 4xx are terminal rejections with the API's
// message when the body is structured, and 5xx is transport trouble.
func classifyResponse(status int, raw []byte) (string, json.RawMessage, error) {
	switch {
	case status >= 200 && status < 300:
		var parsed eventsResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return "", json.RawMessage(raw), nil
		}
		return parsed.TraceID, json.RawMessage(raw), nil

	case status == http.StatusTooManyRequests:
		return apiTraceID(raw), json.RawMessage(raw),
			pkgerrors.New(pkgerrors.CodeDeliveryRateLimited, "destination rate limited the batch")

	case status >= 400 && status < 500:
		message := fmt.Sprintf("destination rejected the batch with status %d", status)
		var parsed apiErrorBody
		if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
			message = fmt.Sprintf("%s (%s, code %d)", parsed.Error.Message, parsed.Error.Type, parsed.Error.Code)
		}
		return apiTraceID(raw), json.RawMessage(raw),
			pkgerrors.New(pkgerrors.CodeDeliveryRejected, message)

	default:
		return apiTraceID(raw), json.RawMessage(raw),
			pkgerrors.New(pkgerrors.CodeDeliveryTransport,
				fmt.Sprintf("destination answered with status %d", status))
	}
}

func apiTraceID(raw []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(raw, &parsed); err == nil {
		return parsed.Error.TraceID
	}
	return ""
}
