package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
	pkgerrors "github.com/pixelrelay/pixelrelay-backend/pkg/errors"
)

func testDriver(baseURL string, chunkSize int) *HTTPDriver {
	return NewHTTPDriver(config.DeliveryConfig{
		APIBaseURL: baseURL,
		ChunkSize:  chunkSize,
	})
}

func testCred() Credential {
	return Credential{DatasetID: "123", AccessToken: "token"}
}

func testPayloads(n int) []Payload {
	payloads := make([]Payload, n)
	for i := range payloads {
		payloads[i] = Payload{
			EventID:      uuid.New(),
			EventName:    "Purchase",
			EventTime:    1700000000,
			ActionSource: "website",
			SourceURL:    "https://shop.example.com",
			UserData:     json.RawMessage(`{"em":"hash"}`),
		}
	}
	return payloads
}

func TestSendBatchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/123/events" {
			t.Errorf("path = %s, want /123/events", r.URL.Path)
		}
		var body eventsRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.AccessToken != "token" {
			t.Errorf("access token = %s", body.AccessToken)
		}
		json.NewEncoder(w).Encode(map[string]any{"events_received": len(body.Data), "fbtrace_id": "tr-1"})
	}))
	defer server.Close()

	batch, err := testDriver(server.URL, 100).SendBatch(context.Background(), testCred(), testPayloads(2))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(batch.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(batch.Results))
	}
	for _, result := range batch.Results {
		if result.Err != nil {
			t.Errorf("unexpected result error: %v", result.Err)
		}
		if result.TraceID != "tr-1" {
			t.Errorf("trace id = %s", result.TraceID)
		}
	}
}

func TestSendBatchClassification(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		wantCode pkgerrors.Code
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, pkgerrors.CodeDeliveryRateLimited},
		{"structured rejection", http.StatusBadRequest,
			`{"error":{"message":"invalid parameter","type":"OAuthException","code":100,"fbtrace_id":"tr-x"}}`,
			pkgerrors.CodeDeliveryRejected},
		{"unstructured rejection", http.StatusForbidden, `nope`, pkgerrors.CodeDeliveryRejected},
		{"server error", http.StatusInternalServerError, `{}`, pkgerrors.CodeDeliveryTransport},
		{"bad gateway", http.StatusBadGateway, `{}`, pkgerrors.CodeDeliveryTransport},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			batch, err := testDriver(server.URL, 100).SendBatch(context.Background(), testCred(), testPayloads(1))
			appErr := pkgerrors.As(err)
			if appErr == nil || appErr.Code() != tc.wantCode {
				t.Fatalf("error = %v, want code %s", err, tc.wantCode)
			}
			if len(batch.Results) != 1 || batch.Results[0].Err == nil {
				t.Error("per-payload result should carry the classified error")
			}
		})
	}
}

func TestSendBatchNetworkErrorIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	_, err := testDriver(server.URL, 100).SendBatch(context.Background(), testCred(), testPayloads(1))
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeDeliveryTransport {
		t.Fatalf("error = %v, want transport", err)
	}
}

func TestSendBatchChunks(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var body eventsRequest
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Data) > 2 {
			t.Errorf("chunk of %d exceeds configured size 2", len(body.Data))
		}
		json.NewEncoder(w).Encode(map[string]any{"events_received": len(body.Data), "fbtrace_id": "tr"})
	}))
	defer server.Close()

	batch, err := testDriver(server.URL, 2).SendBatch(context.Background(), testCred(), testPayloads(5))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
	if len(batch.Results) != 5 {
		t.Errorf("results = %d, want 5", len(batch.Results))
	}
}

func TestSendBatchIncludesTestToken(t *testing.T) {
	var seen string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body eventsRequest
		json.NewDecoder(r.Body).Decode(&body)
		seen = body.TestEventCode
		json.NewEncoder(w).Encode(map[string]any{"events_received": 1, "fbtrace_id": "tr"})
	}))
	defer server.Close()

	cred := testCred()
	cred.TestToken = "TEST99"
	if _, err := testDriver(server.URL, 100).SendBatch(context.Background(), cred, testPayloads(1)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if seen != "TEST99" {
		t.Errorf("test_event_code = %q, want TEST99", seen)
	}
}

func TestSendBatchRejectsOversizedBatch(t *testing.T) {
	driver := testDriver("http://unused", 100)
	_, err := driver.SendBatch(context.Background(), testCred(), testPayloads(MaxBatchSize+1))
	appErr := pkgerrors.As(err)
	if appErr == nil || appErr.Code() != pkgerrors.CodeValidation {
		t.Fatalf("error = %v, want validation", err)
	}
}

func TestRecordingDriverRecords(t *testing.T) {
	driver := NewRecordingDriver()
	payloads := testPayloads(3)

	batch, err := driver.SendBatch(context.Background(), testCred(), payloads)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(batch.Failed()) != 0 {
		t.Error("recording driver must always succeed")
	}
	batches := driver.Batches()
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("recorded %d batches, want 1 of 3 payloads", len(batches))
	}
	if driver.Credentials()[0].DatasetID != "123" {
		t.Error("credential not recorded")
	}
}
