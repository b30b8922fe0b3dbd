package splists

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// batchReply renders a batch response body with one application/http part per
// status line.
func batchReply(boundary string, parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: application/http\r\n")
		b.WriteString("Content-Transfer-Encoding: binary\r\n\r\n")
		b.WriteString(p)
		b.WriteString("\r\n")
	}
	b.WriteString("--" + boundary + "--\r\n")
	return b.String()
}

const (
	createdPart   = "HTTP/1.1 201 Created\r\nContent-Type: application/json;odata=nometadata\r\nETag: \"1\"\r\n\r\n{\"d\":{\"Id\":11}}"
	noContentPart = "HTTP/1.1 204 No Content\r\n\r\n"
	conflictPart  = "HTTP/1.1 412 Precondition Failed\r\nContent-Type: application/json\r\n\r\n{\"error\":{\"message\":{\"value\":\"version conflict\"}}}"
)

func requestBoundary(t *testing.T, r *http.Request) string {
	t.Helper()
	ct := r.Header.Get("Content-Type")
	_, boundary, ok := strings.Cut(ct, "boundary=")
	if !strings.HasPrefix(ct, "multipart/mixed") || !ok {
		t.Errorf("Unexpected batch content type %q", ct)
	}
	return boundary
}

func sampleOps() []BatchOperation {
	list := NewTitleRef("Records")
	return []BatchOperation{
		{Kind: OpCreate, List: list, Body: map[string]any{"Title": "new"}},
		{Kind: OpUpdate, List: list, ID: 4, Body: map[string]any{"Title": "changed"}, ETag: `"3"`},
		{Kind: OpDelete, List: list, ID: 5},
	}
}

func TestBatchEncodesAndDecodesInOrder(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost || r.URL.Path != "/_api/$batch" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		boundary := requestBoundary(t, r)
		if !strings.HasPrefix(boundary, "batch_") {
			t.Errorf("Expected batch_ boundary, got %q", boundary)
		}
		body, _ := io.ReadAll(r.Body)
		text := string(body)
		for _, want := range []string{
			"POST " + "http://" + r.Host + "/_api/web/lists/getbytitle('Records')/items HTTP/1.1",
			"PATCH " + "http://" + r.Host + "/_api/web/lists/getbytitle('Records')/items(4) HTTP/1.1",
			"If-Match: \"3\"",
			"DELETE " + "http://" + r.Host + "/_api/web/lists/getbytitle('Records')/items(5) HTTP/1.1",
			"If-Match: *",
			`{"Title":"new"}`,
		} {
			if !strings.Contains(text, want) {
				t.Errorf("Expected batch body to contain %q", want)
			}
		}

		reply := "batchresponse_" + strings.TrimPrefix(boundary, "batch_")
		w.Header().Set("Content-Type", "multipart/mixed; boundary="+reply)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, batchReply(reply, createdPart, conflictPart, noContentPart))
	}))
	defer server.Close()

	registry := prometheus.NewRegistry()
	client, _ := newTestClient(t, server.URL, WithMetricsCollector(NewMetricsCollectorWithRegistry(registry)))

	results, err := client.Batch(context.Background(), sampleOps())
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected one HTTP call, got %d", calls)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	if !results[0].OK || results[0].Status != 201 || string(results[0].Data) != `{"Id":11}` {
		t.Errorf("Unexpected create result %+v", results[0])
	}
	if results[1].OK || results[1].Status != 412 || !strings.Contains(string(results[1].Data), "version conflict") {
		t.Errorf("Unexpected update result %+v", results[1])
	}
	if !results[2].OK || results[2].Status != 204 || results[2].Data != nil {
		t.Errorf("Unexpected delete result %+v", results[2])
	}

	mc := client.metrics
	if got := testutil.ToFloat64(mc.batchOperations.WithLabelValues("update", "failed")); got != 1 {
		t.Errorf("Expected 1 failed update, got %v", got)
	}
	if got := testutil.ToFloat64(mc.batchOperations.WithLabelValues("create", "ok")); got != 1 {
		t.Errorf("Expected 1 ok create, got %v", got)
	}
}

func TestBatchEmptyMakesNoCalls(t *testing.T) {
	var tokenCalls, httpCalls int32
	token := func(context.Context, bool) (string, error) {
		atomic.AddInt32(&tokenCalls, 1)
		return testToken, nil
	}
	client, err := New("https://example.com", token, WithDoer(DoerFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&httpCalls, 1)
		return nil, errors.New("unreachable")
	})))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	results, err := client.Batch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("Expected empty non-nil results, got %v", results)
	}
	if tokenCalls != 0 || httpCalls != 0 {
		t.Errorf("Expected no token or HTTP calls, got %d and %d", tokenCalls, httpCalls)
	}
}

func TestBatchMissingTokenFailsBeforeNetwork(t *testing.T) {
	var httpCalls int32
	client, err := New("https://example.com", staticToken(""), WithDoer(DoerFunc(func(*http.Request) (*http.Response, error) {
		atomic.AddInt32(&httpCalls, 1)
		return nil, errors.New("unreachable")
	})))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	_, err = client.Batch(context.Background(), sampleOps())
	if !errors.Is(err, ErrAuthRequired) {
		t.Errorf("Expected auth required, got %v", err)
	}
	if httpCalls != 0 {
		t.Errorf("Expected no HTTP call, got %d", httpCalls)
	}
}

func TestBatchFallsBackToRequestBoundary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		boundary := requestBoundary(t, r)
		w.Header().Set("Content-Type", "multipart/mixed")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, batchReply(boundary, createdPart, noContentPart))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL)
	ops := sampleOps()[:2]

	results, err := client.Batch(context.Background(), ops)
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	if len(results) != 2 || results[0].Status != 201 || results[1].Status != 204 {
		t.Errorf("Unexpected results %+v", results)
	}
}

func TestBatchPadsAndTruncates(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		ops   int
	}{
		{"fewer parts", []string{createdPart}, 3},
		{"more parts", []string{createdPart, noContentPart, noContentPart, noContentPart}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "multipart/mixed; boundary=batchresponse_x")
				_, _ = io.WriteString(w, batchReply("batchresponse_x", tt.parts...))
			}))
			defer server.Close()

			client, _ := newTestClient(t, server.URL)
			results, err := client.Batch(context.Background(), sampleOps()[:tt.ops])
			if err != nil {
				t.Fatalf("Batch returned error: %v", err)
			}
			if len(results) != tt.ops {
				t.Fatalf("Expected %d results, got %d", tt.ops, len(results))
			}
			last := results[len(results)-1]
			if tt.ops > len(tt.parts) && (last.OK || last.Status != 0 || last.Text != "missing response") {
				t.Errorf("Expected padded result, got %+v", last)
			}
		})
	}
}

func TestBatchRetriedAsOneUnit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		boundary := requestBoundary(t, r)
		w.Header().Set("Content-Type", "multipart/mixed; boundary=b_"+boundary)
		_, _ = io.WriteString(w, batchReply("b_"+boundary, noContentPart))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL)
	results, err := client.Batch(context.Background(), sampleOps()[2:])
	if err != nil {
		t.Fatalf("Batch returned error: %v", err)
	}
	if calls != 2 || len(results) != 1 || !results[0].OK {
		t.Errorf("Expected one retry of the whole batch, got %d calls, %+v", calls, results)
	}
}

func TestBatchUndecodableReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "gateway says hello")
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL)
	results, err := client.Batch(context.Background(), sampleOps())
	if !IsBatchDecodeError(err) {
		t.Fatalf("Expected decode error, got %v", err)
	}
	if len(results) != 3 {
		t.Errorf("Expected 3 padded results, got %d", len(results))
	}
}

func TestBatchRejectsInvalidOperations(t *testing.T) {
	client, _ := newTestClient(t, "https://example.com")

	tests := []struct {
		name string
		op   BatchOperation
	}{
		{"unknown kind", BatchOperation{Kind: "upsert", List: NewTitleRef("Records")}},
		{"update without id", BatchOperation{Kind: OpUpdate, List: NewTitleRef("Records")}},
		{"no list", BatchOperation{Kind: OpCreate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := client.Batch(context.Background(), []BatchOperation{tt.op}); !errors.Is(err, ErrValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}
