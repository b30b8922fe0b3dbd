package splists

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// etagServer simulates a single item whose PATCH/DELETE handling is scripted
// per call, recording every request line.
type etagServer struct {
	mu       sync.Mutex
	log      []string
	ifMatch  []string
	mutation func(n int) int
	get      func(w http.ResponseWriter)
	mutCalls int
}

func (s *etagServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.log = append(s.log, r.Method)
	if r.Method != http.MethodGet {
		s.mutCalls++
		s.ifMatch = append(s.ifMatch, r.Header.Get("If-Match"))
	}
	n := s.mutCalls
	s.mu.Unlock()

	if r.Method == http.MethodGet {
		s.get(w)
		return
	}
	status := s.mutation(n)
	if status == http.StatusPreconditionFailed {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"message":{"value":"The request ETag value does not match the object's ETag value."}}}`)
		return
	}
	w.WriteHeader(status)
}

func freshEtag(w http.ResponseWriter) {
	w.Header().Set("ETag", `"7"`)
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"Id":3,"Title":"x"}`)
}

func TestUpdateItemRepairsPreconditionFailure(t *testing.T) {
	srv := &etagServer{
		mutation: func(n int) int {
			if n == 1 {
				return http.StatusPreconditionFailed
			}
			return http.StatusNoContent
		},
		get: freshEtag,
	}
	server := httptest.NewServer(srv)
	defer server.Close()

	registry := prometheus.NewRegistry()
	client, _ := newTestClient(t, server.URL, WithMetricsCollector(NewMetricsCollectorWithRegistry(registry)))

	err := client.UpdateItem(context.Background(), NewTitleRef("Records"), 3, map[string]any{"Title": "y"}, `"6"`)
	if err != nil {
		t.Fatalf("UpdateItem returned error: %v", err)
	}
	if got := strings.Join(srv.log, ","); got != "PATCH,GET,PATCH" {
		t.Errorf("Expected PATCH,GET,PATCH, got %s", got)
	}
	if len(srv.ifMatch) != 2 || srv.ifMatch[0] != `"6"` || srv.ifMatch[1] != `"7"` {
		t.Errorf("Expected If-Match \"6\" then \"7\", got %v", srv.ifMatch)
	}
	if got := testutil.ToFloat64(client.metrics.etagRefreshes.WithLabelValues("repaired")); got != 1 {
		t.Errorf("Expected 1 repaired refresh, got %v", got)
	}
}

func TestUpdateItemRefreshNotFound(t *testing.T) {
	srv := &etagServer{
		mutation: func(int) int { return http.StatusPreconditionFailed },
		get: func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusNotFound)
		},
	}
	server := httptest.NewServer(srv)
	defer server.Close()

	client, _ := newTestClient(t, server.URL)

	err := client.UpdateItem(context.Background(), NewTitleRef("Records"), 3, map[string]any{"Title": "y"}, `"6"`)
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("Expected item not found, got %v", err)
	}
	if srv.mutCalls != 1 {
		t.Errorf("Expected no second mutation, got %d", srv.mutCalls)
	}
}

func TestUpdateItemRefreshWithoutEtag(t *testing.T) {
	srv := &etagServer{
		mutation: func(int) int { return http.StatusPreconditionFailed },
		get: func(w http.ResponseWriter) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"Id":3}`)
		},
	}
	server := httptest.NewServer(srv)
	defer server.Close()

	client, _ := newTestClient(t, server.URL)

	err := client.UpdateItem(context.Background(), NewTitleRef("Records"), 3, nil, `"6"`)
	if !errors.Is(err, ErrMissingEtag) {
		t.Fatalf("Expected missing etag, got %v", err)
	}
	if srv.mutCalls != 1 {
		t.Errorf("Expected no second mutation, got %d", srv.mutCalls)
	}
}

func TestUpdateItemConflictPersists(t *testing.T) {
	srv := &etagServer{
		mutation: func(int) int { return http.StatusPreconditionFailed },
		get:      freshEtag,
	}
	server := httptest.NewServer(srv)
	defer server.Close()

	client, _ := newTestClient(t, server.URL)

	err := client.UpdateItem(context.Background(), NewTitleRef("Records"), 3, map[string]any{"Title": "y"}, `"6"`)
	if !errors.Is(err, ErrMissingEtag) {
		t.Fatalf("Expected missing etag, got %v", err)
	}
	if !strings.Contains(err.Error(), "conflict persisted after refresh") {
		t.Errorf("Expected persisted-conflict message, got %v", err)
	}
	if srv.mutCalls != 2 {
		t.Errorf("Expected exactly 2 mutations, got %d", srv.mutCalls)
	}
}

func TestDeleteItemRepairsPreconditionFailure(t *testing.T) {
	srv := &etagServer{
		mutation: func(n int) int {
			if n == 1 {
				return http.StatusPreconditionFailed
			}
			return http.StatusOK
		},
		get: freshEtag,
	}
	server := httptest.NewServer(srv)
	defer server.Close()

	client, _ := newTestClient(t, server.URL)

	if err := client.DeleteItem(context.Background(), NewTitleRef("Records"), 3, ""); err != nil {
		t.Fatalf("DeleteItem returned error: %v", err)
	}
	if got := strings.Join(srv.log, ","); got != "DELETE,GET,DELETE" {
		t.Errorf("Expected DELETE,GET,DELETE, got %s", got)
	}
	if srv.ifMatch[0] != "*" {
		t.Errorf("Expected If-Match * for an empty etag, got %q", srv.ifMatch[0])
	}
}

func TestUpdateItemOtherErrorsPassThrough(t *testing.T) {
	srv := &etagServer{
		mutation: func(int) int { return http.StatusForbidden },
		get:      freshEtag,
	}
	server := httptest.NewServer(srv)
	defer server.Close()

	client, _ := newTestClient(t, server.URL)

	err := client.UpdateItem(context.Background(), NewTitleRef("Records"), 3, nil, `"1"`)
	if !errors.Is(err, ErrNonRetryableHTTP) {
		t.Fatalf("Expected non-retryable error, got %v", err)
	}
	if got := strings.Join(srv.log, ","); got != "PATCH" {
		t.Errorf("Expected a single PATCH, got %s", got)
	}
}

func TestGetAndCreateItem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"Title":"hello"}` {
				t.Errorf("Unexpected create body %s", body)
			}
			writeJSON(t, w, http.StatusCreated, `{"d":{"Id":9,"Title":"hello","__metadata":{"etag":"\"1\""}}}`)
		case http.MethodGet:
			w.Header().Set("ETag", `"2"`)
			writeJSON(t, w, http.StatusOK, `{"Id":9,"Title":"hello"}`)
		}
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL)
	list := NewTitleRef("Records")

	created, err := client.CreateItem(context.Background(), list, map[string]any{"Title": "hello"})
	if err != nil {
		t.Fatalf("CreateItem returned error: %v", err)
	}
	if created.ETag != `"1"` {
		t.Errorf("Expected payload etag, got %q", created.ETag)
	}

	item, err := client.GetItem(context.Background(), list, 9)
	if err != nil {
		t.Fatalf("GetItem returned error: %v", err)
	}
	var decoded struct {
		ID    int    `json:"Id"`
		Title string `json:"Title"`
	}
	if err := item.Decode(&decoded); err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if decoded.ID != 9 || item.ETag != `"2"` {
		t.Errorf("Unexpected item %+v etag %q", decoded, item.ETag)
	}
}

func TestMutateRejectsInvalidID(t *testing.T) {
	client, _ := newTestClient(t, "https://example.com")
	if err := client.DeleteItem(context.Background(), NewTitleRef("Records"), 0, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}
