package uploader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pingvault/pingvault/internal/config"
	"github.com/pingvault/pingvault/internal/store"
)

func newTestStore(t *testing.T, n int) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "pings"), store.PolicyWarn)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	for i := 1; i <= n; i++ {
		p := store.Ping{
			ID:          int64(i),
			Destination: "submit/telemetry/doc",
			Payload:     json.RawMessage(`{"seq":` + strconv.Itoa(i) + `}`),
		}
		if err := s.Put(p); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	return s
}

func newTestUploader(t *testing.T, st *store.Store, endpoint string) *Uploader {
	t.Helper()
	u, err := New(config.UploaderConfig{
		Endpoint: endpoint,
		Interval: time.Minute,
		Timeout:  5 * time.Second,
	}, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return u
}

func storeCount(t *testing.T, st *store.Store) int {
	t.Helper()
	n, err := st.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	return n
}

func TestUploadOnce_DeliversAndAcknowledges(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	st := newTestStore(t, 3)
	u := newTestUploader(t, st, ts.URL)

	if transient := u.uploadOnce(context.Background()); transient {
		t.Error("uploadOnce reported transient failure")
	}

	if n := storeCount(t, st); n != 0 {
		t.Errorf("store count after full delivery: got %d, want 0", n)
	}
	if len(paths) != 3 {
		t.Fatalf("collector received %d requests, want 3", len(paths))
	}
	for _, p := range paths {
		if p != "/submit/telemetry/doc" {
			t.Errorf("request path: got %q", p)
		}
	}
	if st := u.Stats(); st.Delivered != 3 {
		t.Errorf("delivered counter: got %d, want 3", st.Delivered)
	}
}

func TestUploadOnce_OldestFirst(t *testing.T) {
	var mu sync.Mutex
	var seqs []int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var doc struct {
			Seq int `json:"seq"`
		}
		json.NewDecoder(r.Body).Decode(&doc) //nolint:errcheck
		mu.Lock()
		seqs = append(seqs, doc.Seq)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	st := newTestStore(t, 4)
	u := newTestUploader(t, st, ts.URL)
	u.uploadOnce(context.Background())

	if len(seqs) != 4 {
		t.Fatalf("got %d requests, want 4", len(seqs))
	}
	for i, seq := range seqs {
		if seq != i+1 {
			t.Errorf("delivery order[%d]: got seq %d, want %d", i, seq, i+1)
		}
	}
}

func TestUploadOnce_RejectedPingDiscarded(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	st := newTestStore(t, 2)
	u := newTestUploader(t, st, ts.URL)

	if transient := u.uploadOnce(context.Background()); transient {
		t.Error("4xx must not count as transient")
	}
	// Permanently rejected documents are removed like delivered ones.
	if n := storeCount(t, st); n != 0 {
		t.Errorf("store count after rejections: got %d, want 0", n)
	}
	if s := u.Stats(); s.Rejected != 2 {
		t.Errorf("rejected counter: got %d, want 2", s.Rejected)
	}
}

func TestUploadOnce_ServerErrorRetainsPings(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	st := newTestStore(t, 3)
	u := newTestUploader(t, st, ts.URL)

	if transient := u.uploadOnce(context.Background()); !transient {
		t.Error("5xx must count as transient")
	}
	if n := storeCount(t, st); n != 3 {
		t.Errorf("store count after 5xx: got %d, want 3", n)
	}
}

func TestUploadOnce_PartialDelivery(t *testing.T) {
	// Accept the first two requests, then fail with 5xx.
	var mu sync.Mutex
	accepted := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if accepted < 2 {
			accepted++
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	st := newTestStore(t, 5)
	u := newTestUploader(t, st, ts.URL)

	if transient := u.uploadOnce(context.Background()); !transient {
		t.Error("expected transient failure")
	}
	// Only the confirmed subset is removed; IDs 3..5 survive for retry.
	if n := storeCount(t, st); n != 3 {
		t.Errorf("store count after partial delivery: got %d, want 3", n)
	}
}

func TestUploadOnce_UnreachableCollector(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // nothing listening

	st := newTestStore(t, 2)
	u := newTestUploader(t, st, ts.URL)

	if transient := u.uploadOnce(context.Background()); !transient {
		t.Error("connection refusal must count as transient")
	}
	if n := storeCount(t, st); n != 2 {
		t.Errorf("store count after failed cycle: got %d, want 2", n)
	}
	if s := u.Stats(); s.Failed == 0 {
		t.Error("failed counter not incremented")
	}
}

func TestUploadOnce_EmptyStoreNoRequests(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer ts.Close()

	st := newTestStore(t, 0)
	u := newTestUploader(t, st, ts.URL)
	u.uploadOnce(context.Background())

	if requests != 0 {
		t.Errorf("empty store produced %d requests", requests)
	}
}

func TestAuthRoundTripper_APIKey(t *testing.T) {
	t.Setenv("COLLECTOR_KEY", "supersecret")

	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("x-api-key")
	}))
	defer ts.Close()

	st := newTestStore(t, 1)
	u, err := New(config.UploaderConfig{
		Endpoint: ts.URL,
		Interval: time.Minute,
		Timeout:  5 * time.Second,
		Auth: config.AuthConfig{
			Mode:   "apikey",
			Header: "x-api-key",
			KeyEnv: "COLLECTOR_KEY",
		},
	}, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	u.uploadOnce(context.Background())
	if got != "supersecret" {
		t.Errorf("api key header: got %q, want supersecret", got)
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base, dest, want string
	}{
		{"http://c.example.com", "a/b", "http://c.example.com/a/b"},
		{"http://c.example.com/", "a/b", "http://c.example.com/a/b"},
		{"http://c.example.com/", "/a/b", "http://c.example.com/a/b"},
		{"http://c.example.com", "/a/b", "http://c.example.com/a/b"},
	}
	for _, tc := range tests {
		if got := joinURL(tc.base, tc.dest); got != tc.want {
			t.Errorf("joinURL(%q, %q): got %q, want %q", tc.base, tc.dest, got, tc.want)
		}
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	bo := newBackoff()
	var last time.Duration
	for i := 0; i < 10; i++ {
		last = bo.next()
	}
	// ±25% jitter around the 60s cap.
	if last > backoffMax+backoffMax/4 {
		t.Errorf("backoff exceeded cap: %v", last)
	}
	bo.reset()
	if d := bo.next(); d > backoffInitial+backoffInitial/4 {
		t.Errorf("backoff after reset: %v", d)
	}
}
