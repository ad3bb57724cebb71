package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/common/expfmt"

	"github.com/pingvault/pingvault/internal/store"
)

const testCapacity = 40

func newTestHandler(t *testing.T, seeded int) (*Handler, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "pings"), store.PolicyWarn)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	for i := 1; i <= seeded; i++ {
		p := store.Ping{
			ID:          int64(i),
			Destination: "submit/doc/" + strconv.Itoa(i),
			Payload:     json.RawMessage(`{"n":` + strconv.Itoa(i) + `}`),
		}
		if err := st.Put(p); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	return New(st, nil, testCapacity), st
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, 3)
	rec := do(t, h, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	resp := decode[StatusResponse](t, rec)
	if resp.State != "ok" {
		t.Errorf("state: got %q", resp.State)
	}
	if resp.Count != 3 {
		t.Errorf("count: got %d, want 3", resp.Count)
	}
	if resp.Capacity != testCapacity {
		t.Errorf("capacity: got %d, want %d", resp.Capacity, testCapacity)
	}
	if resp.Store.Stored != 3 {
		t.Errorf("stored counter: got %d, want 3", resp.Store.Stored)
	}
	if resp.Uploader != nil {
		t.Error("uploader stats present with nil uploader")
	}
}

func TestHealth_OverCapacity(t *testing.T) {
	h, _ := newTestHandler(t, testCapacity+1)
	resp := decode[StatusResponse](t, do(t, h, http.MethodGet, "/api/v1/health", ""))
	if resp.State != "over_capacity" {
		t.Errorf("state: got %q, want over_capacity", resp.State)
	}
}

func TestListPings_SortedByID(t *testing.T) {
	h, _ := newTestHandler(t, 5)
	rec := do(t, h, http.MethodGet, "/api/v1/pings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	pings := decode[[]PingResponse](t, rec)
	if len(pings) != 5 {
		t.Fatalf("got %d pings, want 5", len(pings))
	}
	for i, p := range pings {
		if p.ID != int64(i+1) {
			t.Errorf("pings[%d].ID: got %d, want %d", i, p.ID, i+1)
		}
	}
}

func TestEnqueue_AssignsSequentialIDs(t *testing.T) {
	h, st := newTestHandler(t, 0)
	body := `{"destination":"submit/telemetry/core","payload":{"str":"a String","int":42}}`

	first := do(t, h, http.MethodPost, "/api/v1/pings", body)
	if first.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", first.Code, first.Body.String())
	}
	second := do(t, h, http.MethodPost, "/api/v1/pings", body)

	a := decode[EnqueueResponse](t, first)
	b := decode[EnqueueResponse](t, second)
	if b.ID != a.ID+1 {
		t.Errorf("ids not sequential: %d then %d", a.ID, b.ID)
	}

	n, err := st.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("store count: got %d, want 2", n)
	}
}

func TestEnqueue_Validation(t *testing.T) {
	h, _ := newTestHandler(t, 0)

	if rec := do(t, h, http.MethodPost, "/api/v1/pings", `{"payload":{"a":1}}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing destination: got %d, want 400", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/pings", `{"destination":"d"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing payload: got %d, want 400", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/api/v1/pings", `{not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: got %d, want 400", rec.Code)
	}
}

func TestGetPing(t *testing.T) {
	h, _ := newTestHandler(t, 3)
	rec := do(t, h, http.MethodGet, "/api/v1/pings/2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	p := decode[PingResponse](t, rec)
	if p.ID != 2 || p.Destination != "submit/doc/2" {
		t.Errorf("ping: got %+v", p)
	}

	if rec := do(t, h, http.MethodGet, "/api/v1/pings/99", ""); rec.Code != http.StatusNotFound {
		t.Errorf("absent id: got %d, want 404", rec.Code)
	}
}

func TestDeletePing_Acknowledges(t *testing.T) {
	h, st := newTestHandler(t, 3)

	rec := do(t, h, http.MethodDelete, "/api/v1/pings/2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if resp := decode[DeleteResponse](t, rec); resp.Removed != 1 {
		t.Errorf("removed: got %d, want 1", resp.Removed)
	}

	n, _ := st.Count()
	if n != 2 {
		t.Errorf("store count: got %d, want 2", n)
	}

	// Deleting an absent ID succeeds with removed=0.
	rec = do(t, h, http.MethodDelete, "/api/v1/pings/2", "")
	if rec.Code != http.StatusOK {
		t.Errorf("repeat delete status: got %d", rec.Code)
	}
	if resp := decode[DeleteResponse](t, rec); resp.Removed != 0 {
		t.Errorf("repeat delete removed: got %d, want 0", resp.Removed)
	}
}

func TestDeletePing_InvalidID(t *testing.T) {
	h, _ := newTestHandler(t, 1)
	if rec := do(t, h, http.MethodDelete, "/api/v1/pings/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rec.Code)
	}
}

func TestPrune_Endpoint(t *testing.T) {
	h, st := newTestHandler(t, 10)

	rec := do(t, h, http.MethodPost, "/api/v1/prune?max=4", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	resp := decode[PruneResponse](t, rec)
	if resp.Removed != 6 {
		t.Errorf("removed: got %d, want 6", resp.Removed)
	}
	if resp.Incomplete {
		t.Error("prune reported incomplete")
	}

	pings, err := st.All()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range pings {
		if p.ID < 7 {
			t.Errorf("ID %d survived prune to 4", p.ID)
		}
	}
}

func TestMetrics_Exposition(t *testing.T) {
	h, _ := newTestHandler(t, 3)
	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}

	// The output must be parseable by a standard Prometheus text parser.
	var parser expfmt.TextParser
	fams, err := parser.TextToMetricFamilies(rec.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	mf, ok := fams["pingvault_pings_stored"]
	if !ok {
		t.Fatal("pingvault_pings_stored missing from exposition")
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 3 {
		t.Errorf("pingvault_pings_stored: got %v, want 3", got)
	}
	if _, ok := fams["pingvault_pings_written_total"]; !ok {
		t.Error("pingvault_pings_written_total missing from exposition")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, 0)
	if rec := do(t, h, http.MethodPut, "/api/v1/health", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT health: got %d, want 405", rec.Code)
	}
	if rec := do(t, h, http.MethodDelete, "/api/v1/pings", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE collection: got %d, want 405", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/v1/prune", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET prune: got %d, want 405", rec.Code)
	}
}
