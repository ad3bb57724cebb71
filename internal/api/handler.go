package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/pingvault/pingvault/internal/store"
	"github.com/pingvault/pingvault/internal/uploader"
)

// Handler is the HTTP handler for all /api/v1/* endpoints plus /metrics.
// It is the producer surface (POST enqueues a ping) and the operator surface
// (inspection, manual ack, manual prune) over one ping store.
type Handler struct {
	store    *store.Store
	uploader *uploader.Uploader // nil when upload is disabled
	capacity int
	mux      *http.ServeMux
}

// New creates a Handler wired to the given store and registers all routes.
// up may be nil; its stats are then omitted from health and metrics.
func New(st *store.Store, up *uploader.Uploader, capacity int) *Handler {
	h := &Handler{store: st, uploader: up, capacity: capacity, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/pings", h.pings)
	h.mux.HandleFunc("/api/v1/pings/", h.pingByID) // subtree — extracts {id}
	h.mux.HandleFunc("/api/v1/prune", h.prune)
	h.mux.HandleFunc("/metrics", h.metrics)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// BuildStatus assembles the shared health/status document. The ws hub calls
// this on every broadcast tick.
func BuildStatus(st *store.Store, up *uploader.Uploader, capacity int) StatusResponse {
	count, err := st.Count()
	resp := StatusResponse{
		State:    "ok",
		Count:    count,
		Capacity: capacity,
		Store:    st.Stats(),
	}
	if err != nil || count > capacity {
		resp.State = "over_capacity"
	}
	if up != nil {
		s := up.Stats()
		resp.Uploader = &s
	}
	return resp
}

// --- route handlers ----------------------------------------------------------

// health returns GET /api/v1/health — store occupancy and lifetime counters.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildStatus(h.store, h.uploader, h.capacity))
}

// pings handles GET /api/v1/pings (list, sorted by ID) and
// POST /api/v1/pings (enqueue a new ping with a store-assigned ID).
func (h *Handler) pings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listPings(w, r)
	case http.MethodPost:
		h.enqueuePing(w, r)
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) listPings(w http.ResponseWriter, _ *http.Request) {
	pings, err := h.store.All()
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "enumerate store: "+err.Error())
		return
	}
	sort.Slice(pings, func(i, j int) bool { return pings[i].ID < pings[j].ID })

	out := make([]PingResponse, 0, len(pings))
	for _, p := range pings {
		out = append(out, toPingResponse(p))
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) enqueuePing(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Destination == "" {
		jsonErr(w, http.StatusBadRequest, "destination is required")
		return
	}
	if len(req.Payload) == 0 {
		jsonErr(w, http.StatusBadRequest, "payload is required")
		return
	}

	id := h.store.NextID()
	err := h.store.Put(store.Ping{ID: id, Destination: req.Destination, Payload: req.Payload})
	if err != nil {
		if errors.Is(err, store.ErrWriteFailed) {
			jsonErr(w, http.StatusInsufficientStorage, "storage write failed")
			return
		}
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusCreated, EnqueueResponse{ID: id})
}

// pingByID handles GET and DELETE on /api/v1/pings/{id}. DELETE is the
// single-ping acknowledge: removing an already-absent ID succeeds with
// removed=0.
func (h *Handler) pingByID(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/api/v1/pings/")
	if raw == "" {
		// Redirect bare /api/v1/pings/ to the collection handler.
		h.pings(w, r)
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		jsonErr(w, http.StatusBadRequest, "invalid ping id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getPing(w, id)
	case http.MethodDelete:
		removed := h.store.Acknowledge([]int64{id})
		jsonResp(w, http.StatusOK, DeleteResponse{Removed: removed})
	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) getPing(w http.ResponseWriter, id int64) {
	pings, err := h.store.All()
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "enumerate store: "+err.Error())
		return
	}
	for _, p := range pings {
		if p.ID == id {
			jsonResp(w, http.StatusOK, toPingResponse(p))
			return
		}
	}
	jsonErr(w, http.StatusNotFound, "ping not found")
}

// prune handles POST /api/v1/prune — a manual oldest-first eviction pass.
// The optional ?max= query overrides the configured capacity for this call.
func (h *Handler) prune(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	max := h.capacity
	if raw := r.URL.Query().Get("max"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			jsonErr(w, http.StatusBadRequest, "invalid max")
			return
		}
		max = v
	}

	removed, err := h.store.Prune(max)
	jsonResp(w, http.StatusOK, PruneResponse{Removed: removed, Incomplete: err != nil})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toPingResponse(p store.Ping) PingResponse {
	return PingResponse{ID: p.ID, Destination: p.Destination, Payload: p.Payload}
}
