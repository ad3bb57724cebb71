package api

import (
	"encoding/json"

	"github.com/pingvault/pingvault/internal/store"
	"github.com/pingvault/pingvault/internal/uploader"
)

// StatusResponse is the payload for GET /api/v1/health and the envelope the
// ws hub broadcasts to its clients.
type StatusResponse struct {
	// State is "ok", or "over_capacity" while the store transiently exceeds
	// its bound between an insert and the next prune pass.
	State    string          `json:"state"`
	Count    int             `json:"count"`
	Capacity int             `json:"capacity"`
	Store    store.Stats     `json:"store"`
	Uploader *uploader.Stats `json:"uploader,omitempty"`
}

// PingResponse is one ping in GET /api/v1/pings or GET /api/v1/pings/{id}.
type PingResponse struct {
	ID          int64           `json:"id"`
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
}

// EnqueueRequest is the body of POST /api/v1/pings.
type EnqueueRequest struct {
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
}

// EnqueueResponse reports the ID the store assigned to an enqueued ping.
type EnqueueResponse struct {
	ID int64 `json:"id"`
}

// DeleteResponse reports how many files a DELETE actually removed (0 when
// the ID was already absent — that is not an error).
type DeleteResponse struct {
	Removed int `json:"removed"`
}

// PruneResponse is the payload for POST /api/v1/prune. Incomplete is set
// when some deletions failed; eviction is best-effort, so the call still
// succeeds.
type PruneResponse struct {
	Removed    int  `json:"removed"`
	Incomplete bool `json:"incomplete,omitempty"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
