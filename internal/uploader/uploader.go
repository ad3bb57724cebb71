package uploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pingvault/pingvault/internal/config"
	"github.com/pingvault/pingvault/internal/store"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
)

// doFunc is the function signature used to execute one HTTP request.
// Abstracted so tests can inject a fake transport.
type doFunc func(req *http.Request) (*http.Response, error)

// Stats holds the uploader's lifetime delivery counters.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Rejected  uint64 `json:"rejected"`
	Failed    uint64 `json:"failed"`
}

// Uploader drains the ping store to the collector: each cycle it reads every
// stored ping, POSTs its payload to the collector base URL joined with the
// ping's destination path, and acknowledges the delivered subset so only
// confirmed pings are removed. Run() must be called in a goroutine.
type Uploader struct {
	cfg   config.UploaderConfig
	store *store.Store
	do    doFunc

	delivered atomic.Uint64
	rejected  atomic.Uint64
	failed    atomic.Uint64
}

// New creates an Uploader using the given uploader config.
func New(cfg config.UploaderConfig, st *store.Store) (*Uploader, error) {
	client, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("uploader: build http client: %w", err)
	}
	return &Uploader{cfg: cfg, store: st, do: client.Do}, nil
}

// Run executes upload cycles every Interval. When the collector is
// unreachable the next cycle is delayed by truncated exponential backoff
// instead, so an outage does not produce a request storm. Run blocks until
// ctx is cancelled.
func (u *Uploader) Run(ctx context.Context) {
	bo := newBackoff()
	timer := time.NewTimer(u.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		wait := u.cfg.Interval
		if transient := u.uploadOnce(ctx); transient {
			wait = bo.next()
			slog.Warn("uploader: collector unreachable, backing off",
				"endpoint", u.cfg.Endpoint, "retry_in", wait)
		} else {
			bo.reset()
		}
		timer.Reset(wait)
	}
}

// Stats returns a snapshot of the uploader's lifetime counters.
func (u *Uploader) Stats() Stats {
	return Stats{
		Delivered: u.delivered.Load(),
		Rejected:  u.rejected.Load(),
		Failed:    u.failed.Load(),
	}
}

// uploadOnce runs one delivery cycle: enumerate, send oldest first, then
// acknowledge exactly the subset the collector accepted. A transport failure
// or collector 5xx ends the cycle early (the rest will be retried next
// cycle); a 4xx means the collector will never accept that document, so it
// is discarded the same way a delivered ping is.
//
// The returned flag reports whether the cycle hit a transient failure.
func (u *Uploader) uploadOnce(ctx context.Context) (transient bool) {
	pings, err := u.store.All()
	if err != nil {
		slog.Error("uploader: enumerate store", "err", err)
		return false
	}
	if len(pings) == 0 {
		return false
	}
	sort.Slice(pings, func(i, j int) bool { return pings[i].ID < pings[j].ID })

	var done []int64
	for _, p := range pings {
		if ctx.Err() != nil {
			break
		}
		code, err := u.send(ctx, p)
		if err != nil {
			u.failed.Add(1)
			slog.Warn("uploader: send failed", "id", p.ID, "err", err)
			transient = true
			break
		}
		switch {
		case code >= 200 && code < 300:
			done = append(done, p.ID)
			u.delivered.Add(1)
		case code >= 400 && code < 500:
			done = append(done, p.ID)
			u.rejected.Add(1)
			slog.Error("uploader: collector rejected ping, discarding",
				"id", p.ID, "destination", p.Destination, "status", code)
		default:
			u.failed.Add(1)
			slog.Warn("uploader: collector error, keeping ping",
				"id", p.ID, "status", code)
			transient = true
		}
		if transient {
			break
		}
	}

	if len(done) > 0 {
		u.store.Acknowledge(done)
		slog.Info("uploader: cycle complete",
			"uploaded", len(done), "remaining", len(pings)-len(done))
	}
	return transient
}

// send POSTs one ping's payload to its destination. The response body is
// drained so the connection can be reused.
func (u *Uploader) send(ctx context.Context, p store.Ping) (int, error) {
	sendCtx, cancel := context.WithTimeout(ctx, u.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost,
		joinURL(u.cfg.Endpoint, p.Destination), bytes.NewReader(p.Payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	return resp.StatusCode, nil
}

// joinURL appends a ping's destination path to the collector base URL.
func joinURL(base, dest string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(dest, "/")
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	// Advance for next call.
	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
