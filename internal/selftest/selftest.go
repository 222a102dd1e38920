// Package selftest probes the sync pipeline end to end: it writes a
// throwaway checklist item and reports whether the echo came back over
// realtime, or at least over polling. The probe table id is prefixed
// with "test_" so the catalog never shows it, and no document row is
// ever created for it.
package selftest

import (
	"context"
	"time"

	"github.com/gofrs/uuid"

	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/logging"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/models"
	roxsync "github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/sync"
)

// Result reports which sync paths answered.
type Result struct {
	Realtime bool `json:"realtime"`
	Polling  bool `json:"polling"`
}

// OK reports whether at least one path works.
func (r Result) OK() bool { return r.Realtime || r.Polling }

// Runner executes sync self-tests against one user's façade.
type Runner struct {
	svc *roxsync.Service
	rec *logging.Recorder

	// realtimeWait bounds how long the probe waits for its echo.
	realtimeWait time.Duration
	newID        func() string
}

// New builds a runner with the default wait window.
func New(svc *roxsync.Service, rec *logging.Recorder) *Runner {
	return &Runner{
		svc:          svc,
		rec:          rec,
		realtimeWait: 2500 * time.Millisecond,
		newID: func() string {
			return uuid.Must(uuid.NewV4()).String()
		},
	}
}

// Run performs one probe: subscribe to a fresh throwaway checklist
// table, upsert an item into it, wait for the realtime echo, and fall
// back to a polling read when none arrives. Cleanup is best effort and
// never affects the result.
func (r *Runner) Run(ctx context.Context) Result {
	table := "checklist_test_" + r.newID()
	itemID := "t_" + r.newID()

	echo := make(chan struct{}, 1)

	unsub := r.svc.Subscribe(ctx, table, func(ev roxsync.Event) {
		if ev.New.ID() == itemID {
			select {
			case echo <- struct{}{}:
			default:
			}
		}
	})
	defer unsub()

	r.svc.Upsert(ctx, table, models.Record{
		"id":      itemID,
		"text":    "ping",
		"checked": false,
		"column":  "left",
		"fixed":   false,
	})

	var res Result

	timer := time.NewTimer(r.realtimeWait)
	defer timer.Stop()

	select {
	case <-echo:
		res.Realtime = true
	case <-timer.C:
	case <-ctx.Done():
	}

	if !res.Realtime && ctx.Err() == nil {
		for _, rec := range r.svc.List(ctx, table) {
			if rec.ID() == itemID {
				res.Polling = true
				break
			}
		}
	}

	_ = r.svc.Remove(ctx, table, roxsync.Match{ID: itemID})

	if r.rec != nil {
		r.rec.Event("selftest", "sync_result", map[string]any{
			"realtime": res.Realtime,
			"polling":  res.Polling,
		})
	}

	return res
}
