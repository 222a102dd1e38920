// Package sync is the façade the UI talks to: CRUD plus subscribe over
// logical tables, orchestrating the local store and the remote adapter.
// Writes are optimistic and local-first; every remote failure degrades
// to the local result instead of surfacing. Whether the remote is
// usable is re-evaluated on every call, so a transient network loss
// self-heals instead of disabling sync for the rest of the session.
package sync

import (
	"context"
	"log/slog"

	roxerrors "github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/errors"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/logging"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/models"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/remote"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/store"
)

// Match selects records for removal: a single id, or the whole table.
type Match struct {
	ID  string
	All bool
}

// Event is a filtered, logically-shaped change notification delivered
// to subscribers.
type Event struct {
	Type string // INSERT, UPDATE or DELETE
	New  models.Record
	Old  models.Record
}

// RemoteStore is the subset of the remote client the façade needs.
type RemoteStore interface {
	Select(ctx context.Context, q remote.Query) ([]remote.Row, error)
	Upsert(ctx context.Context, rows []remote.Row) ([]remote.Row, error)
	Delete(ctx context.Context, q remote.Query) ([]remote.Row, error)
}

// RealtimeChannel is the push feed of raw physical-row changes.
type RealtimeChannel interface {
	Subscribe(ctx context.Context, handler func(remote.ChangeEvent)) (func(), error)
}

// Config holds the façade's dependencies. Remote and Realtime are nil
// when the backend is not configured; the façade then runs fully
// offline.
type Config struct {
	Local    *store.Namespace
	Remote   RemoteStore
	Realtime RealtimeChannel
	Owner    string
	Recorder *logging.Recorder
	Logger   *slog.Logger
}

// Service implements the CRUD+subscribe contract. Safe for concurrent
// use.
type Service struct {
	local    *store.Namespace
	remote   RemoteStore
	realtime RealtimeChannel
	owner    string
	rec      *logging.Recorder
	logger   *slog.Logger
}

// New builds a façade for one user session.
func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rec := cfg.Recorder
	if rec == nil {
		rec = logging.NewRecorder(logger, nil)
	}

	return &Service{
		local:    cfg.Local,
		remote:   cfg.Remote,
		realtime: cfg.Realtime,
		owner:    cfg.Owner,
		rec:      rec,
		logger:   logger,
	}
}

// Owner returns the user identifier this façade is scoped to.
func (s *Service) Owner() string {
	return s.owner
}

// queryFor builds the physical query selecting a logical table's rows.
func queryFor(table string) remote.Query {
	switch {
	case table == remote.TableDocuments:
		return remote.Query{TitleLike: remote.DocMark + "*"}
	case remote.IsChecklistTable(table):
		return remote.Query{TitleLike: remote.ChecklistTitlePrefix(table) + "*"}
	default:
		return remote.Query{TitleNotLike: []string{remote.DocMark + "*", remote.ChkMark + "*"}}
	}
}

// List returns the table's records: from the remote store when
// reachable, otherwise from the local cache. Tombstoned ids are
// excluded on both paths.
func (s *Service) List(ctx context.Context, table string) []models.Record {
	if s.remote != nil {
		rows, err := s.remote.Select(ctx, queryFor(table))
		if err == nil {
			return s.dropTombstoned(table, remote.ToLogical(table, s.owner, rows))
		}

		s.rec.Event("sync", "list_offline_fallback", map[string]any{"table": table, "reason": err.Error()})
	}

	return s.dropTombstoned(table, s.local.ReadAll(table))
}

// Upsert merges records into the table, local first. The tombstone for
// each id is cleared before any write so a fresh create after a delete
// is not itself suppressed. The remote write is attempted afterwards;
// its failure is logged, never surfaced: a user edit must not fail
// because the network is down.
func (s *Service) Upsert(ctx context.Context, table string, recs ...models.Record) []models.Record {
	for _, r := range recs {
		if id := r.ID(); id != "" {
			s.local.ClearDeleted(table, id)
		}
	}

	merged := s.local.UpsertMany(table, recs)

	if s.remote == nil {
		s.rec.Event("sync", "upsert_offline", map[string]any{"table": table, "count": len(recs)})
		return merged
	}

	if _, err := s.remote.Upsert(ctx, remote.ToPhysical(table, s.owner, recs)); err != nil {
		s.rec.Event("sync", "upsert_offline_fallback", map[string]any{"table": table, "reason": err.Error()})
		return merged
	}

	if table == remote.TableDocuments {
		// Pre-encoding deployments stored catalog rows under the bare
		// document id. Sweep those so they cannot shadow the docmeta row.
		for _, r := range recs {
			if id := r.ID(); id != "" {
				_, _ = s.remote.Delete(ctx, remote.Query{ID: id, TitleLike: remote.DocMark + "*"})
			}
		}
	}

	return merged
}

// Remove deletes records locally and, best-effort, remotely. The
// tombstone is recorded before anything is deleted so a concurrent
// realtime re-insert of the same id is suppressed: delete wins.
// A full-table wipe on the documents catalog is refused.
func (s *Service) Remove(ctx context.Context, table string, m Match) error {
	if m.All && table == remote.TableDocuments {
		return roxerrors.ErrDeleteAllRefused
	}

	if m.ID != "" {
		s.local.MarkDeleted(table, m.ID)
	}

	switch {
	case m.All:
		s.local.WriteAll(table, nil)
	case m.ID != "":
		s.local.RemoveByID(table, m.ID)
	}

	if s.remote == nil {
		s.rec.Event("sync", "delete_offline", map[string]any{"table": table, "id": m.ID, "all": m.All})
		return nil
	}

	var err error

	switch {
	case m.ID != "" && table == remote.TableDocuments:
		_, err = s.remote.Delete(ctx, remote.Query{ID: remote.DocMetaID(m.ID)})
		if err == nil {
			// Legacy catalog row sweep, see Upsert.
			_, _ = s.remote.Delete(ctx, remote.Query{ID: m.ID, TitleLike: remote.DocMark + "*"})
		}
	case m.ID != "":
		_, err = s.remote.Delete(ctx, remote.Query{ID: m.ID})
	case m.All && remote.IsChecklistTable(table):
		_, err = s.remote.Delete(ctx, remote.Query{TitleLike: remote.ChecklistTitlePrefix(table) + "*"})
	}

	if err != nil {
		s.rec.Event("sync", "delete_offline_fallback", map[string]any{"table": table, "id": m.ID, "reason": err.Error()})
	}

	return nil
}

// GetByID returns a single record, or nil when absent. The remote
// lookup uses the physical id form of the table family; on failure the
// local cache answers.
func (s *Service) GetByID(ctx context.Context, table, id string) models.Record {
	if s.remote != nil {
		q := remote.Query{ID: id}

		switch {
		case table == remote.TableDocuments:
			q = remote.Query{ID: remote.DocMetaID(id)}
		case remote.IsChecklistTable(table):
			q.TitleLike = remote.ChecklistTitlePrefix(table) + "*"
		default:
			q.TitleNotLike = []string{remote.DocMark + "*", remote.ChkMark + "*"}
		}

		rows, err := s.remote.Select(ctx, q)
		if err == nil {
			recs := remote.ToLogical(table, s.owner, rows)
			if len(recs) > 0 {
				return recs[0]
			}

			return nil
		}

		s.rec.Event("sync", "getById_offline_fallback", map[string]any{"table": table, "id": id, "reason": err.Error()})
	}

	return s.local.Get(table, id)
}

// Subscribe registers for filtered change events on the table. When no
// realtime channel is configured, or joining fails, a no-op unsubscribe
// is returned and the caller simply never hears anything. The
// unsubscribe is always safe to call multiple times.
func (s *Service) Subscribe(ctx context.Context, table string, cb func(Event)) func() {
	if s.realtime == nil {
		return func() {}
	}

	unsub, err := s.realtime.Subscribe(ctx, func(raw remote.ChangeEvent) {
		if ev, ok := s.filterEvent(table, raw); ok {
			cb(ev)
		}
	})
	if err != nil {
		s.rec.Event("sync", "subscribe_offline_fallback", map[string]any{"table": table, "reason": err.Error()})
		return func() {}
	}

	return unsub
}

func (s *Service) dropTombstoned(table string, recs []models.Record) []models.Record {
	dead := s.local.DeletedIDs(table)
	if len(dead) == 0 {
		return recs
	}

	out := recs[:0]

	for _, r := range recs {
		if dead[r.ID()] {
			continue
		}

		out = append(out, r)
	}

	return out
}
