// Package catalog maintains the document list shown in the sidebar: the
// built-in shopping list plus every note and checklist document the user
// created. It layers catalog bookkeeping over the sync façade's
// "documents" table and keeps itself current through its realtime feed.
package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"

	roxerrors "github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/errors"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/logging"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/models"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/remote"
	roxsync "github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/sync"
)

// FixedListTitle is the display title of the built-in shopping list.
const FixedListTitle = "LISTA DAA SPESSA"

// selfTestMarker hides leftovers of aborted sync self-tests from the
// catalog. Probe documents are never created on purpose, but a crashed
// run can leave one behind.
const selfTestMarker = "self test doc"

// Entry is one catalog row.
type Entry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// Catalog is safe for concurrent use.
type Catalog struct {
	svc *roxsync.Service
	rec *logging.Recorder

	mu   sync.Mutex
	docs map[string]Entry
}

// New builds a catalog over the façade. The built-in list is present
// from the start, before any hydration.
func New(svc *roxsync.Service, rec *logging.Recorder) *Catalog {
	c := &Catalog{
		svc:  svc,
		rec:  rec,
		docs: make(map[string]Entry),
	}
	c.docs[remote.FixedListID] = fixedEntry()

	return c
}

func fixedEntry() Entry {
	return Entry{ID: remote.FixedListID, Title: FixedListTitle, Type: "checklist"}
}

// Hydrate merges the stored catalog into memory. The façade already
// prefers remote over local, so offline this degrades to the local
// cache without any extra handling here.
func (c *Catalog) Hydrate(ctx context.Context) {
	recs := c.svc.List(ctx, remote.TableDocuments)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range recs {
		if e, ok := entryFromRecord(r); ok {
			c.docs[e.ID] = e
		}
	}
}

// Watch keeps the catalog in sync with realtime document changes until
// the returned unsubscribe is called. onChange, when non-nil, fires
// after each applied event.
func (c *Catalog) Watch(ctx context.Context, onChange func()) func() {
	return c.svc.Subscribe(ctx, remote.TableDocuments, func(ev roxsync.Event) {
		c.apply(ev)

		if onChange != nil {
			onChange()
		}
	})
}

func (c *Catalog) apply(ev roxsync.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case ev.Type == "DELETE" || ev.New == nil:
		id := ev.Old.ID()
		if id != "" && id != remote.FixedListID {
			delete(c.docs, id)
		}
	default:
		if e, ok := entryFromRecord(ev.New); ok {
			c.docs[e.ID] = e
		}
	}
}

// Entries returns the visible catalog: built-in list first, then by
// type, then by title case-insensitively. Self-test artifacts are
// filtered out.
func (c *Catalog) Entries() []Entry {
	c.mu.Lock()

	if _, ok := c.docs[remote.FixedListID]; !ok {
		c.docs[remote.FixedListID] = fixedEntry()
	}

	out := make([]Entry, 0, len(c.docs))
	for _, e := range c.docs {
		if strings.HasPrefix(e.ID, "test_") || strings.Contains(strings.ToLower(e.Title), selfTestMarker) {
			continue
		}

		out = append(out, e)
	}

	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ID == remote.FixedListID {
			return true
		}
		if out[j].ID == remote.FixedListID {
			return false
		}

		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}

		return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
	})

	return out
}

// Get returns the entry for id, if present.
func (c *Catalog) Get(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.docs[id]

	return e, ok
}

// DocSaved records a document save. The catalog row is pushed to the
// documents table only for checklists, which have no content of their
// own there, or when the document is new. An existing note's save must
// not touch the catalog row, or a concurrent rename would be undone.
// Reports whether the document was new.
func (c *Catalog) DocSaved(ctx context.Context, id, title, typ string) bool {
	if id == "" || title == "" {
		return false
	}

	if typ == "" {
		typ = "note"
		if id == remote.FixedListID {
			typ = "checklist"
		}
	}

	c.mu.Lock()
	_, existed := c.docs[id]
	c.docs[id] = Entry{ID: id, Title: title, Type: typ}
	c.mu.Unlock()

	if typ == "checklist" || !existed {
		c.svc.Upsert(ctx, remote.TableDocuments, models.Record{"id": id, "title": title, "type": typ})
	}

	c.event("doc_saved", map[string]any{"id": id, "type": typ, "new": !existed})

	return !existed
}

// DocRenamed updates the title of a known document and always pushes
// the catalog row.
func (c *Catalog) DocRenamed(ctx context.Context, id, title string) {
	if id == "" || title == "" {
		return
	}

	c.mu.Lock()
	e, ok := c.docs[id]
	if !ok {
		c.mu.Unlock()
		return
	}

	e.Title = title
	c.docs[id] = e
	c.mu.Unlock()

	c.svc.Upsert(ctx, remote.TableDocuments, models.Record{"id": id, "title": title, "type": e.Type})
	c.event("doc_renamed", map[string]any{"id": id})
}

// DocRemoved drops a document from the catalog and deletes its catalog
// row and, for checklists, every item it owned. The built-in list is
// refused.
func (c *Catalog) DocRemoved(ctx context.Context, id string) error {
	if id == remote.FixedListID {
		return roxerrors.ErrFixedDocument
	}

	if id == "" {
		return nil
	}

	c.mu.Lock()
	e, known := c.docs[id]
	delete(c.docs, id)
	c.mu.Unlock()

	if err := c.svc.Remove(ctx, remote.TableDocuments, roxsync.Match{ID: id}); err != nil {
		return err
	}

	if !known || e.Type == "checklist" {
		// Orphaned items would resurface if the document id is ever reused.
		if err := c.svc.Remove(ctx, "checklist_"+id, roxsync.Match{All: true}); err != nil {
			return err
		}
	}

	c.event("doc_removed", map[string]any{"id": id})

	return nil
}

func (c *Catalog) event(action string, details map[string]any) {
	if c.rec != nil {
		c.rec.Event("catalog", action, details)
	}
}

func entryFromRecord(r models.Record) (Entry, bool) {
	if r == nil || r.ID() == "" || r.String("title") == "" {
		return Entry{}, false
	}

	typ := r.String("type")
	if typ == "" {
		typ = "note"
	}

	return Entry{ID: r.ID(), Title: r.String("title"), Type: typ}, true
}
