package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := OpenAt(filepath.Join(t.TempDir(), "tools.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestReadAll_EmptyTable(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")
	assert.Empty(t, ns.ReadAll("notes"))
}

func TestUpsertMany_InsertAndMerge(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")

	ns.UpsertMany("checklist_doc1", []models.Record{
		{"id": "it_1", "text": "MILK", "checked": false, "column": "left", "fixed": false},
	})

	// Toggling checked merges onto the existing record, keeping text.
	got := ns.UpsertMany("checklist_doc1", []models.Record{
		{"id": "it_1", "checked": true},
	})

	require.Len(t, got, 1)
	assert.Equal(t, "MILK", got[0].String("text"))
	assert.True(t, got[0].Bool("checked"))
	assert.Equal(t, "left", got[0].String("column"))
}

func TestUpsertMany_Idempotent(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")
	rec := models.Record{"id": "nt_1", "title": "Shopping", "type": "note"}

	first := ns.UpsertMany("documents", []models.Record{rec})
	second := ns.UpsertMany("documents", []models.Record{rec})

	assert.Equal(t, first, second)
	require.Len(t, second, 1)
}

func TestUpsertMany_IgnoresMissingID(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")

	got := ns.UpsertMany("notes", []models.Record{{"title": "no id"}})
	assert.Empty(t, got)
}

func TestWriteAll_Replaces(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")

	ns.UpsertMany("notes", []models.Record{{"id": "a"}, {"id": "b"}})
	ns.WriteAll("notes", []models.Record{{"id": "c", "title": "only"}})

	got := ns.ReadAll("notes")
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].ID())
}

func TestRemoveMatching_ByID(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")

	ns.UpsertMany("notes", []models.Record{{"id": "a"}, {"id": "b"}})

	got := ns.RemoveByID("notes", "a")
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID())
}

func TestRemoveMatching_All(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")

	ns.UpsertMany("checklist_doc1", []models.Record{{"id": "a"}, {"id": "b"}})

	got := ns.RemoveMatching("checklist_doc1", func(models.Record) bool { return true })
	assert.Empty(t, got)
}

func TestGet(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")

	ns.UpsertMany("notes", []models.Record{{"id": "a", "title": "pane"}})

	rec := ns.Get("notes", "a")
	require.NotNil(t, rec)
	assert.Equal(t, "pane", rec.String("title"))

	assert.Nil(t, ns.Get("notes", "missing"))
}

func TestNamespaceIsolation(t *testing.T) {
	s := newTestStore(t)

	a := s.Namespace("alice")
	b := s.Namespace("bob")

	a.UpsertMany("notes", []models.Record{{"id": "n1", "title": "alice note"}})

	assert.Len(t, a.ReadAll("notes"), 1)
	assert.Empty(t, b.ReadAll("notes"))
}

func TestAnonymousNamespaceFallback(t *testing.T) {
	s := newTestStore(t)

	anon := s.Namespace("")
	assert.Equal(t, "anon", anon.User())

	anon.UpsertMany("notes", []models.Record{{"id": "n1"}})
	assert.Len(t, s.Namespace("").ReadAll("notes"), 1)
}

func TestSharedChecklistCrossesNamespaces(t *testing.T) {
	s := newTestStore(t)

	// Seeding runs before anyone logs in.
	s.Namespace("").UpsertMany("checklist", []models.Record{
		{"id": "fixed_milk", "text": "MILK", "checked": false, "column": "left", "fixed": true},
	})

	got := s.Namespace("alice").ReadAll("checklist")
	require.Len(t, got, 1)
	assert.Equal(t, "fixed_milk", got[0].ID())

	// A check by one user is seen by the next.
	s.Namespace("alice").UpsertMany("checklist", []models.Record{{"id": "fixed_milk", "checked": true}})
	got = s.Namespace("bob").ReadAll("checklist")
	require.Len(t, got, 1)
	assert.True(t, got[0].Bool("checked"))
}

func TestSharedChecklistTombstonesCrossNamespaces(t *testing.T) {
	s := newTestStore(t)

	s.Namespace("alice").MarkDeleted("checklist", "it_1")
	assert.True(t, s.Namespace("bob").IsDeleted("checklist", "it_1"))

	// Per-document checklists stay per user.
	s.Namespace("alice").MarkDeleted("checklist_doc1", "it_2")
	assert.False(t, s.Namespace("bob").IsDeleted("checklist_doc1", "it_2"))
}

func TestTombstone_Lifecycle(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")

	assert.False(t, ns.IsDeleted("notes", "n1"))

	ns.MarkDeleted("notes", "n1")
	assert.True(t, ns.IsDeleted("notes", "n1"))

	ns.ClearDeleted("notes", "n1")
	assert.False(t, ns.IsDeleted("notes", "n1"))
}

func TestTombstone_ExpiresAfterTTL(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")

	ns.markDeletedAt("notes", "n1", time.Now().Add(-TombstoneTTL-time.Minute))
	assert.False(t, ns.IsDeleted("notes", "n1"))

	// Still inside the window.
	ns.markDeletedAt("notes", "n2", time.Now().Add(-TombstoneTTL+time.Minute))
	assert.True(t, ns.IsDeleted("notes", "n2"))
}

func TestTombstone_EmptyIDIsNoop(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")

	ns.MarkDeleted("notes", "")
	assert.False(t, ns.IsDeleted("notes", ""))
}

func TestDeletedIDs_SnapshotPrunesExpired(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")

	ns.MarkDeleted("notes", "n1")
	ns.MarkDeleted("notes", "n2")
	ns.markDeletedAt("notes", "stale", time.Now().Add(-TombstoneTTL-time.Minute))

	got := ns.DeletedIDs("notes")
	assert.Equal(t, map[string]bool{"n1": true, "n2": true}, got)

	// The expired entry was dropped in the same pass, not just filtered.
	assert.False(t, ns.IsDeleted("notes", "stale"))
}

func TestTombstone_PerTable(t *testing.T) {
	ns := newTestStore(t).Namespace("rox")

	ns.MarkDeleted("checklist_doc1", "it_1")

	assert.True(t, ns.IsDeleted("checklist_doc1", "it_1"))
	assert.False(t, ns.IsDeleted("checklist_doc2", "it_1"))
}
