package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	roxerrors "github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/errors"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/models"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/store"
	roxsync "github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/sync"
)

func newTestCatalog(t *testing.T) (*Catalog, *roxsync.Service) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(t.TempDir(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc := roxsync.New(roxsync.Config{
		Local:  st.Namespace("alice"),
		Owner:  "alice",
		Logger: logger,
	})

	return New(svc, nil), svc
}

func TestEntries_FixedListAlwaysPresentAndFirst(t *testing.T) {
	c, _ := newTestCatalog(t)

	entries := c.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "fixed_list", entries[0].ID)
	assert.Equal(t, FixedListTitle, entries[0].Title)
	assert.Equal(t, "checklist", entries[0].Type)

	c.DocSaved(context.Background(), "doc1", "Appunti", "note")

	entries = c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "fixed_list", entries[0].ID, "builtin list stays first")
}

func TestEntries_SortedByTypeThenTitle(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	c.DocSaved(ctx, "n2", "zebra", "note")
	c.DocSaved(ctx, "n1", "Alfa", "note")
	c.DocSaved(ctx, "c1", "Spesa weekend", "checklist")

	entries := c.Entries()
	require.Len(t, entries, 4)

	assert.Equal(t, "fixed_list", entries[0].ID)
	assert.Equal(t, "c1", entries[1].ID, "checklists sort before notes")
	assert.Equal(t, "n1", entries[2].ID, "titles compare case-insensitively")
	assert.Equal(t, "n2", entries[3].ID)
}

func TestEntries_HidesSelfTestArtifacts(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	c.DocSaved(ctx, "test_abc123", "probe", "checklist")
	c.DocSaved(ctx, "doc9", "Self Test Doc leftover", "note")
	c.DocSaved(ctx, "doc1", "Vera nota", "note")

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "fixed_list", entries[0].ID)
	assert.Equal(t, "doc1", entries[1].ID)
}

func TestHydrate_MergesStoredCatalog(t *testing.T) {
	c, svc := newTestCatalog(t)
	ctx := context.Background()

	svc.Upsert(ctx, "documents", models.Record{"id": "doc1", "title": "Ricette", "type": "note"})

	c.Hydrate(ctx)

	e, ok := c.Get("doc1")
	require.True(t, ok)
	assert.Equal(t, "Ricette", e.Title)
	assert.Equal(t, "note", e.Type)
}

func TestDocSaved_NotePushesCatalogRowOnlyWhenNew(t *testing.T) {
	c, svc := newTestCatalog(t)
	ctx := context.Background()

	assert.True(t, c.DocSaved(ctx, "doc1", "Appunti", "note"))

	// Rename through the catalog row, then save the note again: the save
	// must not overwrite the renamed title in storage.
	svc.Upsert(ctx, "documents", models.Record{"id": "doc1", "title": "Rinominata", "type": "note"})
	assert.False(t, c.DocSaved(ctx, "doc1", "Appunti", "note"))

	stored := svc.GetByID(ctx, "documents", "doc1")
	require.NotNil(t, stored)
	assert.Equal(t, "Rinominata", stored.String("title"))
}

func TestDocSaved_ChecklistAlwaysPushes(t *testing.T) {
	c, svc := newTestCatalog(t)
	ctx := context.Background()

	c.DocSaved(ctx, "c1", "Spesa", "checklist")
	c.DocSaved(ctx, "c1", "Spesa weekend", "checklist")

	stored := svc.GetByID(ctx, "documents", "c1")
	require.NotNil(t, stored)
	assert.Equal(t, "Spesa weekend", stored.String("title"))
}

func TestDocSaved_DefaultsType(t *testing.T) {
	c, _ := newTestCatalog(t)

	c.DocSaved(context.Background(), "doc1", "Appunti", "")

	e, ok := c.Get("doc1")
	require.True(t, ok)
	assert.Equal(t, "note", e.Type)
}

func TestDocRenamed_UnknownIDIsIgnored(t *testing.T) {
	c, svc := newTestCatalog(t)
	ctx := context.Background()

	c.DocRenamed(ctx, "ghost", "Nuovo titolo")

	_, ok := c.Get("ghost")
	assert.False(t, ok)
	assert.Nil(t, svc.GetByID(ctx, "documents", "ghost"))
}

func TestDocRenamed_UpdatesTitleEverywhere(t *testing.T) {
	c, svc := newTestCatalog(t)
	ctx := context.Background()

	c.DocSaved(ctx, "doc1", "Vecchio", "note")
	c.DocRenamed(ctx, "doc1", "Nuovo")

	e, _ := c.Get("doc1")
	assert.Equal(t, "Nuovo", e.Title)

	stored := svc.GetByID(ctx, "documents", "doc1")
	require.NotNil(t, stored)
	assert.Equal(t, "Nuovo", stored.String("title"))
}

func TestDocRemoved_RefusesFixedList(t *testing.T) {
	c, _ := newTestCatalog(t)

	err := c.DocRemoved(context.Background(), "fixed_list")
	require.ErrorIs(t, err, roxerrors.ErrFixedDocument)

	_, ok := c.Get("fixed_list")
	assert.True(t, ok)
}

func TestDocRemoved_ChecklistWipesItems(t *testing.T) {
	c, svc := newTestCatalog(t)
	ctx := context.Background()

	c.DocSaved(ctx, "c1", "Spesa", "checklist")
	svc.Upsert(ctx, "checklist_c1", models.Record{"id": "it1", "text": "latte"})

	require.NoError(t, c.DocRemoved(ctx, "c1"))

	_, ok := c.Get("c1")
	assert.False(t, ok)
	assert.Nil(t, svc.GetByID(ctx, "documents", "c1"))
	assert.Empty(t, svc.List(ctx, "checklist_c1"))
}

func TestApply_RealtimeDeleteNeverDropsFixedList(t *testing.T) {
	c, _ := newTestCatalog(t)

	c.apply(roxsync.Event{Type: "DELETE", Old: models.Record{"id": "fixed_list"}})

	_, ok := c.Get("fixed_list")
	assert.True(t, ok)
}

func TestApply_RealtimeUpsertAndDelete(t *testing.T) {
	c, _ := newTestCatalog(t)

	c.apply(roxsync.Event{Type: "INSERT", New: models.Record{"id": "doc1", "title": "Appunti", "type": "note"}})

	e, ok := c.Get("doc1")
	require.True(t, ok)
	assert.Equal(t, "Appunti", e.Title)

	c.apply(roxsync.Event{Type: "DELETE", Old: models.Record{"id": "doc1"}})

	_, ok = c.Get("doc1")
	assert.False(t, ok)
}
