package sync

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/models"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/remote"
)

// filterEvent decides whether a raw physical change concerns the given
// logical table and, if so, reshapes it into logical form. The checks
// run in order: title relevance, owner, tombstone. Delete events from
// the backend may carry only the old row, so every lookup falls back
// from the new row to the old one.
func (s *Service) filterEvent(table string, raw remote.ChangeEvent) (Event, bool) {
	title := rowTitle(raw.New)
	if title == "" {
		title = rowTitle(raw.Old)
	}

	isDocs := table == remote.TableDocuments
	isChk := remote.IsChecklistTable(table)

	switch {
	case isDocs:
		if !strings.HasPrefix(title, remote.DocMark) {
			return Event{}, false
		}
	case isChk:
		// The full doc-scoped prefix, so checklist_doc1 never hears
		// about checklist_doc10.
		if !strings.HasPrefix(title, remote.ChecklistTitlePrefix(table)) {
			return Event{}, false
		}
	default:
		if strings.HasPrefix(title, remote.DocMark) || strings.HasPrefix(title, remote.ChkMark) {
			return Event{}, false
		}
	}

	// Plain notes carry no owner stamp; rows stamped with no owner stay
	// visible to everybody for the sake of rows written before stamping
	// existed.
	if s.owner != "" && (isDocs || isChk) {
		owner := rowOwner(raw.New)
		if owner == "" {
			owner = rowOwner(raw.Old)
		}

		if owner != "" && owner != s.owner {
			return Event{}, false
		}
	}

	newRec := s.toLogical(table, raw.New)
	oldRec := s.toLogical(table, raw.Old)

	id := newRec.ID()
	if id == "" {
		id = oldRec.ID()
	}

	// A tombstoned id only ever gets to report its own deletion;
	// resurrections riding the realtime feed are dropped.
	if id != "" && raw.Type != "DELETE" && s.local.IsDeleted(table, id) {
		return Event{}, false
	}

	return Event{Type: raw.Type, New: newRec, Old: oldRec}, true
}

func (s *Service) toLogical(table string, row *remote.Row) models.Record {
	if row == nil {
		return nil
	}

	recs := remote.ToLogical(table, s.owner, []remote.Row{*row})
	if len(recs) == 0 {
		return nil
	}

	return recs[0]
}

func rowTitle(row *remote.Row) string {
	if row == nil {
		return ""
	}

	return row.Title
}

func rowOwner(row *remote.Row) string {
	if row == nil {
		return ""
	}

	return gjson.Get(row.Body, "owner").String()
}
