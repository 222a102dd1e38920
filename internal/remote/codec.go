// Package remote talks to the backend's single physical "notes" table
// and maps the logical entities (plain notes, the document catalog and
// per-document checklists) onto it through a title-prefix compatibility
// encoding. The backend schema cannot change, so the encoding is the
// contract.
package remote

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/models"
)

// Logical table names.
const (
	TableNotes     = "notes"
	TableDocuments = "documents"
	TableChecklist = "checklist"

	// FixedListID is the built-in checklist document backing the bare
	// "checklist" table.
	FixedListID = "fixed_list"
)

// Reserved title prefixes. Rows carrying them are technical compat rows
// and must never surface as plain notes.
const (
	DocMark = "__DOC__:"
	ChkMark = "__CHK__:"

	docMetaPrefix = "docmeta_"
)

var checklistTableRe = regexp.MustCompile(`^checklist(_.+)?$`)

// IsChecklistTable reports whether the logical table is a checklist.
func IsChecklistTable(table string) bool {
	return checklistTableRe.MatchString(table)
}

// DocIDForTable returns the document id a checklist table belongs to.
// The bare "checklist" table is the fixed built-in list.
func DocIDForTable(table string) string {
	if table == TableChecklist {
		return FixedListID
	}

	return strings.TrimPrefix(table, "checklist_")
}

// DocMetaID returns the physical row id for a document catalog entry.
func DocMetaID(docID string) string {
	return docMetaPrefix + docID
}

// ChecklistTitlePrefix returns the full document-scoped title prefix for
// a checklist table. Matching must always use this full prefix, never a
// loose substring, or items leak between documents.
func ChecklistTitlePrefix(table string) string {
	return ChkMark + DocIDForTable(table) + "|"
}

// Row is the physical shape of the remote notes table.
type Row struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
}

// docBody is the JSON packed into a document catalog row body.
type docBody struct {
	Type  string `json:"type"`
	DocID string `json:"docId"`
	Owner string `json:"owner,omitempty"`
}

// chkBody is the JSON packed into a checklist item row body.
type chkBody struct {
	Checked bool   `json:"checked"`
	Column  string `json:"column"`
	Fixed   bool   `json:"fixed"`
	Owner   string `json:"owner,omitempty"`
}

// ToPhysical encodes logical records for the remote notes table,
// stamping the owner into document and checklist bodies. Plain notes
// pass through unmapped. Pure and deterministic; ToLogical inverts it
// for every encoded field.
func ToPhysical(table, owner string, recs []models.Record) []Row {
	switch {
	case table == TableDocuments:
		rows := make([]Row, 0, len(recs))

		for _, r := range recs {
			typ := r.String("type")
			if typ == "" {
				typ = "note"
			}

			body, _ := json.Marshal(docBody{Type: typ, DocID: r.ID(), Owner: owner})
			rows = append(rows, Row{
				ID:    DocMetaID(r.ID()),
				Title: DocMark + r.String("title"),
				Body:  string(body),
			})
		}

		return rows

	case IsChecklistTable(table):
		prefix := ChecklistTitlePrefix(table)
		rows := make([]Row, 0, len(recs))

		for _, r := range recs {
			column := r.String("column")
			if column == "" {
				column = "left"
			}

			body, _ := json.Marshal(chkBody{
				Checked: r.Bool("checked"),
				Column:  column,
				Fixed:   r.Bool("fixed"),
				Owner:   owner,
			})

			// Physical id stays the logical id so a remote id-based
			// delete works without re-deriving the encoding.
			rows = append(rows, Row{
				ID:    r.ID(),
				Title: prefix + r.String("text"),
				Body:  string(body),
			})
		}

		return rows

	default:
		rows := make([]Row, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, Row{ID: r.ID(), Title: r.String("title"), Body: r.String("body")})
		}

		return rows
	}
}

// ToLogical decodes physical rows back into logical records for the
// requested table: strips the reserved prefix, recovers packed fields,
// and drops rows that belong to another owner, another document, or
// (for plain notes) the compat layer.
func ToLogical(table, owner string, rows []Row) []models.Record {
	switch {
	case table == TableDocuments:
		out := make([]models.Record, 0, len(rows))

		for _, row := range rows {
			if !strings.HasPrefix(row.Title, DocMark) {
				continue
			}

			var body docBody
			_ = json.Unmarshal([]byte(row.Body), &body)

			if !ownerMatches(owner, body.Owner) {
				continue
			}

			id := body.DocID
			if id == "" {
				id = strings.TrimPrefix(row.ID, docMetaPrefix)
			}

			typ := body.Type
			if typ == "" {
				typ = "note"
			}

			out = append(out, models.Record{
				"id":    id,
				"title": strings.TrimPrefix(row.Title, DocMark),
				"type":  typ,
			})
		}

		return out

	case IsChecklistTable(table):
		prefix := ChecklistTitlePrefix(table)
		out := make([]models.Record, 0, len(rows))

		for _, row := range rows {
			if !strings.HasPrefix(row.Title, prefix) {
				continue
			}

			body := chkBody{Column: "left"}
			_ = json.Unmarshal([]byte(row.Body), &body)

			if !ownerMatches(owner, body.Owner) {
				continue
			}

			if body.Column == "" {
				body.Column = "left"
			}

			out = append(out, models.Record{
				"id":      row.ID,
				"text":    strings.TrimPrefix(row.Title, prefix),
				"checked": body.Checked,
				"column":  body.Column,
				"fixed":   body.Fixed,
			})
		}

		return out

	default:
		out := make([]models.Record, 0, len(rows))

		for _, row := range rows {
			if strings.HasPrefix(row.Title, DocMark) || strings.HasPrefix(row.Title, ChkMark) {
				continue
			}

			out = append(out, models.Record{"id": row.ID, "title": row.Title, "body": row.Body})
		}

		return out
	}
}

// ownerMatches applies the owner isolation rule: when a current user is
// known, rows stamped with a different owner are invisible. Rows with no
// owner stamp predate owner stamping and stay visible.
func ownerMatches(current, stamped string) bool {
	if current == "" || stamped == "" {
		return true
	}

	return current == stamped
}
