// Package seed loads the household text asset: the fixed shopping-list
// section and the credential whitelist. The file format is line based
// and hand edited, so parsing is forgiving.
package seed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/auth"
	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/models"
)

// sectionHeader marks the start of the fixed shopping list. Matched
// case-insensitively anywhere in the line so decorations around the
// header survive.
const sectionHeader = "=== lista daa spessa"

// ColumnLeft is the column new and fixed items land in.
const ColumnLeft = "left"

var (
	upper  = cases.Upper(language.Und)
	slugRe = regexp.MustCompile(`[^a-z0-9]+`)
)

// Asset is the parsed seed file.
type Asset struct {
	// Items are the fixed checklist entries, in file order, upper-cased,
	// unchecked, left column, with stable ids.
	Items []models.Record

	// Whitelist holds the user/pass pairs found anywhere in the file.
	Whitelist []auth.Credential
}

// FixedItemID derives the stable id for a fixed list entry. Stable
// across reloads so re-seeding never duplicates rows or loses the
// checked state stored under the same id.
func FixedItemID(text string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(text), "-")
	return "fixed_" + strings.Trim(slug, "-")
}

// Parse reads the asset format: everything after the list header up to
// the next "===" header or a "whitelist:" line is a fixed item, and
// "user:" / "pass:" line pairs anywhere form the whitelist. Blank lines
// between a user and its pass are tolerated.
func Parse(r io.Reader) (*Asset, error) {
	scanner := bufio.NewScanner(r)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading seed asset: %w", err)
	}

	asset := &Asset{
		Items:     parseItems(lines),
		Whitelist: parseWhitelist(lines),
	}

	return asset, nil
}

// Load parses the asset at path.
func Load(path string) (*Asset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening seed asset: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

func parseItems(lines []string) []models.Record {
	start := -1

	for i, l := range lines {
		if strings.Contains(strings.ToLower(l), sectionHeader) {
			start = i
			break
		}
	}

	if start == -1 {
		return nil
	}

	var items []models.Record

	for _, l := range lines[start+1:] {
		if l == "" {
			continue
		}

		lower := strings.ToLower(l)
		if strings.HasPrefix(lower, "whitelist:") || strings.HasPrefix(l, "===") {
			break
		}

		text := upper.String(l)
		items = append(items, models.Record{
			"id":      FixedItemID(text),
			"text":    text,
			"checked": false,
			"column":  ColumnLeft,
			"fixed":   true,
		})
	}

	return items
}

func parseWhitelist(lines []string) []auth.Credential {
	var wl []auth.Credential

	for i := 0; i < len(lines); i++ {
		username, ok := lineValue(lines[i], "user:")
		if !ok {
			continue
		}

		// The matching pass line may be separated by blank lines.
		j := i + 1
		for j < len(lines) && lines[j] == "" {
			j++
		}

		if j >= len(lines) {
			break
		}

		if password, ok := lineValue(lines[j], "pass:"); ok && username != "" && password != "" {
			wl = append(wl, auth.Credential{Username: username, Password: password})
			i = j
		}
	}

	return wl
}

func lineValue(line, prefix string) (string, bool) {
	if !strings.HasPrefix(strings.ToLower(line), prefix) {
		return "", false
	}

	return strings.TrimSpace(line[len(prefix):]), true
}

// checklistStore is the slice of the sync façade seeding needs.
type checklistStore interface {
	List(ctx context.Context, table string) []models.Record
	Upsert(ctx context.Context, table string, recs ...models.Record) []models.Record
}

// EnsureFixedChecklist inserts the asset's fixed items that are not yet
// present in the built-in checklist. Existing rows are left untouched,
// so a reload never resets the checked flag or the column the user
// moved an item to.
func EnsureFixedChecklist(ctx context.Context, store checklistStore, asset *Asset) int {
	existing := make(map[string]bool)
	for _, r := range store.List(ctx, "checklist") {
		existing[r.ID()] = true
	}

	var missing []models.Record
	for _, item := range asset.Items {
		if !existing[item.ID()] {
			missing = append(missing, item)
		}
	}

	if len(missing) > 0 {
		store.Upsert(ctx, "checklist", missing...)
	}

	return len(missing)
}
