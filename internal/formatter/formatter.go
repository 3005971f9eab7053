// package formatter reads IMDb list exports and renders run output (per-item lines, plan CSV, run summaries)
package formatter

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/reelsync/internal/models"
	"github.com/desertthunder/reelsync/internal/reconcile"
	"github.com/desertthunder/reelsync/internal/shared"
)

// requiredColumns lists the export columns each category cannot do without.
var requiredColumns = map[models.Category][]string{
	models.Ratings:   {"Const", "Your Rating"},
	models.Watchlist: {"Const"},
	models.History:   {"Const"},
	models.Reviews:   {"Const", "Review"},
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"Mon Jan 2 15:04:05 2006",
}

// RowError describes an export row that was skipped.
type RowError struct {
	Line int
	ID   string
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d (%s): %v", e.Line, e.ID, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// ReadIMDbExportFile opens path and parses it with [ReadIMDbExport].
func ReadIMDbExportFile(path string, cat models.Category) ([]models.Record, []RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s export not found at %s", shared.ErrMissingConfig, cat, path)
		}
		return nil, nil, fmt.Errorf("failed to open %s export: %w", cat, err)
	}
	defer f.Close()

	return ReadIMDbExport(f, cat)
}

// ReadIMDbExport parses an IMDb list export (Const, Your Rating, Date Rated, Created, Title, Title Type, Year, ...)
// into records for cat. Columns are matched by header name, so column order and extra columns do not matter.
//
// Reviews exports carry Const, Title, Title Type, Year, Review, Spoiler and Date.
// Rows that do not parse are returned as skipped and left out of the records.
func ReadIMDbExport(r io.Reader, cat models.Category) ([]models.Record, []RowError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns[cat] {
		if _, ok := cols[strings.ToLower(name)]; !ok {
			return nil, nil, fmt.Errorf("%w: %s export is missing column %q", shared.ErrInvalidInput, cat, name)
		}
	}

	var records []models.Record
	var skipped []RowError
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}

		get := func(name string) string {
			i, ok := cols[strings.ToLower(name)]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		record, err := parseRow(cat, get)
		if err != nil {
			skipped = append(skipped, RowError{Line: line, ID: get("Const"), Err: fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)})
			continue
		}
		records = append(records, record)
	}

	return records, skipped, nil
}

func parseRow(cat models.Category, get func(string) string) (models.Record, error) {
	kind, ok := models.ParseKind(strings.ReplaceAll(get("Title Type"), " ", ""))
	if !ok {
		kind = models.KindMovie
	}
	year, _ := strconv.Atoi(get("Year"))

	record := models.Record{
		ExternalID: get("Const"),
		Kind:       kind,
		Title:      get("Title"),
		Year:       year,
	}

	var err error
	switch cat {
	case models.Ratings:
		rating, convErr := strconv.Atoi(get("Your Rating"))
		if convErr != nil || rating < 1 || rating > 10 {
			return record, fmt.Errorf("invalid rating %q for %s", get("Your Rating"), record.ExternalID)
		}
		record.Value.Rating = rating
		record.AddedAt, err = parseDate(get("Date Rated"))
	case models.Watchlist:
		record.AddedAt, err = parseDate(get("Created"))
	case models.History:
		record.AddedAt, err = parseDate(get("Created"))
		record.Value.WatchedAt = record.AddedAt
	case models.Reviews:
		record.Value.Review = models.Review{Text: get("Review"), Spoiler: parseBool(get("Spoiler"))}
		record.AddedAt, err = parseDate(get("Date"))
	default:
		return record, fmt.Errorf("unknown category %q", cat)
	}
	return record, err
}

// parseDate accepts the date formats seen in IMDb exports. Blank values yield the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes", "y", "1":
		return true
	default:
		return false
	}
}

// PlanToCSV converts a plan to CSV with columns: Category, Target, Action, Const, Kind, Title, Year, Value
func PlanToCSV(plan *reconcile.SyncPlan) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Category", "Target", "Action", "Const", "Kind", "Title", "Year", "Value"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, p := range plan.Plans {
		for _, svc := range []models.Service{models.Primary, models.Secondary} {
			rows := []struct {
				action  string
				records []models.Record
			}{
				{"set", p.Sets(svc)},
				{"remove", p.Removals(svc)},
			}
			for _, row := range rows {
				for _, r := range row.records {
					record := []string{
						string(p.Category),
						svc.DisplayName(),
						row.action,
						r.ExternalID,
						string(r.Kind),
						r.Title,
						yearString(r.Year),
						valueString(p.Category, r),
					}
					if err := writer.Write(record); err != nil {
						return nil, fmt.Errorf("failed to write CSV record: %w", err)
					}
				}
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

func yearString(year int) string {
	if year <= 0 {
		return ""
	}
	return strconv.Itoa(year)
}

func valueString(cat models.Category, r models.Record) string {
	switch cat {
	case models.Ratings:
		return strconv.Itoa(r.Value.Rating)
	case models.Reviews:
		return r.Value.Review.Text
	case models.History:
		if r.Value.WatchedAt.IsZero() {
			return ""
		}
		return r.Value.WatchedAt.Format(time.RFC3339)
	default:
		return ""
	}
}
