// Package report builds the consolidated CSV of a harvest run.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/JakeFAU/heritage-harvester/internal/harvest"
)

// DefaultFileName is the aggregate written next to the records.
const DefaultFileName = "harvest.csv"

// Row statuses.
const (
	StatusResolved = "resolved"
	StatusFailed   = "failed"
	// StatusPending marks identifiers that were seeded but never reached a
	// terminal outcome, which only happens when a run is interrupted.
	StatusPending = "pending"
)

// Header is the CSV column order.
var Header = []string{"identifier", "status", "attempts", "title", "tag", "assets", "reason"}

// Row is one line of the aggregate.
type Row struct {
	ID       string
	Status   string
	Attempts int
	Title    string
	Tag      string
	Assets   []string
	Reason   string
}

func (r Row) fields() []string {
	attempts := ""
	if r.Attempts > 0 {
		attempts = strconv.Itoa(r.Attempts)
	}
	return []string{r.ID, r.Status, attempts, r.Title, r.Tag, strings.Join(r.Assets, ";"), r.Reason}
}

// Build returns one row per seeded identifier, in seeded order.
func Build(
	seeded []string,
	resolved map[string]harvest.Resolution,
	failed map[string]harvest.Failure,
) []Row {
	rows := make([]Row, 0, len(seeded))
	for _, id := range seeded {
		if res, ok := resolved[id]; ok {
			rows = append(rows, Row{
				ID:       id,
				Status:   StatusResolved,
				Attempts: res.Attempts,
				Title:    res.Record.Title,
				Tag:      res.Record.Tag,
				Assets:   res.Record.AssetNames(),
			})
			continue
		}
		if f, ok := failed[id]; ok {
			rows = append(rows, Row{ID: id, Status: StatusFailed, Attempts: f.Attempts, Reason: f.Reason})
			continue
		}
		rows = append(rows, Row{ID: id, Status: StatusPending})
	}
	return rows
}

// WriteCSV encodes rows with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(row.fields()); err != nil {
			return fmt.Errorf("write csv row %s: %w", row.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// Store encodes rows and writes them through store as name.
func Store(ctx context.Context, store harvest.BlobStore, name string, rows []Row) (string, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return "", err
	}
	uri, err := store.PutObject(ctx, name, "text/csv", &buf)
	if err != nil {
		return "", fmt.Errorf("write aggregate %s: %w: %w", name, harvest.ErrStorage, err)
	}
	return uri, nil
}
