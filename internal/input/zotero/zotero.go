// Package zotero reads identifier lists from Zotero CSV exports.
package zotero

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/JakeFAU/heritage-harvester/internal/input"
)

// Zotero export columns used here.
const (
	ColumnKey   = "Key"
	ColumnURL   = "Url"
	ColumnTitle = "Title"
	ColumnTags  = "Manual Tags"
)

// ErrNoObjectID is returned when a row URL does not contain an identifier.
var ErrNoObjectID = errors.New("cannot find object id in url")

// Options controls row filtering.
type Options struct {
	// Pattern extracts the identifier from the Url column. It must contain a
	// named group "objectId" or exactly one capture group.
	Pattern *regexp.Regexp
	// IgnoreTagsContaining drops rows whose Manual Tags contain any of these substrings.
	IgnoreTagsContaining []string
	// SkipUnmatched drops rows whose URL does not match instead of failing.
	SkipUnmatched bool
}

// ReadEntries parses a Zotero CSV export into entries in file order.
// Duplicate identifiers keep their first row.
func ReadEntries(r io.Reader, opts Options) ([]input.Entry, error) {
	if opts.Pattern == nil {
		return nil, errors.New("zotero: object id pattern is required")
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("zotero: read header: %w", err)
	}
	cols := indexColumns(header)
	urlCol, ok := cols[ColumnURL]
	if !ok {
		return nil, fmt.Errorf("zotero: missing %q column", ColumnURL)
	}

	var (
		entries []input.Entry
		seen    = map[string]struct{}{}
		line    = 1
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("zotero: line %d: %w", line, err)
		}
		entry := input.Entry{
			URL:   field(row, urlCol),
			Title: field(row, lookup(cols, ColumnTitle)),
			Tag:   field(row, lookup(cols, ColumnTags)),
		}
		if ignored(entry.Tag, opts.IgnoreTagsContaining) {
			continue
		}
		id, err := ObjectID(entry.URL, opts.Pattern)
		if err != nil {
			if opts.SkipUnmatched {
				continue
			}
			return nil, fmt.Errorf("zotero: line %d: %w", line, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entry.ID = id
		entries = append(entries, entry)
	}
	return entries, nil
}

// ScanIDs returns every distinct identifier matched anywhere in r, sorted.
func ScanIDs(r io.Reader, pattern *regexp.Regexp) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	set := map[string]struct{}{}
	for _, m := range pattern.FindAllStringSubmatch(string(data), -1) {
		set[submatch(pattern, m)] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ObjectID extracts the identifier from url using pattern.
func ObjectID(url string, pattern *regexp.Regexp) (string, error) {
	m := pattern.FindStringSubmatch(url)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrNoObjectID, url)
	}
	id := submatch(pattern, m)
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrNoObjectID, url)
	}
	return id, nil
}

func submatch(pattern *regexp.Regexp, m []string) string {
	if i := pattern.SubexpIndex("objectId"); i > 0 {
		return m[i]
	}
	if len(m) > 1 {
		return m[1]
	}
	return m[0]
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))] = i
	}
	return cols
}

func lookup(cols map[string]int, name string) int {
	if i, ok := cols[name]; ok {
		return i
	}
	return -1
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func ignored(tag string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(tag, n) {
			return true
		}
	}
	return false
}
