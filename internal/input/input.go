// Package input describes the identifiers a harvest run is seeded with.
package input

// Entry is one object named by the input, with the metadata the input carries.
type Entry struct {
	ID    string
	URL   string
	Title string
	Tag   string
}

// Catalog indexes entries by identifier. The first entry for an id wins.
type Catalog struct {
	order   []string
	entries map[string]Entry
}

// NewCatalog builds a catalog, dropping duplicate and empty identifiers.
func NewCatalog(entries []Entry) *Catalog {
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		if _, dup := c.entries[e.ID]; dup {
			continue
		}
		c.entries[e.ID] = e
		c.order = append(c.order, e.ID)
	}
	return c
}

// IDs returns identifiers in input order.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.order...)
}

// Lookup returns the entry for id.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	e, ok := c.entries[id]
	return e, ok
}

// Len returns the number of distinct entries.
func (c *Catalog) Len() int {
	return len(c.order)
}
