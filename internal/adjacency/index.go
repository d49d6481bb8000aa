// Package adjacency provides the static watershed-unit adjacency table used
// for basin-spanning pattern matching and the neighbor correlation bonus.
package adjacency

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/couchcryptid/watershed-sentinel/internal/domain"
)

//go:embed units.csv
var defaultTable []byte

// Entry is one row of the reference table.
type Entry struct {
	UnitID   string
	BasinID  string
	State    string
	Adjacent []string
}

// Index is a read-only unit id -> Entry lookup. A nil *Index behaves as an
// empty table.
type Index struct {
	entries map[string]Entry
}

// New builds an index from entries. Later duplicates replace earlier ones.
func New(entries []Entry) *Index {
	idx := &Index{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.BasinID == "" {
			e.BasinID = domain.BasinOf(e.UnitID)
		}
		idx.entries[e.UnitID] = e
	}
	return idx
}

// Load reads the table at path, or the embedded default when path is empty.
func Load(path string) (*Index, error) {
	if path == "" {
		return Parse(bytes.NewReader(defaultTable))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open adjacency table: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a CSV table with the header unit_id,basin_id,state,adjacent.
// Adjacent unit ids are separated by semicolons.
func Parse(r io.Reader) (*Index, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read adjacency header: %w", err)
	}
	if strings.TrimSpace(header[0]) != "unit_id" {
		return nil, fmt.Errorf("unexpected adjacency header %q", strings.Join(header, ","))
	}

	var entries []Entry
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read adjacency row: %w", err)
		}
		unit := strings.TrimSpace(rec[0])
		if unit == "" {
			continue
		}
		entries = append(entries, Entry{
			UnitID:   unit,
			BasinID:  strings.TrimSpace(rec[1]),
			State:    strings.ToUpper(strings.TrimSpace(rec[2])),
			Adjacent: splitAdjacent(rec[3]),
		})
	}
	return New(entries), nil
}

func splitAdjacent(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of units in the table.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.entries)
}

// Lookup returns the entry for a unit.
func (i *Index) Lookup(unitID string) (Entry, bool) {
	if i == nil {
		return Entry{}, false
	}
	e, ok := i.entries[unitID]
	return e, ok
}

// BasinOf returns the parent basin of a unit, preferring the table over the
// unit-code prefix.
func (i *Index) BasinOf(unitID string) string {
	if e, ok := i.Lookup(unitID); ok && e.BasinID != "" {
		return e.BasinID
	}
	return domain.BasinOf(unitID)
}

// Neighbors returns every adjacent unit, regardless of basin.
func (i *Index) Neighbors(unitID string) []string {
	e, ok := i.Lookup(unitID)
	if !ok {
		return nil
	}
	return e.Adjacent
}

// BasinNeighbors returns the adjacent units that share the unit's parent
// basin. Units missing from the table have none.
func (i *Index) BasinNeighbors(unitID string) []string {
	e, ok := i.Lookup(unitID)
	if !ok {
		return nil
	}
	var out []string
	for _, n := range e.Adjacent {
		if n != unitID && i.BasinOf(n) == e.BasinID {
			out = append(out, n)
		}
	}
	return out
}

// Validate reports dangling references, one-directional adjacency, and basin
// ids that disagree with the unit code.
func (i *Index) Validate() []error {
	if i == nil {
		return nil
	}
	units := make([]string, 0, len(i.entries))
	for id := range i.entries {
		units = append(units, id)
	}
	sort.Strings(units)

	var errs []error
	for _, id := range units {
		e := i.entries[id]
		if prefix := domain.BasinOf(id); prefix != "" && e.BasinID != prefix {
			errs = append(errs, fmt.Errorf("unit %s: basin %s does not match unit prefix %s", id, e.BasinID, prefix))
		}
		for _, n := range e.Adjacent {
			other, ok := i.entries[n]
			if !ok {
				errs = append(errs, fmt.Errorf("unit %s: adjacent unit %s is not in the table", id, n))
				continue
			}
			if !contains(other.Adjacent, id) {
				errs = append(errs, fmt.Errorf("unit %s: adjacency to %s is not reciprocated", id, n))
			}
		}
	}
	return errs
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
