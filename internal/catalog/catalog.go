// Package catalog is the read-mostly inventory of cells and the servers that host them.
//
// The engine never writes the catalog; provisioning new cells happens out of band.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danmuck/cellwarden/internal/fault"
)

// SupportedDir is the catalog directory relative to the warden root.
var SupportedDir = filepath.Join("cells", "supported")

// Cell is one cataloged test environment.
type Cell struct {
	Name     string
	Host     string
	IPPrefix string
}

// Catalog maps cell names to their hosting server and network prefix.
type Catalog struct {
	names []string
	cells map[string]Cell
}

// FromEntries builds a catalog from explicit cell entries.
func FromEntries(entries []Cell) (*Catalog, error) {
	c := &Catalog{cells: make(map[string]Cell, len(entries))}
	for i, entry := range entries {
		entry.Name = strings.TrimSpace(entry.Name)
		entry.Host = strings.TrimSpace(entry.Host)
		entry.IPPrefix = strings.TrimSpace(entry.IPPrefix)
		if entry.Name == "" || entry.Host == "" || entry.IPPrefix == "" {
			return nil, fmt.Errorf("%w: catalog: cell[%d] requires name, host, and prefix", fault.ErrInvalidArgument, i)
		}
		if !ValidName(entry.Name) {
			return nil, fmt.Errorf("%w: catalog: cell name %q cannot key a reservation record", fault.ErrInvalidArgument, entry.Name)
		}
		if _, ok := c.cells[entry.Name]; ok {
			return nil, fmt.Errorf("%w: catalog: duplicate cell %q", fault.ErrInvalidArgument, entry.Name)
		}
		c.cells[entry.Name] = entry
		c.names = append(c.names, entry.Name)
	}
	sort.Strings(c.names)
	return c, nil
}

// ValidName reports whether name can be used as a reservation record key.
// Dot-prefixed names are reserved for store temp files.
func ValidName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, "/\\\t\n\r")
}

// LoadDir reads one record file per cell from <root>/cells/supported.
// A missing directory yields an empty catalog.
func LoadDir(root string) (*Catalog, error) {
	dir := filepath.Join(root, SupportedDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FromEntries(nil)
		}
		return nil, fmt.Errorf("%w: catalog: read %s: %v", fault.ErrIO, dir, err)
	}
	cells := make([]Cell, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: catalog: read cell %s: %v", fault.ErrIO, entry.Name(), err)
		}
		cell, err := ParseRecord(entry.Name(), string(raw))
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return FromEntries(cells)
}

// ParseRecord decodes the "<hostName> <ipPrefix>" record of a cell.
func ParseRecord(name, raw string) (Cell, error) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return Cell{}, fmt.Errorf("%w: catalog: malformed record for cell %q", fault.ErrInvalidArgument, name)
	}
	return Cell{Name: name, Host: fields[0], IPPrefix: fields[1]}, nil
}

// FormatRecord is the inverse of ParseRecord.
func FormatRecord(cell Cell) string {
	return cell.Host + " " + cell.IPPrefix
}

// Cells returns every cell name in catalog order.
func (c *Catalog) Cells() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// Lookup returns the catalog entry for a cell.
func (c *Catalog) Lookup(name string) (Cell, error) {
	cell, ok := c.cells[name]
	if !ok {
		return Cell{}, fmt.Errorf("%w: catalog: unknown cell %q", fault.ErrNotFound, name)
	}
	return cell, nil
}

// Len is the number of cataloged cells.
func (c *Catalog) Len() int {
	return len(c.names)
}
