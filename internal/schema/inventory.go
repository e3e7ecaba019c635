package schema

import "sort"

// Inventory is the collection of all [Record] elements found by one scan of
// one root. It is built once and not modified afterwards, so it is safe for
// concurrent reads.
type Inventory struct {
	root    string
	records map[string]*Record
	paths   []string
}

// NewInventory returns a pointer to a new [Inventory] for a root, holding the
// given records. Later records replace earlier ones with the same path.
func NewInventory(root string, records ...*Record) *Inventory {
	inv := &Inventory{
		root:    root,
		records: make(map[string]*Record, len(records)),
	}

	for _, r := range records {
		inv.records[r.Path] = r
	}

	inv.paths = make([]string, 0, len(inv.records))
	for p := range inv.records {
		inv.paths = append(inv.paths, p)
	}
	sort.Strings(inv.paths)

	return inv
}

// Root returns the root the [Inventory] was built from.
func (inv *Inventory) Root() string {
	return inv.root
}

// Get returns the [Record] at a relative path.
func (inv *Inventory) Get(relPath string) (*Record, bool) {
	r, ok := inv.records[relPath]

	return r, ok
}

// Len returns the amount of records.
func (inv *Inventory) Len() int {
	return len(inv.records)
}

// Paths returns all relative paths in lexical order, which lists every
// directory before the elements it contains. The returned slice is a copy.
func (inv *Inventory) Paths() []string {
	paths := make([]string, len(inv.paths))
	copy(paths, inv.paths)

	return paths
}

// Records returns all records in the order of [Inventory.Paths].
func (inv *Inventory) Records() []*Record {
	records := make([]*Record, 0, len(inv.paths))
	for _, p := range inv.paths {
		records = append(records, inv.records[p])
	}

	return records
}

// TotalSize returns the summed size of all file records.
func (inv *Inventory) TotalSize() uint64 {
	var total uint64
	for _, r := range inv.records {
		total += r.Size()
	}

	return total
}
