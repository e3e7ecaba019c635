// Package plan computes the reconciliation plan between a source and a
// replica [schema.Inventory]. It performs no IO.
package plan

import (
	"sort"
	"time"

	"github.com/desertwitch/mirrord/internal/schema"
)

// Reason describes why an [Action] was planned.
type Reason string

const (
	// ReasonMissing is a source element absent in the replica.
	ReasonMissing Reason = "missing"

	// ReasonSize is a replica file of a different size than its source.
	ReasonSize Reason = "size"

	// ReasonModTime is a replica file older than its source.
	ReasonModTime Reason = "modtime"

	// ReasonKind is a replica element of a different kind than its source.
	ReasonKind Reason = "kind"

	// ReasonExtraneous is a replica element absent in the source.
	ReasonExtraneous Reason = "extraneous"
)

// Action is a single planned operation on a relative path. Source is nil for
// deletions of replica elements absent in the source, Replica is nil for
// elements absent in the replica.
type Action struct {
	Path    string
	Reason  Reason
	Source  *schema.Record
	Replica *schema.Record
}

// Depth returns the number of path segments of the [Action]'s path.
func (a *Action) Depth() int {
	return schema.PathDepth(a.Path)
}

// Plan is the reconciliation plan derived from one source and replica
// [schema.Inventory] pair. ToCreateDir is ordered parents first, ToDelete is
// ordered children first and ToCopy is ordered lexically.
type Plan struct {
	ToCreateDir []*Action
	ToCopy      []*Action
	ToDelete    []*Action
}

// Len returns the total amount of planned operations.
func (p *Plan) Len() int {
	return len(p.ToCreateDir) + len(p.ToCopy) + len(p.ToDelete)
}

// IsEmpty reports if there is nothing to do.
func (p *Plan) IsEmpty() bool {
	return p.Len() == 0
}

// BytesToCopy returns the summed source size of all planned copies.
func (p *Plan) BytesToCopy() uint64 {
	var total uint64
	for _, a := range p.ToCopy {
		total += a.Source.Size()
	}

	return total
}

// Handler is the principal implementation of the differ.
type Handler struct {
	modTimeWindow time.Duration
}

// NewHandler returns a pointer to a new [Handler]. A source file is only
// considered newer than its replica if its modification time exceeds the
// replica's by more than the modTimeWindow, which allows for filesystems
// storing coarse timestamps.
func NewHandler(modTimeWindow time.Duration) *Handler {
	return &Handler{
		modTimeWindow: modTimeWindow,
	}
}

// Diff returns the [Plan] reconciling the replica with the source. It is a
// pure function of its inputs and returns equal plans for equal inputs.
//
// A replica file with the same size and a modification time not older than
// its source is considered unchanged, its content is never compared.
func (h *Handler) Diff(source *schema.Inventory, replica *schema.Inventory) *Plan {
	p := &Plan{}

	for _, src := range source.Records() {
		rep, exists := replica.Get(src.Path)

		switch {
		case !exists:
			p.add(&Action{Path: src.Path, Reason: ReasonMissing, Source: src})

		case src.Kind != rep.Kind:
			p.ToDelete = append(p.ToDelete, &Action{Path: src.Path, Reason: ReasonKind, Source: src, Replica: rep})
			p.add(&Action{Path: src.Path, Reason: ReasonKind, Source: src, Replica: rep})

		case src.IsDir():
			continue

		case src.Metadata.Size != rep.Metadata.Size:
			p.ToCopy = append(p.ToCopy, &Action{Path: src.Path, Reason: ReasonSize, Source: src, Replica: rep})

		case src.Metadata.NewerThan(rep.Metadata, h.modTimeWindow):
			p.ToCopy = append(p.ToCopy, &Action{Path: src.Path, Reason: ReasonModTime, Source: src, Replica: rep})
		}
	}

	for _, rep := range replica.Records() {
		if _, exists := source.Get(rep.Path); !exists {
			p.ToDelete = append(p.ToDelete, &Action{Path: rep.Path, Reason: ReasonExtraneous, Replica: rep})
		}
	}

	p.sort()

	return p
}

// add appends an [Action] for a source element to the set matching its kind.
func (p *Plan) add(a *Action) {
	if a.Source.IsDir() {
		p.ToCreateDir = append(p.ToCreateDir, a)
	} else {
		p.ToCopy = append(p.ToCopy, a)
	}
}

// sort establishes the execution order of all sets.
func (p *Plan) sort() {
	sort.SliceStable(p.ToCreateDir, func(i, j int) bool {
		di, dj := p.ToCreateDir[i].Depth(), p.ToCreateDir[j].Depth()
		if di != dj {
			return di < dj
		}

		return p.ToCreateDir[i].Path < p.ToCreateDir[j].Path
	})

	sort.SliceStable(p.ToCopy, func(i, j int) bool {
		return p.ToCopy[i].Path < p.ToCopy[j].Path
	})

	sort.SliceStable(p.ToDelete, func(i, j int) bool {
		di, dj := p.ToDelete[i].Depth(), p.ToDelete[j].Depth()
		if di != dj {
			return di > dj
		}

		return p.ToDelete[i].Path < p.ToDelete[j].Path
	})
}
