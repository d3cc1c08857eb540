package routing

import (
	"errors"
	"fmt"
	"sort"
)

// ErrEntryNotFound is returned when removing an entry that does not exist.
var ErrEntryNotFound = errors.New("routing entry not found")

// Target is the destination half of a routing entry.
type Target struct {
	Connector Connector
	Endpoint  string
}

// Entry is one directed edge of the routing graph.
type Entry struct {
	Source         Connector
	SourceEndpoint string
	Target         Connector
	TargetEndpoint string
}

// StructuralError reports a routing entry without its reverse pairing.
type StructuralError struct {
	Connector Connector
	Endpoint  string
	Target    Target
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("routing entry %s[%s] -> %s[%s] has no reverse entry",
		e.Connector, e.Endpoint, e.Target.Connector, e.Target.Endpoint)
}

// Table is the per-account routing graph. Every forward entry must be matched
// by a reverse entry for the table to validate.
//
// A Table is not safe for concurrent mutation.
type Table struct {
	entries map[Connector]map[string]Target
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{entries: make(map[Connector]map[string]Target)}
}

func endpointOrDefault(ep string) string {
	if ep == "" {
		return DefaultEndpoint
	}
	return ep
}

// AddEntry upserts the directed entry src[srcEp] -> dst[dstEp]. Re-adding the
// same entry is a no-op; adding a different target for src[srcEp] replaces it.
func (t *Table) AddEntry(src Connector, srcEp string, dst Connector, dstEp string) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("add entry: source: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return fmt.Errorf("add entry: target: %w", err)
	}
	eps, ok := t.entries[src]
	if !ok {
		eps = make(map[string]Target)
		t.entries[src] = eps
	}
	eps[endpointOrDefault(srcEp)] = Target{Connector: dst, Endpoint: endpointOrDefault(dstEp)}
	return nil
}

// Connect adds both directions of a pairing between a[aEp] and b[bEp].
func (t *Table) Connect(a Connector, aEp string, b Connector, bEp string) error {
	if err := t.AddEntry(a, aEp, b, bEp); err != nil {
		return err
	}
	return t.AddEntry(b, bEp, a, aEp)
}

// RemoveEntry deletes the entry originating at src[srcEp].
func (t *Table) RemoveEntry(src Connector, srcEp string) error {
	eps, ok := t.entries[src]
	if !ok {
		return ErrEntryNotFound
	}
	srcEp = endpointOrDefault(srcEp)
	if _, ok := eps[srcEp]; !ok {
		return ErrEntryNotFound
	}
	delete(eps, srcEp)
	if len(eps) == 0 {
		delete(t.entries, src)
	}
	return nil
}

// RemoveConnector deletes every entry where c is the source or the target.
// Returns the number of entries removed.
func (t *Table) RemoveConnector(c Connector) int {
	removed := len(t.entries[c])
	delete(t.entries, c)
	for src, eps := range t.entries {
		for ep, target := range eps {
			if target.Connector == c {
				delete(eps, ep)
				removed++
			}
		}
		if len(eps) == 0 {
			delete(t.entries, src)
		}
	}
	return removed
}

// LookupTarget returns the target for c[endpoint], if any.
func (t *Table) LookupTarget(c Connector, endpoint string) (Target, bool) {
	target, ok := t.entries[c][endpointOrDefault(endpoint)]
	return target, ok
}

// Entries returns all entries sorted by source key then endpoint.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.entries))
	for src, eps := range t.entries {
		for ep, target := range eps {
			out = append(out, Entry{
				Source:         src,
				SourceEndpoint: ep,
				Target:         target.Connector,
				TargetEndpoint: target.Endpoint,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if a, b := out[i].Source.String(), out[j].Source.String(); a != b {
			return a < b
		}
		return out[i].SourceEndpoint < out[j].SourceEndpoint
	})
	return out
}

// Len returns the number of directed entries.
func (t *Table) Len() int {
	n := 0
	for _, eps := range t.entries {
		n += len(eps)
	}
	return n
}

// Validate checks the bidirectional pairing invariant. The first offending
// entry, in Entries order, is reported as a *StructuralError.
func (t *Table) Validate() error {
	for _, e := range t.Entries() {
		back, ok := t.LookupTarget(e.Target, e.TargetEndpoint)
		if !ok || back.Connector != e.Source || back.Endpoint != e.SourceEndpoint {
			return &StructuralError{
				Connector: e.Source,
				Endpoint:  e.SourceEndpoint,
				Target:    Target{Connector: e.Target, Endpoint: e.TargetEndpoint},
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := NewTable()
	for src, eps := range t.entries {
		cp := make(map[string]Target, len(eps))
		for ep, target := range eps {
			cp[ep] = target
		}
		out.entries[src] = cp
	}
	return out
}
