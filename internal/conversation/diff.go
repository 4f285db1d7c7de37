// ABOUTME: History differ computing added, updated and removed turns between snapshots.
// ABOUTME: Identity is by turn id; in-place mutations are reported through an explicit set.

package conversation

// Diff is the change-set between two snapshots.
type Diff struct {
	Added   []*Turn  // in next's order
	Updated []*Turn  // in next's order
	Removed []string // turn ids, in prev's order
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// DiffHistory compares prev and next. A turn present in both is updated when
// its reference differs or its id is in explicit.
func DiffHistory(prev, next []*Turn, explicit map[string]struct{}) Diff {
	before := make(map[string]*Turn, len(prev))
	for _, t := range prev {
		before[t.ID] = t
	}

	var d Diff
	after := make(map[string]struct{}, len(next))
	for _, t := range next {
		if _, dup := after[t.ID]; dup {
			continue
		}
		after[t.ID] = struct{}{}

		old, ok := before[t.ID]
		if !ok {
			d.Added = append(d.Added, t)
			continue
		}
		if _, forced := explicit[t.ID]; forced || old != t {
			d.Updated = append(d.Updated, t)
		}
	}

	for _, t := range prev {
		if _, ok := after[t.ID]; !ok {
			d.Removed = append(d.Removed, t.ID)
			after[t.ID] = struct{}{} // report each id once
		}
	}
	return d
}
