package sanitizer

import (
	"sort"

	"piimask/internal/detect"
)

type DropReason string

const (
	// ReasonInvalid marks a span that is empty or lies outside the text.
	ReasonInvalid DropReason = "invalid"
	// ReasonOverlap marks a span sharing at least one offset with an accepted span.
	ReasonOverlap DropReason = "overlap"
)

type Dropped struct {
	Entity detect.Entity `json:"entity"`
	Reason DropReason    `json:"reason"`
}

// Pool concatenates candidate lists from every source. No source takes
// precedence over another.
func Pool(sources ...[]detect.Entity) []detect.Entity {
	n := 0
	for _, s := range sources {
		n += len(s)
	}
	out := make([]detect.Entity, 0, n)
	for _, s := range sources {
		out = append(out, s...)
	}
	return out
}

type Reconciler struct {
	priorities PriorityTable
}

func NewReconciler(priorities PriorityTable) *Reconciler {
	if priorities.byLabel == nil {
		priorities = DefaultPriorities()
	}
	return &Reconciler{priorities: priorities}
}

type rankedEntity struct {
	detect.Entity
	priority int
}

// Reconcile selects a non-overlapping subset of candidates, sorted by Start.
//
// Candidates are ordered by start, then priority, then longer span first,
// then classification name, then source and higher score; each is accepted only if none of its offsets is
// already claimed. Spans that are empty or fall outside text are dropped
// rather than clamped. Accepted spans get Text refreshed from text.
func (r *Reconciler) Reconcile(text string, candidates []detect.Entity) ([]detect.Entity, []Dropped) {
	var dropped []Dropped
	pool := make([]rankedEntity, 0, len(candidates))
	for _, c := range candidates {
		if c.Start < 0 || c.End > len(text) || c.Start >= c.End {
			dropped = append(dropped, Dropped{Entity: c, Reason: ReasonInvalid})
			continue
		}
		pool = append(pool, rankedEntity{Entity: c, priority: r.priorities.Priority(c.Classification)})
	}

	sort.SliceStable(pool, func(i, j int) bool {
		a, b := pool[i], pool[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		if a.End != b.End {
			return a.End > b.End
		}
		if a.Classification != b.Classification {
			return a.Classification < b.Classification
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Score > b.Score
	})

	kept := make([]detect.Entity, 0, len(pool))
	var claimed intervalSet
	for _, c := range pool {
		if claimed.overlaps(c.Start, c.End) {
			dropped = append(dropped, Dropped{Entity: c.Entity, Reason: ReasonOverlap})
			continue
		}
		claimed.insert(c.Start, c.End)
		e := c.Entity
		e.Text = text[e.Start:e.End]
		kept = append(kept, e)
	}
	return kept, dropped
}

type interval struct {
	start, end int
}

// intervalSet holds disjoint half-open intervals sorted by start. Because
// they are disjoint, they are sorted by end too.
type intervalSet []interval

func (s intervalSet) overlaps(start, end int) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i].end > start })
	return i < len(s) && s[i].start < end
}

// insert assumes [start, end) does not overlap the set.
func (s *intervalSet) insert(start, end int) {
	set := *s
	i := sort.Search(len(set), func(i int) bool { return set[i].start >= start })
	set = append(set, interval{})
	copy(set[i+1:], set[i:])
	set[i] = interval{start: start, end: end}
	*s = set
}
