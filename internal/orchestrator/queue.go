package orchestrator

import (
	"github.com/google/btree"

	"github.com/fibanez/aws-dash-architect-sub001/pkg/resource"
)

// unit is one schedulable piece of work.
type unit struct {
	seq        uint64
	phase      Phase
	key        resource.QueryKey
	resourceID string
	gen        uint64
	reload     bool
}

func unitLess(a, b *unit) bool {
	if a.phase != b.phase {
		return a.phase < b.phase
	}
	return a.seq < b.seq
}

// queue orders units so every Phase 1 unit pops before any Phase 2 unit and
// units of one phase pop in scheduling order.
type queue struct {
	tree *btree.BTreeG[*unit]
}

func newQueue() *queue {
	return &queue{tree: btree.NewG[*unit](16, unitLess)}
}

func (q *queue) push(u *unit) {
	q.tree.ReplaceOrInsert(u)
}

func (q *queue) pop() (*unit, bool) {
	return q.tree.DeleteMin()
}

func (q *queue) len() int {
	return q.tree.Len()
}

// removeIf deletes and returns every unit matching fn.
func (q *queue) removeIf(fn func(*unit) bool) []*unit {
	var drop []*unit
	q.tree.Ascend(func(u *unit) bool {
		if fn(u) {
			drop = append(drop, u)
		}
		return true
	})
	for _, u := range drop {
		q.tree.Delete(u)
	}
	return drop
}

func (q *queue) clear() []*unit {
	return q.removeIf(func(*unit) bool { return true })
}
