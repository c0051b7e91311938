// Package pool implements the cooperative thread pool of spec.md §4.3: one
// planner thread, N worker threads, two producer queues (ordered and
// unordered) separated by barriers, and a loop-thread completion
// hand-off.
//
// Grounded on the teacher's eventloop (single-owner-thread draining of a
// completion queue) and on docdb's pool/scheduler.go (per-class queues,
// ants-backed workers, atomic backpressure counters) — see DESIGN.md.
package pool

import "github.com/joeycumines/go-sqlited/internal/queue"

// Class identifies which of the two work classes a WorkItem belongs to,
// and — for ordered work — which ordered class it belongs to.
//
// Unordered is class 0. Barrier is class 1, always ordered. Ordered
// classes proper start at Ord1 and count up; spec.md calls these
// "ORD1…ORDk" and in practice one class is used per open database (its
// class = its database id + Ord1).
type Class int

const (
	Unordered Class = iota
	Barrier
	Ord1
)

// IsOrdered reports whether c participates in ordered-class sequencing
// (Barrier and every Ord1+ class do; Unordered does not).
func (c Class) IsOrdered() bool { return c != Unordered }

// IsBarrier reports whether c is the barrier class.
func (c Class) IsBarrier() bool { return c == Barrier }

// IsStrictlyOrdered reports whether c counts toward in_flight (spec.md
// §4.3: "If the item is strictly ordered (class > BAR), increment
// in_flight").
func (c Class) IsStrictlyOrdered() bool { return c > Barrier }

// WorkItem is the pool's unit of scheduling (spec.md §3 "Work item").
// Once submitted, every field except the embedded Link is read-only until
// After runs on the loop thread — ownership returns to the producer only
// at that point.
type WorkItem struct {
	queue.Link

	// Class and Cookie together determine the addressed worker: spec.md
	// §4.3 "assigns worker id = cookie mod N". Unordered items are also
	// addressed by Cookie, so related unordered I/O tends to land on the
	// same worker.
	Class  Class
	Cookie uint64

	// Do is invoked by a worker thread; a Barrier item's Do (optional) runs
	// on the planner goroutine, under the pool mutex, at the moment the
	// barrier is consumed. Do must not touch loop-thread-only
	// state (spec.md §5: "Loop thread ... MUST NOT call any SQLite API
	// directly" implies the converse: workers must not touch the network).
	Do func()

	// After runs on the loop thread once the pool has finished with the
	// item. Do must have already returned by the time After runs.
	After func()

	pool   *Pool
	worker int
}

// workerOf recovers the enclosing WorkItem from one of its queue links.
func workerOf(link *queue.Link) *WorkItem {
	return queue.ItemOf[WorkItem](link)
}
