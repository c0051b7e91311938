package pool

import (
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/joeycumines/go-sqlited/internal/fatal"
	"github.com/joeycumines/go-sqlited/internal/logging"
	"github.com/joeycumines/go-sqlited/internal/queue"
)

// workerInbox is one worker thread's FIFO of addressed work items (spec.md
// §3 "Worker inbox"). Owned by the worker; the planner mutates it while
// holding Pool.mu.
type workerInbox struct {
	inbox queue.List
	cond  *sync.Cond
}

// Pool is the cooperative thread pool of spec.md §4.3: one planner
// goroutine, N worker goroutines (acquired from an ants.Pool so their
// goroutines are recycled rather than leaked across a process's many
// Pool lifetimes in tests), two producer queues, and a completion queue
// drained by the loop thread.
type Pool struct {
	mu          sync.Mutex
	plannerCond *sync.Cond

	ordered   queue.List
	unordered queue.List

	haveLastOrdered  bool
	lastOrderedClass Class

	workers  []*workerInbox
	inFlight int
	exiting  bool
	qos      int

	planner *plannerMachine

	outputMu sync.Mutex
	output   queue.List

	// wake notifies the loop thread that DrainCompletions has work to do.
	// Analogous to spec.md's "async handle" — how that notification
	// actually reaches the loop thread (a pipe, a channel select) is the
	// loop's concern, not the pool's.
	wake func()

	log *logging.Logger

	ants        *ants.Pool
	plannerDone chan struct{}
	workersDone sync.WaitGroup
}

// New constructs a Pool with n worker threads (already clamped by callers
// via internal/config.ClampThreadPoolSize) and starts its planner and
// worker goroutines. wake is called (from a worker or the planner
// goroutine) whenever DrainCompletions has new items to offer; it must not
// block or call back into the Pool.
func New(n int, wake func(), log *logging.Logger) (*Pool, error) {
	if n < 1 {
		n = 1
	}

	p := &Pool{
		workers:     make([]*workerInbox, n),
		planner:     newPlannerMachine(log),
		wake:        wake,
		log:         log,
		plannerDone: make(chan struct{}),
	}
	p.plannerCond = sync.NewCond(&p.mu)
	p.ordered.Init()
	p.unordered.Init()
	p.output.Init()

	for i := range p.workers {
		w := &workerInbox{}
		w.inbox.Init()
		w.cond = sync.NewCond(&p.mu)
		p.workers[i] = w
	}

	antsPool, err := ants.NewPool(n, ants.WithPreAlloc(true), ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	p.ants = antsPool

	p.workersDone.Add(n)
	for i := range p.workers {
		i := i
		if err := p.ants.Submit(func() {
			defer p.workersDone.Done()
			p.runWorker(i)
		}); err != nil {
			return nil, err
		}
	}

	go p.runPlanner()

	return p, nil
}

// Submit places w into the ordered or unordered producer queue, per
// spec.md §4.3's submission contract. w.Cookie selects the worker
// (cookie mod N); BAR items are always ordered. Submitting after Shutdown
// has been initiated, or violating the ordered-class interleaving
// precondition, is fatal — these are design-law violations, not user
// errors (spec.md §4.3, §7).
func (p *Pool) Submit(w *WorkItem) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exiting {
		fatal.Invariant(p.log, "pool", "submit after exiting")
	}

	w.pool = p
	w.worker = int(w.Cookie % uint64(len(p.workers)))

	if w.Class.IsOrdered() {
		if p.haveLastOrdered && p.lastOrderedClass != Barrier && w.Class != Barrier && p.lastOrderedClass != w.Class {
			fatal.Invariant(p.log, "pool", "ordered class precondition violated: interleaved ordered classes without a barrier")
		}
		p.lastOrderedClass = w.Class
		p.haveLastOrdered = true
		p.ordered.InsertTail(&w.Link)
	} else {
		p.unordered.InsertTail(&w.Link)
	}

	p.plannerCond.Signal()
}

// Shutdown sets exiting, wakes every suspended goroutine, and blocks until
// the planner and all workers have exited. A pending BAR with non-zero
// in_flight blocks Shutdown until workers drain — intentional, per
// spec.md §5.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.exiting = true
	p.plannerCond.Broadcast()
	for _, w := range p.workers {
		w.cond.Broadcast()
	}
	p.mu.Unlock()

	<-p.plannerDone
	p.workersDone.Wait()
	p.ants.Release()
}

// DrainCompletions is called by the loop thread. It splices the
// completion queue into a local list under the output-queue mutex only,
// then invokes each item's After callback with no pool locks held
// (spec.md §4.3 "Completion").
func (p *Pool) DrainCompletions() {
	var local queue.List
	local.Init()

	p.outputMu.Lock()
	local.Splice(&p.output)
	p.outputMu.Unlock()

	local.Range(func(link *queue.Link) {
		item := workerOf(link)
		if item.After != nil {
			item.After()
		}
	})
}

// InFlight reports the current number of strictly-ordered items dispatched
// but not yet completed. Exposed for tests asserting spec.md §8 invariant
// 3 ("in_flight == 0 whenever the planner is in NOTHING").
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// PlannerState reports the planner's current state, for tests and
// diagnostics.
func (p *Pool) PlannerState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.planner.Current()
}

func (p *Pool) complete(item *WorkItem) {
	p.outputMu.Lock()
	p.output.InsertTail(&item.Link)
	p.outputMu.Unlock()
	if p.wake != nil {
		p.wake()
	}
}

// dispatchToWorker takes a link the caller has already removed from its
// producer queue, appends it to its addressed worker's inbox, and — for strictly ordered items — increments in_flight
// (spec.md §4.3 "DRAINING").
func (p *Pool) dispatchToWorker(link *queue.Link) {
	item := workerOf(link)
	w := p.workers[item.worker]
	w.inbox.InsertTail(link)
	if item.Class.IsStrictlyOrdered() {
		p.inFlight++
	}
	w.cond.Signal()
}

func (p *Pool) runWorker(idx int) {
	w := p.workers[idx]

	p.mu.Lock()
	for {
		for w.inbox.Empty() && !p.exiting {
			w.cond.Wait()
		}
		if w.inbox.Empty() && p.exiting {
			p.mu.Unlock()
			return
		}

		link := w.inbox.Head()
		w.inbox.Remove(link)
		p.mu.Unlock()

		item := workerOf(link)
		if item.Do != nil {
			item.Do()
		}
		p.complete(item)

		p.mu.Lock()
		if item.Class.IsStrictlyOrdered() {
			p.inFlight--
			if p.inFlight == 0 {
				p.plannerCond.Signal()
			}
		}
	}
}
