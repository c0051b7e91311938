package pool

import "github.com/joeycumines/go-sqlited/internal/queue"

// runPlanner is the planner's entire lifecycle (spec.md §4.3). It holds
// Pool.mu except while blocked on plannerCond.Wait.
func (p *Pool) runPlanner() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		switch p.planner.Current() {

		case StateNothing:
			for p.ordered.Empty() && p.unordered.Empty() && !p.exiting {
				p.plannerCond.Wait()
			}
			if p.ordered.Empty() && p.unordered.Empty() && p.exiting {
				p.planner.Move(StateExited)
				continue
			}
			p.planner.Move(StateDraining)

		case StateDraining:
			for !p.ordered.Empty() || !p.unordered.Empty() {
				if head := p.ordered.Head(); head != nil && workerOf(head).Class.IsBarrier() {
					p.planner.Move(StateBarrier)
					break
				}
				p.planOne()
			}
			if p.planner.Current() == StateDraining {
				p.planner.Move(StateNothing)
			}

		case StateBarrier:
			switch {
			case !p.unordered.Empty():
				p.planner.Move(StateDrainingUnord)

			case p.inFlight == 0:
				link := p.ordered.Head()
				p.ordered.Remove(link)
				bar := workerOf(link)
				if bar.Do != nil {
					bar.Do()
				}
				p.complete(bar)
				p.planner.Move(StateDraining)

			default:
				p.plannerCond.Wait()
				p.planner.Move(StateBarrier)
			}

		case StateDrainingUnord:
			for !p.unordered.Empty() {
				link := p.unordered.Head()
				p.unordered.Remove(link)
				p.dispatchToWorker(link)
			}
			p.planner.Move(StateBarrier)

		case StateExited:
			close(p.plannerDone)
			return
		}
	}
}

// planOne pops exactly one item from the ordered or unordered queue using
// the fairness counter ("qos++ & 1 alternates; if one is empty, take from
// the other", spec.md §4.3) and dispatches it to its addressed worker. The
// caller must already know the ordered head (if any) is not a BAR.
func (p *Pool) planOne() {
	var link *queue.Link

	switch {
	case p.ordered.Empty():
		link = p.unordered.Head()
		p.unordered.Remove(link)
	case p.unordered.Empty():
		link = p.ordered.Head()
		p.ordered.Remove(link)
	default:
		p.qos++
		if p.qos&1 == 0 {
			link = p.ordered.Head()
			p.ordered.Remove(link)
		} else {
			link = p.unordered.Head()
			p.unordered.Remove(link)
		}
	}

	p.dispatchToWorker(link)
}
