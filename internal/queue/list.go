// Package queue implements the intrusive work-item list used by the thread
// pool's producer queues and per-worker inboxes.
package queue

// Link is embedded (by value) in any type that needs to live on a List. Its
// zero value has nil pointers and is not on any list; InsertTail links it.
type Link struct {
	next, prev *Link
}

// List is an intrusive, doubly-linked circular list. The zero value is not
// ready to use; call Init first. Lists store no payload of their own —
// callers recover the containing work item from a *Link via a fixed offset
// (see ItemOf in item.go), which keeps InsertTail/Remove/Splice
// allocation-free.
type List struct {
	root Link
}

// Init prepares an empty list (or resets a non-empty one, dropping its
// contents without touching the removed links).
func (l *List) Init() {
	l.root.next = &l.root
	l.root.prev = &l.root
}

// Empty reports whether the list holds no items.
func (l *List) Empty() bool {
	return l.root.next == &l.root
}

// Head returns the link at the front of the list, or nil if empty.
func (l *List) Head() *Link {
	if l.Empty() {
		return nil
	}
	return l.root.next
}

// InsertTail appends link to the end of the list. link must not already be
// on any list.
func (l *List) InsertTail(link *Link) {
	tail := l.root.prev
	link.prev = tail
	link.next = &l.root
	tail.next = link
	l.root.prev = link
}

// Remove unlinks link from whatever list it is on. It is a no-op to call
// Remove twice in a row (the second call operates on a self-linked node).
func (l *List) Remove(link *Link) {
	link.prev.next = link.next
	link.next.prev = link.prev
	link.next = link
	link.prev = link
}

// Splice moves every item out of src, appending them (in order) to the end
// of l, leaving src empty. O(1) regardless of src's length.
func (l *List) Splice(src *List) {
	if src.Empty() {
		return
	}

	srcFirst := src.root.next
	srcLast := src.root.prev

	tail := l.root.prev
	tail.next = srcFirst
	srcFirst.prev = tail
	srcLast.next = &l.root
	l.root.prev = srcLast

	src.Init()
}

// Range calls fn for every link in the list, front to back. fn must not
// mutate the list.
func (l *List) Range(fn func(*Link)) {
	for link := l.root.next; link != &l.root; link = link.next {
		fn(link)
	}
}
