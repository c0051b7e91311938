package queue

import "unsafe"

// ItemOf recovers the containing work item from one of its queue links.
// T must embed Link as its first field — the recovery is a fixed-offset
// cast, not a lookup, which is what keeps List allocation-free: the list
// never allocates a wrapper node, it only ever links the item's own Link
// field in and out of whichever queue currently owns it.
func ItemOf[T any](link *Link) *T {
	return (*T)(unsafe.Pointer(link))
}
