package bufferpool

// Policy is the pluggable replacement policy interface consulted by the
// buffer manager (spec §4.3). Implementations store their metadata
// directly on each Frame (prev/next indices, ref/visited bits) rather
// than in a side structure, and each owns its own mutex guarding that
// metadata — never the frame latch itself.
type Policy interface {
	// OnHit is called when a pin transitions 0 -> 1 on a resident block.
	OnHit(idx int32)
	// OnInsert is called after a miss admits a new block into a frame.
	OnInsert(idx int32)
	// SelectVictim returns a frame with pin_count == 0 suitable for
	// eviction, detached from the policy's own structure before return,
	// or ok == false if every frame is currently pinned.
	SelectVictim() (idx int32, ok bool)
	// Requeue reinserts a frame that SelectVictim detached but that
	// turned out to be re-pinned before the manager could finish
	// evicting it (spec §9's re-check-and-retry race). Equivalent to
	// OnInsert: the frame was removed from the policy's structure and
	// needs to go back in as if freshly admitted.
	Requeue(idx int32)
}

// NewPolicy constructs the named policy over frames. Resolved once at
// construction (spec §9 option (b)): no further dynamic dispatch cost is
// paid beyond the one interface call per pin/unpin.
func NewPolicy(name string, frames []*Frame) Policy {
	switch name {
	case "clock":
		return newClockPolicy(frames)
	case "sieve":
		return newSievePolicy(frames)
	default:
		return newLRUPolicy(frames)
	}
}

// listUnlink and listPushFront implement the intrusive doubly linked list
// shared by the LRU and SIEVE metadata layouts: frame.prev points toward
// the head (most-recent/most-favored) side, frame.next toward the tail.
func listUnlink(frames []*Frame, head, tail *int32, i int32) {
	f := frames[i]
	if f.prev != noFrame {
		frames[f.prev].next = f.next
	} else {
		*head = f.next
	}
	if f.next != noFrame {
		frames[f.next].prev = f.prev
	} else {
		*tail = f.prev
	}
	f.prev = noFrame
	f.next = noFrame
}

func listPushFront(frames []*Frame, head, tail *int32, i int32) {
	f := frames[i]
	f.prev = noFrame
	f.next = *head
	if *head != noFrame {
		frames[*head].prev = i
	}
	*head = i
	if *tail == noFrame {
		*tail = i
	}
}
