package bufferpool

import "sync"

// lruPolicy implements exact LRU: a single intrusive doubly linked list
// ordered most-recently-used (head) to least-recently-used (tail),
// guarded by one mutex held only for pointer rewiring (spec §4.3.1).
type lruPolicy struct {
	mu         sync.Mutex
	frames     []*Frame
	head, tail int32
}

func newLRUPolicy(frames []*Frame) *lruPolicy {
	return &lruPolicy{frames: frames, head: noFrame, tail: noFrame}
}

func (p *lruPolicy) OnHit(i int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// A frame detached by SelectVictim is not in the list; Requeue puts it
	// back if the eviction is abandoned.
	if p.head != i && p.frames[i].prev == noFrame {
		return
	}
	listUnlink(p.frames, &p.head, &p.tail, i)
	listPushFront(p.frames, &p.head, &p.tail, i)
}

func (p *lruPolicy) OnInsert(i int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	listPushFront(p.frames, &p.head, &p.tail, i)
}

func (p *lruPolicy) Requeue(i int32) {
	p.OnInsert(i)
}

func (p *lruPolicy) SelectVictim() (int32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for cur := p.tail; cur != noFrame; cur = p.frames[cur].prev {
		if !p.frames[cur].IsPinned() {
			listUnlink(p.frames, &p.head, &p.tail, cur)
			return cur, true
		}
	}
	return noFrame, false
}
