package engine

import "sync"

// deque is a mutex-guarded double-ended queue. The owning worker pushes
// and pops at the top; thieves take from the bottom.
type deque struct {
	mu    sync.Mutex
	items []*Ticket
	head  int // index of the bottom element
}

func (d *deque) push(t *Ticket) {
	d.mu.Lock()
	d.items = append(d.items, t)
	d.mu.Unlock()
}

// pop removes the newest entry.
func (d *deque) pop() *Ticket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == d.head {
		return nil
	}
	last := len(d.items) - 1
	t := d.items[last]
	d.items[last] = nil
	d.items = d.items[:last]
	d.reset()
	return t
}

// steal removes the oldest entry.
func (d *deque) steal() *Ticket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == d.head {
		return nil
	}
	t := d.items[d.head]
	d.items[d.head] = nil
	d.head++
	d.reset()
	return t
}

// stealHalf moves up to half of d's entries, oldest first, and at most max.
func (d *deque) stealHalf(max int) []*Ticket {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := (len(d.items) - d.head + 1) / 2
	n = min(n, max)
	if n <= 0 {
		return nil
	}
	out := make([]*Ticket, n)
	copy(out, d.items[d.head:d.head+n])
	clear(d.items[d.head : d.head+n])
	d.head += n
	d.reset()
	return out
}

func (d *deque) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items) - d.head
}

// reset reclaims the slice once it is empty. Callers hold mu.
func (d *deque) reset() {
	if d.head == len(d.items) {
		d.items = d.items[:0]
		d.head = 0
	}
}
