package portpool

import (
	"errors"
	"fmt"
	"sync"
)

// ErrExhausted is returned when every port pair in the range is reserved
var ErrExhausted = errors.New("no free RTP/RTCP port pair")

// ErrClosed is returned by Reserve after the pool has been cleaned up
var ErrClosed = errors.New("port pool closed")

// Pair is an RTP/RTCP port pair; RTCP is always RTP+1 and RTP is even
type Pair struct {
	RTP  int
	RTCP int
}

// String implements fmt.Stringer
func (p Pair) String() string {
	return fmt.Sprintf("%d-%d", p.RTP, p.RTCP)
}

// Pool hands out port pairs from the range [min, max)
type Pool struct {
	mu       sync.Mutex
	min      int
	max      int
	next     int
	reserved map[int]bool // keyed by RTP port
	closed   bool
}

// New creates a pool over [min, max); min must be even
func New(min, max int) (*Pool, error) {
	if min%2 != 0 {
		return nil, fmt.Errorf("first port %d must be even", min)
	}
	if max-min < 2 {
		return nil, fmt.Errorf("port range %d-%d holds no pair", min, max)
	}

	return &Pool{
		min:      min,
		max:      max,
		next:     min,
		reserved: make(map[int]bool),
	}, nil
}

// Reserve returns the next free pair, scanning round-robin from the last reservation
func (p *Pool) Reserve() (Pair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return Pair{}, ErrClosed
	}

	capacity := p.Capacity()
	for i := 0; i < capacity; i++ {
		rtp := p.next
		p.next += 2
		if p.next+1 >= p.max {
			p.next = p.min
		}
		if !p.reserved[rtp] {
			p.reserved[rtp] = true
			return Pair{RTP: rtp, RTCP: rtp + 1}, nil
		}
	}

	return Pair{}, ErrExhausted
}

// Release returns a pair to the pool. Releasing a pair that is not reserved
// reports an error and changes nothing.
func (p *Pool) Release(pair Pair) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.reserved[pair.RTP] {
		return fmt.Errorf("port pair %s is not reserved", pair)
	}
	delete(p.reserved, pair.RTP)
	return nil
}

// InUse returns the number of reserved pairs
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reserved)
}

// Capacity returns the number of pairs the range holds
func (p *Pool) Capacity() int {
	return (p.max - p.min) / 2
}

// Close drops every reservation and refuses new ones
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.reserved = make(map[int]bool)
}
