package element

import (
	"context"
	"fmt"
	"sync"
)

// SiblingSet is the platform resource behind a SiblingAccessor: the ordered
// children of the owner's parent.
type SiblingSet interface {
	Len() int
	// Self is the owner's index in the set, or -1 when it is not a member.
	Self() int
	At(ctx context.Context, i int) (Element, error)
	Close() error
}

// SiblingOpener acquires the sibling set for one node.
type SiblingOpener func(ctx context.Context) (SiblingSet, error)

// SiblingAccessor hands out forward and backward enumerators over a node's
// siblings. It holds nothing until the first enumerator is requested. The
// underlying set is released exactly once, after Close has been called on
// the accessor and on every enumerator it produced, in any order.
type SiblingAccessor struct {
	open SiblingOpener

	mu       sync.Mutex
	set      SiblingSet
	refs     int
	closed   bool
	released bool
	relErr   error
}

// NewSiblingAccessor returns an inert accessor backed by open.
func NewSiblingAccessor(open SiblingOpener) *SiblingAccessor {
	return &SiblingAccessor{open: open}
}

// Forward enumerates the siblings after the owner, nearest first.
func (a *SiblingAccessor) Forward(ctx context.Context) (*Enumerator, error) {
	return a.enumerate(ctx, 1)
}

// Backward enumerates the siblings before the owner, nearest first.
func (a *SiblingAccessor) Backward(ctx context.Context) (*Enumerator, error) {
	return a.enumerate(ctx, -1)
}

func (a *SiblingAccessor) enumerate(ctx context.Context, step int) (*Enumerator, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if a.set == nil {
		if a.open == nil {
			return nil, fmt.Errorf("%w: sibling accessor without opener", ErrInvalidArgument)
		}
		set, err := a.open(ctx)
		if err != nil {
			return nil, err
		}
		a.set = set
	}
	a.refs++
	return &Enumerator{owner: a, set: a.set, step: step, self: a.set.Self(), pos: a.set.Self()}, nil
}

// Close releases the accessor. If enumerators are still open the release
// of the underlying set is deferred until the last one is closed. Calling
// Close more than once is a no-op.
func (a *SiblingAccessor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.releaseLocked()
}

// Outstanding returns the number of open enumerators.
func (a *SiblingAccessor) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.refs
}

// Released reports whether the underlying set has been closed.
func (a *SiblingAccessor) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

func (a *SiblingAccessor) drop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refs--
	return a.releaseLocked()
}

func (a *SiblingAccessor) releaseLocked() error {
	if !a.closed || a.refs > 0 || a.set == nil || a.released {
		return nil
	}
	a.released = true
	a.relErr = a.set.Close()
	return a.relErr
}

// Enumerator walks siblings in one direction. It is not safe for concurrent
// use, but distinct enumerators of one accessor may be used and closed from
// different goroutines.
type Enumerator struct {
	owner *SiblingAccessor
	set   SiblingSet
	step  int
	self  int
	pos   int
	err   error

	once   sync.Once
	closed bool
}

// Next returns the next sibling. It returns false at the end of the set,
// after Close, or when a lookup fails (see Err).
func (e *Enumerator) Next(ctx context.Context) (Element, bool) {
	if e.closed || e.err != nil || e.self < 0 {
		return nil, false
	}
	if err := ctx.Err(); err != nil {
		e.err = err
		return nil, false
	}
	next := e.pos + e.step
	if next < 0 || next >= e.set.Len() {
		return nil, false
	}
	el, err := e.set.At(ctx, next)
	if err != nil {
		e.err = err
		return nil, false
	}
	e.pos = next
	return el, true
}

// Distance is how many positions the last returned sibling is from the owner.
func (e *Enumerator) Distance() int {
	d := e.pos - e.self
	if d < 0 {
		return -d
	}
	return d
}

// Err reports why enumeration stopped early, if it did.
func (e *Enumerator) Err() error {
	return e.err
}

// Close gives the enumerator's reference back to its accessor. It is idempotent.
func (e *Enumerator) Close() error {
	var err error
	e.once.Do(func() {
		e.closed = true
		err = e.owner.drop()
	})
	return err
}

// StaticSet is a SiblingSet over an already materialized slice.
type StaticSet struct {
	Items   []Element
	Index   int
	OnClose func() error
}

// NewStaticSet locates self in items by id.
func NewStaticSet(items []Element, self string, onClose func() error) *StaticSet {
	idx := -1
	for i, it := range items {
		if it.ID() == self {
			idx = i
			break
		}
	}
	return &StaticSet{Items: items, Index: idx, OnClose: onClose}
}

func (s *StaticSet) Len() int  { return len(s.Items) }
func (s *StaticSet) Self() int { return s.Index }

func (s *StaticSet) At(_ context.Context, i int) (Element, error) {
	if i < 0 || i >= len(s.Items) {
		return nil, fmt.Errorf("%w: sibling index %d out of range", ErrInvalidArgument, i)
	}
	return s.Items[i], nil
}

func (s *StaticSet) Close() error {
	if s.OnClose != nil {
		return s.OnClose()
	}
	return nil
}
