// Package memory owns raw buffers for tensor storage. The Allocator keeps a
// pool of reusable buffers and an optional reserved workspace budget; in
// probe mode an allocation that would grow the footprint past the budget is
// refused with ErrWorkspaceExceeded instead of being committed, which lets a
// caller test whether a planned computation fits without allocating it.
package memory

import (
	"errors"
	"fmt"
)

// ErrWorkspaceExceeded signals that an allocation would not fit the reserved
// workspace. It is only returned while probe mode is on; callers check for
// it with errors.Is and must treat the allocator as needing a Clear before
// reuse.
var ErrWorkspaceExceeded = errors.New("memory: allocation would exceed reserved workspace")

// bufferAlign rounds capacities so that near-sized requests share pool slots.
const bufferAlign = 256

// Allocator hands out byte buffers, recycling freed ones through a
// capacity-keyed free list.
type Allocator struct {
	reserved  int // workspace budget in bytes; 0 means unbounded
	footprint int // total bytes ever committed and not cleared
	probe     bool

	free map[int][][]byte
}

// NewAllocator creates an empty allocator with no reserved budget.
func NewAllocator() *Allocator {
	return &Allocator{free: make(map[int][][]byte)}
}

// Reserve sets the workspace budget in bytes. The budget only takes effect
// in probe mode; outside it the allocator grows freely.
func (a *Allocator) Reserve(bytes int) {
	a.reserved = bytes
}

// SetProbe toggles probe mode. The prober is responsible for switching it
// off again on both success and failure paths.
func (a *Allocator) SetProbe(on bool) {
	a.probe = on
}

// Footprint returns the total bytes committed since the last Clear.
func (a *Allocator) Footprint() int { return a.footprint }

func roundUp(n int) int {
	return (n + bufferAlign - 1) / bufferAlign * bufferAlign
}

// Alloc returns a zeroed buffer of at least n bytes, reusing a pooled buffer
// when one fits. In probe mode it returns ErrWorkspaceExceeded when growing
// past the reserved budget.
func (a *Allocator) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("memory: negative allocation size %d", n)
	}
	size := roundUp(n)

	if bufs := a.free[size]; len(bufs) > 0 {
		buf := bufs[len(bufs)-1]
		a.free[size] = bufs[:len(bufs)-1]
		clear(buf)
		return buf[:n], nil
	}

	if a.probe && a.reserved > 0 && a.footprint+size > a.reserved {
		return nil, fmt.Errorf("memory: %d bytes requested, %d of %d used: %w",
			size, a.footprint, a.reserved, ErrWorkspaceExceeded)
	}

	a.footprint += size
	return make([]byte, size)[:n], nil
}

// Free returns a buffer to the pool for reuse. The caller must not touch it
// afterwards.
func (a *Allocator) Free(buf []byte) {
	if buf == nil {
		return
	}
	size := roundUp(cap(buf))
	a.free[size] = append(a.free[size], buf[:cap(buf)])
}

// Clear drops every pooled buffer and resets the footprint. Outstanding
// buffers are abandoned to the garbage collector; the owning graph drops its
// node references in the same reset.
func (a *Allocator) Clear() {
	a.free = make(map[int][][]byte)
	a.footprint = 0
}
