/*
 * Copyright 2026 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package mempool

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/cloudwego/poolalloc/unsafex"
	"github.com/cloudwego/poolalloc/unsafex/malloc"
)

// Option configures a Pool.
type Option struct {
	// Align is the size-class spacing and the alignment of every small block.
	// It must be a power of two and at least the size of a pointer.
	Align int

	// MaxBytes is the largest request served from free lists.
	// Larger requests go to Raw. It must be a positive multiple of Align.
	MaxBytes int

	// RefillCount is how many blocks a refill tries to carve at once.
	RefillCount int

	// Raw backs arena growth and large objects.
	// If nil, the pool gets its own RawAllocator over Go-managed memory.
	Raw *malloc.RawAllocator
}

// maxClasses bounds the number of size classes a Pool keeps.
const maxClasses = 1 << 16

// DefaultOption returns the default values of Option.
func DefaultOption() *Option {
	return &Option{
		Align:       8,
		MaxBytes:    128,
		RefillCount: 20,
	}
}

// Pool is a segregated free-list allocator.
//
// Blocks carry no size header: the caller must pass the exact size used to
// allocate when it deallocates, or the block lands in the wrong class.
type Pool struct {
	raw     *malloc.RawAllocator
	classes sizeClasses
	free    []freeList
	refill  int

	// arena is the unconsumed part of the current bump arena.
	arena []byte

	// heapSize is the total bytes ever obtained for arenas.
	heapSize int
}

// NewPool creates a Pool. A nil o means DefaultOption().
func NewPool(o *Option) (*Pool, error) {
	if o == nil {
		o = DefaultOption()
	}
	if o.Align < int(unsafe.Sizeof(unsafe.Pointer(nil))) || o.Align&(o.Align-1) != 0 {
		return nil, fmt.Errorf("mempool: align %d must be a power of two >= pointer size: %w", o.Align, malloc.ErrInvalidSize)
	}
	if o.MaxBytes <= 0 || o.MaxBytes%o.Align != 0 || o.MaxBytes/o.Align > maxClasses {
		return nil, fmt.Errorf("mempool: max bytes %d must be a positive multiple of align %d, at most %d classes: %w", o.MaxBytes, o.Align, maxClasses, malloc.ErrInvalidSize)
	}
	// an arena request is 2*MaxBytes*RefillCount bytes at most, plus history
	if o.RefillCount < 1 || o.RefillCount > math.MaxInt/4/o.MaxBytes {
		return nil, fmt.Errorf("mempool: refill count %d out of range [1, %d]: %w",
			o.RefillCount, math.MaxInt/4/o.MaxBytes, malloc.ErrInvalidSize)
	}
	raw := o.Raw
	if raw == nil {
		raw = malloc.NewRawAllocator(nil)
	}
	p := &Pool{
		raw:     raw,
		classes: newSizeClasses(o.Align, o.MaxBytes),
		refill:  o.RefillCount,
	}
	p.free = make([]freeList, len(p.classes.sizes))
	return p, nil
}

// Raw returns the RawAllocator behind the pool.
func (p *Pool) Raw() *malloc.RawAllocator {
	return p.raw
}

// RoundUp returns the block size a request of n bytes occupies when served from a free list.
func (p *Pool) RoundUp(n int) int {
	return p.classes.roundUp(n)
}

// NumClasses returns the number of size classes.
func (p *Pool) NumClasses() int {
	return len(p.classes.sizes)
}

// SizeClass returns the block size of class i. Panics if i is out of range.
func (p *Pool) SizeClass(i int) int {
	return p.classes.size(i)
}

// MaxBytes returns the size ceiling of the free lists.
func (p *Pool) MaxBytes() int {
	return p.classes.maxBytes
}

// Allocate returns a block of at least size bytes, or nil if size <= 0 or
// memory could not be found. Like malloc.RawAllocator.Allocate it terminates
// the process when the heap fails and no OOM handler is installed.
func (p *Pool) Allocate(size int) unsafe.Pointer {
	b, _ := p.allocate(size, true)
	return b
}

// TryAllocate is like Allocate but reports failures as errors and never terminates the process.
func (p *Pool) TryAllocate(size int) (unsafe.Pointer, error) {
	return p.allocate(size, false)
}

// Deallocate returns b to the pool. size must be the size b was allocated with. nil is a no-op.
func (p *Pool) Deallocate(b unsafe.Pointer, size int) {
	if b == nil {
		return
	}
	if size > p.classes.maxBytes {
		p.raw.Deallocate(b, size)
		return
	}
	p.free[p.classes.index(size)].push(b)
}

// Reallocate resizes b from oldSize to newSize bytes.
//
// If both sizes fall in the same class b is returned as is. If both are above
// MaxBytes the request goes to the RawAllocator, which keeps the contents.
// Otherwise b is deallocated and a new block allocated: contents are NOT
// preserved, copying them is up to the caller.
func (p *Pool) Reallocate(b unsafe.Pointer, oldSize, newSize int) unsafe.Pointer {
	nb, _ := p.reallocate(b, oldSize, newSize, true)
	return nb
}

// TryReallocate is like Reallocate but reports failures as errors and never terminates the process.
func (p *Pool) TryReallocate(b unsafe.Pointer, oldSize, newSize int) (unsafe.Pointer, error) {
	return p.reallocate(b, oldSize, newSize, false)
}

// PoolStats is a snapshot of a Pool's internal state.
type PoolStats struct {
	// HeapBytes is the total bytes obtained for arenas.
	HeapBytes int
	// ArenaBytes is what is left in the current arena.
	ArenaBytes int
	// FreeBlocks is the free-list length of each size class.
	FreeBlocks []int
}

// Stats returns a snapshot of the pool's internal state.
func (p *Pool) Stats() PoolStats {
	s := PoolStats{
		HeapBytes:  p.heapSize,
		ArenaBytes: len(p.arena),
		FreeBlocks: make([]int, len(p.free)),
	}
	for i := range p.free {
		s.FreeBlocks[i] = p.free[i].n
	}
	return s
}

func (p *Pool) allocate(size int, fatal bool) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mempool: allocate %d bytes: %w", size, malloc.ErrInvalidSize)
	}
	if size > p.classes.maxBytes {
		if !fatal {
			return p.raw.TryAllocate(size)
		}
		if b := p.raw.Allocate(size); b != nil {
			return b, nil
		}
		return nil, fmt.Errorf("mempool: allocate %d bytes: %w", size, malloc.ErrOutOfMemory)
	}
	if l := &p.free[p.classes.index(size)]; !l.empty() {
		return l.pop(), nil
	}
	if b := p.refillClass(p.classes.roundUp(size), fatal); b != nil {
		return b, nil
	}
	return nil, fmt.Errorf("mempool: allocate %d bytes: %w", size, malloc.ErrOutOfMemory)
}

func (p *Pool) reallocate(b unsafe.Pointer, oldSize, newSize int, fatal bool) (unsafe.Pointer, error) {
	if b == nil {
		return p.allocate(newSize, fatal)
	}
	ceil := p.classes.maxBytes
	switch {
	case oldSize > ceil && newSize > ceil:
		if !fatal {
			return p.raw.TryReallocate(b, oldSize, newSize)
		}
		if nb := p.raw.Reallocate(b, oldSize, newSize); nb != nil {
			return nb, nil
		}
		return nil, fmt.Errorf("mempool: reallocate %d to %d bytes: %w", oldSize, newSize, malloc.ErrOutOfMemory)
	case newSize > 0 && oldSize <= ceil && newSize <= ceil && p.classes.roundUp(oldSize) == p.classes.roundUp(newSize):
		return b, nil
	}
	p.Deallocate(b, oldSize)
	if newSize <= 0 {
		return nil, nil
	}
	return p.allocate(newSize, fatal)
}

// refillClass carves a batch of size-byte blocks, returns the first and
// threads the rest onto the class free list in ascending address order.
func (p *Pool) refillClass(size int, fatal bool) unsafe.Pointer {
	chunk, n := p.chunkAlloc(size, p.refill, fatal)
	if chunk == nil {
		return nil
	}
	l := &p.free[p.classes.index(size)]
	for i := n - 1; i >= 1; i-- {
		l.push(unsafe.Add(chunk, i*size))
	}
	return chunk
}

// chunkAlloc carves up to count blocks of size bytes from the arena and
// returns the first one with the number actually carved.
//
// When the arena cannot hold even one block, its remainder is salvaged onto a
// free list and a new arena of 2*size*count+RoundUp(heapSize/16) bytes is
// requested from the heap directly. If the heap fails, a free block of a
// class >= size becomes a one-block arena; if there is none, the
// RawAllocator is asked, OOM protocol included.
func (p *Pool) chunkAlloc(size, count int, fatal bool) (unsafe.Pointer, int) {
	need := size * count
	left := len(p.arena)
	if left >= need {
		return p.carve(need), count
	}
	if left >= size {
		count = left / size
		return p.carve(count * size), count
	}

	get := 2*need + p.classes.roundUp(p.heapSize>>4)
	if left >= p.classes.align {
		p.free[p.classes.index(left)].push(unsafe.Pointer(&p.arena[0]))
	}
	p.arena = nil

	chunk := p.raw.Heap().Alloc(get)
	if chunk == nil {
		for sz := size; sz <= p.classes.maxBytes; sz += p.classes.align {
			if l := &p.free[p.classes.index(sz)]; !l.empty() {
				p.arena = unsafex.BytesAt(l.pop(), sz)
				return p.chunkAlloc(size, count, fatal)
			}
		}
		if fatal {
			chunk = p.raw.Allocate(get)
		} else {
			chunk, _ = p.raw.TryAllocate(get)
		}
		if chunk == nil {
			return nil, 0
		}
	}
	p.heapSize += get
	p.arena = unsafex.BytesAt(chunk, get)
	return p.chunkAlloc(size, count, fatal)
}

// carve bumps n bytes off the front of the arena.
func (p *Pool) carve(n int) unsafe.Pointer {
	b := unsafe.Pointer(&p.arena[0])
	p.arena = p.arena[n:]
	return b
}
