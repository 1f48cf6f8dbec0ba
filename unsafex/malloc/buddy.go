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

package malloc

import (
	"fmt"
	"math"
	"math/bits"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"

	"github.com/cloudwego/poolalloc/unsafex"
)

const (
	// buddyHeaderSize is the header in front of each block: [4 bytes magic][4 bytes size].
	buddyHeaderSize = 8

	// buddyMagic marks a block as allocated; it is cleared on free.
	buddyMagic uint32 = 0xBADF00D

	// DefaultBuddyMinBlock is the default smallest block, header included.
	DefaultBuddyMinBlock = 64

	// DefaultBuddyMaxBlock is the default largest block, header included.
	DefaultBuddyMaxBlock = 64 * 1024
)

// BuddyHeap is a bounded Heap over one fixed arena, managed as a buddy system.
//
// Unlike GoHeap and MmapHeap it has a hard capacity, so exhaustion is
// deterministic. Freed blocks are merged with their buddies lazily, only when
// an allocation cannot be served otherwise.
type BuddyHeap struct {
	arena []byte
	base  unsafe.Pointer

	// free[o] holds offsets of free blocks of size minBlock<<o.
	free [][]int

	// needsCoalesce is set when a block below the top order is freed and
	// cleared when a coalesce pass finds nothing to merge.
	needsCoalesce bool

	minBlock int
	minShift int
	maxBlock int
	maxOrder int

	inuse int
}

// NewBuddyHeap creates a BuddyHeap with default block sizes over a fresh arena
// of at least size bytes. The size is rounded up to a multiple of DefaultBuddyMaxBlock.
func NewBuddyHeap(size int) (*BuddyHeap, error) {
	if size <= 0 {
		return nil, fmt.Errorf("buddy: arena size %d: %w", size, ErrInvalidSize)
	}
	size = (size + DefaultBuddyMaxBlock - 1) &^ (DefaultBuddyMaxBlock - 1)
	return NewBuddyHeapWithArena(dirtmake.Bytes(size, size), DefaultBuddyMinBlock, DefaultBuddyMaxBlock)
}

// NewBuddyHeapWithArena creates a BuddyHeap managing arena.
// minBlock and maxBlock must be powers of two with headerSize < minBlock <= maxBlock,
// and len(arena) must be a non-zero multiple of maxBlock.
func NewBuddyHeapWithArena(arena []byte, minBlock, maxBlock int) (*BuddyHeap, error) {
	if minBlock <= 0 || minBlock&(minBlock-1) != 0 {
		return nil, fmt.Errorf("buddy: min block %d is not a power of two: %w", minBlock, ErrInvalidSize)
	}
	if maxBlock <= 0 || maxBlock&(maxBlock-1) != 0 {
		return nil, fmt.Errorf("buddy: max block %d is not a power of two: %w", maxBlock, ErrInvalidSize)
	}
	// block sizes are stored as uint32 in the header
	if uint64(maxBlock) > math.MaxUint32 {
		return nil, fmt.Errorf("buddy: max block %d exceeds %d: %w", maxBlock, uint64(math.MaxUint32), ErrInvalidSize)
	}
	if minBlock > maxBlock {
		return nil, fmt.Errorf("buddy: min block %d > max block %d: %w", minBlock, maxBlock, ErrInvalidSize)
	}
	if minBlock <= buddyHeaderSize {
		return nil, fmt.Errorf("buddy: min block %d must exceed header %d: %w", minBlock, buddyHeaderSize, ErrInvalidSize)
	}
	if len(arena) < maxBlock || len(arena)%maxBlock != 0 {
		return nil, fmt.Errorf("buddy: arena size %d is not a multiple of %d: %w", len(arena), maxBlock, ErrInvalidSize)
	}

	minShift := bits.TrailingZeros(uint(minBlock))
	h := &BuddyHeap{
		arena:    arena,
		base:     unsafe.Pointer(&arena[0]),
		minBlock: minBlock,
		minShift: minShift,
		maxBlock: maxBlock,
		maxOrder: bits.TrailingZeros(uint(maxBlock)) - minShift,
	}
	h.free = make([][]int, h.maxOrder+1)
	h.Reset()
	return h, nil
}

// Alloc implements Heap. It returns nil for sizes above MaxSize.
func (h *BuddyHeap) Alloc(size int) unsafe.Pointer {
	if size <= 0 || size > h.MaxSize() {
		return nil
	}
	order := h.orderFor(size + buddyHeaderSize)

	off, ok := h.take(order)
	if !ok {
		return nil
	}
	h.inuse += h.minBlock << order
	hdr := unsafe.Add(h.base, off)
	*(*uint32)(hdr) = buddyMagic
	*(*uint32)(unsafe.Add(hdr, 4)) = uint32(size)
	return unsafe.Add(hdr, buddyHeaderSize)
}

// Free implements Heap. The block size is read from its header.
// Panics if p is outside the arena, misaligned, or already freed.
func (h *BuddyHeap) Free(p unsafe.Pointer, _ int) {
	if p == nil {
		return
	}
	off, size := h.header(p)
	order := h.orderFor(size + buddyHeaderSize)
	if off&((h.minBlock<<order)-1) != 0 {
		panic("buddy: misaligned block")
	}
	*(*uint32)(unsafe.Add(h.base, off)) = 0
	h.free[order] = append(h.free[order], off)
	h.inuse -= h.minBlock << order
	if order < h.maxOrder {
		h.needsCoalesce = true
	}
}

// Realloc implements Heap. A block that still fits its current order is
// resized in place.
func (h *BuddyHeap) Realloc(p unsafe.Pointer, oldSize, newSize int) unsafe.Pointer {
	if p == nil {
		return h.Alloc(newSize)
	}
	if newSize <= 0 {
		h.Free(p, oldSize)
		return nil
	}
	off, size := h.header(p)
	if h.orderFor(newSize+buddyHeaderSize) == h.orderFor(size+buddyHeaderSize) {
		*(*uint32)(unsafe.Add(h.base, off+4)) = uint32(newSize)
		return p
	}
	np := h.Alloc(newSize)
	if np == nil {
		return nil
	}
	unsafex.Copy(np, newSize, p, size)
	h.Free(p, oldSize)
	return np
}

// MaxSize returns the largest request this heap can ever satisfy.
func (h *BuddyHeap) MaxSize() int {
	return h.maxBlock - buddyHeaderSize
}

// InUse returns the bytes held by live blocks, headers and rounding included.
func (h *BuddyHeap) InUse() int {
	return h.inuse
}

// Available returns the total free bytes, counted as whole blocks.
func (h *BuddyHeap) Available() int {
	total := 0
	for order, l := range h.free {
		total += len(l) * (h.minBlock << order)
	}
	return total
}

// Reset forgets every allocation and returns the arena to root blocks.
func (h *BuddyHeap) Reset() {
	for i := range h.free {
		h.free[i] = h.free[i][:0]
	}
	for off := 0; off < len(h.arena); off += h.maxBlock {
		h.free[h.maxOrder] = append(h.free[h.maxOrder], off)
	}
	h.needsCoalesce = false
	h.inuse = 0
}

// take pops a block of the given order, splitting or coalescing larger ones as needed.
func (h *BuddyHeap) take(order int) (int, bool) {
	if l := h.free[order]; len(l) > 0 {
		h.free[order] = l[:len(l)-1]
		return l[len(l)-1], true
	}

	found := -1
	for o := order + 1; o <= h.maxOrder; o++ {
		if len(h.free[o]) > 0 {
			found = o
			break
		}
	}
	if found < 0 {
		if !h.needsCoalesce {
			return 0, false
		}
		if found = h.coalesceUntil(order); found < 0 {
			h.needsCoalesce = false
			return 0, false
		}
	}

	l := h.free[found]
	off := l[len(l)-1]
	h.free[found] = l[:len(l)-1]
	// keep the left half, hand the right half down one order at a time
	for found > order {
		found--
		h.free[found] = append(h.free[found], off+(h.minBlock<<found))
	}
	return off, true
}

// coalesceUntil merges free buddies bottom-up until a block of order >= target
// exists. It returns that order, or -1.
func (h *BuddyHeap) coalesceUntil(target int) int {
	for order := 0; order < target; order++ {
		l := h.free[order]
		if len(l) < 2 {
			continue
		}
		// insertion sort: free lists are short and mostly sorted
		for i := 1; i < len(l); i++ {
			for j := i; j > 0 && l[j] < l[j-1]; j-- {
				l[j], l[j-1] = l[j-1], l[j]
			}
		}
		size := h.minBlock << order
		n := 0
		for i := 0; i < len(l); {
			if i+1 < len(l) && l[i]&size == 0 && l[i+1] == l[i]|size {
				h.free[order+1] = append(h.free[order+1], l[i])
				i += 2
				continue
			}
			l[n] = l[i]
			n++
			i++
		}
		h.free[order] = l[:n]
	}
	for o := target; o <= h.maxOrder; o++ {
		if len(h.free[o]) > 0 {
			return o
		}
	}
	return -1
}

// header validates the block behind p and returns its offset and stored size.
func (h *BuddyHeap) header(p unsafe.Pointer) (off, size int) {
	off = int(unsafex.Addr(p)-unsafex.Addr(h.base)) - buddyHeaderSize
	if off < 0 || off >= len(h.arena) {
		panic("buddy: block not in arena")
	}
	if off&(h.minBlock-1) != 0 {
		panic("buddy: misaligned block")
	}
	hdr := unsafe.Add(h.base, off)
	if *(*uint32)(hdr) != buddyMagic {
		panic("buddy: double free or invalid block")
	}
	return off, int(*(*uint32)(unsafe.Add(hdr, 4)))
}

// orderFor returns the smallest order whose block holds size bytes.
func (h *BuddyHeap) orderFor(size int) int {
	if size <= h.minBlock {
		return 0
	}
	return bits.Len(uint(size-1)) - h.minShift
}
