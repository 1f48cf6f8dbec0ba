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
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/cloudwego/poolalloc/unsafex"
)

// Heap is the system heap primitive the allocators in this module sit on.
//
// Alloc returns nil when the request cannot be satisfied; it never panics on
// an unsatisfiable size. Realloc preserves min(oldSize, newSize) bytes and
// leaves the old block valid when it returns nil.
// Memory returned by a Heap is not scanned by the GC: it must not hold the
// only reference to a Go object.
type Heap interface {
	Alloc(size int) unsafe.Pointer
	Free(p unsafe.Pointer, size int)
	Realloc(p unsafe.Pointer, oldSize, newSize int) unsafe.Pointer
}

const (
	// maxCachedSize is the largest block GoHeap takes from mcache.
	// Bigger blocks are not worth keeping in sync.Pool.
	maxCachedSize = 1 << 20

	// maxGoAlloc bounds a single request served by the Go runtime, which
	// treats a failed allocation as fatal. Only used where mmap is unavailable.
	maxGoAlloc = 1 << 40
)

// GoHeap serves blocks from Go-managed memory.
//
// Live blocks are pinned in a map keyed by address, which keeps them
// reachable for the GC while callers only hold raw pointers.
// Blocks above 1MB are mapped directly where the platform allows it, so an
// exhausted system shows up as a nil block instead of a runtime crash.
type GoHeap struct {
	limit int
	inuse int
	live  map[unsafe.Pointer][]byte

	large  Heap // nil: large blocks come from the Go runtime too
	mapped map[unsafe.Pointer]int
}

// NewGoHeap creates a GoHeap. A positive limit caps the bytes live at once;
// requests beyond it fail as if the system were out of memory.
func NewGoHeap(limit int) *GoHeap {
	return &GoHeap{
		limit:  limit,
		live:   make(map[unsafe.Pointer][]byte),
		large:  newLargeHeap(),
		mapped: make(map[unsafe.Pointer]int),
	}
}

// Alloc implements Heap.
func (h *GoHeap) Alloc(size int) unsafe.Pointer {
	if !h.fits(size) {
		return nil
	}
	var buf []byte
	if n := (size + 7) &^ 7; n <= maxCachedSize {
		// whole words keep the runtime's tiny allocator from packing blocks unaligned
		buf = mcache.Malloc(n)[:size]
	} else if h.large != nil {
		p := h.large.Alloc(size)
		if p == nil {
			return nil
		}
		h.mapped[p] = size
		h.inuse += size
		return p
	} else if size <= maxGoAlloc {
		buf = dirtmake.Bytes(size, size)
	} else {
		return nil
	}
	p := unsafe.Pointer(&buf[0])
	h.live[p] = buf
	h.inuse += size
	return p
}

// Free implements Heap. The size is not needed: GoHeap remembers it.
// Panics if p was not returned by this heap.
func (h *GoHeap) Free(p unsafe.Pointer, _ int) {
	if p == nil {
		return
	}
	if size, ok := h.mapped[p]; ok {
		delete(h.mapped, p)
		h.inuse -= size
		h.large.Free(p, size)
		return
	}
	buf, ok := h.live[p]
	if !ok {
		panic("goheap: free of unknown block")
	}
	delete(h.live, p)
	h.inuse -= len(buf)
	if cap(buf) <= maxCachedSize {
		mcache.Free(buf)
	}
}

// Realloc implements Heap.
func (h *GoHeap) Realloc(p unsafe.Pointer, oldSize, newSize int) unsafe.Pointer {
	if p == nil {
		return h.Alloc(newSize)
	}
	if newSize <= 0 {
		h.Free(p, oldSize)
		return nil
	}
	if size, ok := h.mapped[p]; ok {
		return h.reallocMapped(p, size, newSize)
	}
	buf, ok := h.live[p]
	if !ok {
		panic("goheap: realloc of unknown block")
	}
	if newSize <= cap(buf) {
		grow := newSize - len(buf)
		if grow > 0 && !h.fits(grow) {
			return nil
		}
		h.live[p] = buf[:newSize]
		h.inuse += grow
		return p
	}
	np := h.Alloc(newSize)
	if np == nil {
		return nil
	}
	unsafex.Copy(np, newSize, p, len(buf))
	h.Free(p, oldSize)
	return np
}

// InUse returns the number of bytes currently handed out.
func (h *GoHeap) InUse() int {
	return h.inuse
}

func (h *GoHeap) reallocMapped(p unsafe.Pointer, oldSize, newSize int) unsafe.Pointer {
	grow := newSize - oldSize
	if grow > 0 && !h.fits(grow) {
		return nil
	}
	if newSize <= maxCachedSize {
		np := h.Alloc(newSize)
		if np == nil {
			return nil
		}
		unsafex.Copy(np, newSize, p, oldSize)
		h.Free(p, oldSize)
		return np
	}
	np := h.large.Realloc(p, oldSize, newSize)
	if np == nil {
		return nil
	}
	delete(h.mapped, p)
	h.mapped[np] = newSize
	h.inuse += grow
	return np
}

func (h *GoHeap) fits(size int) bool {
	if size <= 0 {
		return false
	}
	return h.limit <= 0 || size <= h.limit-h.inuse
}
