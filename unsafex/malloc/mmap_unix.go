//go:build unix

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

	"golang.org/x/sys/unix"

	"github.com/cloudwego/poolalloc/unsafex"
)

// MmapHeap serves every block from its own anonymous private mapping.
// Blocks are page aligned and page rounded, so it suits arenas and large
// objects rather than many tiny requests.
type MmapHeap struct {
	pageSize int
	live     map[unsafe.Pointer][]byte
}

// NewMmapHeap creates a heap backed by anonymous memory mappings.
func NewMmapHeap() Heap {
	return &MmapHeap{
		pageSize: unix.Getpagesize(),
		live:     make(map[unsafe.Pointer][]byte),
	}
}

// Alloc implements Heap.
func (h *MmapHeap) Alloc(size int) unsafe.Pointer {
	if size <= 0 {
		return nil
	}
	length := h.roundPage(size)
	if length < size { // overflow
		return nil
	}
	b, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil
	}
	p := unsafe.Pointer(&b[0])
	h.live[p] = b
	return p
}

// Free implements Heap. Panics if p was not returned by this heap.
func (h *MmapHeap) Free(p unsafe.Pointer, _ int) {
	if p == nil {
		return
	}
	b, ok := h.live[p]
	if !ok {
		panic("mmapheap: free of unknown block")
	}
	delete(h.live, p)
	if err := unix.Munmap(b); err != nil {
		panic("mmapheap: munmap: " + err.Error())
	}
}

// Realloc implements Heap. Growth within the pages already mapped is in place.
func (h *MmapHeap) Realloc(p unsafe.Pointer, oldSize, newSize int) unsafe.Pointer {
	if p == nil {
		return h.Alloc(newSize)
	}
	if newSize <= 0 {
		h.Free(p, oldSize)
		return nil
	}
	b, ok := h.live[p]
	if !ok {
		panic("mmapheap: realloc of unknown block")
	}
	if newSize <= len(b) {
		return p
	}
	np := h.Alloc(newSize)
	if np == nil {
		return nil
	}
	n := oldSize
	if n > len(b) {
		n = len(b)
	}
	unsafex.Copy(np, newSize, p, n)
	h.Free(p, oldSize)
	return np
}

func (h *MmapHeap) roundPage(size int) int {
	return (size + h.pageSize - 1) &^ (h.pageSize - 1)
}

func newLargeHeap() Heap {
	return NewMmapHeap()
}
