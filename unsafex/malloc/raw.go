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
	"log"
	"unsafe"
)

// maxOomRetries bounds how many times the OOM handler is consulted for one request.
const maxOomRetries = 3

// OomHandler is called when the heap cannot satisfy a request.
// It is expected to release memory (drop caches, shrink pools) or to terminate the process.
type OomHandler func()

// RawAllocator is a thin layer over a Heap that adds the OOM retry protocol.
//
// When the heap fails, the installed OomHandler is called and the request is
// retried, up to maxOomRetries times. If no handler is installed, Allocate and
// Reallocate terminate the process: a caller expecting a non-nil result has no
// other way to learn about total exhaustion. TryAllocate and TryReallocate
// return ErrOutOfMemory instead.
//
// A RawAllocator is not safe for concurrent use.
type RawAllocator struct {
	heap    Heap
	handler OomHandler
}

// NewRawAllocator creates a RawAllocator over heap, or over an unlimited GoHeap if heap is nil.
func NewRawAllocator(heap Heap) *RawAllocator {
	if heap == nil {
		heap = NewGoHeap(0)
	}
	return &RawAllocator{heap: heap}
}

// Heap returns the underlying heap.
func (a *RawAllocator) Heap() Heap {
	return a.heap
}

// SetOomHandler installs f and returns the handler it replaces. A nil f uninstalls.
func (a *RawAllocator) SetOomHandler(f OomHandler) OomHandler {
	old := a.handler
	a.handler = f
	return old
}

// Allocate returns a block of size bytes.
// It returns nil if size <= 0 or if the OOM handler could not make room.
// It terminates the process if the heap fails and no handler is installed.
func (a *RawAllocator) Allocate(size int) unsafe.Pointer {
	p, err := a.allocate(size, true)
	if err != nil {
		return nil
	}
	return p
}

// TryAllocate is like Allocate but reports failures as errors and never terminates the process.
func (a *RawAllocator) TryAllocate(size int) (unsafe.Pointer, error) {
	return a.allocate(size, false)
}

// Deallocate releases a block returned by Allocate or Reallocate. nil is a no-op.
func (a *RawAllocator) Deallocate(p unsafe.Pointer, size int) {
	if p == nil {
		return
	}
	a.heap.Free(p, size)
}

// Reallocate resizes the block p, preserving min(oldSize, newSize) bytes.
// A nil p allocates; a non-positive newSize releases p and returns nil.
// On failure it returns nil and p stays valid, unless no handler is installed,
// in which case the process terminates.
func (a *RawAllocator) Reallocate(p unsafe.Pointer, oldSize, newSize int) unsafe.Pointer {
	np, err := a.reallocate(p, oldSize, newSize, true)
	if err != nil {
		return nil
	}
	return np
}

// TryReallocate is like Reallocate but reports failures as errors and never terminates the process.
func (a *RawAllocator) TryReallocate(p unsafe.Pointer, oldSize, newSize int) (unsafe.Pointer, error) {
	return a.reallocate(p, oldSize, newSize, false)
}

func (a *RawAllocator) allocate(size int, fatal bool) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("allocate %d bytes: %w", size, ErrInvalidSize)
	}
	if p := a.heap.Alloc(size); p != nil {
		return p, nil
	}
	p := a.retry(size, fatal, func() unsafe.Pointer { return a.heap.Alloc(size) })
	if p == nil {
		return nil, fmt.Errorf("allocate %d bytes: %w", size, ErrOutOfMemory)
	}
	return p, nil
}

func (a *RawAllocator) reallocate(p unsafe.Pointer, oldSize, newSize int, fatal bool) (unsafe.Pointer, error) {
	if p == nil {
		return a.allocate(newSize, fatal)
	}
	if newSize <= 0 {
		a.heap.Free(p, oldSize)
		return nil, nil
	}
	if np := a.heap.Realloc(p, oldSize, newSize); np != nil {
		return np, nil
	}
	np := a.retry(newSize, fatal, func() unsafe.Pointer { return a.heap.Realloc(p, oldSize, newSize) })
	if np == nil {
		return nil, fmt.Errorf("reallocate %d to %d bytes: %w", oldSize, newSize, ErrOutOfMemory)
	}
	return np, nil
}

// retry runs the OOM protocol after a first failed attempt.
// The handler is looked up on every round, so it may uninstall itself.
func (a *RawAllocator) retry(size int, fatal bool, attempt func() unsafe.Pointer) unsafe.Pointer {
	for i := 0; i < maxOomRetries; i++ {
		h := a.handler
		if h == nil {
			if fatal {
				log.Fatalf("malloc: out of memory allocating %d bytes and no oom handler installed", size)
			}
			return nil
		}
		h()
		if p := attempt(); p != nil {
			return p
		}
	}
	return nil
}

var defaultRaw = NewRawAllocator(nil)

// Default returns the process-wide RawAllocator, backed by Go-managed memory.
func Default() *RawAllocator {
	return defaultRaw
}

// Allocate allocates from the default RawAllocator.
func Allocate(size int) unsafe.Pointer {
	return defaultRaw.Allocate(size)
}

// Deallocate releases a block to the default RawAllocator.
func Deallocate(p unsafe.Pointer, size int) {
	defaultRaw.Deallocate(p, size)
}

// Reallocate resizes a block of the default RawAllocator.
func Reallocate(p unsafe.Pointer, oldSize, newSize int) unsafe.Pointer {
	return defaultRaw.Reallocate(p, oldSize, newSize)
}

// SetOomHandler installs the OOM handler of the default RawAllocator and returns the previous one.
func SetOomHandler(f OomHandler) OomHandler {
	return defaultRaw.SetOomHandler(f)
}
