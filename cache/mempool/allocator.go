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

// Package mempool implements a segregated free-list allocator for small objects.
//
// Requests up to a size ceiling are rounded up to a size class and served from
// that class's free list, which is refilled in batches carved from a bump
// arena. Larger requests go straight to a malloc.RawAllocator.
//
// Nothing in this package is safe for concurrent use.
package mempool

import "unsafe"

// Allocator is the four-operation contract consumers allocate through.
// Deallocate and Reallocate must be given the size the block was allocated with.
type Allocator interface {
	Allocate(size int) unsafe.Pointer
	Deallocate(p unsafe.Pointer, size int)
	Reallocate(p unsafe.Pointer, oldSize, newSize int) unsafe.Pointer
}

// FallibleAllocator is an Allocator that can report failures as errors
// instead of terminating the process.
type FallibleAllocator interface {
	Allocator
	TryAllocate(size int) (unsafe.Pointer, error)
	TryReallocate(p unsafe.Pointer, oldSize, newSize int) (unsafe.Pointer, error)
}
