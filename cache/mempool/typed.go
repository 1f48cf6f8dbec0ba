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
	"reflect"
	"unsafe"

	"github.com/cloudwego/poolalloc/unsafex"
	"github.com/cloudwego/poolalloc/unsafex/malloc"
)

// Typed allocates arrays of T through an Allocator, translating element
// counts into byte sizes. It holds no state of its own.
//
// T must not contain Go pointers: allocator memory is invisible to the GC.
type Typed[T any] struct {
	a Allocator
}

// NewTyped returns a Typed[T] over a, or over Default() if a is nil.
// Panics if T has zero size or contains Go pointers.
func NewTyped[T any](a Allocator) Typed[T] {
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Size() == 0 {
		panic(fmt.Sprintf("mempool: element type %s has zero size", rt))
	}
	if hasPointers(rt) {
		panic(fmt.Sprintf("mempool: element type %s contains pointers", rt))
	}
	if a == nil {
		a = Default()
	}
	return Typed[T]{a: a}
}

// Allocator returns the allocator t allocates through.
func (t Typed[T]) Allocator() Allocator {
	return t.a
}

// Allocate returns room for n elements, or nil if n == 0 or allocation failed.
// Use TryAllocate to tell the two apart.
func (t Typed[T]) Allocate(n int) *T {
	p, _ := t.allocate(n, true)
	return p
}

// TryAllocate returns room for n elements. It returns (nil, nil) for n == 0,
// and an error wrapping malloc.ErrOutOfMemory or malloc.ErrInvalidSize on failure.
func (t Typed[T]) TryAllocate(n int) (*T, error) {
	return t.allocate(n, false)
}

// New returns room for one element.
func (t Typed[T]) New() *T {
	return t.Allocate(1)
}

// Deallocate releases p, which must have been allocated for n elements.
// n == 0 is a no-op.
func (t Typed[T]) Deallocate(p *T, n int) {
	if p == nil || n == 0 {
		return
	}
	t.a.Deallocate(unsafe.Pointer(p), n*t.elemSize())
}

// Delete releases an element returned by New.
func (t Typed[T]) Delete(p *T) {
	t.Deallocate(p, 1)
}

// Reallocate resizes p from oldN to newN elements. Whether contents survive
// depends on the allocator; see (*Pool).Reallocate.
func (t Typed[T]) Reallocate(p *T, oldN, newN int) *T {
	oldSize, err := t.bytes(oldN)
	if err != nil {
		return nil
	}
	size, err := t.bytes(newN)
	if err != nil {
		return nil
	}
	np := t.a.Reallocate(unsafe.Pointer(p), oldSize, size)
	return (*T)(np)
}

// Slice returns the n elements at p as a slice.
func (t Typed[T]) Slice(p *T, n int) []T {
	return unsafex.SliceAt(p, n)
}

func (t Typed[T]) allocate(n int, fatal bool) (*T, error) {
	if n == 0 {
		return nil, nil
	}
	size, err := t.bytes(n)
	if err != nil {
		return nil, err
	}
	if fa, ok := t.a.(FallibleAllocator); ok && !fatal {
		p, err := fa.TryAllocate(size)
		return (*T)(p), err
	}
	p := t.a.Allocate(size)
	if p == nil {
		return nil, fmt.Errorf("mempool: allocate %d elements: %w", n, malloc.ErrOutOfMemory)
	}
	return (*T)(p), nil
}

func (t Typed[T]) bytes(n int) (int, error) {
	sz := t.elemSize()
	if n < 0 || n > math.MaxInt/sz {
		return 0, fmt.Errorf("mempool: %d elements of %d bytes: %w", n, sz, malloc.ErrInvalidSize)
	}
	return n * sz, nil
}

func (t Typed[T]) elemSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Func,
		reflect.Slice, reflect.String, reflect.Interface:
		return true
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}
