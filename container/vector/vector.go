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

package vector

import (
	"github.com/cloudwego/poolalloc/cache/mempool"
)

// Vector is a growable array whose storage comes from a mempool.Allocator.
// Capacity doubles when full; small vectors live in pool size classes and
// large ones move to the raw allocator transparently.
// type T must NOT contain pointers: the storage is not scanned by the GC.
type Vector[T any] struct {
	alloc mempool.Typed[T]
	data  *T
	len   int
	cap   int
}

// New returns an empty Vector over a, or over mempool.Default() if a is nil.
func New[T any](a mempool.Allocator) *Vector[T] {
	return &Vector[T]{alloc: mempool.NewTyped[T](a)}
}

// NewFromSlice returns a Vector holding a copy of vv.
func NewFromSlice[T any](a mempool.Allocator, vv []T) *Vector[T] {
	v := New[T](a)
	v.Reserve(len(vv))
	v.len = len(vv)
	copy(v.items(), vv)
	return v
}

// Len returns the number of elements.
func (v *Vector[T]) Len() int {
	return v.len
}

// Cap returns the number of elements the current storage can hold.
func (v *Vector[T]) Cap() int {
	return v.cap
}

// Get returns the ith element.
func (v *Vector[T]) Get(i int) (T, bool) {
	if i < 0 || i >= v.len {
		var zero T
		return zero, false
	}
	return v.items()[i], true
}

// Set replaces the ith element.
func (v *Vector[T]) Set(i int, x T) bool {
	if i < 0 || i >= v.len {
		return false
	}
	v.items()[i] = x
	return true
}

// Push appends x, growing the storage if needed.
func (v *Vector[T]) Push(x T) {
	v.ensure(v.len + 1)
	v.len++
	v.items()[v.len-1] = x
}

// Insert inserts xs before the ith element; i == Len() appends.
// It returns false and leaves v unchanged if i is out of range.
func (v *Vector[T]) Insert(i int, xs ...T) bool {
	if i < 0 || i > v.len {
		return false
	}
	if len(xs) == 0 {
		return true
	}
	v.ensure(v.len + len(xs))
	v.len += len(xs)
	s := v.items()
	copy(s[i+len(xs):], s[i:])
	copy(s[i:], xs)
	return true
}

// Erase removes the ith element, shifting the rest down.
func (v *Vector[T]) Erase(i int) bool {
	return v.EraseRange(i, i+1)
}

// EraseRange removes the elements in [i, j). The storage is kept.
func (v *Vector[T]) EraseRange(i, j int) bool {
	if i < 0 || j < i || j > v.len {
		return false
	}
	s := v.items()
	copy(s[i:], s[j:])
	v.len -= j - i
	return true
}

// Resize sets the length to n. New elements are set to fill.
// Panics if n is negative.
func (v *Vector[T]) Resize(n int, fill T) {
	if n < 0 {
		panic("vector: negative size")
	}
	if n <= v.len {
		v.len = n
		return
	}
	v.ensure(n)
	old := v.len
	v.len = n
	s := v.items()
	for i := old; i < n; i++ {
		s[i] = fill
	}
}

// Assign replaces the contents with a copy of xs.
func (v *Vector[T]) Assign(xs ...T) {
	v.len = 0
	v.Reserve(len(xs))
	v.len = len(xs)
	copy(v.items(), xs)
}

// Swap exchanges the contents of v and o, allocators included.
func (v *Vector[T]) Swap(o *Vector[T]) {
	*v, *o = *o, *v
}

// Pop removes and returns the last element.
func (v *Vector[T]) Pop() (T, bool) {
	if v.len == 0 {
		var zero T
		return zero, false
	}
	v.len--
	return v.alloc.Slice(v.data, v.len+1)[v.len], true
}

// Reserve makes room for at least n elements.
func (v *Vector[T]) Reserve(n int) {
	if n > v.cap {
		v.grow(n)
	}
}

// Slice returns the elements as a slice sharing the vector's storage.
// It is invalidated by the next growth or Free.
func (v *Vector[T]) Slice() []T {
	return v.items()
}

// Clear drops all elements and keeps the storage.
func (v *Vector[T]) Clear() {
	v.len = 0
}

// Free releases the storage. The vector is empty and reusable afterwards.
func (v *Vector[T]) Free() {
	v.alloc.Deallocate(v.data, v.cap)
	v.data, v.len, v.cap = nil, 0, 0
}

// ensure makes room for n elements, at least doubling the capacity.
func (v *Vector[T]) ensure(n int) {
	if n <= v.cap {
		return
	}
	c := 2 * v.cap
	if c < n {
		c = n
	}
	v.grow(c)
}

func (v *Vector[T]) items() []T {
	return v.alloc.Slice(v.data, v.len)
}

// grow moves the elements to fresh storage for c elements.
// Reallocate is not used: a pool does not keep contents across classes.
func (v *Vector[T]) grow(c int) {
	data, err := v.alloc.TryAllocate(c)
	if err != nil {
		panic("vector: " + err.Error())
	}
	copy(v.alloc.Slice(data, c), v.items())
	v.alloc.Deallocate(v.data, v.cap)
	v.data, v.cap = data, c
}
