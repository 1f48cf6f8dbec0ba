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
	"unsafe"

	"github.com/cloudwego/poolalloc/unsafex"
	"github.com/cloudwego/poolalloc/unsafex/malloc"
)

// Checked wraps an Allocator and enforces that every block is released
// exactly once, with the size it was allocated with.
//
// It costs a map entry per live block; use it in tests and debug builds.
type Checked struct {
	a    Allocator
	live map[uintptr]int
}

// NewChecked wraps a.
func NewChecked(a Allocator) *Checked {
	return &Checked{a: a, live: make(map[uintptr]int)}
}

// Live returns the number of blocks allocated and not yet released.
func (c *Checked) Live() int {
	return len(c.live)
}

// Allocate implements Allocator.
func (c *Checked) Allocate(size int) unsafe.Pointer {
	p := c.a.Allocate(size)
	c.track(p, size)
	return p
}

// TryAllocate allocates through the wrapped allocator's fallible path when it has one.
func (c *Checked) TryAllocate(size int) (unsafe.Pointer, error) {
	var (
		p   unsafe.Pointer
		err error
	)
	if size <= 0 {
		return nil, fmt.Errorf("mempool: allocate %d bytes: %w", size, malloc.ErrInvalidSize)
	}
	if fa, ok := c.a.(FallibleAllocator); ok {
		p, err = fa.TryAllocate(size)
	} else if p = c.a.Allocate(size); p == nil {
		err = fmt.Errorf("mempool: allocate %d bytes: %w", size, malloc.ErrOutOfMemory)
	}
	c.track(p, size)
	return p, err
}

// Deallocate implements Allocator. Panics on an unknown pointer or a size mismatch.
func (c *Checked) Deallocate(p unsafe.Pointer, size int) {
	if err := c.TryDeallocate(p, size); err != nil {
		panic(err)
	}
}

// TryDeallocate releases p, or returns an error wrapping malloc.ErrUnknownPointer
// or malloc.ErrSizeMismatch and leaves p untouched.
func (c *Checked) TryDeallocate(p unsafe.Pointer, size int) error {
	if p == nil {
		return nil
	}
	if err := c.check(p, size); err != nil {
		return err
	}
	delete(c.live, unsafex.Addr(p))
	c.a.Deallocate(p, size)
	return nil
}

// Reallocate implements Allocator. Panics on an unknown pointer or a size mismatch.
func (c *Checked) Reallocate(p unsafe.Pointer, oldSize, newSize int) unsafe.Pointer {
	if p != nil {
		if err := c.check(p, oldSize); err != nil {
			panic(err)
		}
	}
	np, _ := c.reallocate(p, oldSize, newSize, true)
	return np
}

// TryReallocate validates oldSize before resizing p.
func (c *Checked) TryReallocate(p unsafe.Pointer, oldSize, newSize int) (unsafe.Pointer, error) {
	if p != nil {
		if err := c.check(p, oldSize); err != nil {
			return nil, err
		}
	}
	return c.reallocate(p, oldSize, newSize, false)
}

func (c *Checked) reallocate(p unsafe.Pointer, oldSize, newSize int, fatal bool) (unsafe.Pointer, error) {
	if p == nil {
		if fatal {
			return c.Allocate(newSize), nil
		}
		return c.TryAllocate(newSize)
	}
	var (
		np  unsafe.Pointer
		err error
	)
	if fa, ok := c.a.(FallibleAllocator); ok && !fatal {
		np, err = fa.TryReallocate(p, oldSize, newSize)
	} else {
		np = c.a.Reallocate(p, oldSize, newSize)
	}
	if np == nil && newSize > 0 {
		if err == nil {
			err = fmt.Errorf("mempool: reallocate %d to %d bytes: %w", oldSize, newSize, malloc.ErrOutOfMemory)
		}
		if c.keepsOnFailure(oldSize, newSize) {
			return nil, err
		}
	}
	delete(c.live, unsafex.Addr(p))
	c.track(np, newSize)
	return np, err
}

// keepsOnFailure reports whether a failed reallocation leaves the old block live.
// A Pool releases the old block first unless both sizes are above its ceiling.
func (c *Checked) keepsOnFailure(oldSize, newSize int) bool {
	if pool, ok := c.a.(*Pool); ok {
		return oldSize > pool.MaxBytes() && newSize > pool.MaxBytes()
	}
	return true
}

func (c *Checked) check(p unsafe.Pointer, size int) error {
	want, ok := c.live[unsafex.Addr(p)]
	if !ok {
		return fmt.Errorf("mempool: release %p: %w", p, malloc.ErrUnknownPointer)
	}
	if want != size {
		return fmt.Errorf("mempool: release %p with size %d, allocated with %d: %w", p, size, want, malloc.ErrSizeMismatch)
	}
	return nil
}

func (c *Checked) track(p unsafe.Pointer, size int) {
	if p != nil {
		c.live[unsafex.Addr(p)] = size
	}
}
