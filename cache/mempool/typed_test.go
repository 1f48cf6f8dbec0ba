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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/poolalloc/unsafex/malloc"
)

type point struct {
	X, Y int32
}

func TestTypedAllocate(t *testing.T) {
	p := newTestPool(t, nil)
	tp := NewTyped[point](p)
	assert.Same(t, p, tp.Allocator())

	assert.Nil(t, tp.Allocate(0))

	pts := tp.Allocate(4)
	require.NotNil(t, pts)
	s := tp.Slice(pts, 4)
	for i := range s {
		s[i] = point{int32(i), int32(-i)}
	}
	assert.Equal(t, point{3, -3}, s[3])
	tp.Deallocate(pts, 4)

	// 4 points are 32 bytes: the block is back on the 32-byte list
	assert.Equal(t, 20, p.Stats().FreeBlocks[3])

	one := tp.New()
	require.NotNil(t, one)
	one.X = 7
	tp.Delete(one)
	assert.NotPanics(t, func() { tp.Deallocate(nil, 3) })
	assert.NotPanics(t, func() { tp.Deallocate(one, 0) })
}

func TestTypedTryAllocate(t *testing.T) {
	raw := malloc.NewRawAllocator(malloc.NewGoHeap(64))
	tp := NewTyped[uint64](newTestPool(t, &Option{Align: 8, MaxBytes: 128, RefillCount: 20, Raw: raw}))

	p, err := tp.TryAllocate(0)
	assert.Nil(t, p)
	assert.NoError(t, err)

	p, err = tp.TryAllocate(100)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, malloc.ErrOutOfMemory)

	_, err = tp.TryAllocate(-1)
	assert.ErrorIs(t, err, malloc.ErrInvalidSize)
	_, err = tp.TryAllocate(math.MaxInt/4)
	assert.ErrorIs(t, err, malloc.ErrInvalidSize)
}

func TestTypedReallocate(t *testing.T) {
	tp := NewTyped[uint32](newTestPool(t, nil))
	p := tp.Allocate(3)
	require.NotNil(t, p)
	assert.Equal(t, p, tp.Reallocate(p, 3, 4), "12 and 16 bytes share a class")
	q := tp.Reallocate(p, 4, 100)
	require.NotNil(t, q)
	assert.Nil(t, tp.Reallocate(q, 100, 0))
	assert.Nil(t, tp.Reallocate(nil, 0, -1))
}

func TestTypedReallocateInvalidOldCount(t *testing.T) {
	c := NewChecked(newTestPool(t, nil))
	tp := NewTyped[uint64](c)
	p := tp.Allocate(2)
	require.NotNil(t, p)

	assert.NotPanics(t, func() {
		assert.Nil(t, tp.Reallocate(p, -1, 4))
		assert.Nil(t, tp.Reallocate(p, math.MaxInt/4, 4))
	})
	// p was left alone
	assert.Equal(t, 1, c.Live())
	tp.Deallocate(p, 2)
	assert.Zero(t, c.Live())
}

func TestTypedDefaultAllocator(t *testing.T) {
	assert.Same(t, Default(), NewTyped[int64](nil).Allocator())
}

func TestTypedRejectsElementTypes(t *testing.T) {
	assert.Panics(t, func() { NewTyped[*int](nil) })
	assert.Panics(t, func() { NewTyped[string](nil) })
	assert.Panics(t, func() { NewTyped[[]byte](nil) })
	assert.Panics(t, func() { NewTyped[struct{ m map[int]int }](nil) })
	assert.Panics(t, func() { NewTyped[[2]any](nil) })
	assert.Panics(t, func() { NewTyped[struct{}](nil) })
	assert.NotPanics(t, func() { NewTyped[[4]point](nil) })
}
