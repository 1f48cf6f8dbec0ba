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
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/poolalloc/unsafex"
)

func TestNewBuddyHeap(t *testing.T) {
	h, err := NewBuddyHeap(1)
	require.NoError(t, err)
	assert.Equal(t, DefaultBuddyMaxBlock, h.Available())

	h, err = NewBuddyHeap(DefaultBuddyMaxBlock + 1)
	require.NoError(t, err)
	assert.Equal(t, 2*DefaultBuddyMaxBlock, h.Available())

	_, err = NewBuddyHeap(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestNewBuddyHeapWithArena(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		min     int
		max     int
		wantErr bool
	}{
		{"valid", 64 * 1024, 1024, 64 * 1024, false},
		{"valid_same_min_max", 4096, 4096, 4096, false},
		{"valid_multi_root", 128 * 1024, 1024, 64 * 1024, false},
		{"min_not_pow2", 64 * 1024, 1000, 64 * 1024, true},
		{"max_not_pow2", 64 * 1024, 1024, 60000, true},
		{"min_gt_max", 64 * 1024, 8192, 4096, true},
		{"min_le_header", 64 * 1024, 8, 64 * 1024, true},
		{"arena_not_multiple", 100 * 1024, 1024, 64 * 1024, true},
		{"arena_too_small", 32 * 1024, 1024, 64 * 1024, true},
		{"max_above_uint32", 0, 1024, 1 << 33, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuddyHeapWithArena(make([]byte, tt.size), tt.min, tt.max)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSize)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuddyHeapAllocFree(t *testing.T) {
	h := newTestBuddyHeap(t, 64*1024, 1024, 16*1024)

	p1 := h.Alloc(500)
	require.NotNil(t, p1)
	assert.Equal(t, 1024, h.InUse())

	p2 := h.Alloc(8000)
	require.NotNil(t, p2)
	assert.Equal(t, 1024+8192, h.InUse())
	assert.False(t, overlap(p1, 500, p2, 8000))

	h.Free(p1, 500)
	h.Free(p2, 8000)
	assert.Zero(t, h.InUse())

	p3 := h.Alloc(h.MaxSize())
	require.NotNil(t, p3)
	assert.Nil(t, h.Alloc(h.MaxSize()+1))
	assert.Nil(t, h.Alloc(0))
}

func TestBuddyHeapExhaustion(t *testing.T) {
	h := newTestBuddyHeap(t, 64*1024, 1024, 16*1024)

	var blocks []unsafe.Pointer
	for {
		p := h.Alloc(1000)
		if p == nil {
			break
		}
		blocks = append(blocks, p)
	}
	assert.Len(t, blocks, 64)
	assert.Zero(t, h.Available())
	assert.Nil(t, h.Alloc(1))

	for _, p := range blocks {
		h.Free(p, 1000)
	}
	// lazy coalescing rebuilds a max-order block on demand
	p := h.Alloc(h.MaxSize())
	require.NotNil(t, p)
}

func TestBuddyHeapRealloc(t *testing.T) {
	h := newTestBuddyHeap(t, 64*1024, 1024, 16*1024)

	p := h.Realloc(nil, 0, 100)
	require.NotNil(t, p)
	copy(unsafex.BytesAt(p, 100), "buddy")

	// same order, resized in place
	assert.Equal(t, p, h.Realloc(p, 100, 1000))

	q := h.Realloc(p, 1000, 5000)
	require.NotNil(t, q)
	assert.NotEqual(t, p, q)
	assert.Equal(t, "buddy", string(unsafex.BytesAt(q, 5)))
	assert.Equal(t, 8192, h.InUse())

	assert.Nil(t, h.Realloc(q, 5000, 64*1024))
	assert.Equal(t, "buddy", string(unsafex.BytesAt(q, 5)))

	assert.Nil(t, h.Realloc(q, 5000, 0))
	assert.Zero(t, h.InUse())
}

func TestBuddyHeapCoalesce(t *testing.T) {
	tests := []struct {
		name   string
		nodes  []int
		target int
		want   int
	}{
		{"two_buddies", []int{0, 1024}, 1, 1},
		{"four_nodes", []int{0, 1024, 2048, 3072}, 2, 2},
		{"unsorted", []int{3072, 0, 2048, 1024}, 2, 2},
		{"no_buddies", []int{0, 2048, 4096, 6144}, 1, -1},
		{"right_left_pair", []int{1024, 2048}, 1, -1},
		{"single", []int{2048}, 1, -1},
		{"partial", []int{0, 1024, 4096}, 2, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestBuddyHeap(t, 64*1024, 1024, 16*1024)
			clearBuddyFreeLists(h)
			h.free[0] = append(h.free[0], tt.nodes...)
			assert.Equal(t, tt.want, h.coalesceUntil(tt.target))
		})
	}
}

func TestBuddyHeapCoalesceFails(t *testing.T) {
	h := newTestBuddyHeap(t, 64*1024, 1024, 16*1024)
	clearBuddyFreeLists(h)
	h.free[0] = append(h.free[0], 0, 4096)
	h.needsCoalesce = true

	assert.Nil(t, h.Alloc(2000))
	assert.False(t, h.needsCoalesce)
}

func TestBuddyHeapFreeInvalid(t *testing.T) {
	h := newTestBuddyHeap(t, 64*1024, 1024, 16*1024)
	outside := make([]byte, 64)

	assert.Panics(t, func() { h.Free(unsafe.Pointer(&outside[8]), 8) })
	assert.Panics(t, func() { h.Free(unsafe.Add(h.base, 100), 8) })
	assert.NotPanics(t, func() { h.Free(nil, 0) })

	p := h.Alloc(100)
	assert.NotPanics(t, func() { h.Free(p, 100) })
	assert.Panics(t, func() { h.Free(p, 100) })
}

func TestBuddyHeapRandomAllocFree(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h, err := NewBuddyHeap(1 << 20)
	require.NoError(t, err)
	initial := h.Available()

	type block struct {
		p    unsafe.Pointer
		size int
	}
	var blocks []block
	sizes := []int{1, 56, 100, 1000, 4000, 16000, h.MaxSize()}
	for i := 0; i < 50000; i++ {
		if len(blocks) == 0 || rng.Intn(3) != 0 {
			sz := sizes[rng.Intn(len(sizes))]
			if p := h.Alloc(sz); p != nil {
				blocks = append(blocks, block{p, sz})
			}
			continue
		}
		idx := rng.Intn(len(blocks))
		h.Free(blocks[idx].p, blocks[idx].size)
		blocks[idx] = blocks[len(blocks)-1]
		blocks = blocks[:len(blocks)-1]
	}
	for _, b := range blocks {
		h.Free(b.p, b.size)
	}
	h.coalesceUntil(h.maxOrder)
	assert.Equal(t, initial, h.Available())
	assert.Zero(t, h.InUse())
}

func TestBuddyHeapReset(t *testing.T) {
	h := newTestBuddyHeap(t, 64*1024, 1024, 16*1024)
	for h.Alloc(3000) != nil {
	}
	h.Reset()
	assert.Zero(t, h.InUse())
	assert.Equal(t, 64*1024, h.Available())
}

// helpers

func newTestBuddyHeap(t *testing.T, size, min, max int) *BuddyHeap {
	t.Helper()
	h, err := NewBuddyHeapWithArena(make([]byte, size), min, max)
	require.NoError(t, err)
	return h
}

func clearBuddyFreeLists(h *BuddyHeap) {
	for i := range h.free {
		h.free[i] = h.free[i][:0]
	}
}

func overlap(a unsafe.Pointer, alen int, b unsafe.Pointer, blen int) bool {
	as, bs := unsafex.Addr(a), unsafex.Addr(b)
	return !(as+uintptr(alen) <= bs || bs+uintptr(blen) <= as)
}

func BenchmarkBuddyHeapAlloc(b *testing.B) {
	h, _ := NewBuddyHeap(16 << 20)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if p := h.Alloc(8000); p != nil {
			h.Free(p, 8000)
		}
	}
}
