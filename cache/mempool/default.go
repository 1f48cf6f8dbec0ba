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
	"unsafe"

	"github.com/cloudwego/poolalloc/unsafex/malloc"
)

var defaultPool = newDefaultPool()

func newDefaultPool() *Pool {
	o := DefaultOption()
	o.Raw = malloc.Default()
	p, err := NewPool(o)
	if err != nil {
		panic(err)
	}
	return p
}

// Default returns the process-wide Pool. Its large objects and arenas come
// from malloc.Default(), so malloc.SetOomHandler applies to it.
func Default() *Pool {
	return defaultPool
}

// Allocate allocates from the default Pool.
func Allocate(size int) unsafe.Pointer {
	return defaultPool.Allocate(size)
}

// Deallocate returns a block to the default Pool.
func Deallocate(p unsafe.Pointer, size int) {
	defaultPool.Deallocate(p, size)
}

// Reallocate resizes a block of the default Pool. See (*Pool).Reallocate.
func Reallocate(p unsafe.Pointer, oldSize, newSize int) unsafe.Pointer {
	return defaultPool.Reallocate(p, oldSize, newSize)
}
