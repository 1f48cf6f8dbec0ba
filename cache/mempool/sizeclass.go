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

import "fmt"

// sizeClasses is the table of block sizes: class i holds blocks of (i+1)*align bytes.
type sizeClasses struct {
	align    int
	maxBytes int
	sizes    []int
}

func newSizeClasses(align, maxBytes int) sizeClasses {
	c := sizeClasses{align: align, maxBytes: maxBytes}
	for sz := align; sz <= maxBytes; sz += align {
		c.sizes = append(c.sizes, sz)
	}
	return c
}

// roundUp rounds n up to a multiple of align.
func (c *sizeClasses) roundUp(n int) int {
	return (n + c.align - 1) &^ (c.align - 1)
}

// index returns the class serving n bytes, ceil(n/align)-1.
// Panics if n is outside (0, maxBytes].
func (c *sizeClasses) index(n int) int {
	if n <= 0 || n > c.maxBytes {
		panic(fmt.Sprintf("mempool: size %d has no size class", n))
	}
	return (n+c.align-1)/c.align - 1
}

// size returns the block size of class i. Panics if i is out of range.
func (c *sizeClasses) size(i int) int {
	if i < 0 || i >= len(c.sizes) {
		panic(fmt.Sprintf("mempool: size class %d out of range [0, %d)", i, len(c.sizes)))
	}
	return c.sizes[i]
}
