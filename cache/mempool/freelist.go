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

import "unsafe"

// freeList is an intrusive LIFO of free blocks of one size class.
//
// While a block is on the list, its first word is reinterpreted as the link to
// the next block. That view is only valid in the free state: push writes it,
// pop clears it, and nothing else in the package touches it.
type freeList struct {
	head unsafe.Pointer
	n    int
}

// link is the free-state view of a block.
func link(block unsafe.Pointer) *unsafe.Pointer {
	return (*unsafe.Pointer)(block)
}

func (l *freeList) empty() bool {
	return l.head == nil
}

func (l *freeList) push(block unsafe.Pointer) {
	*link(block) = l.head
	l.head = block
	l.n++
}

func (l *freeList) pop() unsafe.Pointer {
	block := l.head
	l.head = *link(block)
	*link(block) = nil
	l.n--
	return block
}
