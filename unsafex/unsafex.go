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

// Package unsafex holds the views this module builds over untyped memory.
//
// Every conversion from a raw address to a Go slice goes through here, so the
// places that alias allocator memory stay easy to find.
package unsafex

import "unsafe"

// BytesAt returns a []byte of length and capacity n starting at p.
// It returns nil if p is nil or n <= 0.
func BytesAt(p unsafe.Pointer, n int) []byte {
	if p == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

// SliceAt returns a []T of length and capacity n starting at p.
// It returns nil if p is nil or n <= 0.
func SliceAt[T any](p *T, n int) []T {
	if p == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice(p, n)
}

// Addr returns the address of p as an integer, for alignment checks and map keys.
func Addr(p unsafe.Pointer) uintptr {
	return uintptr(p)
}

// Copy copies min(dstLen, srcLen) bytes from src to dst and returns the count.
func Copy(dst unsafe.Pointer, dstLen int, src unsafe.Pointer, srcLen int) int {
	return copy(BytesAt(dst, dstLen), BytesAt(src, srcLen))
}
