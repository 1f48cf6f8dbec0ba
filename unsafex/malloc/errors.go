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

import "errors"

var (
	// ErrOutOfMemory indicates the heap could not satisfy a request,
	// including after the OOM handler was given its retries.
	ErrOutOfMemory = errors.New("malloc: out of memory")

	// ErrInvalidSize indicates a size that is non-positive, overflows,
	// or is too small to hold a free-list link.
	ErrInvalidSize = errors.New("malloc: invalid size")

	// ErrSizeMismatch indicates a block released with a size different
	// from the one it was allocated with.
	ErrSizeMismatch = errors.New("malloc: deallocation size mismatch")

	// ErrUnknownPointer indicates a block that is not live: never allocated,
	// or already released.
	ErrUnknownPointer = errors.New("malloc: pointer not allocated or already freed")
)
