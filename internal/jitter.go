// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package internal

import (
	"hash/maphash"
	"math/rand"
	"time"
)

// NewRand returns a properly seeded *rand.Rand. The seed is computed using
// the "hash/maphash" package, which can be used concurrently and is
// lock-free. Effectively, we're using the runtime's internal per-thread
// RNG to seed a new rand.Rand, so callers on different goroutines don't
// contend on a shared generator's lock.
func NewRand() *rand.Rand {
	return rand.New(rand.NewSource(randomSeed())) //nolint:gosec // don't need cryptographic RNG
}

// randomSeed generates a high-quality (random) seed that can be used to
// create new instances of *rand.Rand, while avoiding the global rand's
// synchronization overhead.
func randomSeed() int64 {
	var hash maphash.Hash
	return int64(hash.Sum64())
}

// JitterDuration returns d plus or minus a uniformly-distributed random
// amount in [0, maxJitter), with the sign chosen with equal probability.
// This is used by the synchronous connect-failure retry path to
// de-synchronize a fleet of clients that all started retrying at once; it
// is deliberately not used on the event-driven retry path, which is already
// naturally de-correlated.
func JitterDuration(rnd *rand.Rand, d, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return d
	}
	adjust := time.Duration(rnd.Int63n(int64(maxJitter)))
	if rnd.Intn(2) == 0 {
		return d - adjust
	}
	return d + adjust
}
