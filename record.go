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

package connmgr

import (
	"container/heap"
	"sync"
	"time"
)

// connRecord is the per-endpoint state shared by the registry, the retry
// heap, and any in-flight event delivery. Its lifetime is not tied to any
// one of those three holders: the Go garbage collector releases it once
// the last one lets go, which is what the original design's "shared
// ownership" note is asking for.
//
// mu guards connected and nextRetry. It must never be held across a call
// back into the manager (acquiring mgr.mu while holding mu is the one
// direction the lock hierarchy forbids).
type connRecord struct {
	addr        Endpoint
	localAddr   Endpoint // zero value means unbound
	timeout     time.Duration
	serviceName string
	handler     EventHandler

	mu        sync.Mutex
	cond      *sync.Cond
	connected bool
	removed   bool
	nextRetry time.Time

	// heapIndex is maintained by retryHeap's Swap so a future indexed-heap
	// variant (removing a specific record instead of filtering stale pops)
	// has a ready hook. The worker does not use it for targeted removal
	// today; see retryHeap's doc comment.
	heapIndex int
}

func newConnRecord(addr, localAddr Endpoint, timeout time.Duration, serviceName string, handler EventHandler, now time.Time) *connRecord {
	rec := &connRecord{
		addr:        addr,
		localAddr:   localAddr,
		timeout:     timeout,
		serviceName: serviceName,
		handler:     handler,
		nextRetry:   now,
		heapIndex:   -1,
	}
	rec.cond = sync.NewCond(&rec.mu)
	return rec
}

// +checklocks:rec.mu
func (rec *connRecord) setConnectedLocked(v bool) {
	rec.connected = v
	rec.cond.Broadcast()
}

// retryHeap is a container/heap.Interface min-heap of connRecord pointers,
// ordered by nextRetry. It permits multiple entries for the same record: a
// record that reconnects and later fails again is simply pushed a second
// time. Stale entries (record already connected, or already removed from
// the registry and poisoned via removed=true) are filtered by the retry
// worker when popped rather than removed from the heap directly, exactly as
// described for the "retry heap with duplicates" design note: a strict
// one-entry-per-record heap is an acceptable alternative but needs an
// indexed heap to support removal, which is why heapIndex is tracked even
// though nothing currently calls heap.Fix/heap.Remove with it.
type retryHeap []*connRecord

func (h retryHeap) Len() int { return len(h) }

func (h retryHeap) Less(i, j int) bool {
	return h[i].nextRetry.Before(h[j].nextRetry)
}

func (h retryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *retryHeap) Push(x any) {
	rec, _ := x.(*connRecord)
	rec.heapIndex = len(*h)
	*h = append(*h, rec)
}

func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	rec := old[n-1]
	old[n-1] = nil
	rec.heapIndex = -1
	*h = old[:n-1]
	return rec
}

var _ heap.Interface = (*retryHeap)(nil)
