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

// Package connmgr maintains a set of outbound connections to named peer
// endpoints, reconnecting on failure with bounded, jittered retry pacing,
// and lets callers block until a given peer becomes reachable.
//
// It sits above a [CommLayer]: a non-blocking socket layer that dispatches
// connection attempts and reports their outcome asynchronously, via
// events delivered to the Manager's HandleEvent method. The package ships
// a production CommLayer, in the netdial subpackage, built on *net.Dialer.
//
// Use [NewManager] to construct a Manager, [Manager.Add] to register
// endpoints, [Manager.WaitForConnection] to block until one is reachable,
// and [Manager.Close] to tear the manager down.
package connmgr

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bufbuild/connmgr/internal"
)

// maxSyncJitter bounds the jitter applied to next_retry after a synchronous
// connect failure. See the design note on jitter path asymmetry: the
// event-driven retry path deliberately does not apply this.
const maxSyncJitter = 2000 * time.Millisecond

// Manager maintains outbound connections to a set of registered endpoints.
// A Manager must be constructed with NewManager and must eventually be
// closed with Close. The zero value is not usable.
type Manager struct {
	comm   CommLayer
	clock  internal.Clock
	logger *zap.Logger

	quietMode bool
	metrics   MetricsObserver

	jitterMu sync.Mutex
	jitter   *rand.Rand

	// mu guards everything below except each record's own fields (those are
	// guarded by the record's own mutex, per the two-level lock hierarchy:
	// mu must always be acquired before any record's mutex, never after).
	mu         sync.Mutex
	registry   map[Endpoint]*connRecord
	retryQueue retryHeap
	retryCond  *sync.Cond
	closed     bool
	workerDone chan struct{}
}

// NewManager constructs a Manager over the given comm layer and starts its
// retry worker goroutine. The returned Manager must be closed with Close
// when no longer needed.
func NewManager(comm CommLayer, opts ...Option) *Manager {
	mgr := &Manager{
		comm:       comm,
		clock:      internal.NewRealClock(),
		logger:     zap.NewNop(),
		metrics:    NopMetricsObserver,
		jitter:     internal.NewRand(),
		registry:   make(map[Endpoint]*connRecord),
		workerDone: make(chan struct{}),
	}
	mgr.retryCond = sync.NewCond(&mgr.mu)
	for _, opt := range opts {
		opt.apply(mgr)
	}
	go mgr.runRetryWorker()
	return mgr
}

// HandleEvent implements EventHandler. It is the entry point the comm layer
// invokes for every connection lifecycle event concerning an endpoint the
// manager was asked to connect.
func (m *Manager) HandleEvent(evt Event) {
	m.mu.Lock()
	rec, ok := m.registry[evt.Addr]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("event for unknown endpoint", zap.Stringer("addr", evt.Addr), zap.Stringer("event", evt.Type))
		return
	}

	rec.mu.Lock()
	switch evt.Type {
	case EventConnectionEstablished:
		rec.setConnectedLocked(true)
	case EventDisconnect, EventError:
		if !m.quietMode {
			m.logger.Info("connection problem, will retry",
				zap.Stringer("event", evt.Type),
				zap.String("service", rec.serviceName),
				zap.Stringer("addr", rec.addr),
				zap.Duration("retry_in", rec.timeout))
		}
		rec.setConnectedLocked(false)
		rec.nextRetry = m.clock.Now().Add(rec.timeout)
		heap.Push(&m.retryQueue, rec)
		m.retryCond.Signal()
		m.metrics.OnRetryScheduled(rec.addr)
	}
	handler := rec.handler
	rec.mu.Unlock()
	m.mu.Unlock()

	// Forward every event type to the downstream handler, including ones the
	// manager itself ignores (e.g. EventMessage): downstream handlers must be
	// prepared for any event the comm layer can emit.
	if handler != nil {
		handler.HandleEvent(evt)
	}
}

// Add registers addr for connection management. If addr is already
// registered, Add returns nil without taking any further action
// (registration is idempotent). Otherwise it creates a new record and
// synchronously attempts a connection through the comm layer; failures are
// absorbed and scheduled for retry rather than returned to the caller.
//
// Add returns ErrManagerClosed if the manager has been closed.
func (m *Manager) Add(addr Endpoint, timeout time.Duration, opts ...AddOption) error {
	var cfg addConfig
	for _, opt := range opts {
		opt.applyAdd(&cfg)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if _, ok := m.registry[addr]; ok {
		m.mu.Unlock()
		return nil
	}

	rec := newConnRecord(addr, cfg.localAddr, timeout, cfg.serviceName, cfg.handler, m.clock.Now())
	m.registry[addr] = rec

	rec.mu.Lock()
	m.mu.Unlock()
	needsRetry := m.sendConnectRequest(rec)
	rec.mu.Unlock()

	if needsRetry {
		m.mu.Lock()
		heap.Push(&m.retryQueue, rec)
		m.retryCond.Signal()
		m.mu.Unlock()
		m.metrics.OnRetryScheduled(rec.addr)
	}
	return nil
}

// Remove unregisters addr. If it was connected, its socket is closed and
// the error from that close is returned. If it was not registered, Remove
// returns nil.
func (m *Manager) Remove(addr Endpoint) error {
	m.mu.Lock()
	rec, ok := m.registry[addr]
	if !ok {
		m.mu.Unlock()
		return nil
	}

	rec.mu.Lock()
	wasConnected := rec.connected
	// removed is a distinct signal from connected: it lets the retry worker
	// and WaitForConnection tell "gone" apart from "succeeded" instead of
	// overloading connected for both. A waiter woken by this broadcast must
	// see removed and report false, never read it as a successful connect.
	rec.removed = true
	rec.cond.Broadcast()
	rec.mu.Unlock()
	delete(m.registry, addr)
	m.mu.Unlock()

	if wasConnected {
		if err := m.comm.CloseSocket(addr); err != nil {
			m.logger.Error("failed to close socket on remove", zap.Stringer("addr", addr), zap.Error(err))
			return err
		}
	}
	return nil
}

// WaitForConnection blocks until addr is connected or ctx is done,
// whichever comes first. It returns false if addr is not currently
// registered, or if ctx is done before the endpoint connects.
//
// Because the manager lock is released before waiting, a concurrent Remove
// for addr is possible between the lookup and the wait; a false result must
// be treated as "not yet reachable," not as proof the endpoint is still
// registered.
func (m *Manager) WaitForConnection(ctx context.Context, addr Endpoint) bool {
	m.mu.Lock()
	rec, ok := m.registry[addr]
	m.mu.Unlock()
	if !ok {
		return false
	}

	// sync.Cond has no context-aware Wait, so a helper goroutine translates
	// ctx.Done() into a Broadcast the blocked waiter will observe.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			rec.mu.Lock()
			rec.cond.Broadcast()
			rec.mu.Unlock()
		case <-stop:
		}
	}()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for !rec.connected && !rec.removed {
		if ctx.Err() != nil {
			return false
		}
		rec.cond.Wait()
	}
	return rec.connected
}

// Stats returns a point-in-time snapshot of the manager's registry and
// retry queue sizes.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := ManagerStats{
		Registered: len(m.registry),
		Pending:    m.retryQueue.Len(),
	}
	for _, rec := range m.registry {
		rec.mu.Lock()
		if rec.connected {
			stats.Connected++
		}
		rec.mu.Unlock()
	}
	return stats
}

// ManagerStats is a snapshot returned by Manager.Stats.
type ManagerStats struct {
	Registered int
	Connected  int
	Pending    int
}

// Close stops the retry worker and closes every currently-registered
// endpoint's socket, fanning the closes out concurrently. It blocks until
// the worker has exited. Close is idempotent; calling it more than once
// returns nil after the first call.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	registry := m.registry
	m.registry = make(map[Endpoint]*connRecord)
	m.retryCond.Broadcast()
	m.mu.Unlock()

	<-m.workerDone

	var errMu sync.Mutex
	var errs []error
	grp := errgroup.Group{}
	for addr, rec := range registry {
		addr := addr
		rec.mu.Lock()
		connected := rec.connected
		rec.mu.Unlock()
		if !connected {
			continue
		}
		grp.Go(func() error {
			if err := m.comm.CloseSocket(addr); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("connmgr: closing %s: %w", addr, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = grp.Wait()
	return errors.Join(errs...)
}

// sendConnectRequest dispatches a connection attempt for rec through the
// comm layer and interprets the result, mutating rec's connected/nextRetry
// fields as appropriate. The caller must hold rec.mu and must NOT hold mu:
// pushing the retry-heap entry for a failed attempt requires mu, and the
// lock hierarchy only allows acquiring mu before rec.mu, never the other
// way around. So sendConnectRequest never touches mu itself; instead it
// reports whether the caller must push rec onto the retry heap once it has
// released rec.mu and can safely acquire mu on its own.
func (m *Manager) sendConnectRequest(rec *connRecord) (needsRetry bool) {
	m.metrics.OnConnectAttempt(rec.addr)

	var err error
	if rec.localAddr.IsZero() {
		err = m.comm.Connect(rec.addr, m)
	} else {
		err = m.comm.ConnectFrom(rec.addr, rec.localAddr, m)
	}
	m.metrics.OnConnectResult(rec.addr, err)

	switch {
	case errors.Is(err, ErrAlreadyConnected):
		rec.setConnectedLocked(true)
		return false
	case err != nil:
		if rec.serviceName != "" {
			m.logger.Error("connection attempt failed, will retry",
				zap.String("service", rec.serviceName),
				zap.Stringer("addr", rec.addr),
				zap.Error(err),
				zap.Duration("retry_in", rec.timeout))
		} else {
			m.logger.Error("connection attempt failed, will retry",
				zap.Stringer("addr", rec.addr),
				zap.Error(err),
				zap.Duration("retry_in", rec.timeout))
		}

		delay := m.jitteredDelay(rec.timeout)
		rec.nextRetry = m.clock.Now().Add(delay)
		return true
	default:
		return false
	}
}

// jitteredDelay applies the synchronous-path jitter described in the retry
// scheduling policy to timeout, using the manager's shared *rand.Rand under
// a dedicated mutex (a *rand.Rand is not safe for concurrent use, and this
// path can be entered concurrently from Add and from the retry worker).
func (m *Manager) jitteredDelay(timeout time.Duration) time.Duration {
	m.jitterMu.Lock()
	defer m.jitterMu.Unlock()
	return internal.JitterDuration(m.jitter, timeout, maxSyncJitter)
}

// runRetryWorker is the Manager's single long-lived retry-worker goroutine.
func (m *Manager) runRetryWorker() {
	defer close(m.workerDone)

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		for m.retryQueue.Len() == 0 && !m.closed {
			m.retryCond.Wait()
		}
		if m.closed {
			return
		}

		rec := m.retryQueue[0]
		rec.mu.Lock()
		if rec.connected || rec.removed {
			rec.mu.Unlock()
			heap.Pop(&m.retryQueue)
			continue
		}

		now := m.clock.Now()
		if !rec.nextRetry.After(now) {
			heap.Pop(&m.retryQueue)
			m.mu.Unlock()
			needsRetry := m.sendConnectRequest(rec)
			rec.mu.Unlock()

			m.mu.Lock()
			if needsRetry {
				heap.Push(&m.retryQueue, rec)
				m.metrics.OnRetryScheduled(rec.addr)
			}
			continue
		}
		wait := rec.nextRetry.Sub(now)
		rec.mu.Unlock()

		// sync.Cond.Wait has no deadline, so a timer broadcasts the retry
		// condition when the head entry becomes due; runRetryWorker then
		// re-checks the head (it may have changed, or become stale) under mu.
		timer := m.clock.AfterFunc(wait, func() {
			m.mu.Lock()
			m.retryCond.Broadcast()
			m.mu.Unlock()
		})
		m.retryCond.Wait()
		timer.Stop()
	}
}
