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

// MetricsObserver receives notifications about connect attempt outcomes.
// Implementations must not block; the manager calls these synchronously
// from the goroutine that issued the attempt (either a caller's Add, or the
// retry worker), and calls OnRetryScheduled for an asynchronous failure
// from the comm layer goroutine that delivered the event.
type MetricsObserver interface {
	// OnConnectAttempt is called immediately before a Connect/ConnectFrom
	// call is dispatched to the comm layer.
	OnConnectAttempt(addr Endpoint)
	// OnConnectResult is called after the comm layer's Connect/ConnectFrom
	// returns, reporting whether it dispatched successfully (err == nil),
	// reported an existing connection (errors.Is(err, ErrAlreadyConnected)),
	// or failed (any other non-nil err).
	OnConnectResult(addr Endpoint, err error)
	// OnRetryScheduled is called whenever a record is pushed onto the retry
	// heap, reporting the endpoint the retry was scheduled for.
	OnRetryScheduled(addr Endpoint)
}

// NopMetricsObserver is a MetricsObserver that does nothing. It is the
// default used by Manager when no observer is configured via
// WithMetricsObserver.
var NopMetricsObserver MetricsObserver = nopMetricsObserver{}

type nopMetricsObserver struct{}

func (nopMetricsObserver) OnConnectAttempt(Endpoint)       {}
func (nopMetricsObserver) OnConnectResult(Endpoint, error) {}
func (nopMetricsObserver) OnRetryScheduled(Endpoint)       {}
