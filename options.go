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
	"go.uber.org/zap"

	"github.com/bufbuild/connmgr/internal"
)

// Option configures a Manager at construction time.
type Option interface {
	apply(*Manager)
}

type optionFunc func(*Manager)

func (f optionFunc) apply(m *Manager) { f(m) }

// WithLogger configures the *zap.Logger the manager uses to report
// connection failures and dropped events. If not supplied, the manager
// uses zap.NewNop() and logs nothing.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(m *Manager) {
		m.logger = logger
	})
}

// WithQuietMode suppresses the Info-level log line normally emitted when an
// asynchronous disconnect or error event arrives. Error-level logging for
// synchronous connect failures is unaffected.
func WithQuietMode() Option {
	return optionFunc(func(m *Manager) {
		m.quietMode = true
	})
}

// WithMetricsObserver registers an observer notified of connect attempt
// outcomes. It is purely observational: the manager's behavior never
// depends on what the observer does.
func WithMetricsObserver(observer MetricsObserver) Option {
	return optionFunc(func(m *Manager) {
		m.metrics = observer
	})
}

// withClock overrides the manager's time source, for tests.
func withClock(clock internal.Clock) Option {
	return optionFunc(func(m *Manager) {
		m.clock = clock
	})
}

// AddOption configures a single Add call.
type AddOption interface {
	applyAdd(*addConfig)
}

type addConfig struct {
	localAddr   Endpoint
	serviceName string
	handler     EventHandler
}

type addOptionFunc func(*addConfig)

func (f addOptionFunc) applyAdd(c *addConfig) { f(c) }

// WithLocalAddr requests that outbound connections for this endpoint bind
// to localAddr instead of letting the OS choose.
func WithLocalAddr(localAddr Endpoint) AddOption {
	return addOptionFunc(func(c *addConfig) {
		c.localAddr = localAddr
	})
}

// WithServiceName attaches a human-readable label to the endpoint, used
// only in log output.
func WithServiceName(name string) AddOption {
	return addOptionFunc(func(c *addConfig) {
		c.serviceName = name
	})
}

// WithHandler registers a downstream handler that receives every event the
// comm layer delivers for this endpoint, after the manager has updated its
// own state.
func WithHandler(handler EventHandler) AddOption {
	return addOptionFunc(func(c *addConfig) {
		c.handler = handler
	})
}
