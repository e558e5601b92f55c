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

import "errors"

// ErrAlreadyConnected is returned by a CommLayer's Connect/ConnectFrom
// methods when a live socket to the requested address already exists. The
// manager treats this as success: the record transitions to connected
// immediately instead of waiting for an asynchronous event.
var ErrAlreadyConnected = errors.New("connmgr: already connected")

// ErrManagerClosed is returned by Add once the owning Manager has been
// closed. WaitForConnection returns no error; after Close it reports false.
var ErrManagerClosed = errors.New("connmgr: manager is closed")

// CommLayer is the asynchronous, non-blocking socket layer the Manager sits
// on top of. Implementations must not block the caller of Connect/ConnectFrom
// for the duration of the connection attempt: the final outcome is reported
// later by invoking the EventHandler passed in, from whatever goroutine the
// implementation uses to run its event loop.
//
// The package provides a production implementation in the netdial
// subpackage, built on *net.Dialer.
type CommLayer interface {
	// Connect dispatches a non-blocking connection attempt to addr, letting
	// the OS choose the local address. It returns nil if the attempt was
	// dispatched (the outcome arrives later as an event), ErrAlreadyConnected
	// if a live socket to addr already exists, or any other error for an
	// immediate failure.
	Connect(addr Endpoint, handler EventHandler) error
	// ConnectFrom is like Connect but binds the local end of the socket to
	// localAddr before dialing.
	ConnectFrom(addr, localAddr Endpoint, handler EventHandler) error
	// CloseSocket closes any live socket to addr. It is a no-op, returning
	// nil, if there is none.
	CloseSocket(addr Endpoint) error
}

// EventHandler receives connection lifecycle events for endpoints it has
// been registered against. Manager implements this interface and is passed
// as the handler to every CommLayer.Connect/ConnectFrom call it makes.
type EventHandler interface {
	HandleEvent(Event)
}

// EventType enumerates the kinds of events a CommLayer can deliver.
type EventType int

const (
	// EventConnectionEstablished reports that a previously-dispatched
	// connection attempt succeeded.
	EventConnectionEstablished EventType = iota
	// EventDisconnect reports that a previously-live connection was closed,
	// whether by the peer, by a local close, or by a network failure.
	EventDisconnect
	// EventError reports an asynchronous error on a live or in-flight
	// connection.
	EventError
	// EventMessage carries application data read off a connection. The
	// Manager does not interpret these; it only forwards them to the
	// per-endpoint downstream handler, if any.
	EventMessage
)

// String renders the event type for logging.
func (t EventType) String() string {
	switch t {
	case EventConnectionEstablished:
		return "CONNECTION_ESTABLISHED"
	case EventDisconnect:
		return "DISCONNECT"
	case EventError:
		return "ERROR"
	case EventMessage:
		return "MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered by a CommLayer to report a connection lifecycle
// transition or inbound data for an endpoint it was asked to manage.
type Event struct {
	Type    EventType
	Addr    Endpoint
	Payload []byte
	Err     error
}

// String renders the event for logging, matching the comm layer contract's
// to_str() requirement from the original design.
func (e Event) String() string {
	if e.Err != nil {
		return e.Type.String() + " " + e.Addr.String() + ": " + e.Err.Error()
	}
	return e.Type.String() + " " + e.Addr.String()
}
