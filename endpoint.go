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
	"fmt"
	"net"
	"net/netip"
)

// Endpoint identifies a peer by address and port. It is a plain comparable
// struct, so it can be used directly as a map key (as the connection
// registry does) without any separate hashing step.
type Endpoint struct {
	addr netip.Addr
	port uint16
}

// NewEndpoint builds an Endpoint from an IP address and port.
func NewEndpoint(addr netip.Addr, port uint16) Endpoint {
	return Endpoint{addr: addr.Unmap(), port: port}
}

// ParseEndpoint parses a "host:port" string, resolving host if it is not
// already a literal IP address.
func ParseEndpoint(hostPort string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return Endpoint{}, fmt.Errorf("connmgr: invalid endpoint %q: %w", hostPort, err)
	}
	addrPort, err := netip.ParseAddrPort(net.JoinHostPort(host, portStr))
	if err == nil {
		return NewEndpoint(addrPort.Addr(), addrPort.Port()), nil
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return Endpoint{}, fmt.Errorf("connmgr: cannot resolve host %q: %w", host, err)
	}
	addr, ok := netip.AddrFromSlice(ips[0])
	if !ok {
		return Endpoint{}, fmt.Errorf("connmgr: invalid resolved address for %q", host)
	}
	var port uint64
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Endpoint{}, fmt.Errorf("connmgr: invalid port %q: %w", portStr, err)
	}
	return NewEndpoint(addr, uint16(port)), nil
}

// IsZero reports whether e is the zero Endpoint, used to mean "no local
// bind address requested; let the OS choose."
func (e Endpoint) IsZero() bool {
	return !e.addr.IsValid() && e.port == 0
}

// Addr returns the endpoint's IP address.
func (e Endpoint) Addr() netip.Addr {
	return e.addr
}

// Port returns the endpoint's port.
func (e Endpoint) Port() uint16 {
	return e.port
}

// String renders the endpoint in host:port form.
func (e Endpoint) String() string {
	if e.IsZero() {
		return "<unbound>"
	}
	return net.JoinHostPort(e.addr.String(), fmt.Sprint(e.port))
}
