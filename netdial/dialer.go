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

// Package netdial provides a production connmgr.CommLayer backed by
// *net.Dialer. Every dial runs on its own goroutine so Connect/ConnectFrom
// never block their caller, matching the non-blocking contract
// connmgr.CommLayer requires; the outcome is always reported later through
// the supplied connmgr.EventHandler.
package netdial

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bufbuild/connmgr"
)

// Dialer is a connmgr.CommLayer that dials real TCP sockets.
type Dialer struct {
	dial        func(ctx context.Context, network, localAddr, addr string) (net.Conn, error)
	dialTimeout time.Duration

	mu    sync.Mutex
	conns map[connmgr.Endpoint]net.Conn
}

// NewDialer constructs a Dialer. dialTimeout bounds each individual dial
// attempt; zero means no per-attempt timeout.
func NewDialer(dialTimeout time.Duration) *Dialer {
	return &Dialer{
		dialTimeout: dialTimeout,
		conns:       make(map[connmgr.Endpoint]net.Conn),
		dial: func(ctx context.Context, network, localAddr, addr string) (net.Conn, error) {
			dialer := &net.Dialer{}
			if localAddr != "" {
				laddr, err := net.ResolveTCPAddr(network, localAddr)
				if err != nil {
					return nil, err
				}
				dialer.LocalAddr = laddr
			}
			return dialer.DialContext(ctx, network, addr)
		},
	}
}

// Connect implements connmgr.CommLayer.
func (d *Dialer) Connect(addr connmgr.Endpoint, handler connmgr.EventHandler) error {
	return d.connect(addr, "", handler)
}

// ConnectFrom implements connmgr.CommLayer.
func (d *Dialer) ConnectFrom(addr, localAddr connmgr.Endpoint, handler connmgr.EventHandler) error {
	return d.connect(addr, localAddr.String(), handler)
}

func (d *Dialer) connect(addr connmgr.Endpoint, localAddr string, handler connmgr.EventHandler) error {
	d.mu.Lock()
	_, already := d.conns[addr]
	d.mu.Unlock()
	if already {
		return connmgr.ErrAlreadyConnected
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if d.dialTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.dialTimeout)
	}

	go func() {
		if cancel != nil {
			defer cancel()
		}
		conn, err := d.dial(ctx, "tcp", localAddr, addr.String())
		if err != nil {
			handler.HandleEvent(connmgr.Event{Type: connmgr.EventError, Addr: addr, Err: err})
			return
		}

		d.mu.Lock()
		d.conns[addr] = conn
		d.mu.Unlock()

		handler.HandleEvent(connmgr.Event{Type: connmgr.EventConnectionEstablished, Addr: addr})
		d.pump(addr, conn, handler)
	}()
	return nil
}

// pump reads from conn until it fails or is closed, delivering each read as
// an EventMessage and the terminal condition as an EventDisconnect.
func (d *Dialer) pump(addr connmgr.Endpoint, conn net.Conn, handler connmgr.EventHandler) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			handler.HandleEvent(connmgr.Event{Type: connmgr.EventMessage, Addr: addr, Payload: payload})
		}
		if err != nil {
			d.mu.Lock()
			delete(d.conns, addr)
			d.mu.Unlock()
			handler.HandleEvent(connmgr.Event{Type: connmgr.EventDisconnect, Addr: addr, Err: err})
			return
		}
	}
}

// CloseSocket implements connmgr.CommLayer.
func (d *Dialer) CloseSocket(addr connmgr.Endpoint) error {
	d.mu.Lock()
	conn, ok := d.conns[addr]
	delete(d.conns, addr)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("netdial: closing %s: %w", addr, err)
	}
	return nil
}

var _ connmgr.CommLayer = (*Dialer)(nil)
