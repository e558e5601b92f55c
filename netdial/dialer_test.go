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

package netdial_test

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bufbuild/connmgr"
	"github.com/bufbuild/connmgr/netdial"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []connmgr.Event
	next   int
	signal chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{signal: make(chan struct{}, 16)}
}

func (h *recordingHandler) HandleEvent(evt connmgr.Event) {
	h.mu.Lock()
	h.events = append(h.events, evt)
	h.mu.Unlock()
	h.signal <- struct{}{}
}

func (h *recordingHandler) waitForEvent(t *testing.T) connmgr.Event {
	t.Helper()
	select {
	case <-h.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	evt := h.events[h.next]
	h.next++
	return evt
}

func TestDialerConnectsToLoopbackListener(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("hello"))
	}()

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	addr, ok := netip.AddrFromSlice(tcpAddr.IP.To4())
	require.True(t, ok)
	endpoint := connmgr.NewEndpoint(addr, uint16(tcpAddr.Port))

	dialer := netdial.NewDialer(time.Second)
	handler := newRecordingHandler()
	require.NoError(t, dialer.Connect(endpoint, handler))

	established := handler.waitForEvent(t)
	require.Equal(t, connmgr.EventConnectionEstablished, established.Type)

	message := handler.waitForEvent(t)
	require.Equal(t, connmgr.EventMessage, message.Type)
	require.Equal(t, "hello", string(message.Payload))

	require.NoError(t, dialer.CloseSocket(endpoint))
}

func TestDialerReportsErrorForClosedPort(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	require.NoError(t, listener.Close())

	addr, ok := netip.AddrFromSlice(tcpAddr.IP.To4())
	require.True(t, ok)
	endpoint := connmgr.NewEndpoint(addr, uint16(tcpAddr.Port))

	dialer := netdial.NewDialer(200 * time.Millisecond)
	handler := newRecordingHandler()
	require.NoError(t, dialer.Connect(endpoint, handler))

	evt := handler.waitForEvent(t)
	require.Equal(t, connmgr.EventError, evt.Type)
	require.Error(t, evt.Err)
}

func TestDialerAlreadyConnected(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			// Keep the peer open until the listener closes, so the dialer
			// still holds a live socket when Connect is called again.
			defer conn.Close()
		}
	}()

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	addr, ok := netip.AddrFromSlice(tcpAddr.IP.To4())
	require.True(t, ok)
	endpoint := connmgr.NewEndpoint(addr, uint16(tcpAddr.Port))

	dialer := netdial.NewDialer(time.Second)
	handler := newRecordingHandler()
	require.NoError(t, dialer.Connect(endpoint, handler))
	handler.waitForEvent(t)

	err = dialer.Connect(endpoint, handler)
	require.ErrorIs(t, err, connmgr.ErrAlreadyConnected)
}

func TestDialerConnectFromBindsLocalAddr(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	addr, ok := netip.AddrFromSlice(tcpAddr.IP.To4())
	require.True(t, ok)
	endpoint := connmgr.NewEndpoint(addr, uint16(tcpAddr.Port))
	localAddr := connmgr.NewEndpoint(netip.MustParseAddr("127.0.0.1"), 0)

	dialer := netdial.NewDialer(time.Second)
	handler := newRecordingHandler()
	require.NoError(t, dialer.ConnectFrom(endpoint, localAddr, handler))

	evt := handler.waitForEvent(t)
	require.Contains(t, []connmgr.EventType{connmgr.EventConnectionEstablished, connmgr.EventDisconnect}, evt.Type)
}

func TestDialerCloseSocketIsNoOpWhenNotConnected(t *testing.T) {
	t.Parallel()

	dialer := netdial.NewDialer(time.Second)
	endpoint := connmgr.NewEndpoint(netip.MustParseAddr("127.0.0.1"), 1)
	require.NoError(t, dialer.CloseSocket(endpoint))
}

