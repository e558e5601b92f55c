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

package connmgr_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bufbuild/connmgr"
)

func TestEndpointEquality(t *testing.T) {
	t.Parallel()

	a := connmgr.NewEndpoint(netip.MustParseAddr("10.0.0.1"), 4000)
	b := connmgr.NewEndpoint(netip.MustParseAddr("10.0.0.1"), 4000)
	c := connmgr.NewEndpoint(netip.MustParseAddr("10.0.0.1"), 4001)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	registry := map[connmgr.Endpoint]int{a: 1}
	_, ok := registry[b]
	assert.True(t, ok, "equal endpoints must collide as map keys")
}

func TestEndpointIsZero(t *testing.T) {
	t.Parallel()

	var zero connmgr.Endpoint
	assert.True(t, zero.IsZero())

	nonZero := connmgr.NewEndpoint(netip.MustParseAddr("127.0.0.1"), 1)
	assert.False(t, nonZero.IsZero())
}

func TestParseEndpoint(t *testing.T) {
	t.Parallel()

	ep, err := connmgr.ParseEndpoint("127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, uint16(9000), ep.Port())
	assert.Equal(t, "127.0.0.1:9000", ep.String())

	_, err = connmgr.ParseEndpoint("not-an-endpoint")
	assert.Error(t, err)
}

func TestEndpointString(t *testing.T) {
	t.Parallel()

	ep := connmgr.NewEndpoint(netip.MustParseAddr("192.168.1.1"), 80)
	assert.Equal(t, "192.168.1.1:80", ep.String())

	var zero connmgr.Endpoint
	assert.Equal(t, "<unbound>", zero.String())
}
