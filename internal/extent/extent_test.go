// Copyright 2025 The extentfs Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package extent

import (
	"net"
	"testing"
	"time"

	"github.com/extentfs/extentfs/internal/rpcsvc"
	"github.com/extentfs/extentfs/internal/wire"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *Server {
	t.Helper()

	clock := &timeutil.SimulatedClock{}
	clock.SetTime(time.Date(2025, 1, 20, 8, 0, 0, 0, time.UTC))

	s, err := NewServer(clock)
	require.NoError(t, err)
	return s
}

// serveLoopback publishes s over the transport and returns a connected
// stub.
func serveLoopback(t *testing.T, s *Server) *Client {
	t.Helper()

	srv := rpcsvc.NewServer()
	require.NoError(t, s.Register(srv))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l)
	t.Cleanup(func() { l.Close() })

	c, err := NewClient(l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRootExtentExistsAtStartup(t *testing.T) {
	s := newServer(t)

	attr, st := s.GetAttr(1)
	require.Equal(t, wire.StatusOK, st)
	assert.Equal(t, wire.TypeDir, attr.Type)
	assert.Zero(t, attr.Size)

	data, st := s.Get(1)
	require.Equal(t, wire.StatusOK, st)
	assert.Empty(t, data)
}

// exercise runs the create/put/get/getattr/remove cycle against any
// Store; the direct server and the RPC stub must behave identically.
func exercise(t *testing.T, store Store) {
	eid, st := store.Create(wire.TypeFile)
	require.Equal(t, wire.StatusOK, st)
	require.NotZero(t, eid)

	require.Equal(t, wire.StatusOK, store.Put(eid, []byte("payload")))

	data, st := store.Get(eid)
	require.Equal(t, wire.StatusOK, st)
	assert.Equal(t, []byte("payload"), data)

	attr, st := store.GetAttr(eid)
	require.Equal(t, wire.StatusOK, st)
	assert.Equal(t, wire.TypeFile, attr.Type)
	assert.EqualValues(t, 7, attr.Size)

	require.Equal(t, wire.StatusOK, store.Remove(eid))

	_, st = store.Get(eid)
	assert.Equal(t, wire.StatusNoEnt, st)
	_, st = store.GetAttr(eid)
	assert.Equal(t, wire.StatusNoEnt, st)
}

func TestLifecycleDirect(t *testing.T) {
	exercise(t, newServer(t))
}

func TestLifecycleOverTransport(t *testing.T) {
	exercise(t, serveLoopback(t, newServer(t)))
}

func TestGetMissingExtent(t *testing.T) {
	s := newServer(t)

	_, st := s.Get(999)
	assert.Equal(t, wire.StatusNoEnt, st)

	st = s.Put(999, []byte("x"))
	assert.Equal(t, wire.StatusNoEnt, st)

	st = s.Remove(999)
	assert.Equal(t, wire.StatusNoEnt, st)
}

func TestPutEmptyOverTransport(t *testing.T) {
	c := serveLoopback(t, newServer(t))

	eid, st := c.Create(wire.TypeFile)
	require.Equal(t, wire.StatusOK, st)
	require.Equal(t, wire.StatusOK, c.Put(eid, []byte("gone soon")))
	require.Equal(t, wire.StatusOK, c.Put(eid, nil))

	data, st := c.Get(eid)
	require.Equal(t, wire.StatusOK, st)
	assert.Empty(t, data)
}
