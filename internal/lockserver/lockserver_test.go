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

package lockserver

import (
	"net"
	"testing"

	"github.com/extentfs/extentfs/internal/rpcsvc"
	"github.com/extentfs/extentfs/internal/wire"
	"github.com/jacobsa/syncutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	syncutil.EnableInvariantChecking()
}

// fakeCallback is a client callback endpoint that records revoke and
// retry deliveries.
type fakeCallback struct {
	revokes chan wire.LockID
	retries chan wire.LockID
}

func (f *fakeCallback) Revoke(args *wire.RevokeArgs, reply *wire.RevokeReply) error {
	f.revokes <- args.Lock
	reply.Status = wire.StatusOK
	return nil
}

func (f *fakeCallback) Retry(args *wire.RetryArgs, reply *wire.RetryReply) error {
	f.retries <- args.Lock
	reply.Status = wire.StatusOK
	return nil
}

func startCallback(t *testing.T) (string, *fakeCallback) {
	t.Helper()

	cb := &fakeCallback{
		revokes: make(chan wire.LockID, 16),
		retries: make(chan wire.LockID, 16),
	}
	srv := rpcsvc.NewServer()
	require.NoError(t, srv.RegisterName(wire.LockCallbackServiceName, cb))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l)
	t.Cleanup(func() { l.Close() })

	return l.Addr().String(), cb
}

func TestAcquireFreeLock(t *testing.T) {
	s := NewServer()

	assert.Equal(t, wire.StatusOK, s.Acquire(1, "client-a"))
	assert.EqualValues(t, 1, s.Stat(1))
}

func TestAcquireContendedRevokesHolderAndAnswersRetry(t *testing.T) {
	s := NewServer()
	addrA, cbA := startCallback(t)
	addrB, _ := startCallback(t)

	require.Equal(t, wire.StatusOK, s.Acquire(1, addrA))

	assert.Equal(t, wire.StatusRetry, s.Acquire(1, addrB))
	assert.EqualValues(t, 1, <-cbA.revokes)
}

func TestContendedAcquireRevokesTailWaiterNotHolder(t *testing.T) {
	s := NewServer()
	addrA, cbA := startCallback(t)
	addrB, cbB := startCallback(t)
	addrC, _ := startCallback(t)

	require.Equal(t, wire.StatusOK, s.Acquire(1, addrA))
	require.Equal(t, wire.StatusRetry, s.Acquire(1, addrB))
	<-cbA.revokes

	// With B queued, C's acquire revokes B rather than A again.
	require.Equal(t, wire.StatusRetry, s.Acquire(1, addrC))
	assert.EqualValues(t, 1, <-cbB.revokes)
	assert.Empty(t, cbA.revokes)
}

func TestReleaseWithWaitersHandsOffAndRetries(t *testing.T) {
	s := NewServer()
	addrA, _ := startCallback(t)
	addrB, cbB := startCallback(t)

	require.Equal(t, wire.StatusOK, s.Acquire(1, addrA))
	require.Equal(t, wire.StatusRetry, s.Acquire(1, addrB))

	assert.Equal(t, wire.StatusOK, s.Release(1, addrA))
	assert.EqualValues(t, 1, <-cbB.retries)

	// B is now the holder; its release with an empty queue frees the
	// lock for a plain grant.
	assert.Equal(t, wire.StatusOK, s.Release(1, addrB))
	assert.Equal(t, wire.StatusOK, s.Acquire(1, addrA))
}

func TestReleaseWithoutWaitersFreesTheLock(t *testing.T) {
	s := NewServer()
	addrA, _ := startCallback(t)
	addrB, _ := startCallback(t)

	require.Equal(t, wire.StatusOK, s.Acquire(1, addrA))
	require.Equal(t, wire.StatusOK, s.Release(1, addrA))

	assert.Equal(t, wire.StatusOK, s.Acquire(1, addrB))
}

func TestAcquireWithUnreachableRevokeTarget(t *testing.T) {
	s := NewServer()

	require.Equal(t, wire.StatusOK, s.Acquire(1, "127.0.0.1:1"))
	assert.Equal(t, wire.StatusRPCErr, s.Acquire(1, "127.0.0.1:2"))
}

func TestStatCountsGrantsAcrossHandoffs(t *testing.T) {
	s := NewServer()
	addrA, _ := startCallback(t)
	addrB, cbB := startCallback(t)

	require.Equal(t, wire.StatusOK, s.Acquire(1, addrA))
	require.Equal(t, wire.StatusRetry, s.Acquire(1, addrB))
	require.Equal(t, wire.StatusOK, s.Release(1, addrA))
	<-cbB.retries

	assert.EqualValues(t, 2, s.Stat(1))
}
