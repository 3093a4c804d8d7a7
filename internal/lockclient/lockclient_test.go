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

package lockclient

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/extentfs/extentfs/internal/lockserver"
	"github.com/extentfs/extentfs/internal/rpcsvc"
	"github.com/extentfs/extentfs/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()

	srv := rpcsvc.NewServer()
	require.NoError(t, lockserver.NewServer().Register(srv))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(l)
	t.Cleanup(func() { l.Close() })

	return l.Addr().String()
}

// newTestClient builds a client with a short revoke delay so contended
// tests run quickly.
func newTestClient(t *testing.T, addr string, ru ReleaseUser) *Client {
	t.Helper()

	c, err := NewClient(addr, ru)
	require.NoError(t, err)
	c.revokeDelay = time.Millisecond
	t.Cleanup(func() { c.Close() })
	return c
}

func (c *Client) status(lid wire.LockID) lockStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state(lid).status
}

func TestUncontendedAcquireReleaseCachesTheLock(t *testing.T) {
	addr := startServer(t)
	c := newTestClient(t, addr, nil)

	require.NoError(t, c.Acquire(1))
	assert.Equal(t, statusLocked, c.status(1))

	require.NoError(t, c.Release(1))
	assert.Equal(t, statusFree, c.status(1))

	// The second acquire is served from the cache: the server's
	// acquisition counter must not move.
	require.NoError(t, c.Acquire(1))
	assert.Equal(t, statusLocked, c.status(1))

	count, err := c.Stat(1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	require.NoError(t, c.Release(1))
}

func TestDistinctLocksAreIndependent(t *testing.T) {
	addr := startServer(t)
	c := newTestClient(t, addr, nil)

	require.NoError(t, c.Acquire(1))
	require.NoError(t, c.Acquire(2))
	assert.Equal(t, statusLocked, c.status(1))
	assert.Equal(t, statusLocked, c.status(2))
	require.NoError(t, c.Release(2))
	require.NoError(t, c.Release(1))
}

func TestHandoffBetweenClients(t *testing.T) {
	addr := startServer(t)
	a := newTestClient(t, addr, nil)
	b := newTestClient(t, addr, nil)

	require.NoError(t, a.Acquire(1))

	granted := make(chan struct{})
	go func() {
		if err := b.Acquire(1); err == nil {
			close(granted)
		}
	}()

	// B's acquire revokes A. A still holds the lock, so nothing moves
	// until A releases.
	select {
	case <-granted:
		t.Fatal("b acquired while a held the lock")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, a.Release(1))

	select {
	case <-granted:
	case <-time.After(5 * time.Second):
		t.Fatal("b never granted")
	}

	assert.Equal(t, statusNone, a.status(1))
	assert.Equal(t, statusLocked, b.status(1))
	require.NoError(t, b.Release(1))
}

func TestRevokeOfIdleCachedLockSurrendersImmediately(t *testing.T) {
	addr := startServer(t)
	a := newTestClient(t, addr, nil)
	b := newTestClient(t, addr, nil)

	require.NoError(t, a.Acquire(1))
	require.NoError(t, a.Release(1))
	assert.Equal(t, statusFree, a.status(1))

	// The lock sits idle at A; B's acquire must go through without any
	// further action by A.
	require.NoError(t, b.Acquire(1))
	require.Eventually(t, func() bool {
		return a.status(1) == statusNone
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, b.Release(1))
}

// flushRecorder counts DoRelease calls per lock.
type flushRecorder struct {
	mu    sync.Mutex
	calls map[wire.LockID]int
}

func (f *flushRecorder) DoRelease(lid wire.LockID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[wire.LockID]int)
	}
	f.calls[lid]++
}

func (f *flushRecorder) count(lid wire.LockID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[lid]
}

func TestReleaseUserRunsOnlyWhenSurrendering(t *testing.T) {
	addr := startServer(t)
	rec := &flushRecorder{}
	a := newTestClient(t, addr, rec)
	b := newTestClient(t, addr, nil)

	// Uncontended release caches the lock; no flush.
	require.NoError(t, a.Acquire(1))
	require.NoError(t, a.Release(1))
	assert.Zero(t, rec.count(1))

	// Revoked release surrenders; exactly one flush.
	require.NoError(t, b.Acquire(1))
	assert.Equal(t, 1, rec.count(1))
	require.NoError(t, b.Release(1))
}

func TestMutualExclusion(t *testing.T) {
	addr := startServer(t)

	const (
		clients    = 4
		iterations = 10
	)

	var holders atomic.Int32
	counter := 0 // protected by lock 1 only

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		c := newTestClient(t, addr, nil)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				if err := c.Acquire(1); err != nil {
					t.Error(err)
					return
				}
				if holders.Add(1) != 1 {
					t.Error("two holders at once")
				}
				counter++
				holders.Add(-1)
				if err := c.Release(1); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, clients*iterations, counter)
}

func TestWaitersAreGrantedInArrivalOrder(t *testing.T) {
	addr := startServer(t)
	a := newTestClient(t, addr, nil)
	b := newTestClient(t, addr, nil)
	c := newTestClient(t, addr, nil)

	require.NoError(t, a.Acquire(1))

	var mu sync.Mutex
	var order []string
	waiter := func(name string, cl *Client, started chan<- struct{}) {
		close(started)
		if err := cl.Acquire(1); err != nil {
			t.Error(err)
			return
		}
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
		cl.Release(1)
	}

	bStarted := make(chan struct{})
	go waiter("b", b, bStarted)
	<-bStarted
	// Let b's acquire reach the server before c's.
	time.Sleep(100 * time.Millisecond)

	cStarted := make(chan struct{})
	go waiter("c", c, cStarted)
	<-cStarted
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, a.Release(1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b", "c"}, order)
}

func TestReacquireAfterSurrender(t *testing.T) {
	addr := startServer(t)
	a := newTestClient(t, addr, nil)
	b := newTestClient(t, addr, nil)

	require.NoError(t, a.Acquire(1))
	require.NoError(t, a.Release(1))
	require.NoError(t, b.Acquire(1))
	require.NoError(t, b.Release(1))

	// A lost the lock to B; acquiring again must go back to the server
	// and succeed.
	require.NoError(t, a.Acquire(1))
	assert.Equal(t, statusLocked, a.status(1))
	require.NoError(t, a.Release(1))
}
