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

// Package lockclient caches locks granted by the lock server. A
// released lock stays cached in FREE state, so reacquiring it costs no
// RPC; the server revokes cached locks when other clients contend.
package lockclient

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/extentfs/extentfs/internal/logger"
	"github.com/extentfs/extentfs/internal/rpcsvc"
	"github.com/extentfs/extentfs/internal/wire"
)

// ErrRPC is returned when the lock server or the transport fails.
var ErrRPC = errors.New("lockclient: rpc failure")

// ReleaseUser is consulted immediately before a lock is surrendered to
// the server. The filesystem client uses it to flush dirty cached
// extents, so the next holder observes committed state.
type ReleaseUser interface {
	DoRelease(lid wire.LockID)
}

// Local state of one lock.
type lockStatus int

const (
	// none: the server does not consider us a holder.
	statusNone lockStatus = iota

	// acquiring: an acquire RPC is outstanding or we are waiting for
	// the retry callback.
	statusAcquiring

	// locked: a local user holds the lock.
	statusLocked

	// free: granted to this client but no local user; the next local
	// acquire takes it without a server round trip.
	statusFree

	// releasing: a release RPC is outstanding.
	statusReleasing
)

type lockState struct {
	status lockStatus

	// Set by the revoke callback; the next release surrenders the lock
	// to the server instead of caching it.
	revoked bool
}

// Client is the per-process lock cache. One mutex and one condition
// variable cover the whole table, exactly mirroring the server's
// coarse locking.
type Client struct {
	server *rpcsvc.Client

	// The callback endpoint's "host:port", used as this client's
	// identity on every lock RPC.
	id string

	listener net.Listener

	ru ReleaseUser

	// How long the revoke handler pauses before taking the mutex,
	// giving a just-granted lock a chance to do some work first. A
	// tuning knob, not a correctness requirement.
	revokeDelay time.Duration

	mu   sync.Mutex
	cond *sync.Cond

	// GUARDED_BY(mu)
	locks map[wire.LockID]*lockState
}

const defaultRevokeDelay = 100 * time.Millisecond

// NewClient dials the lock server at addr and starts this client's
// callback endpoint on a random loopback port. ru may be nil.
func NewClient(addr string, ru ReleaseUser) (*Client, error) {
	server, err := rpcsvc.Dial(addr)
	if err != nil {
		return nil, err
	}

	listener, id, err := rpcsvc.NewCallbackEndpoint()
	if err != nil {
		server.Close()
		return nil, err
	}

	c := &Client{
		server:      server,
		id:          id,
		listener:    listener,
		ru:          ru,
		revokeDelay: defaultRevokeDelay,
		locks:       make(map[wire.LockID]*lockState),
	}
	c.cond = sync.NewCond(&c.mu)

	srv := rpcsvc.NewServer()
	if err := srv.RegisterName(wire.LockCallbackServiceName, &callbackService{c}); err != nil {
		server.Close()
		listener.Close()
		return nil, err
	}
	go srv.Serve(listener)

	logger.Infof("lockclient: callback endpoint %s", id)
	return c, nil
}

// ID returns the client's identity as seen by the lock server.
func (c *Client) ID() string {
	return c.id
}

// Close tears down the callback endpoint and the server connection.
// Locks still cached are not surrendered.
func (c *Client) Close() error {
	c.listener.Close()
	return c.server.Close()
}

// LOCKS_REQUIRED(c.mu)
func (c *Client) state(lid wire.LockID) *lockState {
	st, ok := c.locks[lid]
	if !ok {
		st = &lockState{}
		c.locks[lid] = st
	}
	return st
}

// Acquire obtains lid for the calling thread of control, blocking
// until it is granted. A lock cached FREE is taken locally with no
// server traffic.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Client) Acquire(lid wire.LockID) error {
	c.mu.Lock()
	st := c.state(lid)

	for st.status != statusFree && st.status != statusNone {
		c.cond.Wait()
	}

	if st.status == statusFree {
		st.status = statusLocked
		c.mu.Unlock()
		return nil
	}

	st.status = statusAcquiring
	c.mu.Unlock()

	var reply wire.AcquireReply
	err := c.server.Call(wire.LockServiceName+".Acquire",
		&wire.AcquireArgs{Lock: lid, ClientID: c.id}, &reply)

	c.mu.Lock()
	if err != nil || reply.Status == wire.StatusRPCErr {
		st.status = statusNone
		c.cond.Broadcast()
		c.mu.Unlock()
		return fmt.Errorf("%w: acquire %d: %v/%v", ErrRPC, lid, err, reply.Status)
	}

	// On Retry the server grants asynchronously: the retry callback
	// moves us to LOCKED and wakes this wait. The callback may already
	// have landed before we reacquired the mutex, in which case the
	// loop body never runs.
	for reply.Status != wire.StatusOK && st.status == statusAcquiring {
		c.cond.Wait()
	}
	st.status = statusLocked
	c.mu.Unlock()
	return nil
}

// Release gives lid up. Unless the server has revoked it, the lock is
// retained locally in FREE state for the next acquirer on this client;
// otherwise the dirty state is flushed through the release user and
// the lock is surrendered.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Client) Release(lid wire.LockID) error {
	c.mu.Lock()
	st := c.state(lid)

	if st.revoked {
		return c.surrender(lid, st)
	}

	st.status = statusFree
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// surrender flushes via the release user and returns lid to the
// server.
//
// Called with c.mu held; releases it. The caller must have verified
// that the lock is surrenderable (held by the caller, or FREE with no
// local user).
func (c *Client) surrender(lid wire.LockID, st *lockState) error {
	st.status = statusReleasing
	c.mu.Unlock()

	if c.ru != nil {
		c.ru.DoRelease(lid)
	}

	var reply wire.ReleaseReply
	err := c.server.Call(wire.LockServiceName+".Release",
		&wire.ReleaseArgs{Lock: lid, ClientID: c.id}, &reply)

	c.mu.Lock()
	st.status = statusNone
	st.revoked = false
	c.cond.Broadcast()
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: release %d: %v", ErrRPC, lid, err)
	}
	return nil
}

// Stat queries the server's acquisition counter.
func (c *Client) Stat(lid wire.LockID) (uint32, error) {
	var reply wire.LockStatReply
	err := c.server.Call(wire.LockServiceName+".Stat",
		&wire.LockStatArgs{Lock: lid}, &reply)
	if err != nil {
		return 0, fmt.Errorf("%w: stat %d: %v", ErrRPC, lid, err)
	}
	return reply.Acquired, nil
}

////////////////////////////////////////////////////////////////////////
// Callbacks
////////////////////////////////////////////////////////////////////////

// revoke marks lid so the next release surrenders it. If the lock sits
// idle in FREE state the handler surrenders it right away, saving the
// round trip of waiting for a user release that may never come.
//
// The initial pause reduces livelock against a lock that was granted
// an instant ago and has not done any work yet.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Client) revoke(lid wire.LockID) wire.Status {
	time.Sleep(c.revokeDelay)

	c.mu.Lock()
	st := c.state(lid)
	st.revoked = true
	logger.Debugf("lockclient %s: revoke %d in status %d", c.id, lid, st.status)

	if st.status == statusFree {
		// Surrender directly while still holding the mutex, so a
		// racing local acquire cannot slip in between the check and
		// the FREE -> RELEASING transition.
		c.surrender(lid, st)
		return wire.StatusOK
	}

	c.mu.Unlock()
	return wire.StatusOK
}

// retry reports that the server has granted a lock we were told to
// wait for.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Client) retry(lid wire.LockID) wire.Status {
	c.mu.Lock()
	st := c.state(lid)
	logger.Debugf("lockclient %s: retry %d in status %d", c.id, lid, st.status)
	st.status = statusLocked
	c.cond.Broadcast()
	c.mu.Unlock()
	return wire.StatusOK
}

type callbackService struct {
	c *Client
}

func (cb *callbackService) Revoke(args *wire.RevokeArgs, reply *wire.RevokeReply) error {
	reply.Status = cb.c.revoke(args.Lock)
	return nil
}

func (cb *callbackService) Retry(args *wire.RetryArgs, reply *wire.RetryReply) error {
	reply.Status = cb.c.retry(args.Lock)
	return nil
}
