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

// Package lockserver implements the callback side of the lock
// protocol: clients cache granted locks indefinitely, and the server
// revokes them on demand when another client wants in.
package lockserver

import (
	"fmt"

	"github.com/extentfs/extentfs/internal/logger"
	"github.com/extentfs/extentfs/internal/rpcsvc"
	"github.com/extentfs/extentfs/internal/wire"
	"github.com/jacobsa/syncutil"
)

// lockState is the server's record for one lock.
type lockState struct {
	// Whether some client holds the lock. A lock stays locked across a
	// handoff: the head waiter becomes the holder before the retry
	// callback is sent.
	locked bool

	// The holder's callback endpoint.
	//
	// INVARIANT: holder != "" iff locked
	holder string

	// Clients waiting for the lock, in arrival order. Grants pop from
	// the head.
	//
	// INVARIANT: len(waiters) > 0 implies locked
	waiters []string
}

// Server tracks every lock's holder and waiter queue. A single coarse
// mutex covers all locks; revoke and retry callbacks are sent after
// dropping it.
type Server struct {
	peers *rpcsvc.Pool

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	locks map[wire.LockID]*lockState

	// Running count of granted acquisitions, for Stat.
	//
	// GUARDED_BY(mu)
	nacquire uint32
}

func NewServer() *Server {
	s := &Server{
		peers: rpcsvc.NewPool(),
		locks: make(map[wire.LockID]*lockState),
	}
	s.mu = syncutil.NewInvariantMutex(s.checkInvariants)
	return s
}

// LOCKS_REQUIRED(s.mu)
func (s *Server) state(lid wire.LockID) *lockState {
	st, ok := s.locks[lid]
	if !ok {
		st = &lockState{}
		s.locks[lid] = st
	}
	return st
}

// Acquire grants the lock to clientID if it is free. Otherwise it
// enqueues clientID, asks one client to give the lock back, and
// answers Retry: the caller must wait for the retry callback.
//
// The revoke target is the tail of the waiter queue when there is one,
// else the holder. Each waiter is thereby made responsible for evicting
// its successor's predecessor, which keeps exactly one revoke
// outstanding per lock.
//
// LOCKS_EXCLUDED(s.mu)
func (s *Server) Acquire(lid wire.LockID, clientID string) wire.Status {
	s.mu.Lock()
	st := s.state(lid)

	if st.locked {
		revokeTarget := st.holder
		if n := len(st.waiters); n > 0 {
			revokeTarget = st.waiters[n-1]
		}
		st.waiters = append(st.waiters, clientID)
		s.mu.Unlock()

		logger.Debugf("lockserver: %s wants %d, revoking from %s", clientID, lid, revokeTarget)
		var reply wire.RevokeReply
		err := s.peers.Call(revokeTarget, wire.LockCallbackServiceName+".Revoke",
			&wire.RevokeArgs{Lock: lid}, &reply)
		if err != nil {
			return wire.StatusRPCErr
		}
		return wire.StatusRetry
	}

	st.locked = true
	st.holder = clientID
	s.nacquire++
	s.mu.Unlock()

	logger.Debugf("lockserver: %s acquired %d", clientID, lid)
	return wire.StatusOK
}

// Release gives the lock up on behalf of clientID. If anyone is
// waiting, the head waiter becomes the holder and is told to retry;
// otherwise the lock goes free. The server trusts that the caller is
// the current holder.
//
// LOCKS_EXCLUDED(s.mu)
func (s *Server) Release(lid wire.LockID, clientID string) wire.Status {
	s.mu.Lock()
	st := s.state(lid)

	if len(st.waiters) > 0 {
		next := st.waiters[0]
		st.waiters = st.waiters[1:]
		st.holder = next
		s.nacquire++
		s.mu.Unlock()

		logger.Debugf("lockserver: %s released %d, handing to %s", clientID, lid, next)
		var reply wire.RetryReply
		err := s.peers.Call(next, wire.LockCallbackServiceName+".Retry",
			&wire.RetryArgs{Lock: lid}, &reply)
		if err != nil {
			return wire.StatusRPCErr
		}
		return wire.StatusOK
	}

	st.locked = false
	st.holder = ""
	s.mu.Unlock()

	logger.Debugf("lockserver: %s released %d", clientID, lid)
	return wire.StatusOK
}

// Stat returns the running acquisition count.
//
// LOCKS_EXCLUDED(s.mu)
func (s *Server) Stat(lid wire.LockID) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nacquire
}

// LOCKS_REQUIRED(s.mu)
func (s *Server) checkInvariants() {
	for lid, st := range s.locks {
		if st.locked != (st.holder != "") {
			panic(fmt.Sprintf("lockserver: holder/locked mismatch for lock %d", lid))
		}
		if len(st.waiters) > 0 && !st.locked {
			panic(fmt.Sprintf("lockserver: waiters on unlocked lock %d", lid))
		}
	}
}

////////////////////////////////////////////////////////////////////////
// RPC surface
////////////////////////////////////////////////////////////////////////

// Register publishes the server on the transport.
func (s *Server) Register(srv *rpcsvc.Server) error {
	return srv.RegisterName(wire.LockServiceName, &rpcService{s})
}

type rpcService struct {
	s *Server
}

func (r *rpcService) Acquire(args *wire.AcquireArgs, reply *wire.AcquireReply) error {
	reply.Status = r.s.Acquire(args.Lock, args.ClientID)
	return nil
}

func (r *rpcService) Release(args *wire.ReleaseArgs, reply *wire.ReleaseReply) error {
	reply.Status = r.s.Release(args.Lock, args.ClientID)
	return nil
}

func (r *rpcService) Stat(args *wire.LockStatArgs, reply *wire.LockStatReply) error {
	reply.Acquired = r.s.Stat(args.Lock)
	reply.Status = wire.StatusOK
	return nil
}
