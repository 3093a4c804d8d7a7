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
	"errors"

	"github.com/extentfs/extentfs/internal/disk"
	"github.com/extentfs/extentfs/internal/logger"
	"github.com/extentfs/extentfs/internal/rpcsvc"
	"github.com/extentfs/extentfs/internal/wire"
	"github.com/jacobsa/timeutil"
)

// Server implements Store directly over an inode manager. Concurrency
// is handled by the manager's own mutex; the server itself holds no
// mutable state.
type Server struct {
	im *disk.InodeManager
}

// NewServer formats a fresh store. The root directory extent exists
// from the start at id 1.
func NewServer(clock timeutil.Clock) (*Server, error) {
	im, err := disk.NewInodeManager(clock)
	if err != nil {
		return nil, err
	}
	return &Server{im: im}, nil
}

func (s *Server) Create(typ uint32) (wire.ExtentID, wire.Status) {
	id, err := s.im.AllocInode(typ)
	if err != nil {
		logger.Errorf("extent: create: %v", err)
		return 0, wire.StatusIOErr
	}
	logger.Debugf("extent: create type %d -> %d", typ, id)
	return id, wire.StatusOK
}

func (s *Server) Get(id wire.ExtentID) ([]byte, wire.Status) {
	data, err := s.im.ReadFile(id)
	if err != nil {
		return nil, statusFor(err)
	}
	logger.Tracef("extent: get %d -> %d bytes", id, len(data))
	return data, wire.StatusOK
}

func (s *Server) GetAttr(id wire.ExtentID) (wire.Attr, wire.Status) {
	attr, err := s.im.Getattr(id)
	if err != nil {
		return wire.Attr{}, statusFor(err)
	}
	return attr, wire.StatusOK
}

func (s *Server) Put(id wire.ExtentID, data []byte) wire.Status {
	if err := s.im.WriteFile(id, data); err != nil {
		logger.Errorf("extent: put %d (%d bytes): %v", id, len(data), err)
		return statusFor(err)
	}
	logger.Tracef("extent: put %d <- %d bytes", id, len(data))
	return wire.StatusOK
}

func (s *Server) Remove(id wire.ExtentID) wire.Status {
	if err := s.im.RemoveFile(id); err != nil {
		return statusFor(err)
	}
	logger.Debugf("extent: remove %d", id)
	return wire.StatusOK
}

func statusFor(err error) wire.Status {
	if errors.Is(err, disk.ErrNotFound) {
		return wire.StatusNoEnt
	}
	return wire.StatusIOErr
}

////////////////////////////////////////////////////////////////////////
// RPC surface
////////////////////////////////////////////////////////////////////////

// Register publishes the server on the transport under ServiceName.
func (s *Server) Register(srv *rpcsvc.Server) error {
	return srv.RegisterName(ServiceName, &rpcService{s})
}

// rpcService adapts Server to the transport's method shape. Statuses
// travel in the reply; the error return is reserved for the transport.
type rpcService struct {
	s *Server
}

func (r *rpcService) Create(args *wire.CreateArgs, reply *wire.CreateReply) error {
	reply.ID, reply.Status = r.s.Create(args.Type)
	return nil
}

func (r *rpcService) Get(args *wire.GetArgs, reply *wire.GetReply) error {
	reply.Data, reply.Status = r.s.Get(args.ID)
	return nil
}

func (r *rpcService) GetAttr(args *wire.GetAttrArgs, reply *wire.GetAttrReply) error {
	reply.Attr, reply.Status = r.s.GetAttr(args.ID)
	return nil
}

func (r *rpcService) Put(args *wire.PutArgs, reply *wire.PutReply) error {
	reply.Status = r.s.Put(args.ID, args.Data)
	return nil
}

func (r *rpcService) Remove(args *wire.RemoveArgs, reply *wire.RemoveReply) error {
	reply.Status = r.s.Remove(args.ID)
	return nil
}
