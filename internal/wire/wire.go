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

// Package wire defines the types shared by the extent and lock services
// and their clients: status codes, extent attributes, and the
// argument/reply structs that cross the RPC boundary.
package wire

// Status is the result code carried in every RPC reply. The transport
// reports its own failures out of band; Status covers everything the
// services themselves can say.
type Status int32

const (
	StatusOK Status = iota
	StatusRPCErr
	StatusNoEnt
	StatusIOErr
	StatusExist
	StatusRetry
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusRPCErr:
		return "RPCERR"
	case StatusNoEnt:
		return "NOENT"
	case StatusIOErr:
		return "IOERR"
	case StatusExist:
		return "EXIST"
	case StatusRetry:
		return "RETRY"
	default:
		return "UNKNOWN"
	}
}

// ExtentID addresses one extent. Extent ids coincide with inode numbers.
type ExtentID = uint64

// LockID names one lock. Lock ids coincide with inode numbers, so every
// inode is guarded by the lock of the same id.
type LockID = uint64

// Inode file types. Type 0 is reserved for "free slot" and never
// appears on the wire.
const (
	TypeFile    uint32 = 1
	TypeDir     uint32 = 2
	TypeSymlink uint32 = 3
)

// Attr describes one extent. Timestamps are seconds since the epoch.
type Attr struct {
	Type  uint32
	Size  uint64
	Atime uint32
	Mtime uint32
	Ctime uint32
}

////////////////////////////////////////////////////////////////////////
// Extent service
////////////////////////////////////////////////////////////////////////

type CreateArgs struct {
	Type uint32
}

type CreateReply struct {
	Status Status
	ID     ExtentID
}

type GetArgs struct {
	ID ExtentID
}

type GetReply struct {
	Status Status
	Data   []byte
}

type GetAttrArgs struct {
	ID ExtentID
}

type GetAttrReply struct {
	Status Status
	Attr   Attr
}

type PutArgs struct {
	ID   ExtentID
	Data []byte
}

type PutReply struct {
	Status Status
}

type RemoveArgs struct {
	ID ExtentID
}

type RemoveReply struct {
	Status Status
}

////////////////////////////////////////////////////////////////////////
// Lock service
////////////////////////////////////////////////////////////////////////

// Transport service names. The lock server and the client callback
// surface are dialed from opposite sides, so both ends share these.
const (
	LockServiceName         = "Lock"
	LockCallbackServiceName = "LockClient"
)

// AcquireArgs carries the caller's callback endpoint ("host:port") as
// its identity; the server revokes and retries through it.
type AcquireArgs struct {
	Lock     LockID
	ClientID string
}

type AcquireReply struct {
	Status Status
}

type ReleaseArgs struct {
	Lock     LockID
	ClientID string
}

type ReleaseReply struct {
	Status Status
}

type LockStatArgs struct {
	Lock LockID
}

type LockStatReply struct {
	Status   Status
	Acquired uint32
}

// Callback RPCs, server -> client.

type RevokeArgs struct {
	Lock LockID
}

type RevokeReply struct {
	Status Status
}

type RetryArgs struct {
	Lock LockID
}

type RetryReply struct {
	Status Status
}
