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

// Package extent exposes the inode store as a service: whole-extent
// create/get/put/getattr/remove, addressed by 64-bit extent ids that
// coincide with inode numbers.
package extent

import "github.com/extentfs/extentfs/internal/wire"

// ServiceName is the name the extent service is registered under on
// the RPC transport.
const ServiceName = "Extent"

// Store is the extent surface seen by the filesystem client. The
// in-process Server and the RPC Client both implement it, so tests can
// wire components directly while production goes over the transport.
type Store interface {
	// Create allocates a fresh extent of the given inode type and
	// returns its id.
	Create(typ uint32) (wire.ExtentID, wire.Status)

	// Get returns the extent's whole contents.
	Get(id wire.ExtentID) ([]byte, wire.Status)

	// GetAttr returns the extent's attributes.
	GetAttr(id wire.ExtentID) (wire.Attr, wire.Status)

	// Put replaces the extent's whole contents.
	Put(id wire.ExtentID, data []byte) wire.Status

	// Remove deletes the extent and frees its storage.
	Remove(id wire.ExtentID) wire.Status
}
