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

package fsys

import (
	"slices"

	"github.com/extentfs/extentfs/internal/logger"
	"github.com/extentfs/extentfs/internal/wire"
)

// The extent cache. Entries are keyed by (eid, kind) where kind is
// DATA or ATTR; DATA entries carry a modified flag and are written
// back to the extent server when the eid's lock is surrendered.
//
// Consistency comes from the lock protocol: the entries for eid e are
// only ever read or written while this client holds lock e, and they
// are flushed and evicted before the lock is handed to another client.
// cacheMu below exists only because the maps themselves are shared
// between goroutines operating on different eids.

type dataEntry struct {
	data     []byte
	modified bool
}

// ecCreate allocates a fresh extent on the server and seeds both cache
// entries for it: empty contents and a newborn attr, neither dirty.
func (fs *FileSystem) ecCreate(typ uint32) (wire.ExtentID, wire.Status) {
	eid, st := fs.store.Create(typ)
	if st != wire.StatusOK {
		return 0, st
	}

	now := uint32(fs.clock.Now().Unix())
	fs.cacheMu.Lock()
	fs.dataCache[eid] = &dataEntry{}
	fs.attrCache[eid] = wire.Attr{
		Type:  typ,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	fs.cacheMu.Unlock()
	return eid, wire.StatusOK
}

// ecGet returns eid's contents, populating the cache from the extent
// server on a miss. The returned slice is the caller's to keep.
func (fs *FileSystem) ecGet(eid wire.ExtentID) ([]byte, wire.Status) {
	fs.cacheMu.Lock()
	if e, ok := fs.dataCache[eid]; ok {
		data := slices.Clone(e.data)
		fs.cacheMu.Unlock()
		return data, wire.StatusOK
	}
	fs.cacheMu.Unlock()

	data, st := fs.store.Get(eid)
	if st != wire.StatusOK {
		return nil, st
	}

	fs.cacheMu.Lock()
	fs.dataCache[eid] = &dataEntry{data: data}
	fs.cacheMu.Unlock()
	return slices.Clone(data), wire.StatusOK
}

// ecGetAttr returns eid's attributes, populating the cache on a miss.
func (fs *FileSystem) ecGetAttr(eid wire.ExtentID) (wire.Attr, wire.Status) {
	fs.cacheMu.Lock()
	if a, ok := fs.attrCache[eid]; ok {
		fs.cacheMu.Unlock()
		return a, wire.StatusOK
	}
	fs.cacheMu.Unlock()

	a, st := fs.store.GetAttr(eid)
	if st != wire.StatusOK {
		return wire.Attr{}, st
	}

	fs.cacheMu.Lock()
	fs.attrCache[eid] = a
	fs.cacheMu.Unlock()
	return a, wire.StatusOK
}

// ecPut replaces eid's contents in the cache, marking the entry dirty
// and refreshing the cached attr's size and times. Nothing is sent to
// the server until the eid's lock is surrendered.
func (fs *FileSystem) ecPut(eid wire.ExtentID, data []byte) wire.Status {
	fs.cacheMu.Lock()
	if e, ok := fs.dataCache[eid]; ok {
		e.data = data
		e.modified = true
	} else {
		fs.dataCache[eid] = &dataEntry{data: data, modified: true}
	}
	if a, ok := fs.attrCache[eid]; ok {
		now := uint32(fs.clock.Now().Unix())
		a.Size = uint64(len(data))
		a.Mtime = now
		a.Ctime = now
		fs.attrCache[eid] = a
	}
	fs.cacheMu.Unlock()
	return wire.StatusOK
}

// ecRemove deletes eid on the server, evicts both cache entries, and
// queues the eid so the next flush can report it.
func (fs *FileSystem) ecRemove(eid wire.ExtentID) wire.Status {
	fs.cacheMu.Lock()
	delete(fs.dataCache, eid)
	delete(fs.attrCache, eid)
	fs.deleted = append(fs.deleted, eid)
	fs.cacheMu.Unlock()
	return fs.store.Remove(eid)
}

// DoRelease implements lockclient.ReleaseUser. The lock client invokes
// it after deciding to surrender lock eid and before issuing the
// release RPC, so the extent server holds committed state strictly
// before the next holder's retry is sent.
//
// Dirty contents for the eid are written back; both cache entries are
// evicted so a later reacquire refetches whatever the interim holder
// wrote.
func (fs *FileSystem) DoRelease(lid wire.LockID) {
	fs.cacheMu.Lock()
	e, ok := fs.dataCache[lid]
	var toFlush []byte
	flush := ok && e.modified
	if flush {
		toFlush = e.data
	}
	delete(fs.dataCache, lid)
	delete(fs.attrCache, lid)
	deleted := fs.deleted
	fs.deleted = nil
	fs.cacheMu.Unlock()

	if flush {
		if st := fs.store.Put(lid, toFlush); st != wire.StatusOK {
			logger.Errorf("fsys: flushing extent %d on release: %v", lid, st)
		}
	}
	for _, eid := range deleted {
		logger.Debugf("fsys: reporting deleted extent %d at release of %d", eid, lid)
	}
}
