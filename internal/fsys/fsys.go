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

// Package fsys is the filesystem client: it turns name-level operations
// into lock-guarded whole-extent reads and writes against the extent
// server, caching extent contents locally and writing dirty state back
// when a lock is surrendered.
package fsys

import (
	"errors"
	"sync"

	"github.com/extentfs/extentfs/internal/extent"
	"github.com/extentfs/extentfs/internal/lockclient"
	"github.com/extentfs/extentfs/internal/wire"
	"github.com/jacobsa/timeutil"
)

// Inum identifies one inode. Inode numbers, extent ids, and lock ids
// all coincide.
type Inum = uint64

// RootInum is the root directory, allocated by the extent server at
// startup.
const RootInum Inum = 1

var (
	ErrExist = errors.New("fsys: name already exists")
	ErrNoEnt = errors.New("fsys: no such name")
	ErrIO    = errors.New("fsys: i/o error")
	ErrRPC   = errors.New("fsys: rpc error")
)

// FileSystem is one client process's view of the filesystem. Every
// operation acquires the lock of each inode it touches for its whole
// duration; compound operations lock parent before child.
type FileSystem struct {
	store extent.Store
	locks *lockclient.Client
	clock timeutil.Clock

	// The extent cache; see cache.go. cacheMu guards only the maps,
	// not entry consistency, which the lock protocol provides.
	cacheMu sync.Mutex

	// GUARDED_BY(cacheMu)
	dataCache map[wire.ExtentID]*dataEntry

	// GUARDED_BY(cacheMu)
	attrCache map[wire.ExtentID]wire.Attr

	// Extents removed since the last flush.
	//
	// GUARDED_BY(cacheMu)
	deleted []wire.ExtentID
}

// New connects a filesystem client to its two servers. The extent
// store may be remote (extent.Client) or wired directly in process;
// the lock client always speaks the callback protocol.
func New(store extent.Store, lockAddr string, clock timeutil.Clock) (*FileSystem, error) {
	fs := &FileSystem{
		store:     store,
		clock:     clock,
		dataCache: make(map[wire.ExtentID]*dataEntry),
		attrCache: make(map[wire.ExtentID]wire.Attr),
	}

	locks, err := lockclient.NewClient(lockAddr, fs)
	if err != nil {
		return nil, err
	}
	fs.locks = locks
	return fs, nil
}

// Destroy tears down the lock client. Cached dirty state is not
// flushed; the extent server's view stays whatever was last committed.
func (fs *FileSystem) Destroy() error {
	return fs.locks.Close()
}

func statusErr(st wire.Status) error {
	switch st {
	case wire.StatusOK:
		return nil
	case wire.StatusNoEnt:
		return ErrNoEnt
	case wire.StatusExist:
		return ErrExist
	case wire.StatusRPCErr:
		return ErrRPC
	default:
		return ErrIO
	}
}

////////////////////////////////////////////////////////////////////////
// Attributes
////////////////////////////////////////////////////////////////////////

// GetAttr returns ino's attributes.
//
// LOCKS_EXCLUDED(lock ino)
func (fs *FileSystem) GetAttr(ino Inum) (wire.Attr, error) {
	if err := fs.locks.Acquire(ino); err != nil {
		return wire.Attr{}, err
	}
	defer fs.locks.Release(ino)

	a, st := fs.ecGetAttr(ino)
	if st != wire.StatusOK {
		return wire.Attr{}, statusErr(st)
	}
	return a, nil
}

func (fs *FileSystem) inodeType(ino Inum) uint32 {
	a, err := fs.GetAttr(ino)
	if err != nil {
		return 0
	}
	return a.Type
}

func (fs *FileSystem) IsFile(ino Inum) bool {
	return fs.inodeType(ino) == wire.TypeFile
}

func (fs *FileSystem) IsDir(ino Inum) bool {
	return fs.inodeType(ino) == wire.TypeDir
}

func (fs *FileSystem) IsSymlink(ino Inum) bool {
	return fs.inodeType(ino) == wire.TypeSymlink
}

// SetAttr truncates or zero-extends ino's contents to size. Only size
// is settable.
//
// LOCKS_EXCLUDED(lock ino)
func (fs *FileSystem) SetAttr(ino Inum, size uint64) error {
	if err := fs.locks.Acquire(ino); err != nil {
		return err
	}
	defer fs.locks.Release(ino)

	a, st := fs.ecGetAttr(ino)
	if st != wire.StatusOK {
		return statusErr(st)
	}
	if a.Size == size {
		return nil
	}

	buf, st := fs.ecGet(ino)
	if st != wire.StatusOK {
		return statusErr(st)
	}
	if uint64(len(buf)) > size {
		buf = buf[:size]
	} else {
		buf = append(buf, make([]byte, size-uint64(len(buf)))...)
	}
	return statusErr(fs.ecPut(ino, buf))
}

////////////////////////////////////////////////////////////////////////
// Directories
////////////////////////////////////////////////////////////////////////

// Lookup resolves name within parent.
//
// LOCKS_EXCLUDED(lock parent)
func (fs *FileSystem) Lookup(parent Inum, name string) (found bool, ino Inum, err error) {
	if err = fs.locks.Acquire(parent); err != nil {
		return
	}
	defer fs.locks.Release(parent)

	return fs.lookupLocked(parent, name)
}

// LOCKS_REQUIRED(lock parent)
func (fs *FileSystem) lookupLocked(parent Inum, name string) (bool, Inum, error) {
	entries, err := fs.readDirLocked(parent)
	if err != nil {
		return false, 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			return true, e.Inum, nil
		}
	}
	return false, 0, nil
}

// ReadDir lists dir in insertion order.
//
// LOCKS_EXCLUDED(lock dir)
func (fs *FileSystem) ReadDir(dir Inum) ([]DirEntry, error) {
	if err := fs.locks.Acquire(dir); err != nil {
		return nil, err
	}
	defer fs.locks.Release(dir)

	return fs.readDirLocked(dir)
}

// LOCKS_REQUIRED(lock dir)
func (fs *FileSystem) readDirLocked(dir Inum) ([]DirEntry, error) {
	buf, st := fs.ecGet(dir)
	if st != wire.StatusOK {
		return nil, statusErr(st)
	}
	return decodeDir(buf), nil
}

// createEntry binds a fresh inode of the given type to name within
// parent.
//
// LOCKS_EXCLUDED(lock parent)
func (fs *FileSystem) createEntry(parent Inum, name string, typ uint32) (Inum, error) {
	if err := fs.locks.Acquire(parent); err != nil {
		return 0, err
	}
	defer fs.locks.Release(parent)

	found, _, err := fs.lookupLocked(parent, name)
	if err != nil {
		return 0, err
	}
	if found {
		return 0, ErrExist
	}

	ino, st := fs.ecCreate(typ)
	if st != wire.StatusOK {
		return 0, statusErr(st)
	}

	buf, st := fs.ecGet(parent)
	if st != wire.StatusOK {
		return 0, statusErr(st)
	}
	buf, ok := appendDirEntry(buf, name, ino)
	if !ok {
		return 0, ErrIO
	}
	if st := fs.ecPut(parent, buf); st != wire.StatusOK {
		return 0, statusErr(st)
	}
	return ino, nil
}

// Create makes a regular file.
func (fs *FileSystem) Create(parent Inum, name string) (Inum, error) {
	return fs.createEntry(parent, name, wire.TypeFile)
}

// MkDir makes a directory.
func (fs *FileSystem) MkDir(parent Inum, name string) (Inum, error) {
	return fs.createEntry(parent, name, wire.TypeDir)
}

// Symlink makes a symbolic link to target.
func (fs *FileSystem) Symlink(parent Inum, name, target string) (Inum, error) {
	ino, err := fs.createEntry(parent, name, wire.TypeSymlink)
	if err != nil {
		return 0, err
	}
	if _, err := fs.Write(ino, 0, []byte(target)); err != nil {
		return 0, err
	}
	return ino, nil
}

// Unlink removes name from parent and deletes the extent it names.
//
// LOCKS_EXCLUDED(lock parent)
// LOCKS_EXCLUDED(lock child)
func (fs *FileSystem) Unlink(parent Inum, name string) error {
	if err := fs.locks.Acquire(parent); err != nil {
		return err
	}
	defer fs.locks.Release(parent)

	found, ino, err := fs.lookupLocked(parent, name)
	if err != nil {
		return err
	}
	if !found {
		return ErrNoEnt
	}

	// Parent before child, always; never the other way around.
	if err := fs.locks.Acquire(ino); err != nil {
		return err
	}
	fs.ecRemove(ino)
	fs.locks.Release(ino)

	buf, st := fs.ecGet(parent)
	if st != wire.StatusOK {
		return statusErr(st)
	}
	buf = deleteDirEntry(buf, name)
	return statusErr(fs.ecPut(parent, buf))
}

////////////////////////////////////////////////////////////////////////
// File contents
////////////////////////////////////////////////////////////////////////

// Read returns up to size bytes of ino starting at off. Reading at or
// past the end is an error.
//
// LOCKS_EXCLUDED(lock ino)
func (fs *FileSystem) Read(ino Inum, off int64, size int) ([]byte, error) {
	if err := fs.locks.Acquire(ino); err != nil {
		return nil, err
	}
	defer fs.locks.Release(ino)

	buf, st := fs.ecGet(ino)
	if st != wire.StatusOK {
		return nil, statusErr(st)
	}
	if off >= int64(len(buf)) {
		return nil, ErrIO
	}
	end := off + int64(size)
	if end > int64(len(buf)) {
		end = int64(len(buf))
	}
	return buf[off:end], nil
}

// Write overwrites ino's contents from off, NUL-padding any gap when
// off lies beyond the current end.
//
// LOCKS_EXCLUDED(lock ino)
func (fs *FileSystem) Write(ino Inum, off int64, data []byte) (int, error) {
	if err := fs.locks.Acquire(ino); err != nil {
		return 0, err
	}
	defer fs.locks.Release(ino)

	buf, st := fs.ecGet(ino)
	if st != wire.StatusOK {
		return 0, statusErr(st)
	}

	if off > int64(len(buf)) {
		buf = append(buf, make([]byte, off-int64(len(buf)))...)
	}
	end := off + int64(len(data))
	if end > int64(len(buf)) {
		buf = append(buf, make([]byte, end-int64(len(buf)))...)
	}
	copy(buf[off:end], data)

	if st := fs.ecPut(ino, buf); st != wire.StatusOK {
		return 0, statusErr(st)
	}
	return len(data), nil
}

// ReadLink returns a symlink's target.
func (fs *FileSystem) ReadLink(ino Inum) ([]byte, error) {
	return fs.Read(ino, 0, 4096)
}
