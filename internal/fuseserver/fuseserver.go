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

// Package fuseserver adapts the filesystem client to the kernel's FUSE
// interface. The adapter is thin: every op maps onto one fsys call,
// and all consistency comes from the lock protocol underneath, so no
// kernel-side attribute or entry caching is allowed.
package fuseserver

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/extentfs/extentfs/internal/fsys"
	"github.com/extentfs/extentfs/internal/wire"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

type server struct {
	fuseutil.NotImplementedFileSystem

	fs *fsys.FileSystem
}

// New wraps a filesystem client in a fuse server. The fsys root inum
// and the kernel's root inode id are both 1, so ids pass through
// untranslated.
func New(fs *fsys.FileSystem) fuse.Server {
	return fuseutil.NewFileSystemServer(&server{fs: fs})
}

func errno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fsys.ErrNoEnt):
		return fuse.ENOENT
	case errors.Is(err, fsys.ErrExist):
		return fuse.EEXIST
	default:
		return fuse.EIO
	}
}

func attributes(a wire.Attr) fuseops.InodeAttributes {
	attrs := fuseops.InodeAttributes{
		Size:  a.Size,
		Nlink: 1,
		Atime: time.Unix(int64(a.Atime), 0),
		Mtime: time.Unix(int64(a.Mtime), 0),
		Ctime: time.Unix(int64(a.Ctime), 0),
	}
	switch a.Type {
	case wire.TypeDir:
		attrs.Mode = 0777 | os.ModeDir
	case wire.TypeSymlink:
		attrs.Mode = 0777 | os.ModeSymlink
	default:
		attrs.Mode = 0666
	}
	return attrs
}

func direntType(typ uint32) fuseutil.DirentType {
	switch typ {
	case wire.TypeDir:
		return fuseutil.DT_Directory
	case wire.TypeSymlink:
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

// childEntry fills the entry struct every create/lookup op returns.
// Expirations stay zero: another client may change the inode the
// moment our lock is revoked, so the kernel must not cache.
func (s *server) childEntry(ino fsys.Inum) (fuseops.ChildInodeEntry, error) {
	a, err := s.fs.GetAttr(ino)
	if err != nil {
		return fuseops.ChildInodeEntry{}, err
	}
	return fuseops.ChildInodeEntry{
		Child:      fuseops.InodeID(ino),
		Attributes: attributes(a),
	}, nil
}

func (s *server) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	found, ino, err := s.fs.Lookup(fsys.Inum(op.Parent), op.Name)
	if err != nil {
		return errno(err)
	}
	if !found {
		return fuse.ENOENT
	}
	op.Entry, err = s.childEntry(ino)
	return errno(err)
}

func (s *server) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	a, err := s.fs.GetAttr(fsys.Inum(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.Attributes = attributes(a)
	return nil
}

func (s *server) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	if op.Size != nil {
		if err := s.fs.SetAttr(fsys.Inum(op.Inode), *op.Size); err != nil {
			return errno(err)
		}
	}
	a, err := s.fs.GetAttr(fsys.Inum(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.Attributes = attributes(a)
	return nil
}

func (s *server) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	ino, err := s.fs.MkDir(fsys.Inum(op.Parent), op.Name)
	if err != nil {
		return errno(err)
	}
	op.Entry, err = s.childEntry(ino)
	return errno(err)
}

func (s *server) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	ino, err := s.fs.Create(fsys.Inum(op.Parent), op.Name)
	if err != nil {
		return errno(err)
	}
	op.Entry, err = s.childEntry(ino)
	return errno(err)
}

func (s *server) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	ino, err := s.fs.Symlink(fsys.Inum(op.Parent), op.Name, op.Target)
	if err != nil {
		return errno(err)
	}
	op.Entry, err = s.childEntry(ino)
	return errno(err)
}

func (s *server) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	target, err := s.fs.ReadLink(fsys.Inum(op.Inode))
	if err != nil {
		return errno(err)
	}
	op.Target = string(target)
	return nil
}

func (s *server) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	return errno(s.fs.Unlink(fsys.Inum(op.Parent), op.Name))
}

func (s *server) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	return errno(s.fs.Unlink(fsys.Inum(op.Parent), op.Name))
}

func (s *server) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	return nil
}

func (s *server) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	entries, err := s.fs.ReadDir(fsys.Inum(op.Inode))
	if err != nil {
		return errno(err)
	}

	for i := int(op.Offset); i < len(entries); i++ {
		a, err := s.fs.GetAttr(entries[i].Inum)
		if err != nil {
			return errno(err)
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(entries[i].Inum),
			Name:   entries[i].Name,
			Type:   direntType(a.Type),
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (s *server) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	return nil
}

func (s *server) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	data, err := s.fs.Read(fsys.Inum(op.Inode), op.Offset, int(op.Size))
	if err != nil {
		// Reading at or past the end is how the kernel probes EOF.
		if errors.Is(err, fsys.ErrIO) {
			op.BytesRead = 0
			return nil
		}
		return errno(err)
	}
	op.BytesRead = copy(op.Dst, data)
	return nil
}

func (s *server) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	_, err := s.fs.Write(fsys.Inum(op.Inode), op.Offset, op.Data)
	return errno(err)
}

func (s *server) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (s *server) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (s *server) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}
