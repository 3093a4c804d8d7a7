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

package disk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/extentfs/extentfs/internal/wire"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

var (
	// ErrNotFound is returned for inode numbers that are out of range
	// or whose slot is free.
	ErrNotFound = errors.New("disk: no such inode")

	// ErrNoInodes is returned when the inode table is full.
	ErrNoInodes = errors.New("disk: no free inodes")

	// ErrTooLarge is returned for writes beyond MaxFileSize.
	ErrTooLarge = errors.New("disk: file too large")
)

// On-device inode encoding: five uint32 fields followed by the block
// pointer array, all little-endian. Slot NumDirect of the array is the
// indirect pointer.
const (
	inodeSize      = 4*5 + 4*(NumDirect+1)
	inodesPerBlock = BlockSize / inodeSize
)

type inode struct {
	typ   uint32 // 0 means the slot is free
	size  uint32
	atime uint32
	mtime uint32
	ctime uint32

	// INVARIANT: pointers are filled densely from index 0; the first
	// zero terminates the list. Writers must zero pointers above the
	// watermark when shrinking.
	blocks [NumDirect + 1]BlockID
}

func decodeInode(buf []byte) (ino inode) {
	ino.typ = binary.LittleEndian.Uint32(buf[0:])
	ino.size = binary.LittleEndian.Uint32(buf[4:])
	ino.atime = binary.LittleEndian.Uint32(buf[8:])
	ino.mtime = binary.LittleEndian.Uint32(buf[12:])
	ino.ctime = binary.LittleEndian.Uint32(buf[16:])
	for i := range ino.blocks {
		ino.blocks[i] = binary.LittleEndian.Uint32(buf[20+4*i:])
	}
	return
}

func encodeInode(ino *inode, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], ino.typ)
	binary.LittleEndian.PutUint32(buf[4:], ino.size)
	binary.LittleEndian.PutUint32(buf[8:], ino.atime)
	binary.LittleEndian.PutUint32(buf[12:], ino.mtime)
	binary.LittleEndian.PutUint32(buf[16:], ino.ctime)
	for i := range ino.blocks {
		binary.LittleEndian.PutUint32(buf[20+4*i:], ino.blocks[i])
	}
}

// inodeBlock returns the block holding inum's slot.
func inodeBlock(inum uint64) BlockID {
	return BlockID(1 + bitmapBlocks + inum/inodesPerBlock)
}

// InodeManager lays an inode table onto a block device and exposes the
// whole-extent operations the extent server serves.
//
// All methods are safe for concurrent use; a single coarse mutex covers
// the bitmap, the cursors, and the table.
type InodeManager struct {
	clock timeutil.Clock

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	bm *blockManager

	// using[i] is set iff inode i is allocated. Slot 0 is reserved and
	// never set.
	//
	// GUARDED_BY(mu)
	using [NumInodes]bool

	// Rotating allocation cursor over [1, NumInodes).
	//
	// GUARDED_BY(mu)
	cursor uint64
}

// NewInodeManager formats a fresh device and allocates the root
// directory. The first allocation on a fresh table is guaranteed to be
// inode 1; anything else is a bug and is returned as an error the
// caller must treat as fatal.
func NewInodeManager(clock timeutil.Clock) (*InodeManager, error) {
	m := &InodeManager{
		clock:  clock,
		bm:     newBlockManager(NewDevice()),
		cursor: 1,
	}
	m.mu = syncutil.NewInvariantMutex(m.checkInvariants)

	root, err := m.AllocInode(wire.TypeDir)
	if err != nil {
		return nil, fmt.Errorf("allocating root inode: %w", err)
	}
	if root != 1 {
		return nil, fmt.Errorf("root inode allocated as %d, want 1", root)
	}
	return m, nil
}

////////////////////////////////////////////////////////////////////////
// Inode table
////////////////////////////////////////////////////////////////////////

// AllocInode claims a free inode slot, writes a fresh inode of the
// given type with current timestamps and no blocks, and returns its
// number.
//
// LOCKS_EXCLUDED(m.mu)
func (m *InodeManager) AllocInode(typ uint32) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for scanned := 0; scanned < NumInodes-1; scanned++ {
		inum := m.cursor
		if m.using[inum] {
			m.advanceCursor()
			continue
		}

		now := uint32(m.clock.Now().Unix())
		ino := inode{
			typ:   typ,
			atime: now,
			mtime: now,
			ctime: now,
		}
		m.putInode(inum, &ino)
		m.using[inum] = true
		return inum, nil
	}
	return 0, ErrNoInodes
}

// LOCKS_REQUIRED(m.mu)
func (m *InodeManager) advanceCursor() {
	m.cursor++
	if m.cursor >= NumInodes {
		m.cursor = 1
	}
}

// FreeInode zeroes inum's slot and clears its allocation marker.
// Idempotent. Callers are trusted not to free the root.
//
// LOCKS_EXCLUDED(m.mu)
func (m *InodeManager) FreeInode(inum uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeInodeLocked(inum)
}

// LOCKS_REQUIRED(m.mu)
func (m *InodeManager) freeInodeLocked(inum uint64) {
	if !m.using[inum] {
		return
	}
	m.putInode(inum, &inode{})
	m.using[inum] = false
}

// getInode reads inum's slot, returning ErrNotFound for free slots and
// out-of-range numbers.
//
// LOCKS_REQUIRED(m.mu)
func (m *InodeManager) getInode(inum uint64) (inode, error) {
	if inum >= NumInodes {
		return inode{}, ErrNotFound
	}

	var buf [BlockSize]byte
	m.bm.readBlock(inodeBlock(inum), buf[:])
	ino := decodeInode(buf[(inum%inodesPerBlock)*inodeSize:])
	if ino.typ == 0 {
		return inode{}, ErrNotFound
	}
	return ino, nil
}

// putInode writes ino into inum's slot, read-modify-writing the
// containing block.
//
// LOCKS_REQUIRED(m.mu)
func (m *InodeManager) putInode(inum uint64, ino *inode) {
	var buf [BlockSize]byte
	id := inodeBlock(inum)
	m.bm.readBlock(id, buf[:])
	encodeInode(ino, buf[(inum%inodesPerBlock)*inodeSize:])
	m.bm.writeBlock(id, buf[:])
}

////////////////////////////////////////////////////////////////////////
// File contents
////////////////////////////////////////////////////////////////////////

// ReadFile returns the contents of inum: the direct blocks followed by
// the blocks listed in the indirect block, truncated to the inode's
// size. A zero pointer terminates either list.
//
// LOCKS_EXCLUDED(m.mu)
func (m *InodeManager) ReadFile(inum uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ino, err := m.getInode(inum)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 0, (int(ino.size)+BlockSize-1)/BlockSize*BlockSize)
	var buf [BlockSize]byte
	for i := 0; i < NumDirect; i++ {
		if ino.blocks[i] == 0 {
			break
		}
		m.bm.readBlock(ino.blocks[i], buf[:])
		data = append(data, buf[:]...)
	}
	if ino.blocks[NumDirect] != 0 {
		var iblock [BlockSize]byte
		m.bm.readBlock(ino.blocks[NumDirect], iblock[:])
		for i := 0; i < NumIndirect; i++ {
			id := binary.LittleEndian.Uint32(iblock[4*i:])
			if id == 0 {
				break
			}
			m.bm.readBlock(id, buf[:])
			data = append(data, buf[:]...)
		}
	}

	return data[:ino.size], nil
}

// WriteFile replaces the contents of inum with data, allocating and
// freeing blocks as the new size requires and updating size and mtime.
//
// LOCKS_EXCLUDED(m.mu)
func (m *InodeManager) WriteFile(inum uint64, data []byte) error {
	if len(data) > MaxFileSize {
		return ErrTooLarge
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ino, err := m.getInode(inum)
	if err != nil {
		return err
	}

	ino.size = uint32(len(data))
	now := uint32(m.clock.Now().Unix())
	ino.mtime = now
	ino.ctime = now

	// Direct blocks first.
	remaining := len(data)
	off := 0
	i := 0
	for remaining > 0 && i < NumDirect {
		bid := ino.blocks[i]
		if bid == 0 {
			if bid, err = m.bm.allocBlock(); err != nil {
				return err
			}
			ino.blocks[i] = bid
		}
		m.bm.writeBlockN(bid, data[off:], min(remaining, BlockSize))
		i++
		off += BlockSize
		remaining -= BlockSize
	}

	if remaining <= 0 {
		// The new contents fit in the direct region. Drop every block
		// past the watermark, including the whole indirect chain.
		for ; i < NumDirect; i++ {
			if ino.blocks[i] != 0 {
				m.bm.freeBlock(ino.blocks[i])
			}
			ino.blocks[i] = 0
		}
		if ino.blocks[NumDirect] != 0 {
			m.freeIndirect(ino.blocks[NumDirect])
			ino.blocks[NumDirect] = 0
		}
	} else {
		iid := ino.blocks[NumDirect]
		var iblock [BlockSize]byte
		if iid == 0 {
			if iid, err = m.bm.allocBlock(); err != nil {
				return err
			}
			ino.blocks[NumDirect] = iid
		} else {
			m.bm.readBlock(iid, iblock[:])
		}

		for j := 0; remaining > 0 && j < NumIndirect; j++ {
			bid := binary.LittleEndian.Uint32(iblock[4*j:])
			if bid == 0 {
				if bid, err = m.bm.allocBlock(); err != nil {
					return err
				}
				binary.LittleEndian.PutUint32(iblock[4*j:], bid)
			}
			m.bm.writeBlockN(bid, data[off:], min(remaining, BlockSize))
			off += BlockSize
			remaining -= BlockSize
		}

		m.bm.writeBlock(iid, iblock[:])
	}

	m.putInode(inum, &ino)
	return nil
}

// Getattr returns inum's attributes.
//
// LOCKS_EXCLUDED(m.mu)
func (m *InodeManager) Getattr(inum uint64) (wire.Attr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ino, err := m.getInode(inum)
	if err != nil {
		return wire.Attr{}, err
	}
	return wire.Attr{
		Type:  ino.typ,
		Size:  uint64(ino.size),
		Atime: ino.atime,
		Mtime: ino.mtime,
		Ctime: ino.ctime,
	}, nil
}

// RemoveFile frees every data block referenced by inum, directly or
// through the indirect block, then frees the inode itself.
//
// LOCKS_EXCLUDED(m.mu)
func (m *InodeManager) RemoveFile(inum uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ino, err := m.getInode(inum)
	if err != nil {
		return err
	}

	for i := 0; i < NumDirect; i++ {
		if ino.blocks[i] == 0 {
			break
		}
		m.bm.freeBlock(ino.blocks[i])
	}
	if ino.blocks[NumDirect] != 0 {
		m.freeIndirect(ino.blocks[NumDirect])
	}
	m.freeInodeLocked(inum)
	return nil
}

// freeIndirect frees every block listed in the indirect block id, then
// the indirect block itself.
//
// LOCKS_REQUIRED(m.mu)
func (m *InodeManager) freeIndirect(id BlockID) {
	var iblock [BlockSize]byte
	m.bm.readBlock(id, iblock[:])
	for i := 0; i < NumIndirect; i++ {
		child := binary.LittleEndian.Uint32(iblock[4*i:])
		if child == 0 {
			break
		}
		m.bm.freeBlock(child)
	}
	m.bm.freeBlock(id)
}

////////////////////////////////////////////////////////////////////////
// Invariants
////////////////////////////////////////////////////////////////////////

// checkInvariants verifies that the set of used data blocks equals the
// set reachable from allocated inodes (including indirect blocks
// themselves).
//
// LOCKS_REQUIRED(m.mu)
func (m *InodeManager) checkInvariants() {
	reachable := make(map[BlockID]struct{})

	for inum := uint64(1); inum < NumInodes; inum++ {
		if !m.using[inum] {
			continue
		}
		ino, err := m.getInode(inum)
		if err != nil {
			panic(fmt.Sprintf("allocated inode %d unreadable: %v", inum, err))
		}
		for i := 0; i < NumDirect; i++ {
			if ino.blocks[i] != 0 {
				reachable[ino.blocks[i]] = struct{}{}
			}
		}
		if iid := ino.blocks[NumDirect]; iid != 0 {
			reachable[iid] = struct{}{}
			var iblock [BlockSize]byte
			m.bm.readBlock(iid, iblock[:])
			for i := 0; i < NumIndirect; i++ {
				if child := binary.LittleEndian.Uint32(iblock[4*i:]); child != 0 {
					reachable[child] = struct{}{}
				}
			}
		}
	}

	for id := range reachable {
		if !m.bm.using[id] {
			panic(fmt.Sprintf("reachable block %d not marked used", id))
		}
	}
	used := 0
	for id := DataStart; id < NumBlocks; id++ {
		if m.bm.using[id] {
			used++
		}
	}
	if used != len(reachable) {
		panic(fmt.Sprintf("%d blocks used but %d reachable", used, len(reachable)))
	}
}
