// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package proto

import (
	"errors"
	"fmt"
)

// Permission layout, high to low: user code (24) | group code (24) | mode (16).
type Permission uint64

const (
	modeBits  = 16
	groupBits = 24
	userBits  = 24

	modeMask  = 1<<modeBits - 1
	groupMask = 1<<groupBits - 1
	userMask  = 1<<userBits - 1

	MaxStringCode = userMask
)

func NewPermission(user, group uint32, mode uint16) Permission {
	return Permission(uint64(user&userMask)<<(groupBits+modeBits) |
		uint64(group&groupMask)<<modeBits |
		uint64(mode))
}

func (p Permission) User() uint32 {
	return uint32(uint64(p) >> (groupBits + modeBits) & userMask)
}

func (p Permission) Group() uint32 {
	return uint32(uint64(p) >> modeBits & groupMask)
}

func (p Permission) Mode() uint16 {
	return uint16(uint64(p) & modeMask)
}

func (p Permission) WithMode(mode uint16) Permission {
	return Permission(uint64(p)&^modeMask | uint64(mode))
}

func (p Permission) WithOwner(user, group uint32) Permission {
	return NewPermission(user, group, p.Mode())
}

func (p Permission) String() string {
	return fmt.Sprintf("%d:%d:%04o", p.User(), p.Group(), p.Mode())
}

// Header layout for files, high to low: storage policy (4) | layout (12) |
// preferred block size (48). A directory header is zero.
type Header uint64

const (
	blockSizeBits = 48
	layoutBits    = 12
	policyBits    = 4

	blockSizeMask = 1<<blockSizeBits - 1
	layoutMask    = 1<<layoutBits - 1
	policyMask    = 1<<policyBits - 1

	stripedFlag = 1 << (layoutBits - 1)
)

var ErrInvalidHeader = errors.New("invalid file header")

// Layout is either a replication factor or a striped erasure-coding policy id.
type Layout uint16

func ReplicatedLayout(replication uint16) Layout {
	return Layout(replication & (stripedFlag - 1))
}

func StripedLayout(ecPolicyID uint8) Layout {
	return Layout(stripedFlag | uint16(ecPolicyID))
}

func (l Layout) IsStriped() bool {
	return l&stripedFlag != 0
}

func (l Layout) Replication() uint16 {
	if l.IsStriped() {
		return 0
	}
	return uint16(l)
}

func (l Layout) ECPolicyID() uint8 {
	if !l.IsStriped() {
		return 0
	}
	return uint8(l &^ stripedFlag)
}

func NewFileHeader(preferredBlockSize uint64, layout Layout, storagePolicy uint8) (Header, error) {
	if preferredBlockSize == 0 || preferredBlockSize > blockSizeMask {
		return 0, fmt.Errorf("%w: block size %d", ErrInvalidHeader, preferredBlockSize)
	}
	if storagePolicy > policyMask {
		return 0, fmt.Errorf("%w: storage policy %d", ErrInvalidHeader, storagePolicy)
	}
	return Header(uint64(storagePolicy)<<(blockSizeBits+layoutBits) |
		uint64(layout&layoutMask)<<blockSizeBits |
		preferredBlockSize), nil
}

func (h Header) IsDir() bool {
	return h == 0
}

func (h Header) PreferredBlockSize() uint64 {
	return uint64(h) & blockSizeMask
}

func (h Header) Layout() Layout {
	return Layout(uint64(h) >> blockSizeBits & layoutMask)
}

func (h Header) StoragePolicy() uint8 {
	return uint8(uint64(h) >> (blockSizeBits + layoutBits) & policyMask)
}
