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
	"fmt"
	"strings"
)

// Inode is one row of the path-keyed inode table. ParentPath is the full
// path of the containing directory and, together with Name, forms the
// natural key.
type Inode struct {
	ID               Ino        `json:"id"`
	ParentID         Ino        `json:"parent_id"`
	ParentPath       string     `json:"parent_path"`
	Name             string     `json:"name"`
	AccessTime       int64      `json:"access_time"`
	ModificationTime int64      `json:"modification_time"`
	Permission       Permission `json:"permission"`
	Header           Header     `json:"header"`
}

func (i *Inode) IsDir() bool {
	return i.Header == 0
}

func (i *Inode) Key() NaturalKey {
	return NaturalKey{ParentPath: i.ParentPath, Name: i.Name}
}

// ValidKey reports whether the natural key can be stored. Only the root row
// has an empty parent path.
func (i *Inode) ValidKey() bool {
	if i.ID == RootID {
		return i.ParentPath == "" && i.Name == RootName
	}
	return strings.HasPrefix(i.ParentPath, separator) && ValidName(i.Name)
}

// Path returns the full path of the inode itself.
func (i *Inode) Path() string {
	return Join(i.ParentPath, i.Name)
}

func (i *Inode) Clone() *Inode {
	c := *i
	return &c
}

func (i *Inode) String() string {
	return fmt.Sprintf("inode(%d %s parent=%d)", i.ID, i.Path(), i.ParentID)
}

// NaturalKey is the (parent_path, name) pair that uniquely addresses a row.
type NaturalKey struct {
	ParentPath string
	Name       string
}

func KeyOf(path string) NaturalKey {
	parent, name := Split(path)
	return NaturalKey{ParentPath: parent, Name: name}
}

func (k NaturalKey) Path() string {
	return Join(k.ParentPath, k.Name)
}

func (k NaturalKey) String() string {
	return k.Path()
}

// UnderConstruction is the side record kept while a file is open for write.
type UnderConstruction struct {
	ClientName    string `json:"client_name"`
	ClientMachine string `json:"client_machine"`
}

type XAttrNamespace uint8

const (
	XAttrUser XAttrNamespace = iota
	XAttrTrusted
	XAttrSecurity
	XAttrSystem
	XAttrRaw
)

func (ns XAttrNamespace) String() string {
	switch ns {
	case XAttrUser:
		return "user"
	case XAttrTrusted:
		return "trusted"
	case XAttrSecurity:
		return "security"
	case XAttrSystem:
		return "system"
	case XAttrRaw:
		return "raw"
	default:
		return fmt.Sprintf("xattr-ns(%d)", uint8(ns))
	}
}

type XAttr struct {
	Namespace XAttrNamespace `json:"namespace"`
	Name      string         `json:"name"`
	Value     []byte         `json:"value"`
}

// Block is a data block row. Locations are opaque storage identifiers.
type Block struct {
	ID              BlockID  `json:"id"`
	NumBytes        int64    `json:"num_bytes"`
	GenerationStamp int64    `json:"generation_stamp"`
	Replication     uint16   `json:"replication"`
	ECPolicyID      uint8    `json:"ec_policy_id"`
	Locations       []string `json:"locations,omitempty"`
}

// BlockLink maps (inode, index) to a block.
type BlockLink struct {
	InodeID Ino     `json:"inode_id"`
	Index   int     `json:"index"`
	BlockID BlockID `json:"block_id"`
}
