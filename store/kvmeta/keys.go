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

package kvmeta

import (
	"bytes"
	"encoding/binary"

	"github.com/cubefs/namespacedb/common/kvstore"
	"github.com/cubefs/namespacedb/proto"
	"github.com/cubefs/namespacedb/util"
)

const (
	inodeCF  = kvstore.CF("inodes")
	idCF     = kvstore.CF("ids")
	ucCF     = kvstore.CF("uc")
	xattrCF  = kvstore.CF("xattrs")
	blockCF  = kvstore.CF("blocks")
	linkCF   = kvstore.CF("links")
	ownerCF  = kvstore.CF("owners")
	stringCF = kvstore.CF("strings")
	codeCF   = kvstore.CF("codes")
	metaCF   = kvstore.CF("meta")
)

var (
	allCFs = []kvstore.CF{inodeCF, idCF, ucCF, xattrCF, blockCF, linkCF, ownerCF, stringCF, codeCF, metaCF}

	markerKey = []byte("marker")
)

// inode rows: parent_path 0x00 name. Direct children of P share the prefix
// P 0x00, deeper descendants share P "/", and 0x00 sorting before "/"
// keeps a scan ordered by (parent_path, name).
const keyInfix = '\x00'

func encodeRowKey(key proto.NaturalKey) []byte {
	raw := make([]byte, len(key.ParentPath)+1+len(key.Name))
	copy(raw, key.ParentPath)
	raw[len(key.ParentPath)] = keyInfix
	copy(raw[len(key.ParentPath)+1:], key.Name)
	return raw
}

func decodeRowKey(raw []byte) proto.NaturalKey {
	idx := bytes.IndexByte(raw, keyInfix)
	return proto.NaturalKey{ParentPath: string(raw[:idx]), Name: string(raw[idx+1:])}
}

func childrenPrefix(parentPath string) []byte {
	raw := make([]byte, len(parentPath)+1)
	copy(raw, parentPath)
	raw[len(parentPath)] = keyInfix
	return raw
}

// descendantPrefixes lists the key prefixes covering every row below root.
func descendantPrefixes(root string) [][]byte {
	deeper := util.StringsToBytes(proto.DescendantPrefix(root))
	if root == "/" {
		return [][]byte{deeper}
	}
	return [][]byte{childrenPrefix(root), deeper}
}

func encodeIno(ino uint64) []byte {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, ino)
	return raw
}

func decodeIno(raw []byte) uint64 {
	return binary.BigEndian.Uint64(raw)
}

func encodeLinkKey(ino proto.Ino, index int) []byte {
	raw := make([]byte, 16)
	binary.BigEndian.PutUint64(raw, ino)
	binary.BigEndian.PutUint64(raw[8:], uint64(index))
	return raw
}

func decodeLinkKey(raw []byte) (proto.Ino, int) {
	return binary.BigEndian.Uint64(raw), int(binary.BigEndian.Uint64(raw[8:]))
}

func encodeCode(code uint32) []byte {
	raw := make([]byte, 4)
	binary.BigEndian.PutUint32(raw, code)
	return raw
}

func decodeCode(raw []byte) uint32 {
	return binary.BigEndian.Uint32(raw)
}
