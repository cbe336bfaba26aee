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
	"google.golang.org/protobuf/encoding/protowire"
)

// Rows stored in key-value backends use the protobuf wire format so that
// fields can be appended without breaking older values.

const (
	inodeID protowire.Number = iota + 1
	inodeParentID
	inodeParentPath
	inodeName
	inodeAccessTime
	inodeModificationTime
	inodePermission
	inodeHeader
)

func (i *Inode) Marshal() []byte {
	b := make([]byte, 0, 48+len(i.ParentPath)+len(i.Name))
	b = appendVarint(b, inodeID, i.ID)
	b = appendVarint(b, inodeParentID, i.ParentID)
	b = appendString(b, inodeParentPath, i.ParentPath)
	b = appendString(b, inodeName, i.Name)
	b = appendVarint(b, inodeAccessTime, protowire.EncodeZigZag(i.AccessTime))
	b = appendVarint(b, inodeModificationTime, protowire.EncodeZigZag(i.ModificationTime))
	b = appendVarint(b, inodePermission, uint64(i.Permission))
	b = appendVarint(b, inodeHeader, uint64(i.Header))
	return b
}

func (i *Inode) Unmarshal(b []byte) error {
	*i = Inode{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case inodeID:
			return consumeVarint(typ, b, &i.ID)
		case inodeParentID:
			return consumeVarint(typ, b, &i.ParentID)
		case inodeParentPath:
			return consumeString(typ, b, &i.ParentPath)
		case inodeName:
			return consumeString(typ, b, &i.Name)
		case inodeAccessTime:
			return consumeZigZag(typ, b, &i.AccessTime)
		case inodeModificationTime:
			return consumeZigZag(typ, b, &i.ModificationTime)
		case inodePermission:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			i.Permission = Permission(v)
			return n, err
		case inodeHeader:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			i.Header = Header(v)
			return n, err
		}
		return -1, nil
	})
}

const (
	blockID protowire.Number = iota + 1
	blockNumBytes
	blockGenerationStamp
	blockReplication
	blockECPolicyID
	blockLocation
)

func (blk *Block) Marshal() []byte {
	b := make([]byte, 0, 32)
	b = appendVarint(b, blockID, blk.ID)
	b = appendVarint(b, blockNumBytes, protowire.EncodeZigZag(blk.NumBytes))
	b = appendVarint(b, blockGenerationStamp, protowire.EncodeZigZag(blk.GenerationStamp))
	b = appendVarint(b, blockReplication, uint64(blk.Replication))
	b = appendVarint(b, blockECPolicyID, uint64(blk.ECPolicyID))
	for _, loc := range blk.Locations {
		b = appendString(b, blockLocation, loc)
	}
	return b
}

func (blk *Block) Unmarshal(b []byte) error {
	*blk = Block{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case blockID:
			return consumeVarint(typ, b, &blk.ID)
		case blockNumBytes:
			return consumeZigZag(typ, b, &blk.NumBytes)
		case blockGenerationStamp:
			return consumeZigZag(typ, b, &blk.GenerationStamp)
		case blockReplication:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			blk.Replication = uint16(v)
			return n, err
		case blockECPolicyID:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			blk.ECPolicyID = uint8(v)
			return n, err
		case blockLocation:
			var loc string
			n, err := consumeString(typ, b, &loc)
			if n >= 0 && err == nil {
				blk.Locations = append(blk.Locations, loc)
			}
			return n, err
		}
		return -1, nil
	})
}

func (uc *UnderConstruction) Marshal() []byte {
	b := make([]byte, 0, 4+len(uc.ClientName)+len(uc.ClientMachine))
	b = appendString(b, 1, uc.ClientName)
	b = appendString(b, 2, uc.ClientMachine)
	return b
}

func (uc *UnderConstruction) Unmarshal(b []byte) error {
	*uc = UnderConstruction{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, b, &uc.ClientName)
		case 2:
			return consumeString(typ, b, &uc.ClientMachine)
		}
		return -1, nil
	})
}

// MarshalXAttrs encodes an ordered xattr list as repeated embedded messages.
func MarshalXAttrs(attrs []XAttr) []byte {
	var b []byte
	for _, attr := range attrs {
		var m []byte
		m = appendVarint(m, 1, uint64(attr.Namespace))
		m = appendString(m, 2, attr.Name)
		m = protowire.AppendTag(m, 3, protowire.BytesType)
		m = protowire.AppendBytes(m, attr.Value)

		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

func UnmarshalXAttrs(b []byte) ([]XAttr, error) {
	var attrs []XAttr
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 || typ != protowire.BytesType {
			return -1, nil
		}
		m, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return n, protowire.ParseError(n)
		}
		var attr XAttr
		err := consumeFields(m, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				var v uint64
				n, err := consumeVarint(typ, b, &v)
				attr.Namespace = XAttrNamespace(v)
				return n, err
			case 2:
				return consumeString(typ, b, &attr.Name)
			case 3:
				v, n := protowire.ConsumeBytes(b)
				if n < 0 {
					return n, protowire.ParseError(n)
				}
				attr.Value = append([]byte(nil), v...)
				return n, nil
			}
			return -1, nil
		})
		if err != nil {
			return n, err
		}
		attrs = append(attrs, attr)
		return n, nil
	})
	return attrs, err
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// consumeFields walks every field in b. fn returns the number of bytes it
// consumed, or -1 to skip an unknown field.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if n < 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
		}
		b = b[n:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte, v *uint64) (int, error) {
	if typ != protowire.VarintType {
		return -1, nil
	}
	x, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	*v = x
	return n, nil
}

func consumeZigZag(typ protowire.Type, b []byte, v *int64) (int, error) {
	var x uint64
	n, err := consumeVarint(typ, b, &x)
	if err == nil && n >= 0 {
		*v = protowire.DecodeZigZag(x)
	}
	return n, err
}

func consumeString(typ protowire.Type, b []byte, s *string) (int, error) {
	if typ != protowire.BytesType {
		return -1, nil
	}
	x, n := protowire.ConsumeString(b)
	if n < 0 {
		return n, protowire.ParseError(n)
	}
	*s = x
	return n, nil
}
