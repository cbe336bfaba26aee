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
	"strconv"
)

var ErrFieldKindMismatch = errors.New("field kind mismatch")

type ValueKind uint8

const (
	KindUint ValueKind = iota + 1
	KindInt
	KindString
)

// Field enumerates the columns of the inode table.
type Field uint8

const (
	FieldParentID Field = iota + 1
	FieldParentPath
	FieldName
	FieldAccessTime
	FieldModificationTime
	FieldPermission
	FieldHeader

	fieldMax
)

type FieldMask uint32

var fieldSchema = [fieldMax]struct {
	name   string
	column string
	kind   ValueKind
}{
	FieldParentID:         {"parent_id", "parent", KindUint},
	FieldParentPath:       {"parent_path", "parent_path", KindString},
	FieldName:             {"name", "name", KindString},
	FieldAccessTime:       {"access_time", "access_time", KindInt},
	FieldModificationTime: {"modification_time", "modification_time", KindInt},
	FieldPermission:       {"permission", "permission", KindUint},
	FieldHeader:           {"header", "header", KindUint},
}

func (f Field) Valid() bool {
	return f > 0 && f < fieldMax
}

func (f Field) Kind() ValueKind {
	if !f.Valid() {
		return 0
	}
	return fieldSchema[f].kind
}

// Column is the relational column that stores f.
func (f Field) Column() string {
	if !f.Valid() {
		return ""
	}
	return fieldSchema[f].column
}

func (f Field) Mask() FieldMask {
	return 1 << f
}

func (f Field) String() string {
	if !f.Valid() {
		return "field(" + strconv.Itoa(int(f)) + ")"
	}
	return fieldSchema[f].name
}

// Structural fields change the natural key and may only be rewritten by the
// subtree protocol.
func (f Field) Structural() bool {
	return f == FieldParentID || f == FieldParentPath || f == FieldName
}

func (m FieldMask) Has(f Field) bool {
	return m&f.Mask() != 0
}

func (m FieldMask) Fields() []Field {
	var fields []Field
	for f := FieldParentID; f < fieldMax; f++ {
		if m.Has(f) {
			fields = append(fields, f)
		}
	}
	return fields
}

// Value is a tagged union holding one attribute value.
type Value struct {
	kind ValueKind
	u    uint64
	i    int64
	s    string
}

func UintValue(v uint64) Value   { return Value{kind: KindUint, u: v} }
func IntValue(v int64) Value     { return Value{kind: KindInt, i: v} }
func StringValue(v string) Value { return Value{kind: KindString, s: v} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) Uint() uint64    { return v.u }
func (v Value) Int() int64      { return v.i }
func (v Value) Str() string     { return v.s }

func (v Value) String() string {
	switch v.kind {
	case KindUint:
		return strconv.FormatUint(v.u, 10)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindString:
		return strconv.Quote(v.s)
	default:
		return "<nil>"
	}
}

// Update assigns Value to Field.
type Update struct {
	Field Field
	Value Value
}

func (u Update) String() string {
	return u.Field.String() + "=" + u.Value.String()
}

func AccessTimeUpdate(ms int64) Update {
	return Update{Field: FieldAccessTime, Value: IntValue(ms)}
}

func ModificationTimeUpdate(ms int64) Update {
	return Update{Field: FieldModificationTime, Value: IntValue(ms)}
}

func PermissionUpdate(p Permission) Update {
	return Update{Field: FieldPermission, Value: UintValue(uint64(p))}
}

func HeaderUpdate(h Header) Update {
	return Update{Field: FieldHeader, Value: UintValue(uint64(h))}
}

func NameUpdate(name string) Update {
	return Update{Field: FieldName, Value: StringValue(name)}
}

// Get reads field f from the row.
func (i *Inode) Get(f Field) (Value, error) {
	switch f {
	case FieldParentID:
		return UintValue(i.ParentID), nil
	case FieldParentPath:
		return StringValue(i.ParentPath), nil
	case FieldName:
		return StringValue(i.Name), nil
	case FieldAccessTime:
		return IntValue(i.AccessTime), nil
	case FieldModificationTime:
		return IntValue(i.ModificationTime), nil
	case FieldPermission:
		return UintValue(uint64(i.Permission)), nil
	case FieldHeader:
		return UintValue(uint64(i.Header)), nil
	default:
		return Value{}, fmt.Errorf("unknown field %s", f)
	}
}

// Apply writes u into the row after checking the value kind against the schema.
func (i *Inode) Apply(u Update) error {
	if !u.Field.Valid() {
		return fmt.Errorf("unknown field %s", u.Field)
	}
	if u.Field.Kind() != u.Value.Kind() {
		return fmt.Errorf("%w: %s wants kind %d, got %d", ErrFieldKindMismatch, u.Field, u.Field.Kind(), u.Value.Kind())
	}
	switch u.Field {
	case FieldParentID:
		i.ParentID = u.Value.Uint()
	case FieldParentPath:
		i.ParentPath = u.Value.Str()
	case FieldName:
		i.Name = u.Value.Str()
	case FieldAccessTime:
		i.AccessTime = u.Value.Int()
	case FieldModificationTime:
		i.ModificationTime = u.Value.Int()
	case FieldPermission:
		i.Permission = Permission(u.Value.Uint())
	case FieldHeader:
		i.Header = Header(u.Value.Uint())
	}
	return nil
}
