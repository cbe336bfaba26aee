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
	"path"
	"strings"
)

const separator = "/"

// Join builds a full path from a parent path and a local name. The root row
// has an empty parent path and the name "/".
func Join(parentPath, name string) string {
	switch parentPath {
	case "":
		return name
	case separator:
		return separator + name
	default:
		return parentPath + separator + name
	}
}

// Split is the inverse of Join for a cleaned absolute path.
func Split(p string) (parentPath, name string) {
	if p == separator {
		return "", RootName
	}
	idx := strings.LastIndex(p, separator)
	if idx == 0 {
		return separator, p[1:]
	}
	return p[:idx], p[idx+1:]
}

// Clean normalizes p and reports whether it is a usable absolute path.
func Clean(p string) (string, bool) {
	if !strings.HasPrefix(p, separator) {
		return "", false
	}
	return path.Clean(p), true
}

// ValidName reports whether name can be a single path component.
func ValidName(name string) bool {
	switch name {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(name, separator+"\x00")
}

// DescendantPrefix is the string every descendant's parent path starts with,
// except for direct children whose parent path equals root.
func DescendantPrefix(root string) string {
	if root == separator {
		return separator
	}
	return root + separator
}

// IsUnder reports whether p equals root or lies below it. The match is
// component aware, "/ab" is not under "/a".
func IsUnder(p, root string) bool {
	return p == root || strings.HasPrefix(p, DescendantPrefix(root))
}

// Rebase rewrites p, which must be under oldRoot, to the same position under newRoot.
func Rebase(p, oldRoot, newRoot string) string {
	if p == oldRoot {
		return newRoot
	}
	rest := p[len(DescendantPrefix(oldRoot)):]
	return Join(newRoot, rest)
}
