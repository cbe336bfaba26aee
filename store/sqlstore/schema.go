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

package sqlstore

// The inode table is keyed by natural key. id is indexed but not unique:
// a rename with a zero offset briefly holds the old and the new row for
// the same id between its insert and delete phases.
const schema = `
CREATE TABLE IF NOT EXISTS inodes (
	id                INTEGER NOT NULL,
	parent            INTEGER NOT NULL,
	parent_path       TEXT    NOT NULL,
	name              TEXT    NOT NULL,
	access_time       INTEGER NOT NULL,
	modification_time INTEGER NOT NULL,
	permission        INTEGER NOT NULL,
	header            INTEGER NOT NULL,
	PRIMARY KEY (parent_path, name)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS inodes_id ON inodes (id);
CREATE INDEX IF NOT EXISTS inodes_parent ON inodes (parent);

CREATE TABLE IF NOT EXISTS inodeuc (
	id             INTEGER PRIMARY KEY,
	client_name    TEXT NOT NULL,
	client_machine TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS inodexattrs (
	id        INTEGER NOT NULL,
	namespace INTEGER NOT NULL,
	name      TEXT    NOT NULL,
	value     BLOB,
	seq       INTEGER NOT NULL,
	PRIMARY KEY (id, namespace, name)
);

CREATE TABLE IF NOT EXISTS blocks (
	id               INTEGER PRIMARY KEY,
	num_bytes        INTEGER NOT NULL,
	generation_stamp INTEGER NOT NULL,
	replication      INTEGER NOT NULL,
	ec_policy        INTEGER NOT NULL,
	locations        TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS inode2block (
	id       INTEGER NOT NULL,
	idx      INTEGER NOT NULL,
	block_id INTEGER NOT NULL,
	PRIMARY KEY (id, idx)
);
CREATE INDEX IF NOT EXISTS inode2block_block ON inode2block (block_id);

CREATE TABLE IF NOT EXISTS stringtable (
	id  INTEGER PRIMARY KEY,
	str TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS markers (
	id    INTEGER PRIMARY KEY CHECK (id = 0),
	value INTEGER NOT NULL
);
INSERT OR IGNORE INTO markers (id, value) VALUES (0, 0);
`

const inodeColumns = "id, parent, parent_path, name, access_time, modification_time, permission, header"

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=OFF",
	"PRAGMA cache_size=-8192",
	"PRAGMA temp_store=MEMORY",
}
