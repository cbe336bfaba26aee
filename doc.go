/*
 *
 * Copyright 2023 CubeFS authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# NamespaceDB: a hierarchical namespace over a pluggable attribute store

## Data Model

* Inode, inode number(ino) --> one row of fixed fields: parent ino, parent path,
  name, access time, modification time, permission and header.

* Natural key, <parent path, name> --> the unique row of one namespace entry.
  Directories carry a zero header.

* Side records, keyed by ino: xattrs, block lists, under-construction clients.

* String table, code --> user or group name, packed into the permission word.

## Layers

* store - the attribute store, one interface over sqlite (zombiezen) and the kv
  engines (rocksdb, etcd, memory). Every call checks out a session from the
  session pool.

* objpool - keyed singleton pools of live inodes. Two handles for one ino
  always share an object, evictions flush dirty objects first.

* writeback - asynchronous flush of dirty attributes, merged per object and
  rate limited.

* subtree - rename, chmod and delete over whole subtrees, rewriting the
  parent path of every descendant in bounded batches and resuming from an
  opaque offset.

* namespace - the facade the file system front-end talks to.

* mount - resolves a client path to the namespace that owns it.

## Building Blocks

* Rocksdb
* etcd
* SQLite
* Prometheus

*/

package namespacedb
