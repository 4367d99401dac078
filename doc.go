/*
Package rockyardkv implements an embedded, ordered key-value store built
on a log-structured merge tree.

Writes land in a write-ahead log and a mutable memory table; once a
memory table fills, it rotates to immutable and flushes to a sorted
table file at level 0. A background worker compacts overlapping files
down through a leveled hierarchy, bounding the number of files a read
has to check and reclaiming space occupied by overwritten or deleted
keys. Keys are partitioned into independent column families, each with
its own memory tables and file levels but sharing one write-ahead log,
manifest, and background worker.

# Usage

Open a database with Open, write with Put/Delete/Write, and read with
Get/NewIterator. A Snapshot pins a read to the sequence number at the
time it was taken, so a long-running scan sees a consistent view even
as later writes land.

# Concurrency

A DB is safe for concurrent use by multiple goroutines. An individual
Iterator is not: each goroutine scanning a partition should open its
own.

# Layout

A database directory holds one write-ahead log, one or more numbered
MANIFEST files plus a CURRENT file naming the active one, and the
partitions' numbered sorted table files. Checkpoint produces an
independently openable copy of this layout, sharing table file bytes
with the source via hard link where possible.
*/
package rockyardkv
