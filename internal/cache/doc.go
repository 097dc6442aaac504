/*
Package cache provides the two cache levels that sit in front of the network.

# Cache Architecture

	┌─────────────────────────────────────────────┐
	│              Loader                         │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│  MemoryCache (decoded pictures, KB weight)  │
	└─────────────────────────────────────────────┘
	                      │ miss
	┌─────────────────────────────────────────────┐
	│  DiskCache (raw bytes, journal, LRU)        │
	└─────────────────────────────────────────────┘
	                      │ miss
	                   network

# MemoryCache

A mutex-guarded map plus recency list. Every value carries a weight computed
once on insert; after each insert the least recently used entries are evicted
until the summed weight fits the capacity. Put never replaces an existing
value, so concurrent workers that decode the same picture keep the first one.

# DiskCache

One data file per committed key (<key>.0) and an append-only journal:

	libcore.io.DiskLruCache
	1
	<app version>
	1

	DIRTY <key>
	CLEAN <key> <bytes>
	READ <key>
	REMOVE <key>

Edit hands out a single Editor per key; a second Edit for the same key fails
with DISK_WRITE_BUSY. The editor writes <key>.0.tmp and Commit renames it over
<key>.0, so readers observe either the previous value or the new one. On open,
a DIRTY record without a matching CLEAN or REMOVE marks an edit interrupted by
a crash and its files are deleted. A journal whose header does not match is
treated as foreign and the directory is wiped.

The journal is rewritten through journal.tmp once redundant records pile up;
journal.bkp holds the previous copy while the swap is in progress.

The cache is only opened when the directory has more free space than its
capacity. Callers treat DISK_UNAVAILABLE as "run without persistence".
*/
package cache
