// Package fdata provides lazy, cache-backed file-data virtualization for
// forensic and file-format parsers: a Stream presents an ordered sequence
// of physical byte ranges as one logical, randomly-addressable view, and a
// Tree lazily traverses an on-disk B-tree, reading only the nodes a given
// operation actually needs.
//
// The package never performs I/O itself. Every byte read, write, or node
// decode is delegated to caller-supplied callbacks; fdata supplies
// structure, caching, and the invariants around both.
package fdata
