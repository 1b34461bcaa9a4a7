// Package filesystem implements a durable store.Storage with one file per key.
//
// Layout:
//
//	<Dir>/<sha256-hex(key)>.json.gz    gzip-compressed JSON of store.Entry
//
// Keys are hashed, so any string is a valid key and every filename has the
// same length. Writes go to a unique temporary file in Dir and are renamed
// into place; readers therefore see either the previous file or the new one,
// never a partial write. A file that fails to decompress or parse is treated
// as absent and removed.
//
// Locking: reads that find a live entry never take the store lock. Expiry
// deletes (double-checked under the lock), Set, Delete, Clear and the
// per-entry part of Size are serialized by one FIFO lock per Store. Two
// Stores on the same directory do not share a lock; between them, and
// between processes, only the atomicity of rename applies (last writer wins).
//
// Hooks: SelfHeal from Get reports the caller's key. SelfHeal from Size
// reports the filename stem, since a hash cannot be mapped back to its key.
// All hooks run after the lock is released.
//
// Dir is created on the first write. No explicit initialization step exists.
package filesystem
