// Package serialization implements the .grdx checkpoint container.
//
// A .grdx file is a 64-byte fixed header (magic, version, flags, sizes and a
// SHA-256 checksum of the payload), a JSON header describing the stored
// tensors, and a 64-byte-aligned payload section. Tensors are addressed by
// name; values can be stored in a narrower element type than they are
// computed in (float16 on disk, float32 in memory) and are converted on
// load.
//
// Files can be read eagerly (LoadItems) or memory-mapped (MmapItems), in
// which case item data aliases the mapped region and stays read-only.
package serialization
