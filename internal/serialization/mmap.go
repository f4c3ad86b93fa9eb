package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"

	"github.com/gradix-ml/gradix/internal/tensor"
)

// MmapReader provides memory-mapped access to .grdx files. Only the header
// is parsed up front; tensor bytes are served straight from the mapping via
// the OS page cache.
type MmapReader struct {
	file       *os.File
	data       []byte // mapped region, read-only
	size       int64
	header     Header
	version    uint32
	flags      uint32
	dataOffset int64
	dataSize   int64
	checksum   [32]byte
	closed     bool
}

// NewMmapReader maps a .grdx file read-only. Call Close to unmap; item data
// handed out before that becomes invalid afterwards.
func NewMmapReader(path string) (*MmapReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	data, err := mmapFile(file, stat.Size())
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	r := &MmapReader{file: file, data: data, size: stat.Size()}
	if err := r.parseHeader(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	return r, nil
}

func (r *MmapReader) parseHeader() error {
	if r.size < FixedHeaderSize {
		return fmt.Errorf("file too small: %d bytes (minimum %d required)", r.size, FixedHeaderSize)
	}

	if string(r.data[0:4]) != MagicBytes {
		return ErrInvalidMagic
	}
	r.version = binary.LittleEndian.Uint32(r.data[4:8])
	if r.version != FormatVersion {
		return fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, r.version, FormatVersion)
	}
	r.flags = binary.LittleEndian.Uint32(r.data[8:12])
	headerSize := binary.LittleEndian.Uint64(r.data[16:24])
	r.dataSize = int64(binary.LittleEndian.Uint64(r.data[24:32]))
	copy(r.checksum[:], r.data[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return ErrHeaderTooLarge
	}
	headerEnd := int64(FixedHeaderSize) + int64(headerSize)
	if headerEnd > r.size {
		return fmt.Errorf("header extends beyond file: header_end=%d, file_size=%d", headerEnd, r.size)
	}

	if err := json.Unmarshal(r.data[FixedHeaderSize:headerEnd], &r.header); err != nil {
		return fmt.Errorf("failed to parse header JSON: %w", err)
	}
	if err := ValidateHeader(&r.header, r.dataSize); err != nil {
		return err
	}

	r.dataOffset = align(headerEnd)
	if r.dataOffset+r.dataSize > r.size {
		return fmt.Errorf("payload extends beyond file: end=%d, file_size=%d", r.dataOffset+r.dataSize, r.size)
	}

	return ValidateChecksum(ComputeChecksum(r.data[r.dataOffset:r.dataOffset+r.dataSize]), r.checksum)
}

// Header returns the file header.
func (r *MmapReader) Header() Header { return r.header }

// Checksum returns the stored SHA-256 checksum.
func (r *MmapReader) Checksum() [32]byte { return r.checksum }

// TensorData returns a zero-copy slice into the mapping. The slice is
// read-only and valid only while the reader is open.
func (r *MmapReader) TensorData(name string) ([]byte, error) {
	if r.closed {
		return nil, fmt.Errorf("reader is closed")
	}
	for i := range r.header.Tensors {
		meta := &r.header.Tensors[i]
		if meta.Name != name {
			continue
		}
		start := r.dataOffset + meta.Offset
		end := start + meta.Size
		if meta.Offset < 0 || end > r.size {
			return nil, fmt.Errorf("%w: tensor %q", ErrOutOfBounds, name)
		}
		return r.data[start:end], nil
	}
	return nil, fmt.Errorf("tensor %q not found", name)
}

// ReadItems returns all tensors as items whose Data aliases the mapping.
func (r *MmapReader) ReadItems() ([]Item, error) {
	if r.closed {
		return nil, fmt.Errorf("reader is closed")
	}
	items := make([]Item, 0, len(r.header.Tensors))
	for i := range r.header.Tensors {
		meta := &r.header.Tensors[i]
		dtype, ok := stringToDtype(meta.DType)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, meta.DType)
		}
		shape := tensor.Shape(meta.Shape)
		if err := shape.Validate(); err != nil {
			return nil, fmt.Errorf("invalid shape for tensor %s: %w", meta.Name, err)
		}
		data, err := r.TensorData(meta.Name)
		if err != nil {
			return nil, err
		}
		items = append(items, Item{
			Name:   meta.Name,
			Shape:  shape.Clone(),
			DType:  dtype,
			Data:   data,
			Mapped: true,
		})
	}
	return items, nil
}

// Close unmaps and closes the file.
func (r *MmapReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.data != nil {
		err = munmapFile(r.data)
		r.data = nil
	}
	if closeErr := r.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// MmapItems maps a .grdx file and returns its tensors as items aliasing the
// mapping. The mapping is kept open for the life of the process; callers
// that need to unmap should use MmapReader directly.
func MmapItems(path string) ([]Item, error) {
	r, err := NewMmapReader(path)
	if err != nil {
		return nil, err
	}
	return r.ReadItems()
}
