package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gradix-ml/gradix/internal/tensor"
)

// Reader reads .grdx checkpoint files eagerly.
type Reader struct {
	file       *os.File
	header     Header
	flags      uint32
	version    uint32
	dataOffset int64
	dataSize   int64
	checksum   [32]byte
	opts       ReaderOptions
	closed     bool
}

// ReaderOptions configures Reader behavior.
type ReaderOptions struct {
	SkipChecksumValidation bool
}

// NewReader opens a .grdx file and validates its checksum.
func NewReader(path string) (*Reader, error) {
	return NewReaderWithOptions(path, ReaderOptions{})
}

// NewReaderWithOptions opens a .grdx file with custom options.
func NewReaderWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	r := &Reader{file: file, opts: opts}
	if err := r.parseHeader(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	return r, nil
}

func (r *Reader) parseHeader() error {
	fixedHeader := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r.file, fixedHeader); err != nil {
		return fmt.Errorf("failed to read fixed header: %w", err)
	}

	if string(fixedHeader[0:4]) != MagicBytes {
		return ErrInvalidMagic
	}
	r.version = binary.LittleEndian.Uint32(fixedHeader[4:8])
	if r.version != FormatVersion {
		return fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, r.version, FormatVersion)
	}
	r.flags = binary.LittleEndian.Uint32(fixedHeader[8:12])
	headerSize := binary.LittleEndian.Uint64(fixedHeader[16:24])
	r.dataSize = int64(binary.LittleEndian.Uint64(fixedHeader[24:32]))
	copy(r.checksum[:], fixedHeader[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r.file, headerBytes); err != nil {
		return fmt.Errorf("failed to read header JSON: %w", err)
	}
	if err := json.Unmarshal(headerBytes, &r.header); err != nil {
		return fmt.Errorf("failed to parse header JSON: %w", err)
	}
	if err := ValidateHeader(&r.header, r.dataSize); err != nil {
		return err
	}

	r.dataOffset = align(int64(FixedHeaderSize) + int64(headerSize))

	if !r.opts.SkipChecksumValidation {
		payload := make([]byte, r.dataSize)
		if _, err := r.file.Seek(r.dataOffset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to payload: %w", err)
		}
		if _, err := io.ReadFull(r.file, payload); err != nil {
			return fmt.Errorf("failed to read payload for checksum: %w", err)
		}
		if err := ValidateChecksum(ComputeChecksum(payload), r.checksum); err != nil {
			return err
		}
	}
	return nil
}

// Header returns the file header.
func (r *Reader) Header() Header { return r.header }

// Metadata returns the custom metadata map.
func (r *Reader) Metadata() map[string]string { return r.header.Metadata }

// TensorNames lists all tensor names in the file.
func (r *Reader) TensorNames() []string {
	names := make([]string, len(r.header.Tensors))
	for i, meta := range r.header.Tensors {
		names[i] = meta.Name
	}
	return names
}

// TensorInfo returns the metadata of a named tensor.
func (r *Reader) TensorInfo(name string) (*TensorMeta, error) {
	for i := range r.header.Tensors {
		if r.header.Tensors[i].Name == name {
			return &r.header.Tensors[i], nil
		}
	}
	return nil, fmt.Errorf("tensor %q not found", name)
}

// ReadItem reads one named tensor into a fresh item.
func (r *Reader) ReadItem(name string) (*Item, error) {
	if r.closed {
		return nil, fmt.Errorf("reader is closed")
	}
	meta, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	return r.readItem(meta)
}

func (r *Reader) readItem(meta *TensorMeta) (*Item, error) {
	dtype, ok := stringToDtype(meta.DType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDType, meta.DType)
	}
	shape := tensor.Shape(meta.Shape)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape for tensor %s: %w", meta.Name, err)
	}
	if meta.Offset < 0 || meta.Offset+meta.Size > r.dataSize {
		return nil, fmt.Errorf("%w: tensor %q", ErrOutOfBounds, meta.Name)
	}

	if _, err := r.file.Seek(r.dataOffset+meta.Offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to tensor data: %w", err)
	}
	data := make([]byte, meta.Size)
	if _, err := io.ReadFull(r.file, data); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}

	return &Item{
		Name:  meta.Name,
		Shape: shape.Clone(),
		DType: dtype,
		Data:  data,
	}, nil
}

// ReadItems reads all tensors in header order.
func (r *Reader) ReadItems() ([]Item, error) {
	if r.closed {
		return nil, fmt.Errorf("reader is closed")
	}
	items := make([]Item, 0, len(r.header.Tensors))
	for i := range r.header.Tensors {
		it, err := r.readItem(&r.header.Tensors[i])
		if err != nil {
			return nil, fmt.Errorf("failed to load tensor %s: %w", r.header.Tensors[i].Name, err)
		}
		items = append(items, *it)
	}
	return items, nil
}

// Close closes the reader and the underlying file.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// LoadItems reads all tensors from a .grdx file.
func LoadItems(path string) ([]Item, error) {
	r, err := NewReader(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return r.ReadItems()
}
