package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
)

const gradixVersion = "0.3.0"

// Writer writes .grdx checkpoint files.
type Writer struct {
	file   *os.File
	closed bool
}

// NewWriter creates a .grdx file writer.
func NewWriter(path string) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &Writer{file: file}, nil
}

// WriteItems writes the items with optional custom metadata. Each tensor's
// payload offset is aligned to DataAlignment so memory-mapped readers can
// hand out properly aligned element slices.
func (w *Writer) WriteItems(items []Item, metadata map[string]string) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	return writeItems(w.file, items, metadata)
}

// Close closes the writer and the underlying file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// SaveItems writes the items to a new .grdx file.
func SaveItems(path string, items []Item) error {
	w, err := NewWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteItems(items, nil); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// WriteTo writes the items to an arbitrary io.Writer, for buffers or
// network connections.
func WriteTo(writer io.Writer, items []Item, metadata map[string]string) error {
	return writeItems(writer, items, metadata)
}

func writeItems(writer io.Writer, items []Item, metadata map[string]string) error {
	header := Header{
		FormatVersion:  FormatVersion,
		ToolkitVersion: gradixVersion,
		FileID:         uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
		Tensors:        make([]TensorMeta, 0, len(items)),
		Metadata:       metadata,
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	// Lay out the payload: every tensor starts on an aligned offset.
	var currentOffset int64
	for i := range items {
		it := &items[i]
		currentOffset = align(currentOffset)
		size := int64(len(it.Data))
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   it.Name,
			DType:  dtypeToString(it.DType),
			Shape:  []int(it.Shape),
			Offset: currentOffset,
			Size:   size,
		})
		currentOffset += size
	}

	payload := make([]byte, currentOffset)
	for i := range items {
		meta := header.Tensors[i]
		copy(payload[meta.Offset:meta.Offset+meta.Size], items[i].Data)
	}
	checksum := ComputeChecksum(payload)

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	headerSize := uint64(len(headerJSON))

	fixedHeader := make([]byte, FixedHeaderSize)
	copy(fixedHeader[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixedHeader[4:8], uint32(FormatVersion))
	flags := uint32(0)
	if len(metadata) > 0 {
		flags |= FlagHasMetadata
	}
	binary.LittleEndian.PutUint32(fixedHeader[8:12], flags)
	// 0x0C-0x0F reserved
	binary.LittleEndian.PutUint64(fixedHeader[16:24], headerSize)
	binary.LittleEndian.PutUint64(fixedHeader[24:32], uint64(len(payload)))
	copy(fixedHeader[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	if _, err := writer.Write(fixedHeader); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := writer.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header JSON: %w", err)
	}

	currentPos := int64(FixedHeaderSize) + int64(headerSize)
	if padding := align(currentPos) - currentPos; padding > 0 {
		if _, err := writer.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}

	if _, err := writer.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

func align(off int64) int64 {
	return (off + DataAlignment - 1) / DataAlignment * DataAlignment
}
