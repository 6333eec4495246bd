// Package walstore implements the append-only byte log beneath the WAL
// codec: a single-file variant and a segmented, hot/cold-tiered variant
// with a JSON manifest.
package walstore

import (
	"bufio"
	"io"
	"os"
	"sync"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
	"github.com/linux/projects/storage/mini-aurora/internal/walcodec"
)

// SingleFileStore is an append-only WAL backed by one file, opened
// create-or-append. Appends are buffered; durability is only guaranteed
// after an explicit Sync.
type SingleFileStore struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// OpenSingleFile opens (creating if necessary) a single-file WAL at path.
func OpenSingleFile(path string) (*SingleFileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &types.IoError{Err: err}
	}
	return &SingleFileStore{file: f, writer: bufio.NewWriter(f)}, nil
}

// Append writes one record and flushes the buffer (but does not fsync —
// call Sync for durability).
func (s *SingleFileStore) Append(record types.RedoRecord) error {
	return s.AppendBatch([]types.RedoRecord{record})
}

// AppendBatch writes a batch of records and flushes once.
func (s *SingleFileStore) AppendBatch(records []types.RedoRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if _, err := s.writer.Write(walcodec.Encode(r)); err != nil {
			return &types.IoError{Err: err}
		}
	}
	if err := s.writer.Flush(); err != nil {
		return &types.IoError{Err: err}
	}
	return nil
}

// Sync fsyncs the underlying file so preceding appends are durable.
func (s *SingleFileStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		return &types.IoError{Err: err}
	}
	if err := s.file.Sync(); err != nil {
		return &types.IoError{Err: err}
	}
	return nil
}

// Size returns the current on-disk size of the WAL file.
func (s *SingleFileStore) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.file.Stat()
	if err != nil {
		return 0, &types.IoError{Err: err}
	}
	return info.Size(), nil
}

// DecodedEntry is one successfully decoded record plus the byte offset it
// starts at.
type DecodedEntry struct {
	Header     walcodec.Header
	Data       []byte
	FileOffset int64
}

// ReadAt decodes a single record starting at the given byte offset. It
// returns (entry, true, nil) on success, (zero, false, nil) on a clean
// EOF, and (zero, false, err) on corruption (CRC mismatch) or I/O error.
func (s *SingleFileStore) ReadAt(offset int64) (DecodedEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readEntryAt(s.file, offset)
}

// ScanAll decodes every record from the start of the file, stopping at
// the first terminator (clean EOF or corruption). It does not return an
// error for a trailing short/corrupt record — by construction, nothing
// beyond the first terminator is trusted.
func (s *SingleFileStore) ScanAll() ([]DecodedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []DecodedEntry
	var offset int64
	for {
		entry, ok, err := readEntryAt(s.file, offset)
		if err != nil {
			// I/O errors scanning are fatal; CRC corruption just stops the scan.
			if _, isCorrupt := err.(*types.CorruptionError); isCorrupt {
				break
			}
			return nil, err
		}
		if !ok {
			break
		}
		entries = append(entries, entry)
		offset = entry.FileOffset + int64(walcodec.HeaderSize) + int64(len(entry.Data))
	}
	return entries, nil
}

// Truncate shrinks the WAL file to the given length.
func (s *SingleFileStore) Truncate(length int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.file.Truncate(length); err != nil {
		return &types.IoError{Err: err}
	}
	// Re-seat the append offset at the new end of file.
	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return &types.IoError{Err: err}
	}
	s.writer.Reset(s.file)
	return nil
}

// Close releases the underlying file handle.
func (s *SingleFileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// readEntryAt reads and decodes one record at the given offset of f
// without touching any shared buffered-writer state.
func readEntryAt(f *os.File, offset int64) (DecodedEntry, bool, error) {
	headerBuf := make([]byte, walcodec.HeaderSize)
	n, err := f.ReadAt(headerBuf, offset)
	if err != nil && err != io.EOF {
		return DecodedEntry{}, false, &types.IoError{Err: err}
	}
	if n < walcodec.HeaderSize {
		// Short read of the header: EOF or a torn trailing write.
		return DecodedEntry{}, false, nil
	}

	h := walcodec.DecodeHeader(headerBuf)
	data := make([]byte, h.DataLen)
	if h.DataLen > 0 {
		n, err := f.ReadAt(data, offset+int64(walcodec.HeaderSize))
		if err != nil && err != io.EOF {
			return DecodedEntry{}, false, &types.IoError{Err: err}
		}
		if n < int(h.DataLen) {
			return DecodedEntry{}, false, nil
		}
	}

	if !walcodec.VerifyCrc(h, headerBuf, data) {
		return DecodedEntry{}, false, &types.CorruptionError{Message: "crc mismatch"}
	}

	return DecodedEntry{Header: h, Data: data, FileOffset: offset}, true, nil
}
