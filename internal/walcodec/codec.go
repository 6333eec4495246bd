// Package walcodec encodes and decodes the on-disk WAL record format: a
// fixed 41-byte header followed by a variable-length payload, protected by
// a CRC32 checksum.
package walcodec

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
)

// HeaderSize is the fixed size of the on-disk record header, in bytes.
const HeaderSize = 41

const flagMtrEnd = 1 << 0

// Header is the decoded fixed-size portion of a WAL record.
type Header struct {
	Lsn     types.Lsn
	PageId  types.PageId
	Offset  uint16
	DataLen uint16
	PrevLsn types.Lsn
	MtrId   uint64
	Flags   uint8
	Crc     uint32
}

// IsMtrEnd reports whether this header's record is the CPL of its MTR.
func (h Header) IsMtrEnd() bool {
	return h.Flags&flagMtrEnd != 0
}

// Encode serializes a record into header bytes (with the CRC field
// filled in) followed by its data. The returned slice is ready to write
// to disk as-is.
func Encode(record types.RedoRecord) []byte {
	buf := make([]byte, HeaderSize+len(record.Data))
	encodeHeader(buf[:HeaderSize], record, 0)
	crc := crc32.ChecksumIEEE(buf[:HeaderSize-4])
	crc = crc32.Update(crc, crc32.IEEETable, record.Data)
	binary.LittleEndian.PutUint32(buf[HeaderSize-4:HeaderSize], crc)
	copy(buf[HeaderSize:], record.Data)
	return buf
}

// encodeHeader writes the header fields (lsn..flags) into buf and the
// given crc into the trailing 4 bytes. Encode passes 0 and afterwards
// writes the real CRC over those bytes itself.
func encodeHeader(buf []byte, record types.RedoRecord, crc uint32) {
	flags := uint8(0)
	if record.IsMtrEnd {
		flags = flagMtrEnd
	}
	binary.LittleEndian.PutUint64(buf[0:8], uint64(record.Lsn))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(record.PageId))
	binary.LittleEndian.PutUint16(buf[16:18], record.Offset)
	binary.LittleEndian.PutUint16(buf[18:20], uint16(len(record.Data)))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(record.PrevLsn))
	binary.LittleEndian.PutUint64(buf[28:36], record.MtrId)
	buf[36] = flags
	binary.LittleEndian.PutUint32(buf[37:41], crc)
}

// DecodeHeader parses a HeaderSize-byte slice into a Header.
func DecodeHeader(buf []byte) Header {
	return Header{
		Lsn:     types.Lsn(binary.LittleEndian.Uint64(buf[0:8])),
		PageId:  types.PageId(binary.LittleEndian.Uint64(buf[8:16])),
		Offset:  binary.LittleEndian.Uint16(buf[16:18]),
		DataLen: binary.LittleEndian.Uint16(buf[18:20]),
		PrevLsn: types.Lsn(binary.LittleEndian.Uint64(buf[20:28])),
		MtrId:   binary.LittleEndian.Uint64(buf[28:36]),
		Flags:   buf[36],
		Crc:     binary.LittleEndian.Uint32(buf[37:41]),
	}
}

// VerifyCrc checks a decoded header's CRC against the header bytes
// (with the CRC field zeroed) and the data.
func VerifyCrc(h Header, headerBytes []byte, data []byte) bool {
	crc := crc32.ChecksumIEEE(headerBytes[:HeaderSize-4])
	crc = crc32.Update(crc, crc32.IEEETable, data)
	return crc == h.Crc
}

// ToRecord reassembles a RedoRecord from a decoded header and its data.
func ToRecord(h Header, data []byte) types.RedoRecord {
	return types.RedoRecord{
		Lsn:      h.Lsn,
		PageId:   h.PageId,
		Offset:   h.Offset,
		Data:     data,
		PrevLsn:  h.PrevLsn,
		MtrId:    h.MtrId,
		IsMtrEnd: h.IsMtrEnd(),
	}
}
