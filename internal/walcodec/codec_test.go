package walcodec

import (
	"bytes"
	"testing"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	record := types.RedoRecord{
		Lsn:      7,
		PageId:   42,
		Offset:   100,
		Data:     []byte{0xAB, 0xCD, 0xEF},
		PrevLsn:  3,
		MtrId:    9,
		IsMtrEnd: true,
	}

	buf := Encode(record)
	if len(buf) != HeaderSize+len(record.Data) {
		t.Fatalf("unexpected encoded length: got %d want %d", len(buf), HeaderSize+len(record.Data))
	}

	h := DecodeHeader(buf[:HeaderSize])
	data := buf[HeaderSize:]

	if !VerifyCrc(h, buf[:HeaderSize], data) {
		t.Fatalf("crc verification failed on freshly encoded record")
	}

	got := ToRecord(h, data)
	if got.Lsn != record.Lsn || got.PageId != record.PageId || got.Offset != record.Offset ||
		got.PrevLsn != record.PrevLsn || got.MtrId != record.MtrId || got.IsMtrEnd != record.IsMtrEnd {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, record)
	}
	if !bytes.Equal(got.Data, record.Data) {
		t.Fatalf("data mismatch: got %v want %v", got.Data, record.Data)
	}
}

func TestCorruptedCrcDetected(t *testing.T) {
	record := types.RedoRecord{Lsn: 1, PageId: 1, Data: []byte{1, 2, 3}, IsMtrEnd: true}
	buf := Encode(record)
	buf[HeaderSize] ^= 0xFF // flip a data byte

	h := DecodeHeader(buf[:HeaderSize])
	data := buf[HeaderSize:]
	if VerifyCrc(h, buf[:HeaderSize], data) {
		t.Fatalf("expected crc mismatch after corrupting data")
	}
}

func TestIsMtrEndFlag(t *testing.T) {
	notEnd := Encode(types.RedoRecord{Lsn: 1, IsMtrEnd: false})
	end := Encode(types.RedoRecord{Lsn: 1, IsMtrEnd: true})

	if DecodeHeader(notEnd[:HeaderSize]).IsMtrEnd() {
		t.Fatalf("expected is_mtr_end false")
	}
	if !DecodeHeader(end[:HeaderSize]).IsMtrEnd() {
		t.Fatalf("expected is_mtr_end true")
	}
}
