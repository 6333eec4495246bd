// Package types holds the shared vocabulary of the storage engine: log
// sequence numbers, pages, redo records, durability watermarks, and the
// typed error taxonomy that crosses the compute/storage boundary.
package types

import "context"

// Lsn is a monotonic, 1-based log sequence number. 0 is the sentinel
// meaning "no such record."
type Lsn uint64

// PageId identifies a logical page. Pages are never stored directly; they
// are computed by replaying the redo records that target them.
type PageId uint64

// PageSize is the fixed size of a materialized page, in bytes.
const PageSize = 8192

// Page is a materialized 8 KiB page image.
type Page [PageSize]byte

// RedoRecord is the fundamental unit of durable change: "write data at
// offset of page_id."
type RedoRecord struct {
	Lsn      Lsn    // assigned by the storage engine on append; 0 before assignment
	PageId   PageId // the page this record modifies
	Offset   uint16 // byte offset within the page
	Data     []byte // payload written at Offset; Offset+len(Data) <= PageSize
	PrevLsn  Lsn    // LSN of the previous record touching the same page; 0 if first
	MtrId    uint64 // mini-transaction group identifier
	IsMtrEnd bool   // true iff this record is the CPL of its MTR
}

// DurabilityState is a snapshot of the two watermarks that define what is
// durable (VCL) and what is visible to readers (VDL).
type DurabilityState struct {
	Vcl Lsn // Volume Complete LSN: largest N with every LSN in 1..=N present and valid
	Vdl Lsn // Volume Durable LSN: largest CPL <= VCL
}

// StorageApi is the public storage contract consumed by the compute engine
// and by any external caller. Implementations (single-file or segmented
// WAL store, both behind a StorageEngine) are interchangeable behind it.
type StorageApi interface {
	AppendRedo(ctx context.Context, records []RedoRecord) (Lsn, error)
	GetPage(ctx context.Context, pageId PageId, readPoint Lsn) (Page, error)
	GetDurabilityState(ctx context.Context) (DurabilityState, error)
}

// EmptyPage returns a zeroed page image.
func EmptyPage() Page {
	return Page{}
}
