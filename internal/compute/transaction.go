package compute

import "github.com/linux/projects/storage/mini-aurora/internal/types"

// MiniTransaction builds one ordered group of redo records sharing an
// mtr_id. Finish marks only the last record as the CPL; lsn and
// prev_lsn are left zero for the storage engine to assign.
type MiniTransaction struct {
	mtrId   uint64
	records []types.RedoRecord
}

// NewMiniTransaction starts a builder for the MTR identified by mtrId.
func NewMiniTransaction(mtrId uint64) *MiniTransaction {
	return &MiniTransaction{mtrId: mtrId}
}

// Write appends a page write to this MTR.
func (m *MiniTransaction) Write(pageId types.PageId, offset uint16, data []byte) {
	m.records = append(m.records, types.RedoRecord{
		PageId: pageId,
		Offset: offset,
		Data:   data,
		MtrId:  m.mtrId,
	})
}

// Finish marks the last record as the CPL and returns the records. The
// second return value is false for an empty MTR (no records to return).
func (m *MiniTransaction) Finish() ([]types.RedoRecord, bool) {
	if len(m.records) == 0 {
		return nil, false
	}
	m.records[len(m.records)-1].IsMtrEnd = true
	return m.records, true
}

// MtrId returns this MTR's identifier.
func (m *MiniTransaction) MtrId() uint64 {
	return m.mtrId
}

// Len returns the number of writes recorded so far.
func (m *MiniTransaction) Len() int {
	return len(m.records)
}

// IsEmpty reports whether no writes have been recorded yet.
func (m *MiniTransaction) IsEmpty() bool {
	return len(m.records) == 0
}
