package storageengine

import (
	"github.com/linux/projects/storage/mini-aurora/internal/types"
)

// materialize replays records (oldest-first) onto a zeroed page. Within
// a chain, later LSNs win at overlapping offsets because their writes
// run last.
func materialize(pageId types.PageId, records []types.RedoRecord) (types.Page, error) {
	page := types.EmptyPage()
	for _, r := range records {
		start := int(r.Offset)
		end := start + len(r.Data)
		if end > types.PageSize {
			return types.Page{}, &types.PageOverflowError{Offset: r.Offset, Len: len(r.Data)}
		}
		copy(page[start:end], r.Data)
	}
	return page, nil
}
