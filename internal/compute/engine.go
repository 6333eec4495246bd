package compute

import (
	"context"
	"sync"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
)

// ComputeEngine is the "SQL layer" in the disaggregated architecture: it
// generates redo records and forwards them to the storage tier, and
// maintains a local buffer pool for read caching. It talks to storage
// through the types.StorageApi interface, so swapping an in-process
// *storageengine.Engine for an RPC client needs no change here.
type ComputeEngine struct {
	storage types.StorageApi

	mu         sync.Mutex
	bufferPool *BufferPool
	nextMtrId  uint64
	readPoint  types.Lsn
}

// NewComputeEngine wires a compute engine against a storage backend,
// with a buffer pool holding up to bufferPoolCapacity pages.
func NewComputeEngine(storage types.StorageApi, bufferPoolCapacity int) *ComputeEngine {
	return &ComputeEngine{
		storage:    storage,
		bufferPool: NewBufferPool(bufferPoolCapacity),
		nextMtrId:  1,
		readPoint:  0,
	}
}

// Put writes data to pageId at offset as a single-record MTR and returns
// the resulting VDL.
func (c *ComputeEngine) Put(ctx context.Context, pageId types.PageId, offset uint16, data []byte) (types.Lsn, error) {
	if int(offset)+len(data) > types.PageSize {
		return 0, &types.PageOverflowError{Offset: offset, Len: len(data)}
	}

	mtrId := c.nextMtrIdLocked()

	mtr := NewMiniTransaction(mtrId)
	mtr.Write(pageId, offset, data)
	records, _ := mtr.Finish() // a single write is never empty

	vdl, err := c.storage.AppendRedo(ctx, records)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.readPoint = vdl
	c.bufferPool.Invalidate(pageId)
	c.mu.Unlock()

	return vdl, nil
}

// Write describes one page write within a PutMulti call.
type Write struct {
	PageId types.PageId
	Offset uint16
	Data   []byte
}

// PutMulti executes a multi-record mini-transaction atomically: all
// writes share one mtr_id, and only the last is the CPL.
func (c *ComputeEngine) PutMulti(ctx context.Context, writes []Write) (types.Lsn, error) {
	for _, w := range writes {
		if int(w.Offset)+len(w.Data) > types.PageSize {
			return 0, &types.PageOverflowError{Offset: w.Offset, Len: len(w.Data)}
		}
	}

	mtrId := c.nextMtrIdLocked()

	mtr := NewMiniTransaction(mtrId)
	for _, w := range writes {
		mtr.Write(w.PageId, w.Offset, w.Data)
	}

	records, ok := mtr.Finish()
	if !ok {
		c.mu.Lock()
		rp := c.readPoint
		c.mu.Unlock()
		return rp, nil
	}

	vdl, err := c.storage.AppendRedo(ctx, records)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.readPoint = vdl
	for _, w := range writes {
		c.bufferPool.Invalidate(w.PageId)
	}
	c.mu.Unlock()

	return vdl, nil
}

// Get reads pageId as of this engine's current read point.
func (c *ComputeEngine) Get(ctx context.Context, pageId types.PageId) (types.Page, error) {
	c.mu.Lock()
	readPoint := c.readPoint
	c.mu.Unlock()
	return c.GetAt(ctx, pageId, readPoint)
}

// GetAt reads pageId as of a specific LSN, consulting the local buffer
// pool before falling back to storage.
func (c *ComputeEngine) GetAt(ctx context.Context, pageId types.PageId, lsn types.Lsn) (types.Page, error) {
	if page, ok := c.bufferPool.Get(pageId, lsn); ok {
		return page, nil
	}

	page, err := c.storage.GetPage(ctx, pageId, lsn)
	if err != nil {
		return types.Page{}, err
	}

	c.bufferPool.Insert(pageId, lsn, page)
	return page, nil
}

// ReadPoint returns the read point this compute node currently
// observes (the VDL as of the last write or RefreshReadPoint call).
func (c *ComputeEngine) ReadPoint() types.Lsn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readPoint
}

// RefreshReadPoint re-synchronizes the local read point against
// storage's current durability state, for compute nodes that aren't
// the one performing writes (e.g. a read replica).
func (c *ComputeEngine) RefreshReadPoint(ctx context.Context) (types.Lsn, error) {
	state, err := c.storage.GetDurabilityState(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.readPoint = state.Vdl
	c.mu.Unlock()

	return state.Vdl, nil
}

func (c *ComputeEngine) nextMtrIdLocked() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextMtrId
	c.nextMtrId++
	return id
}
