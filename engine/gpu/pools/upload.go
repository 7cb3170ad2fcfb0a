package pools

import (
	"fmt"

	"github.com/relic-emu/relic/engine/containers"
	"github.com/relic-emu/relic/engine/core"
	"github.com/relic-emu/relic/engine/gpu"
)

const (
	// DefaultUploadPageSize is large enough for the biggest single constant
	// upload while keeping page turnover low.
	DefaultUploadPageSize = 2 * 1024 * 1024
	// Constant buffer addresses must be 256-byte aligned.
	constantAlignment = 256
)

type uploadPage struct {
	buffer              gpu.Buffer
	lastUsageSubmission uint64
}

// UploadBufferPool hands out suballocations of mapped upload pages. A page
// filled during submission N is recycled only once the completion counter
// has reached its last-use submission.
type UploadBufferPool struct {
	device   gpu.Device
	pageSize uint64

	current *uploadPage
	offset  uint64

	submitted *containers.Deque[*uploadPage]
	recycled  []*uploadPage
	pageCount int
}

var _ gpu.UploadPool = (*UploadBufferPool)(nil)

func NewUploadBufferPool(device gpu.Device, pageSize uint64) *UploadBufferPool {
	if pageSize == 0 {
		pageSize = DefaultUploadPageSize
	}
	return &UploadBufferPool{
		device:    device,
		pageSize:  pageSize,
		submitted: containers.NewDeque[*uploadPage](8),
	}
}

// Request returns a CPU mapping and GPU address of a fresh aligned range of
// size bytes, tagged with the current submission.
func (p *UploadBufferPool) Request(currentSubmission uint64, size uint64) ([]byte, uint64, error) {
	aligned := core.RoundUp(size, uint64(constantAlignment))
	if aligned > p.pageSize {
		err := fmt.Errorf("upload request of %d bytes exceeds the page size of %d", size, p.pageSize)
		core.LogError(err.Error())
		return nil, 0, err
	}

	if p.current != nil && p.offset+aligned > p.pageSize {
		p.submitted.PushBack(p.current)
		p.current = nil
	}

	if p.current == nil {
		page, err := p.acquirePage()
		if err != nil {
			return nil, 0, err
		}
		p.current = page
		p.offset = 0
	}

	p.current.lastUsageSubmission = currentSubmission
	mapping := p.current.buffer.Mapping()[p.offset : p.offset+size]
	address := p.current.buffer.GPUAddress() + p.offset
	p.offset += aligned
	return mapping, address, nil
}

func (p *UploadBufferPool) acquirePage() (*uploadPage, error) {
	if n := len(p.recycled); n > 0 {
		page := p.recycled[n-1]
		p.recycled = p.recycled[:n-1]
		return page, nil
	}
	p.pageCount++
	buffer, err := p.device.CreateBuffer(
		fmt.Sprintf("upload_page_%d", p.pageCount),
		p.pageSize, gpu.HEAP_KIND_UPLOAD, gpu.RESOURCE_STATE_CONSTANT_BUFFER)
	if err != nil {
		core.LogError("failed to create an upload page: %s", err)
		return nil, err
	}
	return &uploadPage{buffer: buffer}, nil
}

// RecycleCompleted returns pages whose last-use submission has completed to
// the free list.
func (p *UploadBufferPool) RecycleCompleted(completedSubmission uint64) {
	for !p.submitted.IsEmpty() {
		page, _ := p.submitted.PeekFront()
		if page.lastUsageSubmission > completedSubmission {
			break
		}
		p.submitted.PopFront()
		p.recycled = append(p.recycled, page)
	}
}

// Reset destroys every page. The caller must have awaited completion of all
// submissions first.
func (p *UploadBufferPool) Reset() {
	if p.current != nil {
		p.current.buffer.Destroy()
		p.current = nil
	}
	p.offset = 0
	for !p.submitted.IsEmpty() {
		page, _ := p.submitted.PopFront()
		page.buffer.Destroy()
	}
	for _, page := range p.recycled {
		page.buffer.Destroy()
	}
	p.recycled = p.recycled[:0]
	p.pageCount = 0
}
