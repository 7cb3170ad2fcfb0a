package pools

import (
	"fmt"

	"github.com/relic-emu/relic/engine/containers"
	"github.com/relic-emu/relic/engine/core"
	"github.com/relic-emu/relic/engine/gpu"
)

// DefaultViewHeapCapacity and DefaultSamplerHeapCapacity size the heap
// pages. Sampler heaps are much smaller by host API limits.
const (
	DefaultViewHeapCapacity    = 32768
	DefaultSamplerHeapCapacity = 2048
)

type retiredHeap struct {
	heap                gpu.DescriptorHeap
	lastUsageSubmission uint64
}

// DescriptorHeapPool hands out contiguous descriptor ranges from
// fixed-capacity heap pages, implementing the partial/full update contract:
// the caller's previous page is extended in place when the partial count
// fits, and a new range for the full count is granted otherwise. Page
// indices grow monotonically, so a returned index equal to the caller's
// previous one always means "same heap, no rebind".
type DescriptorHeapPool struct {
	device       gpu.Device
	kind         gpu.DescriptorHeapKind
	pageCapacity uint32

	currentHeap gpu.DescriptorHeap
	currentPage uint64
	offset      uint32
	pageUsed    uint64 // last submission that wrote into the current page

	submitted *containers.Deque[retiredHeap]
	recycled  []gpu.DescriptorHeap
}

var _ gpu.DescriptorPagePool = (*DescriptorHeapPool)(nil)

func NewDescriptorHeapPool(device gpu.Device, kind gpu.DescriptorHeapKind, pageCapacity uint32) *DescriptorHeapPool {
	return &DescriptorHeapPool{
		device:       device,
		kind:         kind,
		pageCapacity: pageCapacity,
		submitted:    containers.NewDeque[retiredHeap](4),
	}
}

func (p *DescriptorHeapPool) Request(currentSubmission, previousPage uint64, countForPartial, countForFull uint32) (uint64, gpu.DescriptorHeap, gpu.CPUDescriptorHandle, gpu.GPUDescriptorHandle, error) {
	if countForPartial > countForFull {
		err := fmt.Errorf("descriptor request with partial count %d above full count %d", countForPartial, countForFull)
		core.LogError(err.Error())
		return gpu.PageInvalid, nil, 0, 0, err
	}
	if countForFull > p.pageCapacity {
		err := fmt.Errorf("descriptor request for %d descriptors exceeds the page capacity of %d", countForFull, p.pageCapacity)
		core.LogError(err.Error())
		return gpu.PageInvalid, nil, 0, 0, err
	}

	// Keep the current page if the caller can extend its previous range,
	// otherwise a full update is needed, on a new page if the full count
	// does not fit either.
	count := countForFull
	if p.currentHeap != nil && previousPage == p.currentPage {
		count = countForPartial
	}
	if p.currentHeap == nil || p.pageCapacity-p.offset < count {
		if err := p.nextPage(); err != nil {
			return gpu.PageInvalid, nil, 0, 0, err
		}
		count = countForFull
	}

	index := p.offset
	p.offset += count
	p.pageUsed = currentSubmission
	return p.currentPage, p.currentHeap, p.currentHeap.CPUHandle(index), p.currentHeap.GPUHandle(index), nil
}

func (p *DescriptorHeapPool) nextPage() error {
	if p.currentHeap != nil {
		p.submitted.PushBack(retiredHeap{heap: p.currentHeap, lastUsageSubmission: p.pageUsed})
		p.currentHeap = nil
		p.currentPage++
	}
	if n := len(p.recycled); n > 0 {
		p.currentHeap = p.recycled[n-1]
		p.recycled = p.recycled[:n-1]
	} else {
		heap, err := p.device.CreateDescriptorHeap(p.kind, p.pageCapacity)
		if err != nil {
			core.LogError("failed to create a descriptor heap page: %s", err)
			return err
		}
		p.currentHeap = heap
	}
	p.offset = 0
	return nil
}

// RecycleCompleted returns retired heaps whose last-use submission has
// completed to the free list.
func (p *DescriptorHeapPool) RecycleCompleted(completedSubmission uint64) {
	for !p.submitted.IsEmpty() {
		entry, _ := p.submitted.PeekFront()
		if entry.lastUsageSubmission > completedSubmission {
			break
		}
		p.submitted.PopFront()
		p.recycled = append(p.recycled, entry.heap)
	}
}

// Reset destroys every heap. The caller must have awaited completion of all
// submissions first.
func (p *DescriptorHeapPool) Reset() {
	if p.currentHeap != nil {
		p.currentHeap.Destroy()
		p.currentHeap = nil
	}
	p.offset = 0
	for !p.submitted.IsEmpty() {
		entry, _ := p.submitted.PopFront()
		entry.heap.Destroy()
	}
	for _, heap := range p.recycled {
		heap.Destroy()
	}
	p.recycled = p.recycled[:0]
}
