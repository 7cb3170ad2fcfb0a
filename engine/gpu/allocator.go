package gpu

import (
	"github.com/relic-emu/relic/engine/containers"
	"github.com/relic-emu/relic/engine/core"
)

type commandAllocatorEntry struct {
	allocator           CommandAllocator
	lastUsageSubmission uint64
}

// CommandAllocatorPool recycles command allocators. An allocator retired with
// submission N becomes writable again only once the completion counter has
// reached N. Reclamation happens lazily on Acquire; there is no background
// sweep.
type CommandAllocatorPool struct {
	device    Device
	writable  []CommandAllocator
	submitted *containers.Deque[commandAllocatorEntry]
}

func NewCommandAllocatorPool(device Device) *CommandAllocatorPool {
	return &CommandAllocatorPool{
		device:    device,
		submitted: containers.NewDeque[commandAllocatorEntry](8),
	}
}

// Acquire returns a writable allocator, reclaiming any submitted allocators
// whose last-use submission has completed, and creating a new one only if
// none are available.
func (p *CommandAllocatorPool) Acquire(completedSubmission uint64) (CommandAllocator, error) {
	for !p.submitted.IsEmpty() {
		entry, _ := p.submitted.PeekFront()
		if entry.lastUsageSubmission > completedSubmission {
			break
		}
		p.submitted.PopFront()
		if err := entry.allocator.Reset(); err != nil {
			core.LogError("failed to reset a completed command allocator: %s", err)
			entry.allocator.Destroy()
			continue
		}
		p.writable = append(p.writable, entry.allocator)
	}

	if n := len(p.writable); n > 0 {
		allocator := p.writable[n-1]
		p.writable = p.writable[:n-1]
		return allocator, nil
	}
	return p.device.CreateCommandAllocator()
}

// Retire tags the allocator with the submission it was used in. It becomes
// writable again once that submission completes.
func (p *CommandAllocatorPool) Retire(allocator CommandAllocator, submission uint64) {
	p.submitted.PushBack(commandAllocatorEntry{
		allocator:           allocator,
		lastUsageSubmission: submission,
	})
}

// ClearAll destroys every allocator in the pool. The caller must have awaited
// completion of all submissions first; the device may otherwise still be
// reading a destroyed allocator.
func (p *CommandAllocatorPool) ClearAll() {
	for _, allocator := range p.writable {
		allocator.Destroy()
	}
	p.writable = p.writable[:0]
	for !p.submitted.IsEmpty() {
		entry, _ := p.submitted.PopFront()
		entry.allocator.Destroy()
	}
}
