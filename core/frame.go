// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// SlotState is the position of a frame slot in its cycle.
type SlotState int

// Frame slot states, cycled in this order
const (
	// SlotReady means no GPU work against the slot is outstanding.
	SlotReady SlotState = iota
	// SlotAcquiring means the fence was observed and reset, and the
	// next presentable image is being acquired.
	SlotAcquiring
	// SlotRecording means the command buffer is being recorded.
	SlotRecording
	// SlotSubmitted means the GPU owns the slot until its fence signals.
	SlotSubmitted
)

// String implements fmt.Stringer
func (s SlotState) String() string {
	switch s {
	case SlotReady:
		return "ready"
	case SlotAcquiring:
		return "acquiring"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	}
	return fmt.Sprintf("SlotState(%d)", int(s))
}

// FrameSlot is the bundle of resources one frame in flight uses.
type FrameSlot struct {
	Index int

	CommandPool   CommandPool
	CommandBuffer CommandBuffer

	// Acquired is signaled when the presentable image is available,
	// Rendered when the frame's commands have finished executing.
	Acquired Semaphore
	Rendered Semaphore

	// Fence is signaled on completion of the slot's submission.
	// It is created signaled.
	Fence Fence

	CameraBuffer Buffer
	ObjectBuffer Buffer

	GlobalSet DescriptorSet
	ObjectSet DescriptorSet

	state SlotState
}

// State returns the current slot state.
func (s *FrameSlot) State() SlotState {
	return s.state
}

// Writable reports whether the slot's fence was observed signaled in the
// current cycle and nothing has been submitted against it since.
func (s *FrameSlot) Writable() bool {
	return s.state == SlotAcquiring || s.state == SlotRecording
}

func (s *FrameSlot) transition(from, to SlotState) error {
	if s.state != from {
		return fmt.Errorf("frame slot %d: expected state %s, is %s", s.Index, from, s.state)
	}
	s.state = to
	return nil
}

// NewFrameRing creates slots frame slots with every resource they own.
// All resources are registered in dq. The global descriptor set of each
// slot points its dynamic scene binding at constants.
func NewFrameRing(dev Device, dq *DisposalQueue, slots, maxObjects int, timeout time.Duration, layouts FrameLayouts, constants *ConstantRing) (*FrameRing, error) {
	if slots < 1 {
		return nil, fmt.Errorf("frame ring needs at least one slot, got %d", slots)
	}
	if maxObjects < 1 {
		return nil, fmt.Errorf("frame ring needs room for at least one object, got %d", maxObjects)
	}

	pool, err := dev.CreateDescriptorPool(uint32(2*slots), []DescriptorPoolSize{
		{Type: UniformDescriptor, Count: uint32(slots)},
		{Type: UniformDynamicDescriptor, Count: uint32(slots)},
		{Type: StorageDescriptor, Count: uint32(slots)},
	})
	if err != nil {
		return nil, err
	}
	dq.Push(DescriptorPoolResource, pool)

	ring := &FrameRing{
		slots:   make([]*FrameSlot, slots),
		timeout: timeout,
	}
	objectBufferSize := uint64(maxObjects) * ObjectConstantsSize

	for idx := range ring.slots {
		slot := &FrameSlot{Index: idx}

		if slot.CommandPool, err = dev.CreateCommandPool(); err != nil {
			return nil, err
		}
		dq.Push(CommandPoolResource, slot.CommandPool)

		if slot.CommandBuffer, err = dev.AllocateCommandBuffer(slot.CommandPool); err != nil {
			return nil, err
		}

		if slot.Fence, err = dev.CreateFence(true); err != nil {
			return nil, err
		}
		dq.Push(FenceResource, slot.Fence)

		if slot.Acquired, err = dev.CreateSemaphore(); err != nil {
			return nil, err
		}
		dq.Push(SemaphoreResource, slot.Acquired)

		if slot.Rendered, err = dev.CreateSemaphore(); err != nil {
			return nil, err
		}
		dq.Push(SemaphoreResource, slot.Rendered)

		if slot.CameraBuffer, err = dev.CreateBuffer(CameraConstantsSize, UniformBufferUsage, HostVisibleMemory); err != nil {
			return nil, err
		}
		dq.Push(BufferResource, slot.CameraBuffer)

		if slot.ObjectBuffer, err = dev.CreateBuffer(objectBufferSize, StorageBufferUsage, HostVisibleMemory); err != nil {
			return nil, err
		}
		dq.Push(BufferResource, slot.ObjectBuffer)

		if slot.GlobalSet, err = dev.AllocateDescriptorSet(pool, layouts.Global); err != nil {
			return nil, err
		}
		dev.UpdateDescriptorSet(slot.GlobalSet,
			DescriptorWrite{
				Binding: 0,
				Type:    UniformDescriptor,
				Buffer:  slot.CameraBuffer,
				Range:   CameraConstantsSize,
			},
			DescriptorWrite{
				Binding: 1,
				Type:    UniformDynamicDescriptor,
				Buffer:  constants.Buffer(),
				Range:   constants.StructSize(),
			})

		if slot.ObjectSet, err = dev.AllocateDescriptorSet(pool, layouts.Object); err != nil {
			return nil, err
		}
		dev.UpdateDescriptorSet(slot.ObjectSet, DescriptorWrite{
			Binding: 0,
			Type:    StorageDescriptor,
			Buffer:  slot.ObjectBuffer,
			Range:   objectBufferSize,
		})

		ring.slots[idx] = slot
	}

	log.WithFields(log.Fields{
		"slots":      slots,
		"maxObjects": maxObjects,
		"timeout":    timeout,
	}).Info("frame ring created")

	return ring, nil
}

// FrameRing is a fixed array of frame slots selected by frame number.
// The fence wait in Acquire is the only thing throttling the CPU to the
// GPU's pace.
type FrameRing struct {
	slots       []*FrameSlot
	frameNumber uint64
	timeout     time.Duration
}

// Len returns the number of slots.
func (r *FrameRing) Len() int {
	return len(r.slots)
}

// Slot returns slot idx.
func (r *FrameRing) Slot(idx int) *FrameSlot {
	return r.slots[idx]
}

// FrameNumber returns the number of frames advanced so far.
func (r *FrameRing) FrameNumber() uint64 {
	return r.frameNumber
}

// Current returns the slot of the current frame number.
func (r *FrameRing) Current() *FrameSlot {
	return r.slots[r.frameNumber%uint64(len(r.slots))]
}

// Acquire waits for the current slot's fence, resets it and hands the
// slot out for writing. A wait exceeding the timeout is fatal.
func (r *FrameRing) Acquire(dev Device) (*FrameSlot, error) {
	slot := r.Current()
	if err := dev.WaitForFence(slot.Fence, r.timeout); err != nil {
		return nil, fmt.Errorf("frame %d slot %d: %w", r.frameNumber, slot.Index, err)
	}
	slot.state = SlotReady

	if err := dev.ResetFence(slot.Fence); err != nil {
		return nil, err
	}
	slot.state = SlotAcquiring
	return slot, nil
}

// Advance moves on to the next frame.
func (r *FrameRing) Advance() {
	r.frameNumber++
}
