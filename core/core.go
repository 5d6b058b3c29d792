// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package core is the per-frame execution core of the renderer. It overlaps
// CPU command recording with GPU execution through a ring of frame slots,
// keeps per-frame constant data in an aligned ring buffer, batches draw
// calls to minimise state changes and tears GPU resources down in reverse
// creation order. The GPU itself is reached only through the Device,
// Recorder and Presenter interfaces.
package core

import "time"

// Opaque GPU handles. Implementations hand out their native handle types
// and assert them back when they are passed in again.
type (
	Fence               interface{}
	Semaphore           interface{}
	CommandPool         interface{}
	CommandBuffer       interface{}
	Buffer              interface{}
	DescriptorPool      interface{}
	DescriptorSetLayout interface{}
	DescriptorSet       interface{}
	Pipeline            interface{}
	PipelineLayout      interface{}
)

// BufferUsage describes how a buffer is going to be used by the GPU.
type BufferUsage uint32

// Buffer usages, can be combined.
const (
	UniformBufferUsage BufferUsage = 1 << iota
	StorageBufferUsage
	VertexBufferUsage
	TransferSrcUsage
	TransferDstUsage
)

// MemoryUsage selects where buffer memory lives.
type MemoryUsage int

// Memory usages
const (
	// HostVisibleMemory can be mapped and written by the CPU.
	HostVisibleMemory MemoryUsage = iota
	// DeviceLocalMemory is only reachable through transfer commands.
	DeviceLocalMemory
)

// DescriptorType identifies what a descriptor binding refers to.
type DescriptorType int

// Descriptor types used by the frame core
const (
	UniformDescriptor DescriptorType = iota
	UniformDynamicDescriptor
	StorageDescriptor
	CombinedImageSamplerDescriptor
)

// DescriptorPoolSize is the number of descriptors of a type a pool holds.
type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// DescriptorWrite points one binding of a descriptor set to a buffer range.
type DescriptorWrite struct {
	Binding uint32
	Type    DescriptorType
	Buffer  Buffer
	Offset  uint64
	Range   uint64
}

// PipelineStage is the stage a submission waits at.
type PipelineStage int

// Pipeline stages
const (
	TopOfPipeStage PipelineStage = iota
	ColorAttachmentOutputStage
	TransferStage
)

// Submission is one command buffer handed to the graphics queue.
// Wait, Signal and Fence are optional and ignored when nil.
type Submission struct {
	CommandBuffer CommandBuffer
	Wait          Semaphore
	WaitStage     PipelineStage
	Signal        Semaphore
	Fence         Fence
}

// ClearValues are the render pass clear values.
type ClearValues struct {
	Color [4]float32
	Depth float32
}

// Releaser destroys GPU resources by kind.
type Releaser interface {
	Release(kind ResourceKind, handle interface{})
}

// Device is the logical device the frame core drives. Every method that
// can fail on the GPU side returns an error, fatal errors satisfy IsFatal.
type Device interface {
	Releaser

	// MinUniformBufferOffsetAlignment is the device's minimum alignment
	// for dynamic uniform buffer offsets. Always a power of two or zero.
	MinUniformBufferOffsetAlignment() uint64

	// CreateFence creates a fence, optionally already signaled.
	CreateFence(signaled bool) (Fence, error)

	// WaitForFence blocks until the fence is signaled or the timeout
	// expires, in which case an error wrapping ErrTimeout is returned.
	WaitForFence(fence Fence, timeout time.Duration) error

	// ResetFence returns the fence to the unsignaled state.
	ResetFence(fence Fence) error

	CreateSemaphore() (Semaphore, error)
	CreateCommandPool() (CommandPool, error)
	AllocateCommandBuffer(pool CommandPool) (CommandBuffer, error)
	ResetCommandPool(pool CommandPool) error

	// CreateBuffer creates a buffer with memory bound to it.
	CreateBuffer(size uint64, usage BufferUsage, memory MemoryUsage) (Buffer, error)

	// WriteBuffer maps a host visible buffer, copies data at offset and unmaps it.
	WriteBuffer(buffer Buffer, offset uint64, data []byte) error

	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPool, error)
	AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, error)
	UpdateDescriptorSet(set DescriptorSet, writes ...DescriptorWrite)

	// Submit hands work to the graphics queue.
	Submit(submission Submission) error

	// WaitIdle blocks until the device has finished all outstanding work.
	WaitIdle() error
}

// Recorder records commands into a command buffer.
type Recorder interface {
	Reset(cmd CommandBuffer) error

	// Begin starts recording with one-time-submit semantics.
	Begin(cmd CommandBuffer) error
	End(cmd CommandBuffer) error

	BeginRenderPass(cmd CommandBuffer, imageIndex uint32, clear ClearValues)
	EndRenderPass(cmd CommandBuffer)

	BindPipeline(cmd CommandBuffer, pipeline Pipeline)
	BindDescriptorSets(cmd CommandBuffer, layout PipelineLayout, firstSet uint32, sets []DescriptorSet, dynamicOffsets []uint32)
	BindVertexBuffer(cmd CommandBuffer, buffer Buffer)
	Draw(cmd CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32)

	CopyBuffer(cmd CommandBuffer, src, dst Buffer, size uint64)
}

// Presenter owns the presentable images.
type Presenter interface {
	// AcquireNextImage returns the index of the next presentable image,
	// signal is signaled once the image is actually available.
	AcquireNextImage(signal Semaphore, timeout time.Duration) (uint32, error)

	// Present queues the image for presentation after wait is signaled.
	Present(wait Semaphore, imageIndex uint32) error
}

// FrameLayouts are the descriptor set layouts the frame slots bind.
// They come from the pipeline builder.
type FrameLayouts struct {
	// Global holds the camera uniform at binding 0 and the
	// dynamic scene uniform at binding 1.
	Global DescriptorSetLayout

	// Object holds the object transform storage buffer at binding 0.
	Object DescriptorSetLayout
}
