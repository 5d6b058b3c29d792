// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ResourceKind tags a disposer record with the kind of resource it releases.
type ResourceKind int

// Resource kinds known to the disposal queue
const (
	FuncResource ResourceKind = iota
	FenceResource
	SemaphoreResource
	CommandPoolResource
	BufferResource
	DescriptorPoolResource
	DescriptorSetLayoutResource
	PipelineResource
	PipelineLayoutResource
	ShaderModuleResource
	ImageResource
	ImageViewResource
	SamplerResource
	RenderPassResource
	FramebufferResource
	SwapchainResource
)

var resourceKindNames = [...]string{
	"func", "fence", "semaphore", "command pool", "buffer", "descriptor pool",
	"descriptor set layout", "pipeline", "pipeline layout", "shader module",
	"image", "image view", "sampler", "render pass", "framebuffer", "swapchain",
}

// String implements fmt.Stringer
func (k ResourceKind) String() string {
	if k >= 0 && int(k) < len(resourceKindNames) {
		return resourceKindNames[k]
	}
	return fmt.Sprintf("ResourceKind(%d)", int(k))
}

type disposer struct {
	kind   ResourceKind
	handle interface{}
	fn     func()
}

// NewDisposalQueue creates an empty queue releasing through r.
func NewDisposalQueue(r Releaser) *DisposalQueue {
	return &DisposalQueue{releaser: r}
}

// DisposalQueue defers resource teardown until Flush. Records are released
// in reverse registration order, so a resource always goes before anything
// it was created from.
//
// Flush must only be called once no GPU work referencing a registered
// resource is outstanding.
type DisposalQueue struct {
	releaser  Releaser
	disposers []disposer
}

// Push registers a resource handle to be released through the Releaser.
func (q *DisposalQueue) Push(kind ResourceKind, handle interface{}) {
	q.disposers = append(q.disposers, disposer{kind: kind, handle: handle})
}

// PushFunc registers an arbitrary cleanup action.
func (q *DisposalQueue) PushFunc(fn func()) {
	q.disposers = append(q.disposers, disposer{kind: FuncResource, fn: fn})
}

// Len returns the number of pending records.
func (q *DisposalQueue) Len() int {
	return len(q.disposers)
}

// Flush runs every record from the most recently registered to the
// least recently registered and empties the queue. Flushing an empty
// queue does nothing.
func (q *DisposalQueue) Flush() {
	if len(q.disposers) == 0 {
		return
	}
	log.WithField("count", len(q.disposers)).Debug("flushing disposal queue")

	for idx := len(q.disposers) - 1; idx >= 0; idx-- {
		d := q.disposers[idx]
		q.disposers[idx] = disposer{}
		if d.kind == FuncResource {
			if d.fn != nil {
				d.fn()
			}
			continue
		}
		log.WithField("kind", d.kind).Trace("releasing resource")
		q.releaser.Release(d.kind, d.handle)
	}
	q.disposers = q.disposers[:0]
}
