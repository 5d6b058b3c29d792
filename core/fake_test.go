// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"errors"
	"fmt"
	"time"

	"github.com/devblok/vkframe/core"
)

type fakeHandle struct {
	kind string
	id   int
}

func (h *fakeHandle) String() string {
	return fmt.Sprintf("%s#%d", h.kind, h.id)
}

// fakeFence is signaled by the simulated GPU when the device is waited on,
// which is the earliest point the CPU could observe it.
type fakeFence struct {
	fakeHandle
	signaled bool
	pending  bool
}

type fakeBuffer struct {
	fakeHandle
	usage  core.BufferUsage
	memory core.MemoryUsage
	data   []byte
	writes int
}

type fakeSet struct {
	fakeHandle
	writes []core.DescriptorWrite
}

type release struct {
	kind   core.ResourceKind
	handle interface{}
}

// fakeDevice records every call made against it. Submissions complete
// once the fence is waited on.
type fakeDevice struct {
	alignment uint64
	nextID    int
	calls     []string

	released    []release
	submissions []core.Submission

	// failures maps a call name to the error it returns once.
	failures map[string]error
}

func newFakeDevice(alignment uint64) *fakeDevice {
	return &fakeDevice{
		alignment: alignment,
		failures:  make(map[string]error),
	}
}

func (d *fakeDevice) record(format string, args ...interface{}) {
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDevice) fail(call string) error {
	if err, ok := d.failures[call]; ok {
		delete(d.failures, call)
		return err
	}
	return nil
}

func (d *fakeDevice) handle(kind string) fakeHandle {
	d.nextID++
	return fakeHandle{kind: kind, id: d.nextID}
}

func (d *fakeDevice) Release(kind core.ResourceKind, handle interface{}) {
	d.released = append(d.released, release{kind: kind, handle: handle})
}

func (d *fakeDevice) MinUniformBufferOffsetAlignment() uint64 {
	return d.alignment
}

func (d *fakeDevice) CreateFence(signaled bool) (core.Fence, error) {
	if err := d.fail("CreateFence"); err != nil {
		return nil, err
	}
	return &fakeFence{fakeHandle: d.handle("fence"), signaled: signaled}, nil
}

func (d *fakeDevice) WaitForFence(fence core.Fence, timeout time.Duration) error {
	f := fence.(*fakeFence)
	d.record("wait %s", f)
	if err := d.fail("WaitForFence"); err != nil {
		return err
	}
	if f.pending {
		f.pending = false
		f.signaled = true
	}
	if !f.signaled {
		return core.NewDeviceError("vk.WaitForFences", core.ErrTimeout)
	}
	return nil
}

func (d *fakeDevice) ResetFence(fence core.Fence) error {
	f := fence.(*fakeFence)
	d.record("reset %s", f)
	if !f.signaled {
		return errors.New("resetting a fence that was never observed signaled")
	}
	f.signaled = false
	return nil
}

func (d *fakeDevice) CreateSemaphore() (core.Semaphore, error) {
	h := d.handle("semaphore")
	return &h, nil
}

func (d *fakeDevice) CreateCommandPool() (core.CommandPool, error) {
	h := d.handle("pool")
	return &h, nil
}

func (d *fakeDevice) AllocateCommandBuffer(pool core.CommandPool) (core.CommandBuffer, error) {
	h := d.handle("cmd")
	return &h, nil
}

func (d *fakeDevice) ResetCommandPool(pool core.CommandPool) error {
	d.record("reset pool %s", pool)
	return nil
}

func (d *fakeDevice) CreateBuffer(size uint64, usage core.BufferUsage, memory core.MemoryUsage) (core.Buffer, error) {
	if err := d.fail("CreateBuffer"); err != nil {
		return nil, err
	}
	return &fakeBuffer{
		fakeHandle: d.handle("buffer"),
		usage:      usage,
		memory:     memory,
		data:       make([]byte, size),
	}, nil
}

func (d *fakeDevice) WriteBuffer(buffer core.Buffer, offset uint64, data []byte) error {
	b := buffer.(*fakeBuffer)
	if b.memory != core.HostVisibleMemory {
		return errors.New("write to device local memory")
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("write of %d bytes at %d overflows %d byte buffer", len(data), offset, len(b.data))
	}
	d.record("write %s@%d+%d", b, offset, len(data))
	copy(b.data[offset:], data)
	b.writes++
	return nil
}

func (d *fakeDevice) CreateDescriptorPool(maxSets uint32, sizes []core.DescriptorPoolSize) (core.DescriptorPool, error) {
	h := d.handle("descriptor pool")
	return &h, nil
}

func (d *fakeDevice) AllocateDescriptorSet(pool core.DescriptorPool, layout core.DescriptorSetLayout) (core.DescriptorSet, error) {
	return &fakeSet{fakeHandle: d.handle("set")}, nil
}

func (d *fakeDevice) UpdateDescriptorSet(set core.DescriptorSet, writes ...core.DescriptorWrite) {
	s := set.(*fakeSet)
	s.writes = append(s.writes, writes...)
}

func (d *fakeDevice) Submit(submission core.Submission) error {
	if err := d.fail("Submit"); err != nil {
		return err
	}
	d.submissions = append(d.submissions, submission)
	if submission.Fence != nil {
		f := submission.Fence.(*fakeFence)
		if f.signaled || f.pending {
			return errors.New("submitting with a fence that is not reset")
		}
		d.record("submit %v signal %s", submission.CommandBuffer, f)
		f.pending = true
		return nil
	}
	d.record("submit %v", submission.CommandBuffer)
	return nil
}

func (d *fakeDevice) WaitIdle() error {
	d.record("wait idle")
	return d.fail("WaitIdle")
}

// fakeRecorder records commands as strings.
type fakeRecorder struct {
	dev      *fakeDevice
	commands []string

	// slices handed to BindDescriptorSets
	boundSets    [][]core.DescriptorSet
	boundOffsets [][]uint32
}

func newFakeRecorder(dev *fakeDevice) *fakeRecorder {
	return &fakeRecorder{dev: dev}
}

func (r *fakeRecorder) add(format string, args ...interface{}) {
	r.commands = append(r.commands, fmt.Sprintf(format, args...))
}

func (r *fakeRecorder) Reset(cmd core.CommandBuffer) error {
	r.add("reset")
	return nil
}

func (r *fakeRecorder) Begin(cmd core.CommandBuffer) error {
	r.add("begin")
	r.dev.record("begin %v", cmd)
	return nil
}

func (r *fakeRecorder) End(cmd core.CommandBuffer) error {
	r.add("end")
	return nil
}

func (r *fakeRecorder) BeginRenderPass(cmd core.CommandBuffer, imageIndex uint32, clear core.ClearValues) {
	r.add("begin pass %d", imageIndex)
}

func (r *fakeRecorder) EndRenderPass(cmd core.CommandBuffer) {
	r.add("end pass")
}

func (r *fakeRecorder) BindPipeline(cmd core.CommandBuffer, pipeline core.Pipeline) {
	r.add("pipeline %v", pipeline)
}

func (r *fakeRecorder) BindDescriptorSets(cmd core.CommandBuffer, layout core.PipelineLayout, firstSet uint32, sets []core.DescriptorSet, dynamicOffsets []uint32) {
	r.add("sets %d %v", firstSet, dynamicOffsets)
	r.boundSets = append(r.boundSets, sets)
	if dynamicOffsets != nil {
		r.boundOffsets = append(r.boundOffsets, dynamicOffsets)
	}
}

func (r *fakeRecorder) BindVertexBuffer(cmd core.CommandBuffer, buffer core.Buffer) {
	r.add("vertices %v", buffer)
}

func (r *fakeRecorder) Draw(cmd core.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	r.add("draw %d %d %d %d", vertexCount, instanceCount, firstVertex, firstInstance)
}

func (r *fakeRecorder) CopyBuffer(cmd core.CommandBuffer, src, dst core.Buffer, size uint64) {
	r.add("copy %v %v %d", src, dst, size)
}

// count returns how many recorded commands start with prefix.
func (r *fakeRecorder) count(prefix string) int {
	n := 0
	for _, c := range r.commands {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

// fakePresenter hands out swapchain images round robin.
type fakePresenter struct {
	dev      *fakeDevice
	images   uint32
	next     uint32
	acquired []uint32
	present  []uint32
	failures map[string]error
}

func newFakePresenter(dev *fakeDevice, images uint32) *fakePresenter {
	return &fakePresenter{dev: dev, images: images, failures: make(map[string]error)}
}

func (p *fakePresenter) AcquireNextImage(signal core.Semaphore, timeout time.Duration) (uint32, error) {
	if err, ok := p.failures["AcquireNextImage"]; ok {
		delete(p.failures, "AcquireNextImage")
		return 0, err
	}
	idx := p.next
	p.next = (p.next + 1) % p.images
	p.acquired = append(p.acquired, idx)
	p.dev.record("acquire image %d", idx)
	return idx, nil
}

func (p *fakePresenter) Present(wait core.Semaphore, imageIndex uint32) error {
	if err, ok := p.failures["Present"]; ok {
		delete(p.failures, "Present")
		return err
	}
	p.present = append(p.present, imageIndex)
	p.dev.record("present %d", imageIndex)
	return nil
}

var testLayouts = core.FrameLayouts{
	Global: &fakeHandle{kind: "global layout"},
	Object: &fakeHandle{kind: "object layout"},
}
