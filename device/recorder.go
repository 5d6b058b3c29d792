// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"github.com/devblok/vkframe/core"
	vk "github.com/devblok/vulkan"
)

// NewRecorder creates a recorder that renders into the swapchain's framebuffers
func NewRecorder(swapchain *Swapchain) *Recorder {
	return &Recorder{swapchain: swapchain}
}

// Recorder records commands into vulkan command buffers
type Recorder struct {
	swapchain *Swapchain
}

// Reset implements core.Recorder
func (r *Recorder) Reset(cmd core.CommandBuffer) error {
	return core.NewDeviceError("vk.ResetCommandBuffer", vk.Error(vk.ResetCommandBuffer(cmd.(vk.CommandBuffer), 0)))
}

// Begin implements core.Recorder
func (r *Recorder) Begin(cmd core.CommandBuffer) error {
	cbbi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	return core.NewDeviceError("vk.BeginCommandBuffer", vk.Error(vk.BeginCommandBuffer(cmd.(vk.CommandBuffer), &cbbi)))
}

// End implements core.Recorder
func (r *Recorder) End(cmd core.CommandBuffer) error {
	return core.NewDeviceError("vk.EndCommandBuffer", vk.Error(vk.EndCommandBuffer(cmd.(vk.CommandBuffer))))
}

// BeginRenderPass implements core.Recorder. Viewport and scissor are
// dynamic and set to cover the whole framebuffer.
func (r *Recorder) BeginRenderPass(cmd core.CommandBuffer, imageIndex uint32, clear core.ClearValues) {
	commandBuffer := cmd.(vk.CommandBuffer)
	sc := r.swapchain

	clearValues := make([]vk.ClearValue, 2)
	clearValues[0].SetColor(clear.Color[:])
	clearValues[1].SetDepthStencil(clear.Depth, 0)

	rpbi := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  sc.renderPass,
		Framebuffer: sc.framebuffers[imageIndex],
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: sc.extent,
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(commandBuffer, &rpbi, vk.SubpassContentsInline)
	vk.CmdSetViewport(commandBuffer, 0, 1, []vk.Viewport{sc.viewport})
	vk.CmdSetScissor(commandBuffer, 0, 1, []vk.Rect2D{sc.scissor})
}

// EndRenderPass implements core.Recorder
func (r *Recorder) EndRenderPass(cmd core.CommandBuffer) {
	vk.CmdEndRenderPass(cmd.(vk.CommandBuffer))
}

// BindPipeline implements core.Recorder
func (r *Recorder) BindPipeline(cmd core.CommandBuffer, pipeline core.Pipeline) {
	vk.CmdBindPipeline(cmd.(vk.CommandBuffer), vk.PipelineBindPointGraphics, pipeline.(vk.Pipeline))
}

// BindDescriptorSets implements core.Recorder
func (r *Recorder) BindDescriptorSets(cmd core.CommandBuffer, layout core.PipelineLayout, firstSet uint32, sets []core.DescriptorSet, dynamicOffsets []uint32) {
	descriptorSets := make([]vk.DescriptorSet, len(sets))
	for idx, set := range sets {
		descriptorSets[idx] = set.(vk.DescriptorSet)
	}
	vk.CmdBindDescriptorSets(cmd.(vk.CommandBuffer), vk.PipelineBindPointGraphics, layout.(vk.PipelineLayout),
		firstSet, uint32(len(descriptorSets)), descriptorSets, uint32(len(dynamicOffsets)), dynamicOffsets)
}

// BindVertexBuffer implements core.Recorder
func (r *Recorder) BindVertexBuffer(cmd core.CommandBuffer, buffer core.Buffer) {
	vk.CmdBindVertexBuffers(cmd.(vk.CommandBuffer), 0, 1, []vk.Buffer{buffer.(*Buffer).Get()}, []vk.DeviceSize{0})
}

// Draw implements core.Recorder
func (r *Recorder) Draw(cmd core.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(cmd.(vk.CommandBuffer), vertexCount, instanceCount, firstVertex, firstInstance)
}

// CopyBuffer implements core.Recorder
func (r *Recorder) CopyBuffer(cmd core.CommandBuffer, src, dst core.Buffer, size uint64) {
	vk.CmdCopyBuffer(cmd.(vk.CommandBuffer), src.(*Buffer).Get(), dst.(*Buffer).Get(), 1, []vk.BufferCopy{{
		Size: vk.DeviceSize(size),
	}})
}
