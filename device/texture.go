// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"fmt"
	"image"

	"github.com/devblok/vkframe/core"
	vk "github.com/devblok/vulkan"
	log "github.com/sirupsen/logrus"
)

// TextureFormat is the format every texture is uploaded in.
const TextureFormat = vk.FormatR8g8b8a8Unorm

// NewTextureLoader creates the sampler and the descriptor pool textures
// are allocated from. At most maxTextures can be loaded.
func NewTextureLoader(dev *Device, tc *core.TransferContext, layouts Layouts, maxTextures uint32, dq *core.DisposalQueue) (*TextureLoader, error) {
	sci := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		BorderColor:             vk.BorderColorFloatOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}

	var sampler vk.Sampler
	if err := vk.Error(vk.CreateSampler(dev.device, &sci, nil, &sampler)); err != nil {
		return nil, core.NewDeviceError("vk.CreateSampler", err)
	}
	dq.Push(core.SamplerResource, sampler)

	pool, err := dev.CreateDescriptorPool(maxTextures, []core.DescriptorPoolSize{
		{Type: core.CombinedImageSamplerDescriptor, Count: maxTextures},
	})
	if err != nil {
		return nil, err
	}
	dq.Push(core.DescriptorPoolResource, pool)

	return &TextureLoader{
		device:   dev,
		transfer: tc,
		layout:   layouts.Texture,
		sampler:  sampler,
		pool:     pool,
		disposal: dq,
	}, nil
}

// TextureLoader uploads images into sampled textures
type TextureLoader struct {
	device   *Device
	transfer *core.TransferContext
	layout   vk.DescriptorSetLayout
	sampler  vk.Sampler
	pool     core.DescriptorPool
	disposal *core.DisposalQueue
}

// Load uploads img through a staging buffer and returns the descriptor
// set a textured material binds as set 2.
func (t *TextureLoader) Load(img image.Image) (core.DescriptorSet, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("texture of %dx%d pixels is empty", bounds.Dx(), bounds.Dy())
	}
	width, height := uint32(bounds.Dx()), uint32(bounds.Dy())
	pixels := core.GetPixels(img)

	staging, err := t.device.CreateBuffer(uint64(len(pixels)), core.TransferSrcUsage, core.HostVisibleMemory)
	if err != nil {
		return nil, err
	}
	defer t.device.Release(core.BufferResource, staging)

	if err := t.device.WriteBuffer(staging, 0, pixels); err != nil {
		return nil, err
	}

	texture, err := NewImage(t.device.device, width, height, TextureFormat,
		vk.ImageUsageTransferDstBit|vk.ImageUsageSampledBit, t.device.allocator)
	if err != nil {
		return nil, err
	}
	t.disposal.Push(core.ImageResource, texture)

	toTransfer, err := layoutBarrier(texture.Get(), vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
	if err != nil {
		return nil, err
	}
	toShader, err := layoutBarrier(texture.Get(), vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
	if err != nil {
		return nil, err
	}

	if err := t.transfer.ImmediateSubmit(func(cmd core.CommandBuffer) {
		commandBuffer := cmd.(vk.CommandBuffer)
		toTransfer.record(commandBuffer)
		vk.CmdCopyBufferToImage(commandBuffer, staging.(*Buffer).Get(), texture.Get(), vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
			ImageExtent: vk.Extent3D{
				Width:  width,
				Height: height,
				Depth:  1,
			},
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
		}})
		toShader.record(commandBuffer)
	}); err != nil {
		return nil, err
	}

	view, err := createImageView(t.device.device, texture.Get(), TextureFormat, vk.ImageAspectColorBit)
	if err != nil {
		return nil, err
	}
	t.disposal.Push(core.ImageViewResource, view)

	set, err := t.device.AllocateDescriptorSet(t.pool, t.layout)
	if err != nil {
		return nil, err
	}
	vk.UpdateDescriptorSets(t.device.device, 1, []vk.WriteDescriptorSet{{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set.(vk.DescriptorSet),
		DstBinding:      0,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			ImageView:   view,
			Sampler:     t.sampler,
		}},
	}}, 0, nil)

	log.WithFields(log.Fields{
		"width":  width,
		"height": height,
	}).Debug("texture uploaded")

	return set, nil
}

// imageBarrier is a layout transition of a whole color image
type imageBarrier struct {
	barrier  vk.ImageMemoryBarrier
	srcStage vk.PipelineStageFlags
	dstStage vk.PipelineStageFlags
}

func (b imageBarrier) record(cmd vk.CommandBuffer) {
	vk.CmdPipelineBarrier(cmd, b.srcStage, b.dstStage, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{b.barrier})
}

func layoutBarrier(img vk.Image, old, new vk.ImageLayout) (imageBarrier, error) {
	b := imageBarrier{
		barrier: vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			OldLayout:           old,
			NewLayout:           new,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		},
	}

	switch {
	case old == vk.ImageLayoutUndefined && new == vk.ImageLayoutTransferDstOptimal:
		b.barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		b.srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		b.dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case old == vk.ImageLayoutTransferDstOptimal && new == vk.ImageLayoutShaderReadOnlyOptimal:
		b.barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		b.barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		b.srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		b.dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	default:
		return imageBarrier{}, fmt.Errorf("unsupported layout transition %d -> %d", old, new)
	}
	return b, nil
}
