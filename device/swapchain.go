// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/devblok/vkframe/core"
	vk "github.com/devblok/vulkan"
	log "github.com/sirupsen/logrus"
)

// DepthFormat is the format of the depth attachment.
const DepthFormat = vk.FormatD16Unorm

// NewSwapchain creates the swapchain for the device's surface together
// with everything a frame renders into: image views, the depth image,
// the render pass and one framebuffer per image. All of it is registered
// in dq in creation order.
func NewSwapchain(dev *Device, cfg core.RendererConfiguration, dq *core.DisposalQueue) (*Swapchain, error) {
	s := &Swapchain{
		device: dev,
		extent: vk.Extent2D{
			Width:  cfg.ScreenWidth,
			Height: cfg.ScreenHeight,
		},
	}

	if err := s.selectFormat(); err != nil {
		return nil, err
	}
	if err := s.createSwapchain(cfg.SwapchainSize); err != nil {
		return nil, err
	}
	dq.Push(core.SwapchainResource, s.swapchain)

	if err := s.createImageViews(dq); err != nil {
		return nil, err
	}
	if err := s.prepareDepthImage(dq); err != nil {
		return nil, err
	}
	if err := s.createRenderPass(); err != nil {
		return nil, err
	}
	dq.Push(core.RenderPassResource, s.renderPass)

	if err := s.createFramebuffers(dq); err != nil {
		return nil, err
	}

	s.viewport = vk.Viewport{
		Width:    float32(s.extent.Width),
		Height:   float32(s.extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	s.scissor = vk.Rect2D{
		Extent: s.extent,
	}

	log.WithFields(log.Fields{
		"images": len(s.images),
		"width":  s.extent.Width,
		"height": s.extent.Height,
		"format": s.imageFormat,
	}).Info("swapchain created")

	return s, nil
}

// Swapchain presents rendered frames to the window surface
type Swapchain struct {
	device *Device

	swapchain   vk.Swapchain
	images      []vk.Image
	imageViews  []vk.ImageView
	imageFormat vk.Format
	colorSpace  vk.ColorSpace
	extent      vk.Extent2D

	depthImage *Image
	depthView  vk.ImageView

	renderPass   vk.RenderPass
	framebuffers []vk.Framebuffer

	viewport vk.Viewport
	scissor  vk.Rect2D
}

// Images returns the number of presentable images.
func (s *Swapchain) Images() int {
	return len(s.images)
}

// Extent returns the size of the presentable images.
func (s *Swapchain) Extent() (uint32, uint32) {
	return s.extent.Width, s.extent.Height
}

// RenderPass returns the render pass frames are recorded in.
func (s *Swapchain) RenderPass() vk.RenderPass {
	return s.renderPass
}

// AcquireNextImage implements core.Presenter
func (s *Swapchain) AcquireNextImage(signal core.Semaphore, timeout time.Duration) (uint32, error) {
	var idx uint32
	res := vk.AcquireNextImage(s.device.device, s.swapchain, uint(timeoutNanos(timeout)), signal.(vk.Semaphore), vk.NullFence, &idx)
	switch res {
	case vk.Success, vk.Suboptimal:
		return idx, nil
	case vk.Timeout, vk.NotReady:
		return 0, core.NewDeviceError("vk.AcquireNextImage", core.ErrTimeout)
	}
	return 0, core.NewDeviceError("vk.AcquireNextImage", vk.Error(res))
}

// Present implements core.Presenter
func (s *Swapchain) Present(wait core.Semaphore, imageIndex uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait.(vk.Semaphore)},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.swapchain},
		PImageIndices:      []uint32{imageIndex},
	}
	res := vk.QueuePresent(s.device.queue, &presentInfo)
	if res == vk.Suboptimal {
		return nil
	}
	return core.NewDeviceError("vk.QueuePresent", vk.Error(res))
}

func (s *Swapchain) selectFormat() error {
	dev := s.device
	var surfaceFormatCount uint32
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(dev.physical, dev.surface, &surfaceFormatCount, nil)); err != nil {
		return core.NewDeviceError("vk.GetPhysicalDeviceSurfaceFormats", err)
	}
	if surfaceFormatCount == 0 {
		return errors.New("vk.GetPhysicalDeviceSurfaceFormats(): surface has no formats")
	}

	surfaceFormats := make([]vk.SurfaceFormat, surfaceFormatCount)
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceFormats(dev.physical, dev.surface, &surfaceFormatCount, surfaceFormats)); err != nil {
		return core.NewDeviceError("vk.GetPhysicalDeviceSurfaceFormats", err)
	}
	surfaceFormats[0].Deref()

	s.imageFormat = surfaceFormats[0].Format
	s.colorSpace = surfaceFormats[0].ColorSpace
	if s.imageFormat == vk.FormatUndefined {
		s.imageFormat = vk.FormatB8g8r8a8Unorm
	}
	return nil
}

func (s *Swapchain) createSwapchain(size uint32) error {
	dev := s.device
	var surfaceCapabilities vk.SurfaceCapabilities
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(dev.physical, dev.surface, &surfaceCapabilities)); err != nil {
		return core.NewDeviceError("vk.GetPhysicalDeviceSurfaceCapabilities", err)
	}
	surfaceCapabilities.Deref()
	surfaceCapabilities.CurrentExtent.Deref()

	// A current extent of 0xFFFFFFFF lets the swapchain decide
	if surfaceCapabilities.CurrentExtent.Width != math.MaxUint32 {
		s.extent = surfaceCapabilities.CurrentExtent
	}

	if size < surfaceCapabilities.MinImageCount {
		size = surfaceCapabilities.MinImageCount
	}
	if max := surfaceCapabilities.MaxImageCount; max > 0 && size > max {
		size = max
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	compositeAlphaFlags := []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	}
	for _, flag := range compositeAlphaFlags {
		if surfaceCapabilities.SupportedCompositeAlpha&vk.CompositeAlphaFlags(flag) != 0 {
			compositeAlpha = flag
			break
		}
	}

	scci := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          dev.surface,
		MinImageCount:    size,
		ImageFormat:      s.imageFormat,
		ImageColorSpace:  s.colorSpace,
		ImageExtent:      s.extent,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		PreTransform:     vk.SurfaceTransformIdentityBit,
		CompositeAlpha:   compositeAlpha,
		PresentMode:      vk.PresentModeFifo,
		Clipped:          vk.True,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
	}

	var swapchain vk.Swapchain
	if err := vk.Error(vk.CreateSwapchain(dev.device, &scci, nil, &swapchain)); err != nil {
		return core.NewDeviceError("vk.CreateSwapchain", err)
	}
	s.swapchain = swapchain

	var numImages uint32
	if err := vk.Error(vk.GetSwapchainImages(dev.device, s.swapchain, &numImages, nil)); err != nil {
		return core.NewDeviceError("vk.GetSwapchainImages", err)
	}
	s.images = make([]vk.Image, numImages)
	if err := vk.Error(vk.GetSwapchainImages(dev.device, s.swapchain, &numImages, s.images)); err != nil {
		return core.NewDeviceError("vk.GetSwapchainImages", err)
	}
	return nil
}

func (s *Swapchain) createImageViews(dq *core.DisposalQueue) error {
	for idx, image := range s.images {
		view, err := createImageView(s.device.device, image, s.imageFormat, vk.ImageAspectColorBit)
		if err != nil {
			return fmt.Errorf("swapchain image %d: %w", idx, err)
		}
		dq.Push(core.ImageViewResource, view)
		s.imageViews = append(s.imageViews, view)
	}
	return nil
}

func (s *Swapchain) prepareDepthImage(dq *core.DisposalQueue) error {
	image, err := NewImage(s.device.device, s.extent.Width, s.extent.Height, DepthFormat,
		vk.ImageUsageDepthStencilAttachmentBit, s.device.allocator)
	if err != nil {
		return err
	}
	dq.Push(core.ImageResource, image)
	s.depthImage = image

	view, err := createImageView(s.device.device, image.Get(), DepthFormat, vk.ImageAspectDepthBit)
	if err != nil {
		return err
	}
	dq.Push(core.ImageViewResource, view)
	s.depthView = view
	return nil
}

func (s *Swapchain) createRenderPass() error {
	attachments := []vk.AttachmentDescription{{
		Format:         s.imageFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpStore,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutPresentSrc,
	}, {
		Format:         DepthFormat,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         vk.AttachmentLoadOpClear,
		StoreOp:        vk.AttachmentStoreOpDontCare,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
	}}

	colorAttachmentRef := []vk.AttachmentReference{{
		Attachment: 0,
		Layout:     vk.ImageLayoutColorAttachmentOptimal,
	}}
	depthAttachmentRef := vk.AttachmentReference{
		Attachment: 1,
		Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    uint32(len(colorAttachmentRef)),
		PColorAttachments:       colorAttachmentRef,
		PDepthStencilAttachment: &depthAttachmentRef,
	}

	subpassDependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit),
	}

	rpci := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{subpassDependency},
	}

	var renderPass vk.RenderPass
	if err := vk.Error(vk.CreateRenderPass(s.device.device, &rpci, nil, &renderPass)); err != nil {
		return core.NewDeviceError("vk.CreateRenderPass", err)
	}
	s.renderPass = renderPass
	return nil
}

func (s *Swapchain) createFramebuffers(dq *core.DisposalQueue) error {
	for _, view := range s.imageViews {
		attachments := []vk.ImageView{
			view,
			s.depthView,
		}
		fci := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      s.renderPass,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           s.extent.Width,
			Height:          s.extent.Height,
			Layers:          1,
		}

		var framebuffer vk.Framebuffer
		if err := vk.Error(vk.CreateFramebuffer(s.device.device, &fci, nil, &framebuffer)); err != nil {
			return core.NewDeviceError("vk.CreateFramebuffer", err)
		}
		dq.Push(core.FramebufferResource, framebuffer)
		s.framebuffers = append(s.framebuffers, framebuffer)
	}
	return nil
}

func createImageView(dev vk.Device, image vk.Image, format vk.Format, aspect vk.ImageAspectFlagBits) (vk.ImageView, error) {
	ivci := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    image,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(aspect),
			LevelCount: 1,
			LayerCount: 1,
		},
	}

	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(dev, &ivci, nil, &view)); err != nil {
		return nil, core.NewDeviceError("vk.CreateImageView", err)
	}
	return view, nil
}
