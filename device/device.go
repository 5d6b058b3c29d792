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

// NewDevice selects a queue family with graphics and present support on
// the first physical device of the instance and creates the logical
// device and its queue.
func NewDevice(instance *Instance, extensions []string) (*Device, error) {
	physicalDevice := instance.AvailableDevices()[0]
	surface := instance.Surface()

	queueFamily, err := selectQueueFamily(physicalDevice, surface)
	if err != nil {
		return nil, err
	}

	required := []string{vk.KhrSwapchainExtensionName}
	for _, ext := range extensions {
		if safeString(ext) != safeString(vk.KhrSwapchainExtensionName) {
			required = append(required, ext)
		}
	}

	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1},
	}}

	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(required)),
		PpEnabledExtensionNames: safeStrings(required),
	}

	var logicalDevice vk.Device
	if err := vk.Error(vk.CreateDevice(physicalDevice, &dci, nil, &logicalDevice)); err != nil {
		return nil, core.NewDeviceError("vk.CreateDevice", err)
	}

	var queue vk.Queue
	vk.GetDeviceQueue(logicalDevice, queueFamily, 0, &queue)

	properties := physicalDeviceProperties(physicalDevice)
	d := &Device{
		physical:    physicalDevice,
		device:      logicalDevice,
		queue:       queue,
		queueFamily: queueFamily,
		surface:     surface,
		allocator:   NewMemoryAllocator(logicalDevice, physicalDevice),
		alignment:   uint64(properties.Limits.MinUniformBufferOffsetAlignment),
	}

	log.WithFields(log.Fields{
		"device":      vk.ToString(properties.DeviceName[:]),
		"queueFamily": queueFamily,
		"alignment":   d.alignment,
	}).Info("logical device created")

	return d, nil
}

func selectQueueFamily(physicalDevice vk.PhysicalDevice, surface vk.Surface) (uint32, error) {
	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, &queueFamilyCount, nil)
	if queueFamilyCount == 0 {
		return 0, errors.New("vk.GetPhysicalDeviceQueueFamilyProperties(): no queuefamilies on GPU")
	}
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(physicalDevice, &queueFamilyCount, queueFamilies)

	for i := uint32(0); i < queueFamilyCount; i++ {
		queueFamilies[i].Deref()
		if queueFamilies[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 {
			continue
		}
		if surface == vk.NullSurface {
			return i, nil
		}
		var supportsPresent vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(physicalDevice, i, surface, &supportsPresent)
		if supportsPresent.B() {
			return i, nil
		}
	}
	return 0, errors.New("vulkan error: could not find a queue family with graphics and present support")
}

// Device is a Vulkan logical device with a single graphics and present queue.
type Device struct {
	physical    vk.PhysicalDevice
	device      vk.Device
	queue       vk.Queue
	queueFamily uint32
	surface     vk.Surface

	allocator *MemoryAllocator
	alignment uint64
}

// Get returns the vulkan Device handle.
func (d *Device) Get() vk.Device {
	return d.device
}

// Allocator returns the memory allocator of the device.
func (d *Device) Allocator() *MemoryAllocator {
	return d.allocator
}

// MinUniformBufferOffsetAlignment implements core.Device
func (d *Device) MinUniformBufferOffsetAlignment() uint64 {
	return d.alignment
}

// CreateFence implements core.Device
func (d *Device) CreateFence(signaled bool) (core.Fence, error) {
	fci := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fci.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := vk.Error(vk.CreateFence(d.device, &fci, nil, &fence)); err != nil {
		return nil, core.NewDeviceError("vk.CreateFence", err)
	}
	return fence, nil
}

// WaitForFence implements core.Device
func (d *Device) WaitForFence(fence core.Fence, timeout time.Duration) error {
	res := vk.WaitForFences(d.device, 1, []vk.Fence{fence.(vk.Fence)}, vk.True, uint(timeoutNanos(timeout)))
	if res == vk.Timeout {
		return core.NewDeviceError("vk.WaitForFences", core.ErrTimeout)
	}
	return core.NewDeviceError("vk.WaitForFences", vk.Error(res))
}

// ResetFence implements core.Device
func (d *Device) ResetFence(fence core.Fence) error {
	return core.NewDeviceError("vk.ResetFences", vk.Error(vk.ResetFences(d.device, 1, []vk.Fence{fence.(vk.Fence)})))
}

// CreateSemaphore implements core.Device
func (d *Device) CreateSemaphore() (core.Semaphore, error) {
	sci := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if err := vk.Error(vk.CreateSemaphore(d.device, &sci, nil, &semaphore)); err != nil {
		return nil, core.NewDeviceError("vk.CreateSemaphore", err)
	}
	return semaphore, nil
}

// CreateCommandPool implements core.Device
func (d *Device) CreateCommandPool() (core.CommandPool, error) {
	cpci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: d.queueFamily,
	}
	var commandPool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(d.device, &cpci, nil, &commandPool)); err != nil {
		return nil, core.NewDeviceError("vk.CreateCommandPool", err)
	}
	return commandPool, nil
}

// AllocateCommandBuffer implements core.Device
func (d *Device) AllocateCommandBuffer(pool core.CommandPool) (core.CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool.(vk.CommandPool),
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	commandBuffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(d.device, &cbai, commandBuffers)); err != nil {
		return nil, core.NewDeviceError("vk.AllocateCommandBuffers", err)
	}
	return commandBuffers[0], nil
}

// ResetCommandPool implements core.Device
func (d *Device) ResetCommandPool(pool core.CommandPool) error {
	return core.NewDeviceError("vk.ResetCommandPool", vk.Error(vk.ResetCommandPool(d.device, pool.(vk.CommandPool), 0)))
}

// CreateBuffer implements core.Device
func (d *Device) CreateBuffer(size uint64, usage core.BufferUsage, memory core.MemoryUsage) (core.Buffer, error) {
	return NewBuffer(d.device, size, bufferUsageFlags(usage), memory, d.allocator)
}

// WriteBuffer implements core.Device
func (d *Device) WriteBuffer(buffer core.Buffer, offset uint64, data []byte) error {
	b := buffer.(*Buffer)
	if b.usage != core.HostVisibleMemory {
		return errors.New("write to a buffer in device local memory")
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("write of %d bytes at %d overflows %d byte buffer", len(data), offset, b.size)
	}
	return b.memory.Write(offset, data)
}

// CreateDescriptorPool implements core.Device
func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []core.DescriptorPoolSize) (core.DescriptorPool, error) {
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for idx, size := range sizes {
		poolSizes[idx] = vk.DescriptorPoolSize{
			Type:            descriptorType(size.Type),
			DescriptorCount: size.Count,
		}
	}

	dpci := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}

	var descriptorPool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(d.device, &dpci, nil, &descriptorPool)); err != nil {
		return nil, core.NewDeviceError("vk.CreateDescriptorPool", err)
	}
	return descriptorPool, nil
}

// AllocateDescriptorSet implements core.Device
func (d *Device) AllocateDescriptorSet(pool core.DescriptorPool, layout core.DescriptorSetLayout) (core.DescriptorSet, error) {
	dsai := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool.(vk.DescriptorPool),
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.(vk.DescriptorSetLayout)},
	}
	var set vk.DescriptorSet
	if err := vk.Error(vk.AllocateDescriptorSets(d.device, &dsai, &set)); err != nil {
		return nil, core.NewDeviceError("vk.AllocateDescriptorSets", err)
	}
	return set, nil
}

// UpdateDescriptorSet implements core.Device
func (d *Device) UpdateDescriptorSet(set core.DescriptorSet, writes ...core.DescriptorWrite) {
	wds := make([]vk.WriteDescriptorSet, len(writes))
	for idx, w := range writes {
		wds[idx] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set.(vk.DescriptorSet),
			DstBinding:      w.Binding,
			DescriptorType:  descriptorType(w.Type),
			DescriptorCount: 1,
			PBufferInfo: []vk.DescriptorBufferInfo{{
				Buffer: w.Buffer.(*Buffer).Get(),
				Offset: vk.DeviceSize(w.Offset),
				Range:  vk.DeviceSize(w.Range),
			}},
		}
	}
	vk.UpdateDescriptorSets(d.device, uint32(len(wds)), wds, 0, nil)
}

// Submit implements core.Device
func (d *Device) Submit(submission core.Submission) error {
	si := vk.SubmitInfo{
		SType: vk.StructureTypeSubmitInfo,
	}
	if submission.CommandBuffer != nil {
		si.CommandBufferCount = 1
		si.PCommandBuffers = []vk.CommandBuffer{submission.CommandBuffer.(vk.CommandBuffer)}
	}
	if submission.Wait != nil {
		si.WaitSemaphoreCount = 1
		si.PWaitSemaphores = []vk.Semaphore{submission.Wait.(vk.Semaphore)}
		si.PWaitDstStageMask = []vk.PipelineStageFlags{pipelineStage(submission.WaitStage)}
	}
	if submission.Signal != nil {
		si.SignalSemaphoreCount = 1
		si.PSignalSemaphores = []vk.Semaphore{submission.Signal.(vk.Semaphore)}
	}

	var fence vk.Fence
	if submission.Fence != nil {
		fence = submission.Fence.(vk.Fence)
	}

	return core.NewDeviceError("vk.QueueSubmit", vk.Error(vk.QueueSubmit(d.queue, 1, []vk.SubmitInfo{si}, fence)))
}

// WaitIdle implements core.Device
func (d *Device) WaitIdle() error {
	return core.NewDeviceError("vk.DeviceWaitIdle", vk.Error(vk.DeviceWaitIdle(d.device)))
}

// Release implements core.Releaser
func (d *Device) Release(kind core.ResourceKind, handle interface{}) {
	switch kind {
	case core.FenceResource:
		vk.DestroyFence(d.device, handle.(vk.Fence), nil)
	case core.SemaphoreResource:
		vk.DestroySemaphore(d.device, handle.(vk.Semaphore), nil)
	case core.CommandPoolResource:
		vk.DestroyCommandPool(d.device, handle.(vk.CommandPool), nil)
	case core.BufferResource:
		handle.(*Buffer).Release()
	case core.DescriptorPoolResource:
		vk.DestroyDescriptorPool(d.device, handle.(vk.DescriptorPool), nil)
	case core.DescriptorSetLayoutResource:
		vk.DestroyDescriptorSetLayout(d.device, handle.(vk.DescriptorSetLayout), nil)
	case core.PipelineResource:
		vk.DestroyPipeline(d.device, handle.(vk.Pipeline), nil)
	case core.PipelineLayoutResource:
		vk.DestroyPipelineLayout(d.device, handle.(vk.PipelineLayout), nil)
	case core.ShaderModuleResource:
		vk.DestroyShaderModule(d.device, handle.(vk.ShaderModule), nil)
	case core.ImageResource:
		handle.(*Image).Release()
	case core.ImageViewResource:
		vk.DestroyImageView(d.device, handle.(vk.ImageView), nil)
	case core.SamplerResource:
		vk.DestroySampler(d.device, handle.(vk.Sampler), nil)
	case core.RenderPassResource:
		vk.DestroyRenderPass(d.device, handle.(vk.RenderPass), nil)
	case core.FramebufferResource:
		vk.DestroyFramebuffer(d.device, handle.(vk.Framebuffer), nil)
	case core.SwapchainResource:
		vk.DestroySwapchain(d.device, handle.(vk.Swapchain), nil)
	default:
		log.WithField("kind", kind).Warn("release of unknown resource kind ignored")
	}
}

// Destroy destroys the logical device. Everything created from it has
// to be released first.
func (d *Device) Destroy() {
	vk.DestroyDevice(d.device, nil)
}

func timeoutNanos(timeout time.Duration) uint64 {
	if timeout < 0 || timeout == core.WaitForever {
		return math.MaxUint64
	}
	return uint64(timeout.Nanoseconds())
}

func bufferUsageFlags(usage core.BufferUsage) vk.BufferUsageFlagBits {
	var flags vk.BufferUsageFlagBits
	if usage&core.UniformBufferUsage != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	if usage&core.StorageBufferUsage != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if usage&core.VertexBufferUsage != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if usage&core.TransferSrcUsage != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if usage&core.TransferDstUsage != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	return flags
}

func descriptorType(t core.DescriptorType) vk.DescriptorType {
	switch t {
	case core.UniformDynamicDescriptor:
		return vk.DescriptorTypeUniformBufferDynamic
	case core.StorageDescriptor:
		return vk.DescriptorTypeStorageBuffer
	case core.CombinedImageSamplerDescriptor:
		return vk.DescriptorTypeCombinedImageSampler
	}
	return vk.DescriptorTypeUniformBuffer
}

func pipelineStage(stage core.PipelineStage) vk.PipelineStageFlags {
	switch stage {
	case core.ColorAttachmentOutputStage:
		return vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	case core.TransferStage:
		return vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	}
	return vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
}
