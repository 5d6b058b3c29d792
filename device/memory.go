// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/devblok/vkframe/core"
	vk "github.com/devblok/vulkan"
)

// Memory defines a usable memory region.
type Memory struct {
	len    uint64
	device vk.Device
	memory vk.DeviceMemory
}

// Len returns the length of assigned memory.
func (m *Memory) Len() uint64 {
	return m.len
}

// Get returns the vulkan memory handle.
func (m *Memory) Get() vk.DeviceMemory {
	return m.memory
}

// Write maps size bytes at offset, copies data into them and unmaps.
func (m *Memory) Write(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > m.len {
		return fmt.Errorf("write of %d bytes at %d overflows %d bytes of memory", len(data), offset, m.len)
	}
	if len(data) == 0 {
		return nil
	}

	var mapped unsafe.Pointer
	if err := vk.Error(vk.MapMemory(m.device, m.memory, vk.DeviceSize(offset), vk.DeviceSize(len(data)), 0, &mapped)); err != nil {
		return core.NewDeviceError("vk.MapMemory", err)
	}
	copy(unsafe.Slice((*byte)(mapped), len(data)), data)
	vk.UnmapMemory(m.device, m.memory)
	return nil
}

// Release frees memory.
func (m *Memory) Release() {
	vk.FreeMemory(m.device, m.memory, nil)
}

// NewMemoryAllocator creates a new memory allocator. Allocates for the logical device,
// reads memory properties of the physical device to influence allocation.
func NewMemoryAllocator(device vk.Device, phyDevice vk.PhysicalDevice) *MemoryAllocator {
	var memProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(phyDevice, &memProperties)
	memProperties.Deref()

	return &MemoryAllocator{
		device:        device,
		memProperties: memProperties,
	}
}

// MemoryAllocator is responsible returning usable
// memory for any resources that may need it.
type MemoryAllocator struct {
	device        vk.Device
	memProperties vk.PhysicalDeviceMemoryProperties
}

// Malloc returns a usable memory chunk ready for use.
func (ma *MemoryAllocator) Malloc(req vk.MemoryRequirements, prop vk.MemoryPropertyFlagBits) (Memory, error) {
	memTypeIdx, err := ma.findMemoryType(req.MemoryTypeBits, vk.MemoryPropertyFlags(prop))
	if err != nil {
		return Memory{}, err
	}

	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: memTypeIdx,
	}

	var memory vk.DeviceMemory
	if err := vk.Error(vk.AllocateMemory(ma.device, &mai, nil, &memory)); err != nil {
		return Memory{}, core.NewDeviceError("vk.AllocateMemory", err)
	}

	return Memory{
		len:    uint64(req.Size),
		device: ma.device,
		memory: memory,
	}, nil
}

func (ma *MemoryAllocator) findMemoryType(filter uint32, prop vk.MemoryPropertyFlags) (uint32, error) {
	for idx := uint32(0); idx < ma.memProperties.MemoryTypeCount; idx++ {
		ma.memProperties.MemoryTypes[idx].Deref()
		if filter&(1<<idx) != 0 && (ma.memProperties.MemoryTypes[idx].PropertyFlags&prop) == prop {
			return idx, nil
		}
	}
	return 0, errors.New("suitable memory type not found")
}

// memoryProperties maps where memory lives to the property flags it is
// allocated with.
func memoryProperties(usage core.MemoryUsage) vk.MemoryPropertyFlagBits {
	if usage == core.DeviceLocalMemory {
		return vk.MemoryPropertyDeviceLocalBit
	}
	return vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
}

// NewBuffer creates, allocates and binds a new buffer.
func NewBuffer(dev vk.Device, size uint64, usage vk.BufferUsageFlagBits, memory core.MemoryUsage, ma *MemoryAllocator) (*Buffer, error) {
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	if err := vk.Error(vk.CreateBuffer(dev, &createInfo, nil, &buffer)); err != nil {
		return nil, core.NewDeviceError("vk.CreateBuffer", err)
	}

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev, buffer, &req)
	req.Deref()

	mem, err := ma.Malloc(req, memoryProperties(memory))
	if err != nil {
		vk.DestroyBuffer(dev, buffer, nil)
		return nil, err
	}

	if err := vk.Error(vk.BindBufferMemory(dev, buffer, mem.Get(), 0)); err != nil {
		vk.DestroyBuffer(dev, buffer, nil)
		mem.Release()
		return nil, core.NewDeviceError("vk.BindBufferMemory", err)
	}

	return &Buffer{
		device: dev,
		buffer: buffer,
		size:   size,
		usage:  memory,
		memory: mem,
	}, nil
}

// Buffer is a vulkan buffer with its own memory.
type Buffer struct {
	device vk.Device
	buffer vk.Buffer
	size   uint64
	usage  core.MemoryUsage

	memory Memory
}

// Mem returns the Memory that the buffer is based on.
func (b *Buffer) Mem() *Memory {
	return &b.memory
}

// Get returns the vulkan Buffer handle.
func (b *Buffer) Get() vk.Buffer {
	return b.buffer
}

// Size is the size the buffer was created with.
func (b *Buffer) Size() uint64 {
	return b.size
}

// Release destroys the buffer and memory asociated with it.
func (b *Buffer) Release() {
	vk.DestroyBuffer(b.device, b.buffer, nil)
	b.memory.Release()
}

// Image is a vulkan image with its own memory.
type Image struct {
	device vk.Device
	image  vk.Image
	memory Memory
}

// NewImage creates a 2D image and binds device local memory to it.
func NewImage(dev vk.Device, width, height uint32, format vk.Format, usage vk.ImageUsageFlagBits, ma *MemoryAllocator) (*Image, error) {
	createInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Extent: vk.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        vk.ImageTilingOptimal,
		InitialLayout: vk.ImageLayoutUndefined,
		Usage:         vk.ImageUsageFlags(usage),
		SharingMode:   vk.SharingModeExclusive,
		Samples:       vk.SampleCount1Bit,
	}

	var image vk.Image
	if err := vk.Error(vk.CreateImage(dev, &createInfo, nil, &image)); err != nil {
		return nil, core.NewDeviceError("vk.CreateImage", err)
	}

	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dev, image, &req)
	req.Deref()

	mem, err := ma.Malloc(req, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		vk.DestroyImage(dev, image, nil)
		return nil, err
	}

	if err := vk.Error(vk.BindImageMemory(dev, image, mem.Get(), 0)); err != nil {
		vk.DestroyImage(dev, image, nil)
		mem.Release()
		return nil, core.NewDeviceError("vk.BindImageMemory", err)
	}

	return &Image{
		device: dev,
		image:  image,
		memory: mem,
	}, nil
}

// Get returns the vulkan Image handle.
func (i *Image) Get() vk.Image {
	return i.image
}

// Release destroys the image and frees its memory.
func (i *Image) Release() {
	vk.DestroyImage(i.device, i.image, nil)
	i.memory.Release()
}
