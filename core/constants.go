// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"encoding/binary"
	"fmt"
	"math"

	glm "github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"
)

// Sizes of the GPU side constant structures in bytes.
const (
	CameraConstantsSize = 3 * 64
	SceneConstantsSize  = 5 * 16
	ObjectConstantsSize = 64
)

// Pad rounds size up to the next multiple of alignment. Alignment has to
// be a power of two, an alignment of zero leaves size untouched.
func Pad(size, alignment uint64) uint64 {
	if alignment == 0 {
		return size
	}
	return (size + alignment - 1) &^ (alignment - 1)
}

// CameraConstants is the per-frame camera uniform.
type CameraConstants struct {
	View           glm.Mat4
	Projection     glm.Mat4
	ViewProjection glm.Mat4
}

// Encode writes the std140 layout of c into dst.
func (c *CameraConstants) Encode(dst []byte) {
	putMat4(dst[0:], c.View)
	putMat4(dst[64:], c.Projection)
	putMat4(dst[128:], c.ViewProjection)
}

// SceneConstants change slowly and live in the ConstantRing.
type SceneConstants struct {
	FogColor          glm.Vec4
	FogDistances      glm.Vec4 // x min, y max
	AmbientColor      glm.Vec4
	SunlightDirection glm.Vec4 // w is power
	SunlightColor     glm.Vec4
}

// Encode writes the std140 layout of s into dst.
func (s *SceneConstants) Encode(dst []byte) {
	putVec4(dst[0:], s.FogColor)
	putVec4(dst[16:], s.FogDistances)
	putVec4(dst[32:], s.AmbientColor)
	putVec4(dst[48:], s.SunlightDirection)
	putVec4(dst[64:], s.SunlightColor)
}

func putVec4(dst []byte, v glm.Vec4) {
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v[i]))
	}
}

func putMat4(dst []byte, m glm.Mat4) {
	for i := 0; i < 16; i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(m[i]))
	}
}

// NewConstantRing allocates one host visible uniform buffer holding a copy
// of a structSize sized structure for each of the slots, every copy
// starting at a multiple of the device's minimum uniform offset alignment.
func NewConstantRing(dev Device, dq *DisposalQueue, slots int, structSize uint64) (*ConstantRing, error) {
	if slots < 1 {
		return nil, fmt.Errorf("constant ring needs at least one slot, got %d", slots)
	}

	alignment := dev.MinUniformBufferOffsetAlignment()
	stride := Pad(structSize, alignment)

	buffer, err := dev.CreateBuffer(stride*uint64(slots), UniformBufferUsage, HostVisibleMemory)
	if err != nil {
		return nil, err
	}
	dq.Push(BufferResource, buffer)

	log.WithFields(log.Fields{
		"slots":     slots,
		"size":      structSize,
		"alignment": alignment,
		"stride":    stride,
	}).Debug("constant ring allocated")

	return &ConstantRing{
		buffer:     buffer,
		structSize: structSize,
		stride:     stride,
		slots:      slots,
	}, nil
}

// ConstantRing is a single allocation subdivided into one aligned region
// per frame slot.
type ConstantRing struct {
	buffer     Buffer
	structSize uint64
	stride     uint64
	slots      int
}

// Buffer returns the underlying uniform buffer.
func (c *ConstantRing) Buffer() Buffer {
	return c.buffer
}

// StructSize returns the unpadded size of one copy.
func (c *ConstantRing) StructSize() uint64 {
	return c.structSize
}

// Stride returns the padded distance between two slots' copies.
func (c *ConstantRing) Stride() uint64 {
	return c.stride
}

// Len returns the number of slots.
func (c *ConstantRing) Len() int {
	return c.slots
}

// Offset returns the byte offset of the copy belonging to slot.
func (c *ConstantRing) Offset(slot int) uint64 {
	return uint64(slot) * c.stride
}

// DynamicOffset is Offset in the form a dynamic descriptor bind takes.
func (c *ConstantRing) DynamicOffset(slot int) uint32 {
	return uint32(c.Offset(slot))
}

// Write copies data into the region of slot. The slot has to be
// recording, otherwise the GPU may still be reading the region.
func (c *ConstantRing) Write(dev Device, slot *FrameSlot, data []byte) error {
	if !slot.Writable() {
		return fmt.Errorf("constant ring slot %d: %w", slot.Index, ErrSlotInFlight)
	}
	if uint64(len(data)) > c.structSize {
		return fmt.Errorf("constant ring write of %d bytes exceeds structure size %d", len(data), c.structSize)
	}
	return dev.WriteBuffer(c.buffer, c.Offset(slot.Index), data)
}
