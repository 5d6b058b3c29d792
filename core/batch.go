// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// NewBatchRenderer creates a renderer drawing registry objects with
// per-frame data from the given constant ring.
func NewBatchRenderer(dev Device, rec Recorder, registry *Registry, constants *ConstantRing, maxObjects int) *BatchRenderer {
	return &BatchRenderer{
		dev:        dev,
		rec:        rec,
		registry:   registry,
		constants:  constants,
		maxObjects: maxObjects,
		scratch:    make([]byte, ObjectConstantsSize*maxObjects),
	}
}

// BatchRenderer records the draws of a render list. Consecutive objects
// sharing a material or a mesh share the bind, so sorting the list by
// material then mesh minimises state changes.
type BatchRenderer struct {
	dev       Device
	rec       Recorder
	registry  *Registry
	constants *ConstantRing

	maxObjects int
	scratch    []byte

	// reused by every bind
	sets           [1]DescriptorSet
	dynamicOffsets [1]uint32
}

// BatchStats counts what one Render call recorded.
type BatchStats struct {
	PipelineBinds     int
	VertexBufferBinds int
	Draws             int
}

// Validate checks a render list against the capacity and the registry
// without touching any frame resource.
func (b *BatchRenderer) Validate(objects []RenderObject) error {
	if len(objects) > b.maxObjects {
		return fmt.Errorf("%d objects, capacity %d: %w", len(objects), b.maxObjects, ErrTooManyObjects)
	}
	for idx := range objects {
		obj := &objects[idx]
		if b.registry.Material(obj.Material) == nil {
			return fmt.Errorf("object %d material %d: %w", idx, obj.Material, ErrUnknownMaterial)
		}
		if b.registry.Mesh(obj.Mesh) == nil {
			return fmt.Errorf("object %d mesh %d: %w", idx, obj.Mesh, ErrUnknownMesh)
		}
	}
	return nil
}

func (b *BatchRenderer) bindSet(cmd CommandBuffer, layout PipelineLayout, firstSet uint32, set DescriptorSet, dynamicOffsets []uint32) {
	b.sets[0] = set
	b.rec.BindDescriptorSets(cmd, layout, firstSet, b.sets[:], dynamicOffsets)
}

// Render uploads the frame's camera, scene and object data into the slot's
// buffers and records one draw per object into cmd. The slot has to be
// writable.
func (b *BatchRenderer) Render(cmd CommandBuffer, slot *FrameSlot, camera CameraConstants, scene SceneConstants, objects []RenderObject) (BatchStats, error) {
	var stats BatchStats
	if len(objects) > b.maxObjects {
		return stats, fmt.Errorf("%d objects, capacity %d: %w", len(objects), b.maxObjects, ErrTooManyObjects)
	}
	if !slot.Writable() {
		return stats, fmt.Errorf("render into slot %d: %w", slot.Index, ErrSlotInFlight)
	}

	var cameraData [CameraConstantsSize]byte
	camera.Encode(cameraData[:])
	if err := b.dev.WriteBuffer(slot.CameraBuffer, 0, cameraData[:]); err != nil {
		return stats, err
	}

	var sceneData [SceneConstantsSize]byte
	scene.Encode(sceneData[:])
	if err := b.constants.Write(b.dev, slot, sceneData[:]); err != nil {
		return stats, err
	}

	if len(objects) > 0 {
		data := b.scratch[:ObjectConstantsSize*len(objects)]
		for idx := range objects {
			putMat4(data[idx*ObjectConstantsSize:], objects[idx].Transform)
		}
		if err := b.dev.WriteBuffer(slot.ObjectBuffer, 0, data); err != nil {
			return stats, err
		}
	}

	lastMaterial, lastMesh := NoMaterial, NoMesh
	var material *Material
	var mesh *Mesh
	b.dynamicOffsets[0] = b.constants.DynamicOffset(slot.Index)

	for idx, obj := range objects {
		if material == nil || obj.Material != lastMaterial {
			if material = b.registry.Material(obj.Material); material == nil {
				return stats, fmt.Errorf("object %d material %d: %w", idx, obj.Material, ErrUnknownMaterial)
			}
			b.rec.BindPipeline(cmd, material.Pipeline)
			b.bindSet(cmd, material.Layout, 0, slot.GlobalSet, b.dynamicOffsets[:])
			b.bindSet(cmd, material.Layout, 1, slot.ObjectSet, nil)
			lastMaterial = obj.Material
			stats.PipelineBinds++
		}

		if material.Texture != nil {
			b.bindSet(cmd, material.Layout, 2, material.Texture, nil)
		}

		if mesh == nil || obj.Mesh != lastMesh {
			if mesh = b.registry.Mesh(obj.Mesh); mesh == nil {
				return stats, fmt.Errorf("object %d mesh %d: %w", idx, obj.Mesh, ErrUnknownMesh)
			}
			b.rec.BindVertexBuffer(cmd, mesh.VertexBuffer)
			lastMesh = obj.Mesh
			stats.VertexBufferBinds++
		}

		b.rec.Draw(cmd, mesh.VertexCount(), 1, 0, uint32(idx))
		stats.Draws++
	}

	log.WithFields(log.Fields{
		"slot":      slot.Index,
		"objects":   len(objects),
		"pipelines": stats.PipelineBinds,
		"meshes":    stats.VertexBufferBinds,
	}).Trace("render list recorded")

	return stats, nil
}
