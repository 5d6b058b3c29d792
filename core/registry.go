// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"

	"github.com/devblok/vkframe/model"
	glm "github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"
)

// MaterialHandle indexes a Material in a Registry.
type MaterialHandle int

// MeshHandle indexes a Mesh in a Registry.
type MeshHandle int

// Sentinels returned by failed lookups and used as "nothing bound yet".
const (
	NoMaterial MaterialHandle = -1
	NoMesh     MeshHandle     = -1
)

// Material describes how a mesh is drawn. Texture is optional.
type Material struct {
	Name     string
	Pipeline Pipeline
	Layout   PipelineLayout
	Texture  DescriptorSet
}

// Mesh owns its vertices and the GPU buffer they were uploaded to.
type Mesh struct {
	Name         string
	Vertices     []model.Vertex
	VertexBuffer Buffer
}

// VertexCount returns the number of vertices a draw of the mesh covers.
func (m *Mesh) VertexCount() uint32 {
	return uint32(len(m.Vertices))
}

// RenderObject is one drawable instance. Mesh and Material refer into
// the Registry the object is drawn with.
type RenderObject struct {
	Mesh      MeshHandle
	Material  MaterialHandle
	Transform glm.Mat4
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		materialNames: make(map[string]MaterialHandle),
		meshNames:     make(map[string]MeshHandle),
	}
}

// Registry keeps materials and meshes by name. Entries are never removed,
// so handles stay valid for the registry's lifetime.
type Registry struct {
	materials     []Material
	materialNames map[string]MaterialHandle

	meshes    []Mesh
	meshNames map[string]MeshHandle
}

// CreateMaterial registers a material under name, replacing the handle
// the name resolves to if it already existed.
func (r *Registry) CreateMaterial(name string, pipeline Pipeline, layout PipelineLayout, texture DescriptorSet) MaterialHandle {
	handle := MaterialHandle(len(r.materials))
	r.materials = append(r.materials, Material{
		Name:     name,
		Pipeline: pipeline,
		Layout:   layout,
		Texture:  texture,
	})
	r.materialNames[name] = handle
	return handle
}

// LookupMaterial returns the material handle for name, or NoMaterial
// and false if there is none.
func (r *Registry) LookupMaterial(name string) (MaterialHandle, bool) {
	if h, ok := r.materialNames[name]; ok {
		return h, true
	}
	return NoMaterial, false
}

// Material returns the material behind h, or nil for an invalid handle.
func (r *Registry) Material(h MaterialHandle) *Material {
	if h < 0 || int(h) >= len(r.materials) {
		return nil
	}
	return &r.materials[h]
}

// AddMesh registers vertices under name. The mesh has no vertex buffer
// until it is uploaded.
func (r *Registry) AddMesh(name string, vertices []model.Vertex) MeshHandle {
	handle := MeshHandle(len(r.meshes))
	r.meshes = append(r.meshes, Mesh{
		Name:     name,
		Vertices: vertices,
	})
	r.meshNames[name] = handle
	return handle
}

// LookupMesh returns the mesh handle for name, or NoMesh and false.
func (r *Registry) LookupMesh(name string) (MeshHandle, bool) {
	if h, ok := r.meshNames[name]; ok {
		return h, true
	}
	return NoMesh, false
}

// Mesh returns the mesh behind h, or nil for an invalid handle.
func (r *Registry) Mesh(h MeshHandle) *Mesh {
	if h < 0 || int(h) >= len(r.meshes) {
		return nil
	}
	return &r.meshes[h]
}

// UploadMesh copies the mesh's vertices into a device local vertex buffer
// through a host visible staging buffer. The staging buffer is released
// as soon as the copy has executed, the vertex buffer is registered in dq.
func (r *Registry) UploadMesh(dev Device, rec Recorder, tc *TransferContext, dq *DisposalQueue, h MeshHandle) error {
	mesh := r.Mesh(h)
	if mesh == nil {
		return fmt.Errorf("upload mesh %d: %w", h, ErrUnknownMesh)
	}
	if len(mesh.Vertices) == 0 {
		return fmt.Errorf("upload mesh %q: no vertices", mesh.Name)
	}

	data := model.EncodeVertices(mesh.Vertices)
	size := uint64(len(data))

	staging, err := dev.CreateBuffer(size, TransferSrcUsage, HostVisibleMemory)
	if err != nil {
		return err
	}
	defer dev.Release(BufferResource, staging)

	if err := dev.WriteBuffer(staging, 0, data); err != nil {
		return err
	}

	vertexBuffer, err := dev.CreateBuffer(size, VertexBufferUsage|TransferDstUsage, DeviceLocalMemory)
	if err != nil {
		return err
	}
	dq.Push(BufferResource, vertexBuffer)

	if err := tc.ImmediateSubmit(func(cmd CommandBuffer) {
		rec.CopyBuffer(cmd, staging, vertexBuffer, size)
	}); err != nil {
		return err
	}
	mesh.VertexBuffer = vertexBuffer

	log.WithFields(log.Fields{
		"mesh":     mesh.Name,
		"vertices": len(mesh.Vertices),
		"bytes":    size,
	}).Debug("mesh uploaded")
	return nil
}
