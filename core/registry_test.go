// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"testing"

	"github.com/devblok/vkframe/core"
	"github.com/devblok/vkframe/model"
	qt "github.com/frankban/quicktest"
)

func TestRegistryLookup(t *testing.T) {
	c := qt.New(t)
	r := core.NewRegistry()

	pipeline := &fakeHandle{kind: "pipeline"}
	h := r.CreateMaterial("defaultmesh", pipeline, &fakeHandle{kind: "layout"}, nil)
	found, ok := r.LookupMaterial("defaultmesh")
	c.Assert(ok, qt.IsTrue)
	c.Assert(found, qt.Equals, h)
	c.Assert(r.Material(found).Pipeline, qt.Equals, core.Pipeline(pipeline))

	missing, ok := r.LookupMaterial("textured")
	c.Assert(ok, qt.IsFalse)
	c.Assert(missing, qt.Equals, core.NoMaterial)
	c.Assert(r.Material(missing), qt.IsNil)

	mesh := r.AddMesh("triangle", model.Triangle())
	foundMesh, ok := r.LookupMesh("triangle")
	c.Assert(ok, qt.IsTrue)
	c.Assert(foundMesh, qt.Equals, mesh)
	c.Assert(r.Mesh(mesh).VertexCount(), qt.Equals, uint32(3))

	missingMesh, ok := r.LookupMesh("monkey")
	c.Assert(ok, qt.IsFalse)
	c.Assert(missingMesh, qt.Equals, core.NoMesh)
	c.Assert(r.Mesh(missingMesh), qt.IsNil)
	c.Assert(r.Mesh(core.MeshHandle(5)), qt.IsNil)
}

func TestRegistryHandlesSurviveGrowth(t *testing.T) {
	c := qt.New(t)
	r := core.NewRegistry()

	first := r.AddMesh("first", model.Triangle())
	for idx := 0; idx < 100; idx++ {
		r.AddMesh("filler", model.Triangle())
	}
	c.Assert(r.Mesh(first).Name, qt.Equals, "first")
}

func TestUploadMesh(t *testing.T) {
	c := qt.New(t)
	dev := newFakeDevice(0)
	rec := newFakeRecorder(dev)
	dq := core.NewDisposalQueue(dev)
	tc, err := core.NewTransferContext(dev, rec, dq)
	c.Assert(err, qt.IsNil)

	r := core.NewRegistry()
	h := r.AddMesh("cube", model.Cube())
	queued := dq.Len()

	c.Assert(r.UploadMesh(dev, rec, tc, dq, h), qt.IsNil)

	mesh := r.Mesh(h)
	vertexBuffer := mesh.VertexBuffer.(*fakeBuffer)
	c.Assert(vertexBuffer.memory, qt.Equals, core.DeviceLocalMemory)
	c.Assert(vertexBuffer.usage&core.VertexBufferUsage, qt.Not(qt.Equals), core.BufferUsage(0))
	c.Assert(vertexBuffer.data, qt.HasLen, 36*model.VertexSize)

	// the staging buffer is released right away, the vertex buffer at shutdown
	c.Assert(dev.released, qt.HasLen, 1)
	staging := dev.released[0].handle.(*fakeBuffer)
	c.Assert(staging.memory, qt.Equals, core.HostVisibleMemory)
	c.Assert(staging.data, qt.DeepEquals, model.EncodeVertices(mesh.Vertices))
	c.Assert(dq.Len(), qt.Equals, queued+1)

	c.Assert(rec.commands, qt.DeepEquals, []string{
		"begin",
		"copy " + staging.String() + " " + vertexBuffer.String() + " 1296",
		"end",
	})
}

func TestUploadMeshUnknown(t *testing.T) {
	c := qt.New(t)
	dev := newFakeDevice(0)
	rec := newFakeRecorder(dev)
	dq := core.NewDisposalQueue(dev)
	tc, err := core.NewTransferContext(dev, rec, dq)
	c.Assert(err, qt.IsNil)

	r := core.NewRegistry()
	c.Assert(r.UploadMesh(dev, rec, tc, dq, core.NoMesh), qt.ErrorIs, core.ErrUnknownMesh)

	empty := r.AddMesh("empty", nil)
	c.Assert(r.UploadMesh(dev, rec, tc, dq, empty), qt.ErrorMatches, `upload mesh "empty": no vertices`)
}
