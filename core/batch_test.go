// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/devblok/vkframe/core"
	"github.com/devblok/vkframe/model"
	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"
)

type batchFixture struct {
	dev      *fakeDevice
	rec      *fakeRecorder
	ring     *core.FrameRing
	registry *core.Registry
	batch    *core.BatchRenderer
	slot     *core.FrameSlot

	matX, matY   core.MaterialHandle
	meshA, meshB core.MeshHandle
}

func newBatchFixture(c *qt.C, maxObjects int) *batchFixture {
	dev := newFakeDevice(256)
	rec := newFakeRecorder(dev)
	dq := core.NewDisposalQueue(dev)

	constants, err := core.NewConstantRing(dev, dq, 2, core.SceneConstantsSize)
	c.Assert(err, qt.IsNil)
	ring, err := core.NewFrameRing(dev, dq, 2, maxObjects, 0, testLayouts, constants)
	c.Assert(err, qt.IsNil)

	registry := core.NewRegistry()
	f := &batchFixture{
		dev:      dev,
		rec:      rec,
		ring:     ring,
		registry: registry,
		batch:    core.NewBatchRenderer(dev, rec, registry, constants, maxObjects),
		matX:     registry.CreateMaterial("X", &fakeHandle{kind: "pipeline X"}, &fakeHandle{kind: "layout"}, nil),
		matY:     registry.CreateMaterial("Y", &fakeHandle{kind: "pipeline Y"}, &fakeHandle{kind: "layout"}, &fakeHandle{kind: "texture"}),
		meshA:    registry.AddMesh("A", model.Triangle()),
		meshB:    registry.AddMesh("B", model.Cube()),
	}
	registry.Mesh(f.meshA).VertexBuffer = &fakeHandle{kind: "vertex A"}
	registry.Mesh(f.meshB).VertexBuffer = &fakeHandle{kind: "vertex B"}

	f.slot, err = ring.Acquire(dev)
	c.Assert(err, qt.IsNil)
	rec.commands = nil
	return f
}

func TestBatchRendererMinimisesBinds(t *testing.T) {
	c := qt.New(t)
	f := newBatchFixture(c, 8)

	objects := []core.RenderObject{
		{Material: f.matX, Mesh: f.meshA, Transform: glm.Ident4()},
		{Material: f.matX, Mesh: f.meshA, Transform: glm.Ident4()},
		{Material: f.matY, Mesh: f.meshB, Transform: glm.Ident4()},
	}
	stats, err := f.batch.Render(nil, f.slot, core.CameraConstants{}, core.SceneConstants{}, objects)
	c.Assert(err, qt.IsNil)
	c.Assert(stats, qt.Equals, core.BatchStats{PipelineBinds: 2, VertexBufferBinds: 2, Draws: 3})

	c.Assert(f.rec.commands, qt.DeepEquals, []string{
		"pipeline pipeline X#0",
		"sets 0 [0]",
		"sets 1 []",
		"vertices vertex A#0",
		"draw 3 1 0 0",
		"draw 3 1 0 1",
		"pipeline pipeline Y#0",
		"sets 0 [0]",
		"sets 1 []",
		"sets 2 []",
		"vertices vertex B#0",
		"draw 36 1 0 2",
	})
}

func TestBatchRendererTextureBoundPerObject(t *testing.T) {
	c := qt.New(t)
	f := newBatchFixture(c, 8)

	objects := []core.RenderObject{
		{Material: f.matY, Mesh: f.meshA},
		{Material: f.matY, Mesh: f.meshA},
		{Material: f.matY, Mesh: f.meshB},
	}
	_, err := f.batch.Render(nil, f.slot, core.CameraConstants{}, core.SceneConstants{}, objects)
	c.Assert(err, qt.IsNil)
	c.Assert(f.rec.count("pipeline"), qt.Equals, 1)
	c.Assert(f.rec.count("sets 2"), qt.Equals, 3)
	c.Assert(f.rec.count("vertices"), qt.Equals, 2)
}

func TestBatchRendererMeshChangeWithoutMaterialChange(t *testing.T) {
	c := qt.New(t)
	f := newBatchFixture(c, 8)

	objects := []core.RenderObject{
		{Material: f.matX, Mesh: f.meshA},
		{Material: f.matX, Mesh: f.meshB},
		{Material: f.matY, Mesh: f.meshB},
	}
	stats, err := f.batch.Render(nil, f.slot, core.CameraConstants{}, core.SceneConstants{}, objects)
	c.Assert(err, qt.IsNil)
	c.Assert(stats.PipelineBinds, qt.Equals, 2)
	c.Assert(stats.VertexBufferBinds, qt.Equals, 2)
}

func TestBatchRendererWritesFrameData(t *testing.T) {
	c := qt.New(t)
	f := newBatchFixture(c, 8)

	camera := core.CameraConstants{View: glm.Scale3D(3, 3, 3)}
	scene := core.SceneConstants{FogColor: glm.Vec4{0.25, 0, 0, 0}}
	objects := []core.RenderObject{
		{Material: f.matX, Mesh: f.meshA, Transform: glm.Translate3D(1, 0, 0)},
		{Material: f.matX, Mesh: f.meshA, Transform: glm.Translate3D(2, 0, 0)},
	}
	_, err := f.batch.Render(nil, f.slot, camera, scene, objects)
	c.Assert(err, qt.IsNil)

	float := func(data []byte, off int) float32 {
		return math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
	}

	cameraData := f.slot.CameraBuffer.(*fakeBuffer).data
	c.Assert(float(cameraData, 0), qt.Equals, float32(3))

	objectData := f.slot.ObjectBuffer.(*fakeBuffer).data
	c.Assert(float(objectData, 12*4), qt.Equals, float32(1))
	c.Assert(float(objectData, core.ObjectConstantsSize+12*4), qt.Equals, float32(2))
}

func TestBatchRendererDynamicOffsetFollowsSlot(t *testing.T) {
	c := qt.New(t)
	f := newBatchFixture(c, 8)

	f.ring.Advance()
	slot, err := f.ring.Acquire(f.dev)
	c.Assert(err, qt.IsNil)
	c.Assert(slot.Index, qt.Equals, 1)

	_, err = f.batch.Render(nil, slot, core.CameraConstants{}, core.SceneConstants{}, []core.RenderObject{
		{Material: f.matX, Mesh: f.meshA},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(f.rec.commands[1], qt.Equals, "sets 0 [256]")
}

func TestBatchRendererRejectsTooManyObjects(t *testing.T) {
	c := qt.New(t)
	f := newBatchFixture(c, 2)

	objects := make([]core.RenderObject, 3)
	_, err := f.batch.Render(nil, f.slot, core.CameraConstants{}, core.SceneConstants{}, objects)
	c.Assert(err, qt.ErrorIs, core.ErrTooManyObjects)
	c.Assert(f.slot.ObjectBuffer.(*fakeBuffer).writes, qt.Equals, 0)
	c.Assert(f.rec.commands, qt.HasLen, 0)
}

func TestBatchRendererRejectsSlotInFlight(t *testing.T) {
	c := qt.New(t)
	f := newBatchFixture(c, 2)

	_, err := f.batch.Render(nil, f.ring.Slot(1), core.CameraConstants{}, core.SceneConstants{}, nil)
	c.Assert(err, qt.ErrorIs, core.ErrSlotInFlight)
}

func TestBatchRendererUnknownHandles(t *testing.T) {
	c := qt.New(t)
	f := newBatchFixture(c, 8)

	_, err := f.batch.Render(nil, f.slot, core.CameraConstants{}, core.SceneConstants{}, []core.RenderObject{
		{Material: core.NoMaterial, Mesh: f.meshA},
	})
	c.Assert(err, qt.ErrorIs, core.ErrUnknownMaterial)

	_, err = f.batch.Render(nil, f.slot, core.CameraConstants{}, core.SceneConstants{}, []core.RenderObject{
		{Material: f.matX, Mesh: core.MeshHandle(42)},
	})
	c.Assert(err, qt.ErrorIs, core.ErrUnknownMesh)
}

func TestBatchRendererValidate(t *testing.T) {
	c := qt.New(t)
	f := newBatchFixture(c, 2)
	calls := len(f.dev.calls)

	c.Assert(f.batch.Validate(nil), qt.IsNil)
	c.Assert(f.batch.Validate([]core.RenderObject{{Material: f.matX, Mesh: f.meshA}, {Material: f.matY, Mesh: f.meshB}}), qt.IsNil)
	c.Assert(f.batch.Validate(make([]core.RenderObject, 3)), qt.ErrorIs, core.ErrTooManyObjects)
	c.Assert(f.batch.Validate([]core.RenderObject{{Material: f.matX, Mesh: f.meshA}, {Material: core.NoMaterial, Mesh: f.meshA}}),
		qt.ErrorMatches, "object 1 material -1: .*")
	c.Assert(f.batch.Validate([]core.RenderObject{{Material: f.matY, Mesh: core.NoMesh}}), qt.ErrorIs, core.ErrUnknownMesh)

	c.Assert(f.dev.calls, qt.HasLen, calls)
	c.Assert(f.rec.commands, qt.HasLen, 0)
}

func TestBatchRendererReusesBindSlices(t *testing.T) {
	c := qt.New(t)
	f := newBatchFixture(c, 8)
	objects := []core.RenderObject{
		{Material: f.matX, Mesh: f.meshA},
		{Material: f.matY, Mesh: f.meshA},
		{Material: f.matX, Mesh: f.meshB},
		{Material: f.matY, Mesh: f.meshB},
	}

	for frame := 0; frame < 2; frame++ {
		_, err := f.batch.Render(nil, f.slot, core.CameraConstants{}, core.SceneConstants{}, objects)
		c.Assert(err, qt.IsNil)
	}

	// pipeline changes bind two sets each, textured objects a third
	c.Assert(f.rec.boundSets, qt.HasLen, 2*(4*2+2))
	first := &f.rec.boundSets[0][0]
	for _, sets := range f.rec.boundSets {
		c.Assert(sets, qt.HasLen, 1)
		c.Assert(&sets[0], qt.Equals, first)
	}
	c.Assert(f.rec.boundOffsets, qt.HasLen, 2*4)
	for _, offsets := range f.rec.boundOffsets {
		c.Assert(offsets, qt.DeepEquals, []uint32{0})
		c.Assert(&offsets[0], qt.Equals, &f.rec.boundOffsets[0][0])
	}
}

func BenchmarkBatchRenderer(b *testing.B) {
	c := qt.New(b)
	f := newBatchFixture(c, 1000)
	objects := make([]core.RenderObject, 1000)
	for idx := range objects {
		objects[idx] = core.RenderObject{Material: f.matX, Mesh: f.meshA, Transform: glm.Ident4()}
	}
	b.ResetTimer()
	for idx := 0; idx < b.N; idx++ {
		f.rec.commands = f.rec.commands[:0]
		f.dev.calls = f.dev.calls[:0]
		if _, err := f.batch.Render(nil, f.slot, core.CameraConstants{}, core.SceneConstants{}, objects); err != nil {
			b.Fatal(err)
		}
	}
}
