// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core_test

import (
	"errors"
	"testing"
	"time"

	"github.com/devblok/vkframe/core"
	"github.com/devblok/vkframe/model"
	qt "github.com/frankban/quicktest"
	glm "github.com/go-gl/mathgl/mgl32"
)

type engineFixture struct {
	dev       *fakeDevice
	rec       *fakeRecorder
	presenter *fakePresenter
	engine    *core.Engine
	objects   []core.RenderObject
}

func newEngineFixture(c *qt.C, framesInFlight int) *engineFixture {
	dev := newFakeDevice(256)
	rec := newFakeRecorder(dev)
	presenter := newFakePresenter(dev, 3)

	cfg := core.DefaultConfiguration().Renderer
	cfg.FramesInFlight = framesInFlight
	cfg.MaxObjects = 16
	cfg.FrameTimeout = time.Second

	engine, err := core.NewEngine(dev, rec, presenter, core.NewDisposalQueue(dev), testLayouts, cfg)
	c.Assert(err, qt.IsNil)

	registry := engine.Registry()
	mat := registry.CreateMaterial("defaultmesh", &fakeHandle{kind: "pipeline"}, &fakeHandle{kind: "layout"}, nil)
	mesh := registry.AddMesh("triangle", model.Triangle())
	c.Assert(engine.UploadMesh(mesh), qt.IsNil)

	dev.calls = nil
	rec.commands = nil
	return &engineFixture{
		dev:       dev,
		rec:       rec,
		presenter: presenter,
		engine:    engine,
		objects: []core.RenderObject{
			{Material: mat, Mesh: mesh, Transform: glm.Ident4()},
		},
	}
}

func TestEngineSlotPattern(t *testing.T) {
	c := qt.New(t)
	f := newEngineFixture(c, 2)
	ring := f.engine.Ring()

	var visited []int
	for idx := 0; idx < 5; idx++ {
		visited = append(visited, ring.Current().Index)
		c.Assert(f.engine.Draw(f.objects), qt.IsNil)
	}
	c.Assert(visited, qt.DeepEquals, []int{0, 1, 0, 1, 0})
	c.Assert(f.engine.FrameNumber(), qt.Equals, uint64(5))
	c.Assert(f.presenter.present, qt.DeepEquals, []uint32{0, 1, 2, 0, 1})
}

func TestEngineFenceObservedBeforeReuse(t *testing.T) {
	c := qt.New(t)
	f := newEngineFixture(c, 2)
	ring := f.engine.Ring()

	for idx := 0; idx < 4; idx++ {
		c.Assert(f.engine.Draw(f.objects), qt.IsNil)
	}

	// every submission against a slot fence is preceded by a wait and a
	// reset of that same fence, and no write lands in between submit and wait
	for slotIdx := 0; slotIdx < ring.Len(); slotIdx++ {
		slot := ring.Slot(slotIdx)
		fence := slot.Fence.(*fakeFence).String()
		prefixes := []string{
			"write " + slot.CameraBuffer.(*fakeBuffer).String() + "@",
			"write " + slot.ObjectBuffer.(*fakeBuffer).String() + "@",
		}

		observed := false
		for _, call := range f.dev.calls {
			switch {
			case call == "wait "+fence:
				observed = true
			case call == "reset "+fence:
				c.Assert(observed, qt.IsTrue, qt.Commentf("reset before wait"))
			case len(call) > 7 && call[:7] == "submit " && call[len(call)-len(fence):] == fence:
				c.Assert(observed, qt.IsTrue, qt.Commentf("submit without observing %s", fence))
				observed = false
			default:
				for _, p := range prefixes {
					if len(call) >= len(p) && call[:len(p)] == p {
						c.Assert(observed, qt.IsTrue, qt.Commentf("%q while slot %d in flight", call, slotIdx))
					}
				}
			}
		}
	}
}

func TestEngineFrameOrder(t *testing.T) {
	c := qt.New(t)
	f := newEngineFixture(c, 2)

	c.Assert(f.engine.Draw(f.objects), qt.IsNil)

	slot := f.engine.Ring().Slot(0)
	c.Assert(slot.State(), qt.Equals, core.SlotSubmitted)
	c.Assert(f.rec.commands, qt.DeepEquals, []string{
		"reset",
		"begin",
		"begin pass 0",
		"pipeline pipeline#0",
		"sets 0 [0]",
		"sets 1 []",
		"vertices " + f.engine.Registry().Mesh(0).VertexBuffer.(*fakeBuffer).String(),
		"draw 3 1 0 0",
		"end pass",
		"end",
	})

	sub := f.dev.submissions[len(f.dev.submissions)-1]
	c.Assert(sub.CommandBuffer, qt.Equals, slot.CommandBuffer)
	c.Assert(sub.Wait, qt.Equals, slot.Acquired)
	c.Assert(sub.WaitStage, qt.Equals, core.ColorAttachmentOutputStage)
	c.Assert(sub.Signal, qt.Equals, slot.Rendered)
	c.Assert(sub.Fence, qt.Equals, slot.Fence)
}

func TestEngineAcquireFailureReleasesSlot(t *testing.T) {
	c := qt.New(t)
	f := newEngineFixture(c, 1)

	f.presenter.failures["AcquireNextImage"] = core.NewDeviceError("vk.AcquireNextImage", errors.New("surface lost"))
	err := f.engine.Draw(f.objects)
	c.Assert(core.IsFatal(err), qt.IsTrue)
	c.Assert(f.engine.FrameNumber(), qt.Equals, uint64(0))

	// the fence was signaled by an empty submission, so the next frame
	// does not time out
	c.Assert(f.engine.Draw(f.objects), qt.IsNil)
	c.Assert(f.engine.FrameNumber(), qt.Equals, uint64(1))
}

func TestEngineRejectsInvalidListBeforeAcquire(t *testing.T) {
	c := qt.New(t)
	f := newEngineFixture(c, 2)
	mesh := f.objects[0].Mesh

	invalid := [][]core.RenderObject{
		make([]core.RenderObject, 17),
		{{Material: core.NoMaterial, Mesh: mesh}},
		{{Material: f.objects[0].Material, Mesh: core.MeshHandle(42)}},
	}
	expected := []error{core.ErrTooManyObjects, core.ErrUnknownMaterial, core.ErrUnknownMesh}
	submitted := len(f.dev.submissions)

	// more rejections than there are slots or images
	for round := 0; round < 2; round++ {
		for idx, objects := range invalid {
			err := f.engine.Draw(objects)
			c.Assert(err, qt.ErrorIs, expected[idx])
			c.Assert(core.IsFatal(err), qt.IsFalse)
		}
	}

	c.Assert(f.presenter.acquired, qt.HasLen, 0)
	c.Assert(f.presenter.present, qt.HasLen, 0)
	c.Assert(f.dev.submissions, qt.HasLen, submitted)
	c.Assert(f.rec.commands, qt.HasLen, 0)
	c.Assert(f.engine.FrameNumber(), qt.Equals, uint64(0))

	for idx := 0; idx < 3; idx++ {
		c.Assert(f.engine.Draw(f.objects), qt.IsNil)
	}
	c.Assert(len(f.presenter.acquired), qt.Equals, len(f.presenter.present))
	c.Assert(f.presenter.present, qt.DeepEquals, []uint32{0, 1, 2})
}

func TestEngineSubmitFailureReleasesSlot(t *testing.T) {
	c := qt.New(t)
	f := newEngineFixture(c, 1)
	slot := f.engine.Ring().Slot(0)

	f.dev.failures["Submit"] = core.NewDeviceError("vk.QueueSubmit", errors.New("out of memory"))
	err := f.engine.Draw(f.objects)
	c.Assert(err, qt.ErrorMatches, `vk.QueueSubmit\(\): out of memory`)
	c.Assert(f.engine.FrameNumber(), qt.Equals, uint64(0))

	// the acquired image is released by an empty submission on the fence
	abandoned := f.dev.submissions[len(f.dev.submissions)-1]
	c.Assert(abandoned.CommandBuffer, qt.IsNil)
	c.Assert(abandoned.Wait, qt.Equals, slot.Acquired)
	c.Assert(abandoned.Fence, qt.Equals, slot.Fence)

	c.Assert(f.engine.Draw(f.objects), qt.IsNil)
	c.Assert(f.engine.FrameNumber(), qt.Equals, uint64(1))
}

func TestEnginePresentFailureConsumesRendered(t *testing.T) {
	c := qt.New(t)
	f := newEngineFixture(c, 1)
	slot := f.engine.Ring().Slot(0)

	f.presenter.failures["Present"] = core.NewDeviceError("vk.QueuePresent", errors.New("out of date"))
	err := f.engine.Draw(f.objects)
	c.Assert(err, qt.ErrorMatches, `frame 0: vk.QueuePresent\(\): out of date`)
	c.Assert(f.engine.FrameNumber(), qt.Equals, uint64(0))

	consumed := f.dev.submissions[len(f.dev.submissions)-1]
	c.Assert(consumed.CommandBuffer, qt.IsNil)
	c.Assert(consumed.Wait, qt.Equals, slot.Rendered)
	c.Assert(consumed.Signal, qt.IsNil)
	c.Assert(consumed.Fence, qt.IsNil)
	c.Assert(slot.State(), qt.Equals, core.SlotSubmitted)

	c.Assert(f.engine.Draw(f.objects), qt.IsNil)
	c.Assert(f.engine.FrameNumber(), qt.Equals, uint64(1))
	c.Assert(f.presenter.present, qt.HasLen, 1)
}

func TestEngineShutdownIdlesBeforeFlush(t *testing.T) {
	c := qt.New(t)
	f := newEngineFixture(c, 2)
	c.Assert(f.engine.Draw(f.objects), qt.IsNil)

	pending := f.engine.Disposal().Len()
	var idleFirst bool
	f.engine.Disposal().PushFunc(func() {
		idleFirst = f.dev.calls[len(f.dev.calls)-1] == "wait idle"
	})

	c.Assert(f.engine.Shutdown(), qt.IsNil)
	c.Assert(idleFirst, qt.IsTrue)
	c.Assert(f.dev.released, qt.HasLen, pending+1)
	c.Assert(f.engine.Disposal().Len(), qt.Equals, 0)

	// a second shutdown releases nothing more
	c.Assert(f.engine.Shutdown(), qt.IsNil)
	c.Assert(f.dev.released, qt.HasLen, pending+1)
}

func TestEngineShutdownIdleFailure(t *testing.T) {
	c := qt.New(t)
	f := newEngineFixture(c, 2)

	f.dev.failures["WaitIdle"] = core.NewDeviceError("vk.DeviceWaitIdle", errors.New("device lost"))
	c.Assert(f.engine.Shutdown(), qt.ErrorMatches, `vk.DeviceWaitIdle\(\): device lost`)
	c.Assert(f.dev.released, qt.HasLen, 1)
}

func TestEngineSceneReachesConstantRing(t *testing.T) {
	c := qt.New(t)
	f := newEngineFixture(c, 2)

	scene := core.DefaultScene
	scene.FogColor = glm.Vec4{1, 0, 0, 1}
	f.engine.SetScene(scene)
	c.Assert(f.engine.Scene(), qt.Equals, scene)

	c.Assert(f.engine.Draw(f.objects), qt.IsNil)
	c.Assert(f.engine.Draw(f.objects), qt.IsNil)

	data := f.engine.Constants().Buffer().(*fakeBuffer).data
	expected := make([]byte, core.SceneConstantsSize)
	scene.Encode(expected)
	c.Assert(data[0:core.SceneConstantsSize], qt.DeepEquals, expected)
	c.Assert(data[256:256+core.SceneConstantsSize], qt.DeepEquals, expected)
}
