// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"fmt"
	"time"

	glm "github.com/go-gl/mathgl/mgl32"
	log "github.com/sirupsen/logrus"
)

// DefaultScene is the scene constants an engine starts with.
var DefaultScene = SceneConstants{
	FogColor:          glm.Vec4{0, 0, 0, 1},
	FogDistances:      glm.Vec4{0, 200, 0, 0},
	AmbientColor:      glm.Vec4{0.1, 0.1, 0.1, 1},
	SunlightDirection: glm.Vec4{0, -1, 0, 1},
	SunlightColor:     glm.Vec4{1, 1, 1, 1},
}

// NewEngine allocates the frame ring, the constant ring sized for it and
// the transfer context. Everything is registered in dq, which the caller
// may already have filled with the resources the engine depends on.
func NewEngine(dev Device, rec Recorder, presenter Presenter, dq *DisposalQueue, layouts FrameLayouts, cfg RendererConfiguration) (*Engine, error) {
	constants, err := NewConstantRing(dev, dq, cfg.FramesInFlight, SceneConstantsSize)
	if err != nil {
		return nil, err
	}

	ring, err := NewFrameRing(dev, dq, cfg.FramesInFlight, cfg.MaxObjects, cfg.FrameTimeout, layouts, constants)
	if err != nil {
		return nil, err
	}

	transfer, err := NewTransferContext(dev, rec, dq)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry()
	aspect := float32(1)
	if cfg.ScreenHeight > 0 {
		aspect = float32(cfg.ScreenWidth) / float32(cfg.ScreenHeight)
	}

	return &Engine{
		dev:       dev,
		rec:       rec,
		presenter: presenter,
		disposal:  dq,
		constants: constants,
		ring:      ring,
		transfer:  transfer,
		registry:  registry,
		batch:     NewBatchRenderer(dev, rec, registry, constants, cfg.MaxObjects),
		camera:    NewCamera(glm.Vec3{0, -6, -10}),
		scene:     DefaultScene,
		clear: ClearValues{
			Color: [4]float32{0.1, 1.0, 0.0, 1.0},
			Depth: 1,
		},
		aspect:  aspect,
		timeout: cfg.FrameTimeout,
	}, nil
}

// Engine ties the frame core together and drives one frame per Draw.
type Engine struct {
	dev       Device
	rec       Recorder
	presenter Presenter
	disposal  *DisposalQueue

	constants *ConstantRing
	ring      *FrameRing
	transfer  *TransferContext
	registry  *Registry
	batch     *BatchRenderer

	camera *Camera
	scene  SceneConstants
	clear  ClearValues
	aspect float32

	timeout time.Duration
}

// Draw renders objects into the next presentable image and presents it.
// An error leaves the frame counter where it was. A render list that
// exceeds the capacity or names unregistered handles is rejected before
// any slot or image is acquired.
func (e *Engine) Draw(objects []RenderObject) (err error) {
	if err := e.batch.Validate(objects); err != nil {
		return err
	}

	slot, err := e.ring.Acquire(e.dev)
	if err != nil {
		return err
	}

	acquired := false
	defer func() {
		if err != nil {
			e.abandon(slot, acquired)
		}
	}()

	imageIndex, err := e.presenter.AcquireNextImage(slot.Acquired, e.timeout)
	if err != nil {
		return fmt.Errorf("frame %d: %w", e.ring.FrameNumber(), err)
	}
	acquired = true

	cmd := slot.CommandBuffer
	if err = e.rec.Reset(cmd); err != nil {
		return err
	}
	if err = e.rec.Begin(cmd); err != nil {
		return err
	}
	if err = slot.transition(SlotAcquiring, SlotRecording); err != nil {
		return err
	}

	e.rec.BeginRenderPass(cmd, imageIndex, e.clear)
	stats, err := e.batch.Render(cmd, slot, e.camera.Constants(e.aspect), e.scene, objects)
	if err != nil {
		return err
	}
	e.rec.EndRenderPass(cmd)
	if err = e.rec.End(cmd); err != nil {
		return err
	}

	if err = e.dev.Submit(Submission{
		CommandBuffer: cmd,
		Wait:          slot.Acquired,
		WaitStage:     ColorAttachmentOutputStage,
		Signal:        slot.Rendered,
		Fence:         slot.Fence,
	}); err != nil {
		return err
	}
	if err = slot.transition(SlotRecording, SlotSubmitted); err != nil {
		return err
	}

	if err := e.presenter.Present(slot.Rendered, imageIndex); err != nil {
		e.unsignal(slot)
		return fmt.Errorf("frame %d: %w", e.ring.FrameNumber(), err)
	}

	log.WithFields(log.Fields{
		"frame": e.ring.FrameNumber(),
		"slot":  slot.Index,
		"image": imageIndex,
		"draws": stats.Draws,
	}).Trace("frame presented")

	e.ring.Advance()
	return nil
}

// abandon signals the fence of a slot that was reset but never submitted,
// so the next wait on it does not run into the timeout. If the image was
// acquired the empty submission also consumes the acquired semaphore.
func (e *Engine) abandon(slot *FrameSlot, acquired bool) {
	if slot.state == SlotSubmitted {
		return
	}
	sub := Submission{Fence: slot.Fence}
	if acquired {
		sub.Wait = slot.Acquired
		sub.WaitStage = TopOfPipeStage
	}
	if err := e.dev.Submit(sub); err != nil {
		log.WithError(err).WithField("slot", slot.Index).Warn("could not release abandoned frame slot")
		return
	}
	slot.state = SlotSubmitted
}

// unsignal consumes the rendered semaphore of a frame whose present
// failed, so the slot's next submission can signal it again.
func (e *Engine) unsignal(slot *FrameSlot) {
	if err := e.dev.Submit(Submission{
		Wait:      slot.Rendered,
		WaitStage: TopOfPipeStage,
	}); err != nil {
		log.WithError(err).WithField("slot", slot.Index).Warn("could not consume rendered semaphore")
	}
}

// Shutdown waits for the device to go idle and then flushes the disposal
// queue. If the device does not go idle nothing is released.
func (e *Engine) Shutdown() error {
	if err := e.dev.WaitIdle(); err != nil {
		return err
	}
	e.disposal.Flush()
	log.WithField("frames", e.ring.FrameNumber()).Info("engine shut down")
	return nil
}

// UploadMesh uploads a registered mesh with the engine's transfer context.
func (e *Engine) UploadMesh(h MeshHandle) error {
	return e.registry.UploadMesh(e.dev, e.rec, e.transfer, e.disposal, h)
}

// SetScene replaces the scene constants used from the next frame on.
func (e *Engine) SetScene(scene SceneConstants) {
	e.scene = scene
}

// Scene returns the current scene constants.
func (e *Engine) Scene() SceneConstants {
	return e.scene
}

// SetClearValues replaces the render pass clear values.
func (e *Engine) SetClearValues(clear ClearValues) {
	e.clear = clear
}

// SetAspect sets the aspect ratio the camera projection is built with.
func (e *Engine) SetAspect(aspect float32) {
	e.aspect = aspect
}

// Registry returns the material and mesh registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Transfer returns the transfer context used for setup uploads.
func (e *Engine) Transfer() *TransferContext {
	return e.transfer
}

// Disposal returns the queue that is flushed at shutdown.
func (e *Engine) Disposal() *DisposalQueue {
	return e.disposal
}

// Camera returns the engine camera.
func (e *Engine) Camera() *Camera {
	return e.camera
}

// Ring returns the frame ring.
func (e *Engine) Ring() *FrameRing {
	return e.ring
}

// Constants returns the scene constant ring.
func (e *Engine) Constants() *ConstantRing {
	return e.constants
}

// FrameNumber returns the number of frames presented so far.
func (e *Engine) FrameNumber() uint64 {
	return e.ring.FrameNumber()
}
