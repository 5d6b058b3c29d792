// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"flag"
	"fmt"
	"runtime"

	"github.com/devblok/vkframe/core"
	"github.com/devblok/vkframe/device"
	"github.com/gobuffalo/packr"
	log "github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"
)

func init() {
	runtime.LockOSThread()
}

var (
	envFile  = flag.String("env", ".env", "Dotenv file to read configuration from")
	archive  = flag.String("archive", "", "kar archive with meshes to show")
	texture  = flag.String("texture", "", "BMP image to texture the centerpiece with")
	gridSize = flag.Int("grid", 20, "Size of the triangle grid in each direction")
)

// Movement speed in units per second
const moveSpeed = 5.0

// Materials created at startup
const (
	MeshMaterial     = "mesh"
	TexturedMaterial = "textured"
)

func newWindow(cfg core.RendererConfiguration) (*sdl.Window, error) {
	return sdl.CreateWindow("vkframe",
		sdl.WINDOWPOS_UNDEFINED,
		sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.ScreenWidth),
		int32(cfg.ScreenHeight),
		sdl.WINDOW_VULKAN)
}

func main() {
	flag.Parse()

	cfg, err := core.LoadConfiguration(*envFile)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	core.ConfigureLogging(cfg.Log)

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("renderer failed")
	}
}

func run(cfg core.Configuration) error {
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
		return err
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		return err
	}
	defer sdl.VulkanUnloadLibrary()

	window, err := newWindow(cfg.Renderer)
	if err != nil {
		return err
	}
	defer window.Destroy()

	instance, err := device.NewInstance(device.DefaultApplicationInfo, sdl.VulkanGetVkGetInstanceProcAddr(), device.InstanceConfiguration{
		Extensions: window.VulkanGetInstanceExtensions(),
		Debug:      cfg.Renderer.Debug,
	})
	if err != nil {
		return err
	}
	defer instance.Destroy()

	surface, err := window.VulkanCreateSurface(instance.Instance())
	if err != nil {
		return err
	}
	instance.SetSurface(surface)

	dev, err := device.NewDevice(instance, cfg.Renderer.DeviceExtensions)
	if err != nil {
		return err
	}
	defer dev.Destroy()

	dq := core.NewDisposalQueue(dev)
	engine, swapchain, err := setup(dev, dq, cfg.Renderer)
	if err != nil {
		if dev.WaitIdle() == nil {
			dq.Flush()
		}
		return err
	}
	defer func() {
		if err := engine.Shutdown(); err != nil {
			log.WithError(err).Error("shutdown failed")
		}
	}()

	width, height := swapchain.Extent()
	engine.SetAspect(float32(width) / float32(height))

	meshes, err := loadMeshes(engine.Registry(), *archive)
	if err != nil {
		return err
	}
	if err := uploadMeshes(engine, meshes); err != nil {
		return err
	}

	centerMaterial := MeshMaterial
	if _, ok := engine.Registry().LookupMaterial(TexturedMaterial); ok {
		centerMaterial = TexturedMaterial
	}
	objects, err := buildScene(engine.Registry(), meshes[0], centerMaterial, MeshMaterial, *gridSize)
	if err != nil {
		return err
	}

	return loop(engine, cfg, objects)
}

func errNoProgram(dir, name string) error {
	return fmt.Errorf("%s: no %s%s and %s%s shader pair", dir,
		name, device.VertexShaderSuffix, name, device.FragmentShaderSuffix)
}

// setup creates everything the engine draws with. Resources are pushed
// to dq as they are created.
func setup(dev *device.Device, dq *core.DisposalQueue, cfg core.RendererConfiguration) (*core.Engine, *device.Swapchain, error) {
	swapchain, err := device.NewSwapchain(dev, cfg, dq)
	if err != nil {
		return nil, nil, err
	}
	cfg.ScreenWidth, cfg.ScreenHeight = swapchain.Extent()

	layouts, err := device.NewLayouts(dev, dq)
	if err != nil {
		return nil, nil, err
	}

	engine, err := core.NewEngine(dev, device.NewRecorder(swapchain), swapchain, dq, layouts.Frame, cfg)
	if err != nil {
		return nil, nil, err
	}

	programs, err := device.LoadShaderPrograms(packr.NewBox(cfg.ShaderDirectory))
	if err != nil {
		return nil, nil, err
	}
	log.WithField("programs", device.ProgramNames(programs)).Debug("shaders loaded")

	builder, err := device.NewPipelineBuilder(dev, swapchain, layouts, dq)
	if err != nil {
		return nil, nil, err
	}

	program, ok := programs[MeshMaterial]
	if !ok {
		return nil, nil, errNoProgram(cfg.ShaderDirectory, MeshMaterial)
	}
	pipeline, layout, err := builder.Build(program, false)
	if err != nil {
		return nil, nil, err
	}
	engine.Registry().CreateMaterial(MeshMaterial, pipeline, layout, nil)

	if *texture == "" {
		return engine, swapchain, nil
	}

	program, ok = programs[TexturedMaterial]
	if !ok {
		return nil, nil, errNoProgram(cfg.ShaderDirectory, TexturedMaterial)
	}
	img, err := decodeTexture(*texture)
	if err != nil {
		return nil, nil, err
	}
	loader, err := device.NewTextureLoader(dev, engine.Transfer(), layouts, 1, dq)
	if err != nil {
		return nil, nil, err
	}
	set, err := loader.Load(img)
	if err != nil {
		return nil, nil, err
	}
	pipeline, layout, err = builder.Build(program, true)
	if err != nil {
		return nil, nil, err
	}
	engine.Registry().CreateMaterial(TexturedMaterial, pipeline, layout, set)

	return engine, swapchain, nil
}

// loop polls events on the event ticker and draws on the fps ticker
// until the window is closed or a frame fails under the abort policy.
func loop(engine *core.Engine, cfg core.Configuration, objects []core.RenderObject) error {
	clock := core.NewTime(cfg.Time)
	defer clock.Stop()

	sdl.SetRelativeMouseMode(true)
	camera := engine.Camera()

	for {
		select {
		case <-clock.EventTicker().C:
			for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
				switch et := event.(type) {
				case *sdl.KeyboardEvent:
					if et.Keysym.Sym == sdl.K_ESCAPE {
						log.Info("event loop exited")
						return nil
					}
				case *sdl.MouseMotionEvent:
					camera.Rotate(float32(et.XRel), -float32(et.YRel))
				case *sdl.QuitEvent:
					log.Info("event loop exited")
					return nil
				}
			}
		case <-clock.FpsTicker().C:
			step := float32(clock.Tick().Seconds()) * moveSpeed
			keys := sdl.GetKeyboardState()
			var forward, right float32
			if keys[sdl.SCANCODE_W] != 0 {
				forward += step
			}
			if keys[sdl.SCANCODE_S] != 0 {
				forward -= step
			}
			if keys[sdl.SCANCODE_D] != 0 {
				right += step
			}
			if keys[sdl.SCANCODE_A] != 0 {
				right -= step
			}
			camera.Move(forward, right)

			if err := engine.Draw(objects); cfg.Renderer.FailurePolicy.Stop(log.StandardLogger(), err) {
				return err
			}
		}
	}
}
