// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package device

import (
	"fmt"
	"io/ioutil"
	"path"
	"sort"
	"strings"

	"github.com/devblok/vkframe/core"
	"github.com/devblok/vkframe/model"
	vk "github.com/devblok/vulkan"
	"github.com/gobuffalo/packd"
	log "github.com/sirupsen/logrus"
)

// Shader file suffixes, a program named "mesh" consists of
// "mesh.vert.spv" and "mesh.frag.spv".
const (
	VertexShaderSuffix   = ".vert.spv"
	FragmentShaderSuffix = ".frag.spv"
)

// ShaderProgram is the compiled SPIR-V of a vertex and fragment shader pair.
type ShaderProgram struct {
	Name     string
	Vertex   []byte
	Fragment []byte
}

// LoadShaderPrograms collects every complete shader pair in src, usually
// a packr.Box. Halves without a partner are skipped.
func LoadShaderPrograms(src packd.Walker) (map[string]*ShaderProgram, error) {
	programs := make(map[string]*ShaderProgram)
	err := src.Walk(func(name string, f packd.File) error {
		base := path.Base(name)
		var program, stage string
		switch {
		case strings.HasSuffix(base, VertexShaderSuffix):
			program, stage = strings.TrimSuffix(base, VertexShaderSuffix), "vert"
		case strings.HasSuffix(base, FragmentShaderSuffix):
			program, stage = strings.TrimSuffix(base, FragmentShaderSuffix), "frag"
		default:
			return nil
		}

		code, err := ioutil.ReadAll(f)
		if err != nil {
			return fmt.Errorf("%s: %s", name, err.Error())
		}
		if len(code) == 0 || len(code)%4 != 0 {
			return fmt.Errorf("%s: %d bytes is not SPIR-V", name, len(code))
		}

		p, ok := programs[program]
		if !ok {
			p = &ShaderProgram{Name: program}
			programs[program] = p
		}
		if stage == "vert" {
			p.Vertex = code
		} else {
			p.Fragment = code
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for name, p := range programs {
		if p.Vertex == nil || p.Fragment == nil {
			log.WithField("program", name).Warn("incomplete shader program skipped")
			delete(programs, name)
		}
	}
	return programs, nil
}

// ProgramNames returns the program names in sorted order.
func ProgramNames(programs map[string]*ShaderProgram) []string {
	names := make([]string, 0, len(programs))
	for name := range programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewShaderModule creates a shader module from SPIR-V code.
func NewShaderModule(dev *Device, code []byte) (vk.ShaderModule, error) {
	smci := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    core.SliceUint32(code),
	}

	var shader vk.ShaderModule
	if err := vk.Error(vk.CreateShaderModule(dev.device, &smci, nil, &shader)); err != nil {
		return nil, core.NewDeviceError("vk.CreateShaderModule", err)
	}
	return shader, nil
}

// Layouts are the descriptor set layouts every pipeline is built against.
type Layouts struct {
	Frame core.FrameLayouts

	// Texture holds a combined image sampler at binding 0, bound as set 2.
	Texture vk.DescriptorSetLayout
}

// NewLayouts creates the frame and texture descriptor set layouts.
func NewLayouts(dev *Device, dq *core.DisposalQueue) (Layouts, error) {
	var created [3]vk.DescriptorSetLayout
	for idx, bindings := range [][]vk.DescriptorSetLayoutBinding{
		globalBindings(),
		objectBindings(),
		textureBindings(),
	} {
		layout, err := newDescriptorSetLayout(dev, bindings)
		if err != nil {
			return Layouts{}, err
		}
		dq.Push(core.DescriptorSetLayoutResource, layout)
		created[idx] = layout
	}

	return Layouts{
		Frame: core.FrameLayouts{
			Global: created[0],
			Object: created[1],
		},
		Texture: created[2],
	}, nil
}

func globalBindings() []vk.DescriptorSetLayoutBinding {
	return []vk.DescriptorSetLayoutBinding{{
		Binding:         0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit),
	}, {
		Binding:         1,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeUniformBufferDynamic,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
	}}
}

func objectBindings() []vk.DescriptorSetLayoutBinding {
	return []vk.DescriptorSetLayoutBinding{{
		Binding:         0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeStorageBuffer,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit),
	}}
}

func textureBindings() []vk.DescriptorSetLayoutBinding {
	return []vk.DescriptorSetLayoutBinding{{
		Binding:         0,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
	}}
}

func newDescriptorSetLayout(dev *Device, bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
	dslci := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}

	var layout vk.DescriptorSetLayout
	if err := vk.Error(vk.CreateDescriptorSetLayout(dev.device, &dslci, nil, &layout)); err != nil {
		return nil, core.NewDeviceError("vk.CreateDescriptorSetLayout", err)
	}
	return layout, nil
}

// vertexInputDescriptions describes the model.Vertex layout to the pipeline.
func vertexInputDescriptions() ([]vk.VertexInputBindingDescription, []vk.VertexInputAttributeDescription) {
	bindings := []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    model.VertexSize,
		InputRate: vk.VertexInputRateVertex,
	}}
	attributes := []vk.VertexInputAttributeDescription{{
		Location: 0,
		Binding:  0,
		Format:   vk.FormatR32g32b32Sfloat,
		Offset:   model.PositionOffset,
	}, {
		Location: 1,
		Binding:  0,
		Format:   vk.FormatR32g32b32Sfloat,
		Offset:   model.NormalOffset,
	}, {
		Location: 2,
		Binding:  0,
		Format:   vk.FormatR32g32b32Sfloat,
		Offset:   model.ColorOffset,
	}}
	return bindings, attributes
}

// NewPipelineBuilder creates a builder for graphics pipelines rendering
// into the swapchain's render pass.
func NewPipelineBuilder(dev *Device, swapchain *Swapchain, layouts Layouts, dq *core.DisposalQueue) (*PipelineBuilder, error) {
	pcci := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}

	var pipelineCache vk.PipelineCache
	if err := vk.Error(vk.CreatePipelineCache(dev.device, &pcci, nil, &pipelineCache)); err != nil {
		return nil, core.NewDeviceError("vk.CreatePipelineCache", err)
	}
	dq.PushFunc(func() {
		vk.DestroyPipelineCache(dev.device, pipelineCache, nil)
	})

	return &PipelineBuilder{
		device:    dev,
		swapchain: swapchain,
		layouts:   layouts,
		cache:     pipelineCache,
		disposal:  dq,
	}, nil
}

// PipelineBuilder builds the pipelines materials are drawn with
type PipelineBuilder struct {
	device    *Device
	swapchain *Swapchain
	layouts   Layouts
	cache     vk.PipelineCache
	disposal  *core.DisposalQueue
}

// Build creates the pipeline layout and the pipeline of a shader program.
// Textured pipelines get the texture set layout as set 2. Both are
// registered for disposal.
func (b *PipelineBuilder) Build(program *ShaderProgram, textured bool) (vk.Pipeline, vk.PipelineLayout, error) {
	dev := b.device.device

	setLayouts := []vk.DescriptorSetLayout{
		b.layouts.Frame.Global.(vk.DescriptorSetLayout),
		b.layouts.Frame.Object.(vk.DescriptorSetLayout),
	}
	if textured {
		setLayouts = append(setLayouts, b.layouts.Texture)
	}

	plci := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}

	var pipelineLayout vk.PipelineLayout
	if err := vk.Error(vk.CreatePipelineLayout(dev, &plci, nil, &pipelineLayout)); err != nil {
		return nil, nil, core.NewDeviceError("vk.CreatePipelineLayout", err)
	}
	b.disposal.Push(core.PipelineLayoutResource, pipelineLayout)

	vertex, err := NewShaderModule(b.device, program.Vertex)
	if err != nil {
		return nil, nil, fmt.Errorf("program %s: %w", program.Name, err)
	}
	defer vk.DestroyShaderModule(dev, vertex, nil)

	fragment, err := NewShaderModule(b.device, program.Fragment)
	if err != nil {
		return nil, nil, fmt.Errorf("program %s: %w", program.Name, err)
	}
	defer vk.DestroyShaderModule(dev, fragment, nil)

	stages := []vk.PipelineShaderStageCreateInfo{{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageVertexBit,
		Module: vertex,
		PName:  safeString("main"),
	}, {
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vk.ShaderStageFragmentBit,
		Module: fragment,
		PName:  safeString("main"),
	}}

	bindings, attributes := vertexInputDescriptions()

	gpci := []vk.GraphicsPipelineCreateInfo{{
		SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount: uint32(len(stages)),
		PStages:    stages,
		PVertexInputState: &vk.PipelineVertexInputStateCreateInfo{
			SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
			VertexBindingDescriptionCount:   uint32(len(bindings)),
			PVertexBindingDescriptions:      bindings,
			VertexAttributeDescriptionCount: uint32(len(attributes)),
			PVertexAttributeDescriptions:    attributes,
		},
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonModeFill,
			CullMode:    vk.CullModeFlags(vk.CullModeNone),
			FrontFace:   vk.FrontFaceClockwise,
			LineWidth:   1.0,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:       vk.True,
			DepthWriteEnable:      vk.True,
			DepthCompareOp:        vk.CompareOpLessOrEqual,
			DepthBoundsTestEnable: vk.False,
			StencilTestEnable:     vk.False,
			Back: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
			Front: vk.StencilOpState{
				FailOp:    vk.StencilOpKeep,
				PassOp:    vk.StencilOpKeep,
				CompareOp: vk.CompareOpAlways,
			},
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: 1,
			PAttachments: []vk.PipelineColorBlendAttachmentState{{
				ColorWriteMask: 0xF,
				BlendEnable:    vk.False,
			}},
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: 2,
			PDynamicStates: []vk.DynamicState{
				vk.DynamicStateViewport,
				vk.DynamicStateScissor,
			},
		},
		Layout:     pipelineLayout,
		RenderPass: b.swapchain.renderPass,
	}}

	pipelines := make([]vk.Pipeline, len(gpci))
	if err := vk.Error(vk.CreateGraphicsPipelines(dev, b.cache, uint32(len(gpci)), gpci, nil, pipelines)); err != nil {
		return nil, nil, core.NewDeviceError("vk.CreateGraphicsPipelines", err)
	}
	b.disposal.Push(core.PipelineResource, pipelines[0])

	log.WithFields(log.Fields{
		"program":  program.Name,
		"textured": textured,
	}).Debug("pipeline created")

	return pipelines[0], pipelineLayout, nil
}
