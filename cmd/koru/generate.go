// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

// SPIR-V is compiled next to the sources, the packr box picks up the .spv files.
//go:generate glslc shaders/mesh.vert -o shaders/mesh.vert.spv
//go:generate glslc shaders/mesh.frag -o shaders/mesh.frag.spv
//go:generate glslc shaders/textured.vert -o shaders/textured.vert.spv
//go:generate glslc shaders/textured.frag -o shaders/textured.frag.spv
