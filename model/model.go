// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package model holds the vertex layout the renderer draws and a few
// built-in shapes.
package model

import (
	"encoding/binary"
	"fmt"
	"math"

	glm "github.com/go-gl/mathgl/mgl32"
)

// VertexSize is the size of an encoded Vertex in bytes.
const VertexSize = 3 * 12

// Offsets of the Vertex attributes within an encoded vertex
const (
	PositionOffset = 0
	NormalOffset   = 12
	ColorOffset    = 24
)

// Vertex is a model vertex
type Vertex struct {
	Position glm.Vec3
	Normal   glm.Vec3
	Color    glm.Vec3
}

// EncodeVertices packs vertices tightly in the layout the vertex input
// state describes.
func EncodeVertices(vertices []Vertex) []byte {
	data := make([]byte, len(vertices)*VertexSize)
	for idx, v := range vertices {
		dst := data[idx*VertexSize:]
		putVec3(dst[PositionOffset:], v.Position)
		putVec3(dst[NormalOffset:], v.Normal)
		putVec3(dst[ColorOffset:], v.Color)
	}
	return data
}

// DecodeVertices is the inverse of EncodeVertices.
func DecodeVertices(data []byte) ([]Vertex, error) {
	if len(data)%VertexSize != 0 {
		return nil, fmt.Errorf("vertex data of %d bytes is not a multiple of %d", len(data), VertexSize)
	}
	vertices := make([]Vertex, len(data)/VertexSize)
	for idx := range vertices {
		src := data[idx*VertexSize:]
		vertices[idx] = Vertex{
			Position: getVec3(src[PositionOffset:]),
			Normal:   getVec3(src[NormalOffset:]),
			Color:    getVec3(src[ColorOffset:]),
		}
	}
	return vertices, nil
}

func putVec3(dst []byte, v glm.Vec3) {
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v[i]))
	}
}

func getVec3(src []byte) glm.Vec3 {
	var v glm.Vec3
	for i := 0; i < 3; i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return v
}

// Triangle returns a single colored triangle facing the camera.
func Triangle() []Vertex {
	normal := glm.Vec3{0, 0, 1}
	return []Vertex{
		{Position: glm.Vec3{1, 1, 0}, Normal: normal, Color: glm.Vec3{1, 0, 0}},
		{Position: glm.Vec3{-1, 1, 0}, Normal: normal, Color: glm.Vec3{0, 1, 0}},
		{Position: glm.Vec3{0, -1, 0}, Normal: normal, Color: glm.Vec3{0, 0, 1}},
	}
}

// Cube returns a unit cube centered on the origin as a triangle list,
// colored by its normals.
func Cube() []Vertex {
	faces := []struct {
		normal glm.Vec3
		u, v   glm.Vec3
	}{
		{glm.Vec3{1, 0, 0}, glm.Vec3{0, 0, -1}, glm.Vec3{0, 1, 0}},
		{glm.Vec3{-1, 0, 0}, glm.Vec3{0, 0, 1}, glm.Vec3{0, 1, 0}},
		{glm.Vec3{0, 1, 0}, glm.Vec3{1, 0, 0}, glm.Vec3{0, 0, -1}},
		{glm.Vec3{0, -1, 0}, glm.Vec3{1, 0, 0}, glm.Vec3{0, 0, 1}},
		{glm.Vec3{0, 0, 1}, glm.Vec3{1, 0, 0}, glm.Vec3{0, 1, 0}},
		{glm.Vec3{0, 0, -1}, glm.Vec3{-1, 0, 0}, glm.Vec3{0, 1, 0}},
	}

	vertices := make([]Vertex, 0, len(faces)*6)
	for _, f := range faces {
		center := f.normal.Mul(0.5)
		u, v := f.u.Mul(0.5), f.v.Mul(0.5)
		corners := [4]glm.Vec3{
			center.Sub(u).Sub(v),
			center.Add(u).Sub(v),
			center.Add(u).Add(v),
			center.Sub(u).Add(v),
		}
		color := glm.Vec3{
			float32(math.Abs(float64(f.normal[0]))),
			float32(math.Abs(float64(f.normal[1]))),
			float32(math.Abs(float64(f.normal[2]))),
		}
		for _, c := range []int{0, 1, 2, 0, 2, 3} {
			vertices = append(vertices, Vertex{Position: corners[c], Normal: f.normal, Color: color})
		}
	}
	return vertices
}
