// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package core

import (
	"math"

	glm "github.com/go-gl/mathgl/mgl32"
)

// MaxPitch limits how far up or down the camera can look, in degrees.
const MaxPitch = 89.0

// NewCamera creates a camera at position looking down the negative Z axis.
func NewCamera(position glm.Vec3) *Camera {
	c := &Camera{
		Position:    position,
		Up:          glm.Vec3{0, 1, 0},
		Yaw:         -90,
		Sensitivity: 0.05,
		FieldOfView: 70,
		Near:        0.1,
		Far:         200,
	}
	c.updateFront()
	return c
}

// Camera is a free-look camera driven by yaw and pitch angles in degrees.
type Camera struct {
	Position glm.Vec3
	Up       glm.Vec3
	front    glm.Vec3

	Yaw, Pitch  float32
	Sensitivity float32

	FieldOfView float32
	Near, Far   float32
}

// Front returns the unit view direction.
func (c *Camera) Front() glm.Vec3 {
	return c.front
}

// Rotate turns the camera by a mouse movement of dx, dy, scaled by the
// sensitivity. Pitch is clamped to MaxPitch.
func (c *Camera) Rotate(dx, dy float32) {
	c.Yaw += dx * c.Sensitivity
	c.Pitch += dy * c.Sensitivity
	if c.Pitch > MaxPitch {
		c.Pitch = MaxPitch
	}
	if c.Pitch < -MaxPitch {
		c.Pitch = -MaxPitch
	}
	c.updateFront()
}

// Move translates the camera along its view direction by forward and
// sideways along its right vector by right.
func (c *Camera) Move(forward, right float32) {
	side := c.front.Cross(c.Up).Normalize()
	c.Position = c.Position.Add(c.front.Mul(forward)).Add(side.Mul(right))
}

func (c *Camera) updateFront() {
	yaw := float64(glm.DegToRad(c.Yaw))
	pitch := float64(glm.DegToRad(c.Pitch))
	c.front = glm.Vec3{
		float32(math.Cos(yaw) * math.Cos(pitch)),
		float32(math.Sin(pitch)),
		float32(math.Sin(yaw) * math.Cos(pitch)),
	}.Normalize()
}

// Constants computes the camera uniform for the given aspect ratio.
// The projection flips Y, clip space Y points down on Vulkan.
func (c *Camera) Constants(aspect float32) CameraConstants {
	view := glm.LookAtV(c.Position, c.Position.Add(c.front), c.Up)
	projection := glm.Perspective(glm.DegToRad(c.FieldOfView), aspect, c.Near, c.Far)
	projection.Set(1, 1, -projection.At(1, 1))
	return CameraConstants{
		View:           view,
		Projection:     projection,
		ViewProjection: projection.Mul4(view),
	}
}
