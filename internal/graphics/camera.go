package graphics

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var worldUp = mgl32.Vec3{0, 0, 1}

// Camera is a Z-up fly camera. Yaw and Pitch are in degrees; yaw 0 looks along +X.
type Camera struct {
	Position mgl32.Vec3
	Yaw      float64
	Pitch    float64

	AspectRatio float32
	FOV         float32
	NearPlane   float32
	FarPlane    float32

	Speed       float32 // world units per second
	Sensitivity float64

	lastX, lastY float64
	firstMouse   bool
}

func NewCamera(width, height int) *Camera {
	return &Camera{
		AspectRatio: float32(width) / float32(height),
		FOV:         60.0,
		NearPlane:   10,
		FarPlane:    200000,
		Speed:       2000,
		Sensitivity: 0.1,
		firstMouse:  true,
	}
}

// Forward returns the unit view direction.
func (c *Camera) Forward() mgl32.Vec3 {
	yaw := mgl32.DegToRad(float32(c.Yaw))
	pitch := mgl32.DegToRad(float32(c.Pitch))
	cp := float32(math.Cos(float64(pitch)))
	return mgl32.Vec3{
		cp * float32(math.Cos(float64(yaw))),
		cp * float32(math.Sin(float64(yaw))),
		float32(math.Sin(float64(pitch))),
	}.Normalize()
}

// Right returns the unit direction to the right of the view, parallel to the ground.
func (c *Camera) Right() mgl32.Vec3 {
	r := c.Forward().Cross(worldUp)
	if r.Len() < 1e-6 {
		yaw := mgl32.DegToRad(float32(c.Yaw))
		return mgl32.Vec3{float32(math.Sin(float64(yaw))), -float32(math.Cos(float64(yaw))), 0}
	}
	return r.Normalize()
}

// Look applies a cursor position. The first call only records it.
func (c *Camera) Look(xpos, ypos float64) {
	if c.firstMouse {
		c.lastX, c.lastY = xpos, ypos
		c.firstMouse = false
		return
	}
	dx := (xpos - c.lastX) * c.Sensitivity
	dy := (c.lastY - ypos) * c.Sensitivity
	c.lastX, c.lastY = xpos, ypos

	c.Yaw -= dx
	c.Pitch = max(-89, min(89, c.Pitch+dy))
}

// Move translates the camera. forward, right and up are in [-1, 1].
func (c *Camera) Move(forward, right, up float32, dt float32, boost bool) {
	speed := c.Speed * dt
	if boost {
		speed *= 4
	}
	step := c.Forward().Mul(forward).Add(c.Right().Mul(right)).Add(worldUp.Mul(up))
	if step.Len() == 0 {
		return
	}
	c.Position = c.Position.Add(step.Normalize().Mul(speed))
}

func (c *Camera) ViewMatrix() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Position.Add(c.Forward()), worldUp)
}

func (c *Camera) ProjectionMatrix() mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(c.FOV), c.AspectRatio, c.NearPlane, c.FarPlane)
}

func (c *Camera) ViewProjection() mgl32.Mat4 {
	return c.ProjectionMatrix().Mul4(c.ViewMatrix())
}
