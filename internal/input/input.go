package input

import (
	"sync"

	"github.com/go-gl/glfw/v3.3/glfw"
)

// Action is a logical viewer control, not a physical key.
type Action int

const (
	ActionMoveForward Action = iota
	ActionMoveBackward
	ActionMoveLeft
	ActionMoveRight
	ActionMoveUp
	ActionMoveDown
	ActionBoost
	ActionQuit
	ActionToggleWireframe
	ActionToggleProfiling
	ActionToggleFreeze
	ActionCount
)

// Manager maps glfw keys to actions and tracks press edges per frame. Events may
// arrive from glfw callbacks while the frame reads state.
type Manager struct {
	mu       sync.RWMutex
	bindings map[glfw.Key][]Action

	down     [ActionCount]bool
	pressed  [ActionCount]bool
	released [ActionCount]bool
}

// NewManager returns a manager with the default fly bindings.
func NewManager() *Manager {
	m := &Manager{bindings: make(map[glfw.Key][]Action)}
	m.Bind(glfw.KeyW, ActionMoveForward)
	m.Bind(glfw.KeyS, ActionMoveBackward)
	m.Bind(glfw.KeyA, ActionMoveLeft)
	m.Bind(glfw.KeyD, ActionMoveRight)
	m.Bind(glfw.KeySpace, ActionMoveUp)
	m.Bind(glfw.KeyE, ActionMoveUp)
	m.Bind(glfw.KeyLeftControl, ActionMoveDown)
	m.Bind(glfw.KeyQ, ActionMoveDown)
	m.Bind(glfw.KeyLeftShift, ActionBoost)
	m.Bind(glfw.KeyEscape, ActionQuit)
	m.Bind(glfw.KeyF, ActionToggleWireframe)
	m.Bind(glfw.KeyV, ActionToggleProfiling)
	m.Bind(glfw.KeyP, ActionToggleFreeze)
	return m
}

// Bind adds action to key. A key may drive several actions.
func (m *Manager) Bind(key glfw.Key, action Action) {
	if action < 0 || action >= ActionCount {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[key] = append(m.bindings[key], action)
}

// HandleKey records a key event.
func (m *Manager) HandleKey(key glfw.Key, action glfw.Action) {
	m.mu.Lock()
	defer m.mu.Unlock()
	down := action == glfw.Press || action == glfw.Repeat
	for _, a := range m.bindings[key] {
		switch {
		case down && !m.down[a]:
			m.pressed[a] = true
		case !down && m.down[a]:
			m.released[a] = true
		}
		m.down[a] = down
	}
}

// Attach installs the key callback on window.
func (m *Manager) Attach(window *glfw.Window) {
	window.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		m.HandleKey(key, action)
	})
}

// EndFrame clears the press edges. Call once per frame after all reads.
func (m *Manager) EndFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pressed = [ActionCount]bool{}
	m.released = [ActionCount]bool{}
}

func (m *Manager) get(s *[ActionCount]bool, a Action) bool {
	if a < 0 || a >= ActionCount {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return s[a]
}

func (m *Manager) IsActive(a Action) bool     { return m.get(&m.down, a) }
func (m *Manager) JustPressed(a Action) bool  { return m.get(&m.pressed, a) }
func (m *Manager) JustReleased(a Action) bool { return m.get(&m.released, a) }

// Axis returns +1, -1 or 0 from a pair of opposing actions.
func (m *Manager) Axis(pos, neg Action) float32 {
	var v float32
	if m.IsActive(pos) {
		v++
	}
	if m.IsActive(neg) {
		v--
	}
	return v
}
