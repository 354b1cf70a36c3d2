package engine

import (
	"github.com/ferrum-engine/ferrum/engine/renderer"
)

// Game is the application hook set driven by the engine loop. Render is
// handed the frame's recording context; the submission and presentation of
// that frame are the engine's business.
type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
}

type Initialize func() error
type Update func(deltaTime float64) error
type Render func(rc *renderer.RecordingContext, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
