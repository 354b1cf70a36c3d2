package testbed

import (
	"github.com/ferrum-engine/ferrum/engine"
	"github.com/ferrum-engine/ferrum/engine/core"
	"github.com/ferrum-engine/ferrum/engine/renderer"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	width  uint32
	height uint32

	vertexBuffer  renderer.ResourceHandle
	uniformBuffer renderer.ResourceHandle

	accumulated float64
}

func NewTestGame() (*TestGame, error) {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				StartPosX:   100,
				StartPosY:   100,
				StartWidth:  1280,
				StartHeight: 720,
				Name:        "Ferrum Engine",
				LogLevel:    core.LOG_LEVEL_DEBUG,
				ConfigPath:  "ferrum.toml",
			},
			State: &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize

	return tg, nil
}

func (g *TestGame) Initialize() error {
	core.LogInfo("initializing testbed...")
	state := g.State.(*gameState)

	vb, err := renderer.CreateBuffer(metadata.BufferDescriptor{
		SizeBytes: 64 * 1024,
		Usage:     metadata.BufferUsageVertex | metadata.BufferUsageTransferDst,
	})
	if err != nil {
		return err
	}
	state.vertexBuffer = vb

	ub, err := renderer.CreateBuffer(metadata.BufferDescriptor{
		SizeBytes:   256,
		Usage:       metadata.BufferUsageUniform,
		HostVisible: true,
	})
	if err != nil {
		return err
	}
	state.uniformBuffer = ub

	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	state.accumulated += deltaTime

	// Log throughput every few seconds.
	if state.accumulated > 5.0 {
		state.accumulated = 0
		fps, frameTime := core.MetricsFrame()
		core.LogInfo("fps: %.1f, frame time: %.2fms, frame %d", fps, frameTime, renderer.CurrentFrameIndex())
	}
	return nil
}

func (g *TestGame) Render(rc *renderer.RecordingContext, deltaTime float64) error {
	state := g.State.(*gameState)

	// A transient staging buffer per frame; the pool reclaims it once the
	// frame's fence is observed.
	staging, err := renderer.CreateTransientBuffer(metadata.BufferDescriptor{
		SizeBytes:   4 * 1024,
		Usage:       metadata.BufferUsageTransferSrc,
		HostVisible: true,
	})
	if err != nil {
		return err
	}
	_ = staging

	if _, err := renderer.ResolveResource(state.vertexBuffer); err != nil {
		return err
	}
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.State.(*gameState)
	state.width = width
	state.height = height
	return nil
}
