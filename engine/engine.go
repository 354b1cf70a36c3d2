package engine

import (
	"github.com/cockroachdb/errors"

	"github.com/ferrum-engine/ferrum/engine/config"
	"github.com/ferrum-engine/ferrum/engine/core"
	"github.com/ferrum-engine/ferrum/engine/platform"
	"github.com/ferrum-engine/ferrum/engine/renderer"
	"github.com/ferrum-engine/ferrum/engine/renderer/metadata"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	isRunning     bool
	isSuspended   bool
	platform      *platform.Platform
	cfg           *config.Config
	configWatcher *config.Watcher
	width         uint32
	height        uint32
	clock         *core.Clock
	lastTime      float64
}

func New(g *Game) (*Engine, error) {
	p, err := platform.New()
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	cfg, err := config.Load(g.ApplicationConfig.ConfigPath)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		clock:        core.NewClock(),
		platform:     p,
		cfg:          cfg,
		isRunning:    true,
		isSuspended:  false,
		width:        g.ApplicationConfig.StartWidth,
		height:       g.ApplicationConfig.StartHeight,
		lastTime:     0,
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageBooting

	core.SetLogLevel(e.cfg.ParsedLogLevel())

	// initialize events
	if !core.EventInitialize() {
		return errors.New("failed to initialize the event system")
	}

	// register some events
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	core.EventRegister(core.EVENT_CODE_KEY_RELEASED, e, e.onKey)
	core.EventRegister(core.EVENT_CODE_RESIZED, e, e.onResized)
	core.EventRegister(core.EVENT_CODE_DEVICE_LOST, e, e.onDeviceLost)

	if err := e.platform.Startup(e.gameInstance.ApplicationConfig.Name,
		e.gameInstance.ApplicationConfig.StartPosX,
		e.gameInstance.ApplicationConfig.StartPosY,
		e.gameInstance.ApplicationConfig.StartWidth,
		e.gameInstance.ApplicationConfig.StartHeight); err != nil {
		return err
	}

	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	e.currentStage = EngineStageInitializing

	if err := renderer.Initialize(
		e.gameInstance.ApplicationConfig.Name,
		e.width, e.height,
		e.platform, e.cfg); err != nil {
		return err
	}

	// Config hot reload. Only tunables that are safe to change at runtime
	// are applied; the rest needs a restart.
	if e.gameInstance.ApplicationConfig.ConfigPath != "" {
		watcher, err := config.NewWatcher(e.gameInstance.ApplicationConfig.ConfigPath)
		if err != nil {
			core.LogWarn("config watcher disabled: %s", err.Error())
		} else {
			e.configWatcher = watcher
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(); err != nil {
			return err
		}
	}

	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()

	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		e.platform.PumpMessages()
		if e.platform.ShouldClose() {
			e.isRunning = false
		}

		if !e.isSuspended {
			// Update clock and get delta time.
			e.clock.Update()

			currentTime := e.clock.Elapsed()
			delta := currentTime - e.lastTime

			if e.gameInstance.FnUpdate != nil {
				if err := e.gameInstance.FnUpdate(delta); err != nil {
					core.LogFatal("Game update failed, shutting down.")
					e.isRunning = false
					break
				}
			}

			err := renderer.DrawFrame(func(rc *renderer.RecordingContext) error {
				if e.gameInstance.FnRender != nil {
					return e.gameInstance.FnRender(rc, delta)
				}
				return nil
			})
			if err != nil {
				if metadata.IsFatal(err) {
					core.LogError("fatal device error: %s", err.Error())
					core.EventFire(core.EVENT_CODE_DEVICE_LOST, e, core.EventContext{})
				} else if !metadata.IsRecoverable(err) {
					core.LogFatal("Frame draw failed, shutting down: %s", err.Error())
					e.isRunning = false
					break
				}
			}

			core.MetricsUpdate(delta)

			// Update last time
			e.lastTime = currentTime
		}
	}

	e.currentStage = EngineStageShuttingDown
	return e.Shutdown()
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageUninitialized {
		return nil
	}
	e.isRunning = false

	if e.configWatcher != nil {
		if err := e.configWatcher.Close(); err != nil {
			core.LogWarn("config watcher close: %s", err.Error())
		}
		e.configWatcher = nil
	}
	if err := renderer.Shutdown(); err != nil {
		core.LogWarn("renderer shutdown: %s", err.Error())
	}
	if err := core.EventShutdown(); err != nil {
		return err
	}
	if err := e.platform.Shutdown(); err != nil {
		return err
	}
	e.currentStage = EngineStageUninitialized
	return nil
}

// GetFramebufferSize returns the width and height (in this order) of the
// application framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	keyCode := data.Data.U16[0]

	if code == core.EVENT_CODE_KEY_PRESSED {
		// GLFW escape key.
		if keyCode == 256 {
			// NOTE: Technically firing an event to itself, but there may be other listeners.
			core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
			// Block anything else from processing this.
			return true
		}
		core.LogDebug("'%d' key pressed in window.", keyCode)
	} else if code == core.EVENT_CODE_KEY_RELEASED {
		core.LogDebug("'%d' key released in window.", keyCode)
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	if code != core.EVENT_CODE_RESIZED {
		return false
	}

	width := data.Data.U32[0]
	height := data.Data.U32[1]

	// Check if different. If so, trigger a resize event.
	if width != e.width || height != e.height {
		e.width = width
		e.height = height

		core.LogDebug("Window resize: %d, %d", width, height)

		// Handle minimization
		if width == 0 || height == 0 {
			core.LogInfo("Window minimized, suspending application.")
			e.isSuspended = true
			return false
		}
		if e.isSuspended {
			core.LogInfo("Window restored, resuming application.")
			e.isSuspended = false
		}
		if e.gameInstance.FnOnResize != nil {
			if err := e.gameInstance.FnOnResize(width, height); err != nil {
				core.LogError(err.Error())
			}
		}
		renderer.OnResize(width, height)
	}
	return false
}

// onDeviceLost tears the renderer down and rebuilds it on a fresh device
// context. A failed rebuild ends the run.
func (e *Engine) onDeviceLost(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	core.LogWarn("device lost reported, rebuilding renderer")
	if err := renderer.Rebuild(); err != nil {
		core.LogFatal("renderer rebuild failed, shutting down: %s", err.Error())
		e.isRunning = false
	}
	return true
}
