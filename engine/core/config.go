package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	toml "github.com/pelletier/go-toml/v2"
)

// RendererConfig controls the GPU submission backend.
type RendererConfig struct {
	// How many frames the device is allowed to buffer ahead of the CPU.
	QueueFrames int `toml:"queue_frames"`
	// Growth increment for the transient scratch buffer, in MiB.
	ScratchIncrementMB uint32 `toml:"scratch_increment_mb"`
	// Growth increment for the CPU readback buffer, in MiB.
	ReadbackIncrementMB uint32 `toml:"readback_increment_mb"`
	// Enables host API validation layers.
	EnableValidation bool `toml:"enable_validation"`
	// Directory frame traces are written into.
	TraceDirectory string `toml:"trace_directory"`
}

type Config struct {
	Renderer RendererConfig `toml:"renderer"`
}

func DefaultConfig() *Config {
	return &Config{
		Renderer: RendererConfig{
			QueueFrames:         3,
			ScratchIncrementMB:  16,
			ReadbackIncrementMB: 16,
			EnableValidation:    false,
			TraceDirectory:      "traces",
		},
	}
}

// LoadConfig reads a TOML config file, filling missing fields with defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		err := fmt.Errorf("failed to read config file %s: %w", path, err)
		LogError(err.Error())
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		err := fmt.Errorf("failed to parse config file %s: %w", path, err)
		LogError(err.Error())
		return nil, err
	}
	if cfg.Renderer.QueueFrames < 1 {
		err := fmt.Errorf("queue_frames must be at least 1, got %d", cfg.Renderer.QueueFrames)
		LogError(err.Error())
		return nil, err
	}
	return cfg, nil
}

// WatchConfig reloads the config whenever the file changes on disk and hands
// the new config to onChange. The returned function stops the watcher.
func WatchConfig(path string, onChange func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		LogError("failed to create config watcher: %s", err)
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		LogError("failed to watch config directory: %s", err)
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case e, ok := <-watcher.Events:
				if !ok {
					return
				}
				if e.Name != path {
					continue
				}
				if e.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					cfg, err := LoadConfig(path)
					if err != nil {
						// Keep running with the previous config.
						continue
					}
					LogInfo("config reloaded from %s", path)
					onChange(cfg)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				LogWarn("config watcher error: %s", err)
			case <-done:
				watcher.Close()
				return
			}
		}
	}()

	return func() { close(done) }, nil
}
