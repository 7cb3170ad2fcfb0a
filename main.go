/*
Headless runner for the Relic command submission core: brings up the
Vulkan device and the processor, then pumps empty frames until stopped.
Useful for smoke-testing a driver installation and for capturing frame
traces (send SIGUSR1).
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/relic-emu/relic/engine/core"
	"github.com/relic-emu/relic/engine/gpu"
	"github.com/relic-emu/relic/engine/gpu/pools"
	"github.com/relic-emu/relic/engine/gpu/vulkan"
)

func main() {
	configPath := flag.String("config", "relic.toml", "path to the TOML config file")
	frames := flag.Int("frames", 0, "exit after this many frames, 0 runs until interrupted")
	flag.Parse()

	cfg := core.DefaultConfig()
	if loaded, err := core.LoadConfig(*configPath); err == nil {
		cfg = loaded
	} else {
		core.LogWarn("running with the default config: %s", err)
	}

	// GLFW is only used to locate the Vulkan loader; no window is created.
	if err := glfw.Init(); err != nil {
		core.LogFatal("failed to initialize GLFW: %s", err)
	}
	defer glfw.Terminate()

	device, err := vulkan.NewDevice(&cfg.Renderer)
	if err != nil {
		core.LogFatal("failed to create the Vulkan device: %s", err)
	}
	defer device.Destroy()

	cp, err := gpu.NewCommandProcessor(device, cfg.Renderer, gpu.Collaborators{
		ViewPool:     pools.NewDescriptorHeapPool(device, gpu.DESCRIPTOR_HEAP_KIND_VIEW, pools.DefaultViewHeapCapacity),
		SamplerPool:  pools.NewDescriptorHeapPool(device, gpu.DESCRIPTOR_HEAP_KIND_SAMPLER, pools.DefaultSamplerHeapCapacity),
		ConstantPool: pools.NewUploadBufferPool(device, 0),
	})
	if err != nil {
		core.LogFatal("failed to create the command processor: %s", err)
	}
	defer cp.Shutdown()

	// The trace directory can be changed at runtime by editing the config.
	var mu sync.Mutex
	traceDir := cfg.Renderer.TraceDirectory
	stopWatch, err := core.WatchConfig(*configPath, func(c *core.Config) {
		mu.Lock()
		traceDir = c.Renderer.TraceDirectory
		mu.Unlock()
	})
	if err == nil {
		defer stopWatch()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	traceCh := make(chan os.Signal, 1)
	signal.Notify(traceCh, syscall.SIGUSR1)

	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-sigCh:
			fps, frameMS := core.MetricsFrame()
			core.LogInfo("shutting down after %d frames (%.0f fps, %.2f ms avg)", frame, fps, frameMS)
			return
		case <-traceCh:
			mu.Lock()
			dir := traceDir
			mu.Unlock()
			cp.RequestFrameTrace(dir)
		case <-ticker.C:
			if err := cp.BeginSubmission(true); err != nil {
				core.LogFatal("failed to begin frame %d: %s", frame+1, err)
			}
			if err := cp.EndSubmission(true); err != nil {
				core.LogFatal("failed to end frame %d: %s", frame+1, err)
			}
			frame++
			if *frames > 0 && frame >= *frames {
				core.LogInfo("completed %d frames, %.2f ms avg frame time", frame, core.MetricsFrameTime())
				return
			}
		}
	}
}
