package gpu

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relic-emu/relic/engine/core"
)

// frameTrace is the frame-capture hook. A request may arrive from any
// thread; capture starts at the next full frame open and ends with the
// frame close. The capture itself is opaque instrumentation: the core only
// brackets it and records session metadata.
type frameTrace struct {
	mu        sync.Mutex
	requested bool
	dir       string

	active     bool
	sessionID  string
	startFrame uint64
	startTime  time.Time
}

// RequestFrameTrace asks for a capture of the next full frame, written into
// dir. Safe to call from threads other than the producer.
func (cp *CommandProcessor) RequestFrameTrace(dir string) {
	cp.trace.mu.Lock()
	defer cp.trace.mu.Unlock()
	if dir == "" {
		dir = cp.cfg.TraceDirectory
	}
	cp.trace.requested = true
	cp.trace.dir = dir
}

func (cp *CommandProcessor) beginTrace() {
	cp.trace.mu.Lock()
	defer cp.trace.mu.Unlock()
	if !cp.trace.requested || cp.trace.active {
		return
	}
	cp.trace.requested = false
	cp.trace.active = true
	cp.trace.sessionID = uuid.NewString()
	cp.trace.startFrame = cp.frameCurrent
	cp.trace.startTime = time.Now()
	core.LogInfo("frame trace %s started at frame %d", cp.trace.sessionID, cp.trace.startFrame)
}

func (cp *CommandProcessor) endTrace() {
	cp.trace.mu.Lock()
	defer cp.trace.mu.Unlock()
	if !cp.trace.active {
		return
	}
	cp.trace.active = false

	if err := os.MkdirAll(cp.trace.dir, 0o755); err != nil {
		core.LogError("failed to create the trace directory %s: %s", cp.trace.dir, err)
		return
	}
	path := filepath.Join(cp.trace.dir, cp.trace.sessionID+".trace")
	meta := fmt.Sprintf("session %s\nframe %d\nsubmission %d\nduration %s\nfps %.0f\n",
		cp.trace.sessionID, cp.trace.startFrame, cp.submissionCurrent-1,
		time.Since(cp.trace.startTime), core.MetricsFPS())
	if err := os.WriteFile(path, []byte(meta), 0o644); err != nil {
		core.LogError("failed to write the frame trace %s: %s", path, err)
		return
	}
	core.LogInfo("frame trace written to %s", path)
}
