// Package profiler periodically logs frame rate, draw storage counters, and Go runtime memory
// statistics.
package profiler

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-meshlet/engine/draw_storage"
)

// Source is the part of a draw storage the profiler reads.
type Source interface {
	Stats() draw_storage.Stats
	CPUVisibleClusters(viewport int) int
}

// Profiler accumulates frames and logs one record per interval.
type Profiler struct {
	log      *slog.Logger
	source   Source
	interval time.Duration
	now      func() time.Time

	frameCount     int
	lastTime       time.Time
	lastGCCount    uint32
	lastTotalAlloc uint64
	lastReallocs   int
	memStats       runtime.MemStats
}

// NewProfiler creates a profiler logging at Info level once per second.
//
// Parameters:
//   - options: functional options to configure the profiler
//
// Returns:
//   - *Profiler: the profiler
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		log:      slog.Default(),
		interval: time.Second,
		now:      time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	p.lastTime = p.now()
	return p
}

// Tick counts a frame and logs when the interval has elapsed.
//
// Returns:
//   - bool: true if a record was logged this tick
func (p *Profiler) Tick() bool {
	p.frameCount++
	now := p.now()
	elapsed := now.Sub(p.lastTime)
	if elapsed < p.interval {
		return false
	}

	runtime.ReadMemStats(&p.memStats)
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	gcCount := p.memStats.NumGC
	var maxPause time.Duration
	// PauseNs is a ring of the last 256 pauses.
	for i := max(p.lastGCCount, gcCount-min(gcCount, 256)); i < gcCount; i++ {
		maxPause = max(maxPause, time.Duration(p.memStats.PauseNs[i%256]))
	}

	attrs := []slog.Attr{
		slog.Float64("fps", float64(p.frameCount)/elapsed.Seconds()),
		slog.Group("mem",
			slog.Uint64("heap_bytes", p.memStats.Alloc),
			slog.Float64("alloc_bytes_per_sec", float64(allocDelta)/elapsed.Seconds()),
			slog.Uint64("sys_bytes", p.memStats.Sys),
			slog.Uint64("gc", uint64(gcCount)),
			slog.Duration("max_pause", maxPause),
		),
	}
	if p.source != nil {
		s := p.source.Stats()
		attrs = append(attrs, slog.Group("draw",
			slog.Int("objects", s.LiveObjects),
			slog.Int("buckets", s.Buckets),
			slog.Int("commands", s.Commands),
			slog.Int("clusters", s.LiveClusters),
			slog.Uint64("payload", uint64(s.Payload)),
			slog.Int("instances", s.Instances),
			slog.Int("visible_main", p.source.CPUVisibleClusters(draw_storage.ViewportMain)),
			slog.Int("reallocs", s.Reallocations-p.lastReallocs),
		))
		p.lastReallocs = s.Reallocations
	}
	p.log.LogAttrs(context.Background(), slog.LevelInfo, "frame stats", attrs...)

	p.frameCount = 0
	p.lastTime = now
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}
