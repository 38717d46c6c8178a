package dev

import "time"

// Metrics is the per-device performance snapshot a driver reports
// through the GetPerformanceMetrics hook.
type Metrics struct {
	AvgLatency    time.Duration
	MaxLatency    time.Duration
	ThroughputBps uint64
	Interrupts    uint64
	Errors        uint64
	FrameDrops    uint64
	// BandwidthUtilization is the fraction of the link in use, 0 to 1.
	BandwidthUtilization float64

	GamingMode    bool
	LowLatency    bool
	WaylandActive bool
}

// Report aggregates metrics across every registered device.
type Report struct {
	Devices       int
	ByType        map[Type]int
	GamingActive  int
	WaylandActive int

	// MeanLatency is the arithmetic mean of per-device average latency,
	// zero when no devices are registered.
	MeanLatency        time.Duration
	TotalThroughputBps uint64
	TotalErrors        uint64
	TotalInterrupts    uint64
	TotalFrameDrops    uint64
}
