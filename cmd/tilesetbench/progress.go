package main

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// progressBar renders an in-place terminal progress bar across the
// simulated frame run. It refreshes at a fixed interval; Increment is
// safe to call once per completed frame from the main loop.
type progressBar struct {
	total     int64
	processed atomic.Int64
	label     string
	barWidth  int
	start     time.Time
	done      chan struct{}
}

func newProgressBar(label string, total int64) *progressBar {
	pb := &progressBar{
		total:    total,
		label:    label,
		barWidth: 30,
		start:    time.Now(),
		done:     make(chan struct{}),
	}
	go pb.run()
	return pb
}

func (pb *progressBar) Increment() {
	pb.processed.Add(1)
}

func (pb *progressBar) Finish() {
	close(pb.done)
	pb.draw()
	fmt.Fprint(os.Stderr, "\n")
}

func (pb *progressBar) run() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-pb.done:
			return
		case <-ticker.C:
			pb.draw()
		}
	}
}

func (pb *progressBar) draw() {
	processed := pb.processed.Load()
	total := pb.total

	var frac float64
	if total > 0 {
		frac = float64(processed) / float64(total)
	}
	if frac > 1 {
		frac = 1
	}

	filled := int(float64(pb.barWidth) * frac)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", pb.barWidth-filled)

	elapsed := time.Since(pb.start)
	rate := float64(0)
	if secs := elapsed.Seconds(); secs > 0 {
		rate = float64(processed) / secs
	}

	fmt.Fprintf(os.Stderr, "\r%s [%s] %3.0f%%  %d/%d frames  %.0f/s  %s\033[K",
		pb.label, bar, frac*100, processed, total, rate, formatDuration(elapsed))
}

func formatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) - m*60
	return fmt.Sprintf("%dm%02ds", m, s)
}
