// Package recorder appends per-node time-series logs on a fixed tick.
package recorder

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const csvHeader = "timestamp,voltage,current,power\n"

// Source supplies the latest telemetry for a node. ok is false until the
// node has reported at least once; nothing is written before that.
type Source interface {
	Telemetry(nodeID string) (voltage, current, power float64, ok bool)
}

// SourceFunc adapts a plain function to the Source interface
type SourceFunc func(nodeID string) (float64, float64, float64, bool)

func (f SourceFunc) Telemetry(nodeID string) (float64, float64, float64, bool) {
	return f(nodeID)
}

// Recorder owns one write loop per logged node. The handle table is the
// single source of truth for which nodes are being logged.
type Recorder struct {
	dir      string
	interval time.Duration
	source   Source

	mu     sync.Mutex
	active map[string]*loop
}

type loop struct {
	quit chan struct{}
	done chan struct{}
}

// New creates a recorder writing under dir, one file per node
func New(dir string, interval time.Duration, source Source) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Recorder{
		dir:      dir,
		interval: interval,
		source:   source,
		active:   make(map[string]*loop),
	}, nil
}

// LogPath returns the CSV file path for a node. The file may not exist
// yet if the node never produced a log line.
func (r *Recorder) LogPath(nodeID string) string {
	return filepath.Join(r.dir, filepath.Base(nodeID)+".csv")
}

// Start begins logging a node. Starting a node that is already logging
// replaces the running loop rather than duplicating it.
func (r *Recorder) Start(nodeID string) {
	r.mu.Lock()
	if old, ok := r.active[nodeID]; ok {
		r.mu.Unlock()
		r.stopLoop(old)
		r.mu.Lock()
	}

	l := &loop{quit: make(chan struct{}), done: make(chan struct{})}
	r.active[nodeID] = l
	r.mu.Unlock()

	go r.run(nodeID, l)
	log.Printf("Started logging for %s", nodeID)
}

// Stop ends logging for a node and waits for its loop to exit, so no
// write can happen after Stop returns. The log file is retained.
func (r *Recorder) Stop(nodeID string) {
	r.mu.Lock()
	l, ok := r.active[nodeID]
	if ok {
		delete(r.active, nodeID)
	}
	r.mu.Unlock()

	if ok {
		r.stopLoop(l)
		log.Printf("Stopped logging for %s", nodeID)
	}
}

// StopAll ends every running loop
func (r *Recorder) StopAll() {
	r.mu.Lock()
	loops := make([]*loop, 0, len(r.active))
	for nodeID, l := range r.active {
		loops = append(loops, l)
		delete(r.active, nodeID)
	}
	r.mu.Unlock()

	for _, l := range loops {
		r.stopLoop(l)
	}
}

func (r *Recorder) stopLoop(l *loop) {
	close(l.quit)
	<-l.done
}

func (r *Recorder) run(nodeID string, l *loop) {
	defer close(l.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.quit:
			return
		case <-ticker.C:
			voltage, current, power, ok := r.source.Telemetry(nodeID)
			if !ok {
				continue
			}
			if err := r.append(nodeID, voltage, current, power); err != nil {
				log.Printf("Failed to write log line for %s: %v", nodeID, err)
			}
		}
	}
}

// append writes one CSV line, creating the file with its header on first
// use
func (r *Recorder) append(nodeID string, voltage, current, power float64) error {
	path := r.LogPath(nodeID)
	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if fresh {
		if _, err := f.WriteString(csvHeader); err != nil {
			return err
		}
	}

	line := fmt.Sprintf("%s,%.2f,%.2f,%.2f\n", time.Now().Format(time.RFC3339), voltage, current, power)
	_, err = f.WriteString(line)
	return err
}
