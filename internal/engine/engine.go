// Package engine provides the core logic for the power gateway,
// coordinating node state, relay commands, timers, schedules and
// threshold monitoring.
package engine

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gridsense/power-gateway/internal/storage"
)

// Relay command states
const (
	RelayOn  = "on"
	RelayOff = "off"
)

// Error taxonomy surfaced to the transport layer
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("already exists")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Broadcaster pushes state-change events to connected observers.
type Broadcaster interface {
	SensorData(nodeID string, voltage, current, power float64)
	ThresholdAlert(nodeID string, power, threshold float64)
}

// Notifier dispatches external alert notifications. Implementations are
// fire-and-forget: failures are logged, never returned.
type Notifier interface {
	Notify(nodeID string, power, threshold float64, message string)
}

// LogControl starts and stops per-node time-series logging.
type LogControl interface {
	Start(nodeID string)
	Stop(nodeID string)
}

// Config holds engine configuration
type Config struct {
	CheckInterval time.Duration // threshold monitor tick
	ScheduleTick  time.Duration // schedule evaluation poll (dedup'd per minute)
	AlertCooldown time.Duration // minimum interval between alerts per node
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		CheckInterval: 1 * time.Second,
		ScheduleTick:  20 * time.Second,
		AlertCooldown: 60 * time.Second,
	}
}

// Engine owns all gateway state. A single mutex serializes every
// mutation, whether it originates from a request, a timer fire or a
// periodic tick; read-modify-write of a whole document is not safe to
// interleave.
type Engine struct {
	config   Config
	db       *storage.DB
	hub      Broadcaster
	notifier Notifier
	logs     LogControl

	stopChan chan struct{}
	wg       sync.WaitGroup

	mu        sync.Mutex
	nodes     storage.NodeTable
	relays    storage.RelayTable
	schedules storage.ScheduleTable
	timers    storage.TimerTable

	// Live armed timer handles, reconciled against the persisted
	// timer table at startup
	handles map[string]*time.Timer

	// Per-node last-alert timestamps. Process-local: a restart may
	// alert again immediately.
	lastAlert map[string]time.Time

	// Last wall-clock minute the schedules were evaluated against
	lastMinute string
}

// New creates an engine, loads all persisted domains and re-arms
// surviving timers. Restoration runs here, before any request can be
// served.
func New(config Config, db *storage.DB, hub Broadcaster, notifier Notifier, logs LogControl) (*Engine, error) {
	e := &Engine{
		config:     config,
		db:         db,
		hub:        hub,
		notifier:   notifier,
		logs:       logs,
		stopChan:   make(chan struct{}),
		nodes:      make(storage.NodeTable),
		relays:     make(storage.RelayTable),
		schedules:  make(storage.ScheduleTable),
		timers:     make(storage.TimerTable),
		handles:    make(map[string]*time.Timer),
		lastAlert:  make(map[string]time.Time),
		lastMinute: time.Now().Format("15:04"),
	}

	if err := db.Load(storage.DomainNodes, &e.nodes); err != nil {
		return nil, fmt.Errorf("failed to load nodes: %w", err)
	}
	if err := db.Load(storage.DomainRelays, &e.relays); err != nil {
		return nil, fmt.Errorf("failed to load relay commands: %w", err)
	}
	if err := db.Load(storage.DomainSchedules, &e.schedules); err != nil {
		return nil, fmt.Errorf("failed to load schedules: %w", err)
	}
	if err := db.Load(storage.DomainTimers, &e.timers); err != nil {
		return nil, fmt.Errorf("failed to load timers: %w", err)
	}

	e.restoreTimers()
	return e, nil
}

// Start launches the background tick loops
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.monitorLoop()

	e.wg.Add(1)
	go e.scheduleLoop()

	log.Println("Engine started")
}

// Stop stops the tick loops and disarms all live timers
func (e *Engine) Stop() {
	close(e.stopChan)
	e.wg.Wait()

	e.mu.Lock()
	for nodeID, handle := range e.handles {
		handle.Stop()
		delete(e.handles, nodeID)
	}
	e.mu.Unlock()

	log.Println("Engine stopped")
}

// monitorLoop evaluates thresholds on a fixed tick, independent of
// telemetry arrival
func (e *Engine) monitorLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.checkThresholds()
		}
	}
}

// scheduleLoop polls the wall clock and evaluates schedules at most once
// per minute
func (e *Engine) scheduleLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.ScheduleTick)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.evaluateSchedules(time.Now())
		}
	}
}

// --- persistence helpers, callers hold e.mu ---

func (e *Engine) saveNodesLocked() error {
	return e.db.Save(storage.DomainNodes, e.nodes)
}

func (e *Engine) saveRelaysLocked() error {
	return e.db.Save(storage.DomainRelays, e.relays)
}

func (e *Engine) saveSchedulesLocked() error {
	return e.db.Save(storage.DomainSchedules, e.schedules)
}

func (e *Engine) saveTimersLocked() error {
	return e.db.Save(storage.DomainTimers, e.timers)
}

// Nodes returns all known nodes sorted by ID
func (e *Engine) Nodes() []*storage.Node {
	e.mu.Lock()
	defer e.mu.Unlock()

	nodes := make([]*storage.Node, 0, len(e.nodes))
	for _, n := range e.nodes {
		c := *n
		nodes = append(nodes, &c)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
	return nodes
}

// GetNode retrieves a single node by ID
func (e *Engine) GetNode(nodeID string) (*storage.Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	c := *n
	return &c, nil
}
