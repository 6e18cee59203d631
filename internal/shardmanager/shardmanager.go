// Package shardmanager is the per-worker supervisor: it owns a dynamic
// set of shard sessions, enforces the per-worker handshake concurrency
// cap, applies the group-indexed startup stagger, and performs the
// differential add/remove of sessions on a reshard. It is structured as
// an actor — a single goroutine owns all mutable state and is driven
// exclusively by a command channel, per DESIGN NOTES §9.
package shardmanager

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"nhooyr.io/websocket"

	"github.com/TheRockettek/stratum/internal/gatewayclient"
	"github.com/TheRockettek/stratum/internal/partition"
	"github.com/TheRockettek/stratum/internal/retry"
	"github.com/TheRockettek/stratum/internal/shardrunner"
)

// Durations named by spec §4.4, kept as vars so tests can shrink them.
var (
	InterShardPace = 2 * time.Second
	StaggerUnit    = 10 * time.Second
	RestartCoolOff = 5 * time.Second
)

// ShardClient is one session's gateway handle. *gatewayclient.Client
// satisfies this; its method set is also a superset of
// shardrunner.GatewayClient, so sessions can hand it straight to
// shardrunner.Run.
type ShardClient interface {
	Connect(ctx context.Context) error
	Next(ctx context.Context) (gatewayclient.Frame, error)
	Close(code websocket.StatusCode) error
}

// Publisher is the bus surface the manager and its sessions need.
type Publisher interface {
	shardrunner.Publisher
	PublishJSON(ctx context.Context, subject string, v interface{}, budget retry.Budget) error
}

// Factory builds a ShardClient for (shardID, totalShards).
type Factory func(shardID, totalShards uint32) ShardClient

// Config is the worker's mutable assignment, seeded from workerconfig.Config.
type Config struct {
	ShardIDStart     uint32
	ShardIDEnd       uint32
	TotalShards      uint32
	GroupIndex       uint32
	ShardsPerReplica uint32
	MaxConcurrency   uint32
	WorkerID         string
}

// SessionEvent reports one restart-loop iteration outcome, for
// observability and for tests to assert on without a real gateway.
type SessionEvent struct {
	ShardID uint32
	Phase   string // "requesting" | "running" | "finished" | "failed"
	Err     error
}

type shardSession struct {
	id     uint32
	cancel context.CancelFunc
	done   chan struct{}
}

type command interface{}

type startShardsCmd struct{ done chan error }
type updateShardsCmd struct {
	newTotal uint32
	done     chan error
}
type resizeSemaphoreCmd struct {
	max  uint32
	done chan error
}
type setShardsPerReplicaCmd struct {
	n    uint32
	done chan error
}
type shutdownCmd struct{ done chan struct{} }

// Manager is the per-worker shard supervisor.
type Manager struct {
	cfg      Config
	bus      Publisher
	newShard Factory
	log      zerolog.Logger

	commands chan command
	events   chan SessionEvent

	sessions map[uint32]*shardSession
	sem      *semaphore.Weighted
}

// New constructs a Manager. Call Run in its own goroutine to start the
// actor loop, then drive it via StartShards/UpdateShards/Shutdown.
func New(cfg Config, bus Publisher, newShard Factory, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		newShard: newShard,
		log:      log,
		commands: make(chan command, 8),
		events:   make(chan SessionEvent, 64),
		sessions: make(map[uint32]*shardSession),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
	}
}

// Events exposes per-session lifecycle events for observers and tests.
func (m *Manager) Events() <-chan SessionEvent {
	return m.events
}

// Run is the actor loop. It returns once ctx is cancelled, after
// cancelling every live session.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.shutdownAll()
			return
		case cmd := <-m.commands:
			m.handle(ctx, cmd)
		}
	}
}

func (m *Manager) handle(ctx context.Context, cmd command) {
	switch c := cmd.(type) {
	case startShardsCmd:
		c.done <- m.startShards(ctx)
	case updateShardsCmd:
		c.done <- m.updateShards(ctx, c.newTotal)
	case resizeSemaphoreCmd:
		m.sem = semaphore.NewWeighted(int64(c.max))
		m.cfg.MaxConcurrency = c.max
		c.done <- nil
	case setShardsPerReplicaCmd:
		m.cfg.ShardsPerReplica = c.n
		c.done <- nil
	case shutdownCmd:
		m.shutdownAll()
		close(c.done)
	}
}

// StartShards brings up the worker's initially assigned range.
func (m *Manager) StartShards(ctx context.Context) error {
	return m.send(ctx, func(done chan error) command { return startShardsCmd{done: done} })
}

// UpdateShards reconciles the live session set to newTotal shards.
func (m *Manager) UpdateShards(ctx context.Context, newTotal uint32) error {
	return m.send(ctx, func(done chan error) command { return updateShardsCmd{newTotal: newTotal, done: done} })
}

// ResizeSemaphore changes the startup concurrency cap, per SPEC_FULL §4.5.1.
func (m *Manager) ResizeSemaphore(ctx context.Context, max uint32) error {
	return m.send(ctx, func(done chan error) command { return resizeSemaphoreCmd{max: max, done: done} })
}

// SetShardsPerReplica updates the group size UpdateShards re-derives the
// worker's range with, per SPEC_FULL §4.5.1: the worker never talks to
// the orchestrator directly, so this figure arrives via the
// startup_coordination broadcast instead.
func (m *Manager) SetShardsPerReplica(ctx context.Context, n uint32) error {
	return m.send(ctx, func(done chan error) command { return setShardsPerReplicaCmd{n: n, done: done} })
}

// Shutdown cancels every session and clears the map.
func (m *Manager) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	select {
	case m.commands <- shutdownCmd{done: done}:
	case <-ctx.Done():
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (m *Manager) send(ctx context.Context, build func(chan error) command) error {
	done := make(chan error, 1)
	select {
	case m.commands <- build(done):
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) startShards(ctx context.Context) error {
	stagger := time.Duration(m.cfg.GroupIndex) * StaggerUnit
	if stagger > 0 {
		time.Sleep(stagger)
	}

	for id := m.cfg.ShardIDStart; id <= m.cfg.ShardIDEnd; id++ {
		m.startShard(ctx, id)
		time.Sleep(InterShardPace)
	}
	return nil
}

// startShard is idempotent: a shard id already present is left alone.
func (m *Manager) startShard(ctx context.Context, id uint32) {
	if _, ok := m.sessions[id]; ok {
		return
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session := &shardSession{id: id, cancel: cancel, done: make(chan struct{})}
	m.sessions[id] = session

	go m.runSession(sessionCtx, session)
}

// stopShard cancels and forgets id. Safe to call on an absent id.
func (m *Manager) stopShard(id uint32) {
	session, ok := m.sessions[id]
	if !ok {
		return
	}
	delete(m.sessions, id)
	session.cancel()
}

// updateShards derives the worker's new range from its group index
// rather than keeping the old range fixed, per SPEC_FULL §4.4.1. The
// fleet name passed to the partitioner is irrelevant here: only the
// resulting (start, end) range is used, never the deployment name.
func (m *Manager) updateShards(ctx context.Context, newTotal uint32) error {
	m.cfg.TotalShards = newTotal

	groups := partition.Groups("", newTotal, m.cfg.ShardsPerReplica)

	desired := map[uint32]struct{}{}
	if int(m.cfg.GroupIndex) < len(groups) {
		group := groups[m.cfg.GroupIndex]
		m.cfg.ShardIDStart = group.ShardStart
		m.cfg.ShardIDEnd = group.ShardEnd

		for id := group.ShardStart; id <= group.ShardEnd; id++ {
			desired[id] = struct{}{}
		}
	} else {
		m.log.Info().Uint32("group_index", m.cfg.GroupIndex).Msg("worker unassigned after reshard, idling")
	}

	toStop := make([]uint32, 0)
	for id := range m.sessions {
		if _, ok := desired[id]; !ok {
			toStop = append(toStop, id)
		}
	}

	toStart := make([]uint32, 0, len(desired))
	for id := range desired {
		if _, ok := m.sessions[id]; !ok {
			toStart = append(toStart, id)
		}
	}

	for _, id := range toStop {
		m.stopShard(id)
	}
	for _, id := range toStart {
		m.startShard(ctx, id)
	}

	return nil
}

func (m *Manager) shutdownAll() {
	for id, session := range m.sessions {
		session.cancel()
		delete(m.sessions, id)
	}
}

// runSession is the restart-loop supervising one shard session:
// Pending → Requesting → WaitingForPermit → Running → Finished|Failed.
// Failed re-enters Pending after the cool-off, Finished re-enters it
// immediately; external cancellation is terminal from any state.
func (m *Manager) runSession(ctx context.Context, session *shardSession) {
	defer close(session.done)

	for {
		if ctx.Err() != nil {
			return
		}

		m.emit(session.id, "requesting", nil)
		m.publishLifecycle(ctx, "startup.request", "request_startup", session.id)

		// Release the permit on the semaphore it was acquired from, even if
		// ResizeSemaphore has replaced m.sem while this session ran.
		sem := m.sem
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}

		runErr := m.connectAndPump(ctx, session.id)
		sem.Release(1)

		m.publishLifecycle(ctx, "startup.complete", "startup_complete", session.id)

		if runErr != nil {
			m.emit(session.id, "failed", runErr)
		} else {
			m.emit(session.id, "finished", nil)
		}

		if runErr != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(RestartCoolOff):
			}
		}
	}
}

func (m *Manager) connectAndPump(ctx context.Context, id uint32) error {
	shard := m.newShard(id, m.cfg.TotalShards)

	if err := shard.Connect(ctx); err != nil {
		return err
	}

	m.emit(id, "running", nil)

	err := shardrunner.Run(ctx, int(id), shard, m.bus, m.log)
	_ = shard.Close(websocket.StatusNormalClosure)

	return err
}

func (m *Manager) publishLifecycle(ctx context.Context, topicSuffix, action string, shardID uint32) {
	msg := map[string]interface{}{
		"action":    action,
		"worker_id": m.cfg.WorkerID,
		"shard_id":  shardID,
		"timestamp": time.Now().Unix(),
	}
	if err := m.bus.PublishJSON(ctx, m.bus.Topic(topicSuffix), msg, retry.RunnerPublish()); err != nil {
		m.log.Warn().Err(err).Str("action", action).Uint32("shard", shardID).Msg("failed to publish shard lifecycle event")
	}
}

func (m *Manager) emit(shardID uint32, phase string, err error) {
	event := SessionEvent{ShardID: shardID, Phase: phase, Err: err}
	select {
	case m.events <- event:
	default:
	}
}
