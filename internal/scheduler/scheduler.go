// Package scheduler implements the kernel's Scheduler: a single ready
// queue of Activations, a bounded pool of concurrently running
// ActivationLoops, and the budget/depth/fanout enforcement that runs on
// every dequeue. Grounded on the teacher's tasks.Scheduler — the
// config-defaulting constructor and the buffered-channel semaphore
// bounding concurrent work are the same idiom, though the teacher's
// scheduler is a cron-driven, DB-backed distributed poller and this one
// is a single-process in-memory priority queue with no wall-clock
// component at all.
package scheduler

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentkernel/kernel/internal/eventlog"
	"github.com/agentkernel/kernel/pkg/models"
)

// Config bounds a Scheduler's concurrency and per-run budgets, mirroring
// the teacher's SchedulerConfig/DefaultSchedulerConfig/sanitize pattern.
type Config struct {
	// MaxConcurrency is the largest number of ActivationLoops the
	// Scheduler runs at once. Defaults to 4.
	MaxConcurrency int

	// MaxDepth drops an Activation whose SpawnDepth exceeds it, emitting
	// a warning event instead of running it. Defaults to 10.
	MaxDepth int

	// MaxFanout drops an Activation once its parent has already spawned
	// this many children. Zero disables the check.
	MaxFanout int

	// TokenBudget stops the run once cumulative tokens consumed across
	// every Session exceeds it. Zero disables the check.
	TokenBudget int

	// DedupeWindow bounds how long an identical (parent, agentId, input)
	// spawn_agent call is squashed against the child it already spawned
	// rather than spawning a second one. Zero is the "parent_lifetime"
	// sentinel: dedupe state is never time-boxed, only ever cleared when
	// the Scheduler itself is discarded. See ParseDedupeWindow.
	DedupeWindow time.Duration

	Logger *slog.Logger
}

// ParseDedupeWindow parses a KernelConfig.SpawnDedupeWindow string into
// the duration Config.DedupeWindow expects. "parent_lifetime" and "" both
// map to zero; anything else is parsed with time.ParseDuration.
func ParseDedupeWindow(s string) (time.Duration, error) {
	if s == "" || s == "parent_lifetime" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse dedupe window %q: %w", s, err)
	}
	return d, nil
}

// DefaultConfig returns the Scheduler's default bounds.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 4, MaxDepth: 10, MaxFanout: 16}
}

func sanitizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaults.MaxConcurrency
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaults.MaxDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Counters is a point-in-time snapshot of kernel status, returned by
// getStatus and mirrored into Prometheus gauges by whatever wires the
// Scheduler into an HTTP /metrics endpoint.
type Counters struct {
	IsRunning    bool
	IsPaused     bool
	TotalTokens  int
	ActiveCount  int
	QueueCount   int
	IsAutonomous bool
	CurrentCycle int
	MaxCycles    int
}

// Runner executes one Activation end-to-end; satisfied by
// *activation.Loop. Kept as an interface so the Scheduler's tests don't
// need a real ProviderAdapter/ToolDispatcher wiring.
type Runner interface {
	Run(ctx context.Context, act models.Activation, profile *models.AgentProfile) error
}

// ProfileResolver looks up the AgentProfile an Activation's AgentID
// names; satisfied by *registry.Registry.
type ProfileResolver interface {
	Get(agentID string) (*models.AgentProfile, bool)
}

// SessionAborter transitions a running Session to aborted; satisfied by
// *sessionstore.Store. Used only by killAll.
type SessionAborter interface {
	Update(activationID string, mutate func(*models.Session)) (models.Session, error)
}

// TokenCounter is notified of tokens consumed by a completed provider
// turn, letting the Scheduler's budget check stay in sync with the
// ActivationLoop without polling every Session on every dequeue.
type TokenCounter interface {
	Add(delta int)
}

// queueItem is one Activation waiting in the ready heap, ordered by
// spec's tie-break: higher priority first, then earlier createdAt, then
// lower spawnDepth.
type queueItem struct {
	act   models.Activation
	index int
}

type readyQueue []*queueItem

func (q readyQueue) Len() int { return len(q) }
func (q readyQueue) Less(i, j int) bool {
	a, b := q[i].act, q[j].act
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.SpawnDepth < b.SpawnDepth
}
func (q readyQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *readyQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return item
}

// Scheduler is the kernel's single-threaded cooperative ready queue:
// every suspension point (a provider stream's `done` chunk, a tool
// dispatch returning) is a point where a paused Scheduler may stop
// starting new work, but a running ActivationLoop always finishes its
// current chunk before it is asked to yield. Concurrency beyond one
// Activation at a time comes from running up to MaxConcurrency
// ActivationLoops in their own goroutines, not from interleaving a
// single Activation's turns.
//
// Scheduler also implements tooldispatch.Spawner and tooldispatch.Signaler
// directly: it already holds every Activation's depth, fanout and lineage,
// which is exactly what spawn_agent's dedupe check and signal_parent's
// target lookup need.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg Config

	queue   readyQueue
	running map[string]context.CancelFunc
	fanout  map[string]int

	// activations holds every Activation this Scheduler has admitted,
	// keyed by ActivationID, so a later signal_parent call can
	// reconstruct the full record (AgentID, depth, lineage) for an
	// activation that is no longer queued or running. Never pruned: the
	// Scheduler is one kernel run's lifetime, not a long-lived store.
	activations map[string]models.Activation

	// spawnHistory dedupes spawn_agent: key is parent activation id +
	// child agent id + a hash of the input, value is the child
	// ActivationID already spawned for that exact request.
	spawnHistory map[string]string

	paused bool
	killed bool

	tokensConsumed int
	budgetWarned   bool
	currentCycle   int
	maxCycles      int
	autonomous     bool

	sem      chan struct{}
	wg       sync.WaitGroup
	runner   Runner
	profiles ProfileResolver
	sessions SessionAborter
	events   *eventlog.Log
	log      *slog.Logger
}

// New builds a Scheduler. sessions may be nil, in which case killAll
// cancels running contexts but does not also transition Sessions to
// aborted (the caller is expected to do that itself, e.g. in a test).
// events may also be nil, in which case drop/budget events are only
// logged, never appended to the EventLog (used by this package's own
// tests, which assert on Runner invocations rather than the log).
func New(runner Runner, profiles ProfileResolver, sessions SessionAborter, events *eventlog.Log, cfg Config) *Scheduler {
	cfg = sanitizeConfig(cfg)
	s := &Scheduler{
		cfg:          cfg,
		running:      make(map[string]context.CancelFunc),
		fanout:       make(map[string]int),
		activations:  make(map[string]models.Activation),
		spawnHistory: make(map[string]string),
		sem:          make(chan struct{}, cfg.MaxConcurrency),
		runner:       runner,
		profiles:     profiles,
		sessions:     sessions,
		events:       events,
		log:          cfg.Logger.With("component", "scheduler"),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// warn logs and, if an EventLog is wired, appends a `warning` event not
// tied to any single Activation's own stream (a dropped or budget-halted
// activation still needs its drop recorded even though its ActivationID
// never reaches the ActivationLoop that would otherwise log it).
func (s *Scheduler) warn(ctx context.Context, activationID, message string, args ...any) {
	s.log.Warn(message, args...)
	if s.events == nil {
		return
	}
	if _, err := s.events.Append(ctx, models.EventEntry{
		ActivationID: activationID, Type: models.EventWarning,
		Severity: models.SeverityWarning, Data: models.EventData{Message: message},
	}); err != nil {
		s.log.Error("append warning event failed", "error", err)
	}
}

// Add implements TokenCounter, letting the ActivationLoop report
// consumed tokens as its provider turns complete so the budget check on
// the next dequeue sees a current total.
func (s *Scheduler) Add(delta int) {
	s.mu.Lock()
	s.tokensConsumed += delta
	s.mu.Unlock()
}

// Enqueue admits act into the ready queue, applying the maxDepth and
// maxFanout drop rules up front rather than deferring them to dequeue —
// spawn_agent and signal_parent both call Enqueue directly, and a
// dropped Activation should never occupy a queue slot at all.
func (s *Scheduler) Enqueue(ctx context.Context, act models.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if act.CreatedAt.IsZero() {
		act.CreatedAt = time.Now()
	}

	if act.SpawnDepth > s.cfg.MaxDepth {
		s.warn(ctx, act.ActivationID, "dropping activation: max depth exceeded",
			"activation_id", act.ActivationID, "depth", act.SpawnDepth, "max_depth", s.cfg.MaxDepth)
		return nil
	}
	if s.cfg.MaxFanout > 0 && act.ParentActivationID != "" && s.fanout[act.ParentActivationID] >= s.cfg.MaxFanout {
		s.warn(ctx, act.ActivationID, "dropping activation: max fanout exceeded",
			"activation_id", act.ActivationID, "parent_activation_id", act.ParentActivationID, "max_fanout", s.cfg.MaxFanout)
		return nil
	}

	if act.ParentActivationID != "" {
		s.fanout[act.ParentActivationID]++
	}
	s.activations[act.ActivationID] = act
	heap.Push(&s.queue, &queueItem{act: act})
	s.cond.Broadcast()
	return nil
}

// SignalParent implements the `signal_parent` tool's scheduling effect:
// the parent activation is re-enqueued one priority tier above normal.
func (s *Scheduler) SignalParent(ctx context.Context, parent models.Activation) error {
	parent.Priority++
	return s.Enqueue(ctx, parent)
}

// spawnKey identifies a spawn_agent request for dedupe purposes: the
// same parent asking for the same child agent with byte-identical input.
func spawnKey(parentActivationID, agentID, input string) string {
	sum := sha256.Sum256([]byte(input))
	return parentActivationID + "|" + agentID + "|" + hex.EncodeToString(sum[:])
}

// Spawn implements tooldispatch.Spawner: it creates a child Activation
// one SpawnDepth below parent and enqueues it, unless an identical
// request from the same parent is still within its dedupe window, in
// which case the previously spawned child is returned with
// deduplicated=true and nothing new is enqueued.
func (s *Scheduler) Spawn(ctx context.Context, parent models.Activation, agentID, input string) (models.Activation, bool, error) {
	key := spawnKey(parent.ActivationID, agentID, input)

	s.mu.Lock()
	// tools_spawn.go's caller only has the ActivationID and AgentID off the
	// CallInput it dispatched from; it never carries the running
	// Activation's SpawnDepth or Priority. Look up our own record of
	// parent, which does, rather than trust a bare/zeroed argument.
	if full, ok := s.activations[parent.ActivationID]; ok {
		parent = full
	}
	if childID, ok := s.spawnHistory[key]; ok {
		if child, ok := s.activations[childID]; ok {
			if s.cfg.DedupeWindow == 0 || time.Since(child.CreatedAt) < s.cfg.DedupeWindow {
				s.mu.Unlock()
				return child, true, nil
			}
		}
	}
	s.mu.Unlock()

	child := models.Activation{
		ActivationID:       uuid.NewString(),
		AgentID:            agentID,
		Input:              input,
		ParentAgentID:      parent.AgentID,
		ParentActivationID: parent.ActivationID,
		SpawnDepth:         parent.SpawnDepth + 1,
		Priority:           parent.Priority,
		CreatedAt:          time.Now(),
	}
	if err := s.Enqueue(ctx, child); err != nil {
		return models.Activation{}, false, err
	}

	s.mu.Lock()
	s.spawnHistory[key] = child.ActivationID
	s.mu.Unlock()

	return child, false, nil
}

// Signal implements tooldispatch.Signaler: it looks up the target
// Activation this Scheduler previously admitted, attaches content as its
// new Input, and re-enqueues it through SignalParent's bumped-priority
// path. The target need not be currently running or queued — a parent
// that already completed its own turn waiting on a child is exactly the
// common case signal_parent wakes back up.
func (s *Scheduler) Signal(ctx context.Context, targetActivationID, content string) error {
	s.mu.Lock()
	target, ok := s.activations[targetActivationID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: signal target %s: unknown activation", targetActivationID)
	}
	target.Input = content
	return s.SignalParent(ctx, target)
}

// EnableAutonomous marks this run as the root of an autonomous cycle
// loop, so getStatus reports currentCycle/maxCycles and runUntilEmpty
// stops admitting new cycles once maxCycles is reached.
func (s *Scheduler) EnableAutonomous(maxCycles int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autonomous = true
	s.maxCycles = maxCycles
}

// StopAutonomous records an explicit stop-when-complete signal from the
// agent, independent of maxCycles.
func (s *Scheduler) StopAutonomous() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxCycles = s.currentCycle
}

// runUntilEmpty is the kernel's main dispatch loop: it pops ready
// Activations in tie-break order, enforces the budget rules on each
// dequeue, and runs each admitted Activation in its own goroutine bounded
// by MaxConcurrency. It returns once the queue is empty and no
// ActivationLoop is still running, or once killAll is called.
func (s *Scheduler) runUntilEmpty(ctx context.Context) {
	for {
		s.mu.Lock()
		for {
			if s.killed {
				s.mu.Unlock()
				return
			}
			if len(s.queue) == 0 && len(s.running) == 0 {
				s.mu.Unlock()
				return
			}
			if s.paused {
				s.cond.Wait()
				continue
			}
			if s.cfg.TokenBudget > 0 && s.tokensConsumed > s.cfg.TokenBudget {
				if !s.budgetWarned {
					s.budgetWarned = true
					tokensConsumed, budget := s.tokensConsumed, s.cfg.TokenBudget
					s.queue = nil
					s.mu.Unlock()
					s.warn(ctx, "", "token budget exceeded, draining queue", "tokens_consumed", tokensConsumed, "budget", budget)
					s.mu.Lock()
					continue
				}
				s.queue = nil
				if len(s.running) == 0 {
					s.mu.Unlock()
					return
				}
				s.cond.Wait()
				continue
			}
			if s.autonomous && s.maxCycles > 0 && s.currentCycle >= s.maxCycles && len(s.running) == 0 {
				s.mu.Unlock()
				return
			}
			if len(s.queue) == 0 || len(s.running) >= s.cfg.MaxConcurrency {
				s.cond.Wait()
				continue
			}
			break
		}

		item := heap.Pop(&s.queue).(*queueItem)
		act := item.act
		profile, ok := s.profiles.Get(act.AgentID)
		if !ok {
			s.log.Error("dropping activation: unknown agent", "activation_id", act.ActivationID, "agent_id", act.AgentID)
			s.mu.Unlock()
			continue
		}
		s.currentCycle++

		runCtx, cancel := context.WithCancel(ctx)
		s.running[act.ActivationID] = cancel
		s.mu.Unlock()

		s.sem <- struct{}{}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer func() {
				s.mu.Lock()
				delete(s.running, act.ActivationID)
				s.cond.Broadcast()
				s.mu.Unlock()
			}()
			if err := s.runner.Run(runCtx, act, profile); err != nil {
				s.log.Error("activation run failed", "activation_id", act.ActivationID, "error", err)
			}
		}()
	}
}

// Run starts the dispatch loop and blocks until the queue drains or
// killAll is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.killed = false
	s.mu.Unlock()
	s.runUntilEmpty(ctx)
	s.wg.Wait()
}

// Wait blocks while the Scheduler is paused, returning once Resume is
// called, killAll fires, or ctx is cancelled. The ActivationLoop calls
// this between provider turns — never mid-stream — so a pause suspends
// at a chunk boundary rather than aborting one.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	for s.paused && !s.killed {
		if ctx.Err() != nil {
			s.mu.Unlock()
			return ctx.Err()
		}
		s.cond.Wait()
	}
	killed := s.killed
	s.mu.Unlock()
	if killed {
		return context.Canceled
	}
	return ctx.Err()
}

// Pause stops the dispatch loop from starting new ActivationLoops.
// Already-running loops finish their current provider turn — the
// ActivationLoop checks PauseGate.Wait between turns — before
// suspending.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume wakes every suspended ActivationLoop and lets the dispatch loop
// resume starting new work.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.cond.Broadcast()
}

// KillAll aborts every running provider stream, transitions every
// running Session to aborted, and clears the ready queue.
func (s *Scheduler) KillAll() {
	s.mu.Lock()
	s.killed = true
	s.paused = false
	running := make(map[string]context.CancelFunc, len(s.running))
	for id, cancel := range s.running {
		running[id] = cancel
	}
	s.queue = nil
	s.mu.Unlock()

	for id, cancel := range running {
		cancel()
		if s.sessions != nil {
			if _, err := s.sessions.Update(id, func(sess *models.Session) {
				sess.Status = models.SessionAborted
			}); err != nil {
				s.log.Error("mark session aborted failed", "activation_id", id, "error", err)
			}
		}
	}
	s.cond.Broadcast()
}

// GetStatus returns a snapshot of the kernel's current counters.
func (s *Scheduler) GetStatus() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counters{
		IsRunning:    len(s.running) > 0,
		IsPaused:     s.paused,
		TotalTokens:  s.tokensConsumed,
		ActiveCount:  len(s.running),
		QueueCount:   len(s.queue),
		IsAutonomous: s.autonomous,
		CurrentCycle: s.currentCycle,
		MaxCycles:    s.maxCycles,
	}
}
