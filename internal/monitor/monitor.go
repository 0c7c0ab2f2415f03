package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/waypoint/internal/auth"
	"github.com/MarcoPoloResearchLab/waypoint/internal/location"
	"github.com/MarcoPoloResearchLab/waypoint/internal/notify"
	"github.com/MarcoPoloResearchLab/waypoint/internal/proximity"
	"go.uber.org/zap"
)

const (
	DefaultMinInterval           = 10 * time.Second
	DefaultMinDisplacementMeters = 10.0

	alertTitle     = "Location Reminder"
	emitTimeout    = 10 * time.Second
	fixQueueLength = 16
)

var (
	// ErrNotAuthenticated indicates there is no signed-in owner.
	ErrNotAuthenticated = errors.New("monitor: authentication required")
	// ErrOwnerMismatch indicates a target owned by someone other than the signed-in owner.
	ErrOwnerMismatch = errors.New("monitor: target owner does not match session")
	// ErrStopped indicates the monitor loop is not running.
	ErrStopped = errors.New("monitor: not running")

	errAlreadyRunning  = errors.New("monitor: already running")
	errMissingProvider = errors.New("monitor: location provider required")
	errMissingEmitter  = errors.New("monitor: notification emitter required")
	errMissingSessions = errors.New("monitor: session source required")
)

// State is the monitor's coarse lifecycle state.
type State int

const (
	// StateIdle has no location subscription.
	StateIdle State = iota
	// StateWatching holds a location subscription for at least one target.
	StateWatching
)

func (s State) String() string {
	if s == StateWatching {
		return "watching"
	}
	return "idle"
}

// SessionSource exposes the signed-in owner and sign-in/out notifications.
type SessionSource interface {
	CurrentOwner() (string, bool)
	Subscribe() (<-chan auth.SessionEvent, func())
}

// Config wires a Monitor to its collaborators.
type Config struct {
	Provider              location.Provider
	Emitter               notify.Emitter
	Sessions              SessionSource
	Logger                *zap.Logger
	MinInterval           time.Duration
	MinDisplacementMeters float64
	HysteresisMargin      float64
	Clock                 func() time.Time
}

// Status is a snapshot of the monitor for status views.
type Status struct {
	State      State
	Owner      string
	TargetIDs  []string
	Subscribed bool
	LastFix    *location.Fix
}

// Monitor tracks position against registered targets. All registry state lives on the
// goroutine running Run; other goroutines talk to it through commands.
type Monitor struct {
	provider  location.Provider
	emitter   notify.Emitter
	sessions  SessionSource
	logger    *zap.Logger
	engine    proximity.Engine
	options   location.SubscribeOptions
	clock     func() time.Time
	commands  chan command
	fixes     chan positionMessage
	done      chan struct{}
	running   atomic.Bool
	emitGroup sync.WaitGroup

	// Loop-owned state.
	registry         *Registry
	state            State
	subscription     location.Subscription
	subscriptionDone chan struct{}
	generation       uint64
	warned           map[string]struct{}
	lastFix          *location.Fix
}

type commandKind int

const (
	commandWatch commandKind = iota
	commandUnwatch
	commandStopAll
	commandPermission
	commandStatus
)

type command struct {
	kind    commandKind
	target  proximity.Target
	id      string
	granted bool
	reply   chan commandResult
}

type commandResult struct {
	err    error
	status Status
}

type positionMessage struct {
	generation uint64
	fix        location.Fix
}

// New constructs a Monitor. Call Run to start its loop.
func New(cfg Config) (*Monitor, error) {
	if cfg.Provider == nil {
		return nil, errMissingProvider
	}
	if cfg.Emitter == nil {
		return nil, errMissingEmitter
	}
	if cfg.Sessions == nil {
		return nil, errMissingSessions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	minDisplacement := cfg.MinDisplacementMeters
	if minDisplacement < 0 {
		minDisplacement = DefaultMinDisplacementMeters
	}
	return &Monitor{
		provider: cfg.Provider,
		emitter:  cfg.Emitter,
		sessions: cfg.Sessions,
		logger:   logger,
		engine:   proximity.NewEngine(cfg.HysteresisMargin),
		options: location.SubscribeOptions{
			MinInterval:           minInterval,
			MinDisplacementMeters: minDisplacement,
		},
		clock:    clock,
		commands: make(chan command),
		fixes:    make(chan positionMessage, fixQueueLength),
		done:     make(chan struct{}),
		registry: NewRegistry(),
		warned:   make(map[string]struct{}),
	}, nil
}

// Run processes commands, position fixes and session events until ctx ends.
// The location subscription is released before Run returns.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	sessionEvents, cancelSessions := m.sessions.Subscribe()
	defer func() {
		m.stopAll("shutdown")
		cancelSessions()
		close(m.done)
		m.emitGroup.Wait()
	}()

	m.logger.Info("location monitor started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("location monitor stopping")
			return nil
		case cmd := <-m.commands:
			m.drainFixes(ctx)
			cmd.reply <- m.handleCommand(cmd)
		case message := <-m.fixes:
			m.handlePosition(ctx, message)
		case event, ok := <-sessionEvents:
			if !ok {
				sessionEvents = nil
				continue
			}
			m.handleSessionEvent(event)
		}
	}
}

// Watch starts monitoring target for the signed-in owner.
func (m *Monitor) Watch(ctx context.Context, target proximity.Target) error {
	result, err := m.send(ctx, command{kind: commandWatch, target: target})
	if err != nil {
		return err
	}
	return result.err
}

// Unwatch stops monitoring id. Unknown ids are ignored.
func (m *Monitor) Unwatch(ctx context.Context, id string) error {
	result, err := m.send(ctx, command{kind: commandUnwatch, id: id})
	if err != nil {
		return err
	}
	return result.err
}

// StopAll clears every target and releases the location subscription.
func (m *Monitor) StopAll(ctx context.Context) error {
	result, err := m.send(ctx, command{kind: commandStopAll})
	if err != nil {
		return err
	}
	return result.err
}

// PermissionChanged tells the monitor whether location access is currently granted.
func (m *Monitor) PermissionChanged(ctx context.Context, granted bool) error {
	result, err := m.send(ctx, command{kind: commandPermission, granted: granted})
	if err != nil {
		return err
	}
	return result.err
}

// Status returns a snapshot of the loop state.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	result, err := m.send(ctx, command{kind: commandStatus})
	if err != nil {
		return Status{}, err
	}
	return result.status, nil
}

func (m *Monitor) send(ctx context.Context, cmd command) (commandResult, error) {
	cmd.reply = make(chan commandResult, 1)
	select {
	case m.commands <- cmd:
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	case <-m.done:
		return commandResult{}, ErrStopped
	}
	select {
	case result := <-cmd.reply:
		return result, nil
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}

func (m *Monitor) handleCommand(cmd command) commandResult {
	switch cmd.kind {
	case commandWatch:
		return commandResult{err: m.watch(cmd.target)}
	case commandUnwatch:
		m.unwatch(cmd.id)
		return commandResult{}
	case commandStopAll:
		m.stopAll("requested")
		return commandResult{}
	case commandPermission:
		m.permissionChanged(cmd.granted)
		return commandResult{}
	case commandStatus:
		return commandResult{status: m.snapshot()}
	default:
		return commandResult{err: fmt.Errorf("monitor: unknown command %d", cmd.kind)}
	}
}

func (m *Monitor) watch(target proximity.Target) error {
	owner, ok := m.sessions.CurrentOwner()
	if !ok {
		return ErrNotAuthenticated
	}
	if err := proximity.ValidateTarget(&target); err != nil {
		return err
	}
	if target.Owner != owner {
		m.logger.Warn("rejected watch target for another owner", zap.String("watch_id", target.ID))
		return ErrOwnerMismatch
	}
	if !m.registry.Register(target, owner) {
		return fmt.Errorf("%w: rejected by registry", proximity.ErrMalformedTarget)
	}
	delete(m.warned, target.ID)
	m.logger.Debug("watch target registered", zap.String("watch_id", target.ID), zap.Int("targets", m.registry.Len()))
	m.subscribe()
	return nil
}

func (m *Monitor) unwatch(id string) {
	if m.registry.Unregister(id) {
		m.logger.Debug("watch target removed", zap.String("watch_id", id))
	}
	delete(m.warned, id)
	if m.registry.IsEmpty() {
		m.unsubscribe()
	}
}

func (m *Monitor) stopAll(reason string) {
	if !m.registry.IsEmpty() || m.subscription != nil {
		m.logger.Info("location monitor cleared", zap.String("reason", reason), zap.Int("targets", m.registry.Len()))
	}
	m.registry.UnregisterAll()
	clear(m.warned)
	m.unsubscribe()
}

func (m *Monitor) permissionChanged(granted bool) {
	if !granted {
		m.unsubscribe()
		return
	}
	if m.registry.IsEmpty() {
		return
	}
	if _, ok := m.sessions.CurrentOwner(); !ok {
		m.stopAll("signed_out")
		return
	}
	m.subscribe()
}

func (m *Monitor) handleSessionEvent(event auth.SessionEvent) {
	owner, ok := m.sessions.CurrentOwner()
	if !ok {
		m.stopAll("signed_out")
		return
	}
	if removed := m.registry.RetainOwner(owner); removed > 0 {
		m.logger.Info("dropped targets from previous session", zap.Int("removed", removed), zap.Bool("signed_in", event.SignedIn))
	}
	if m.registry.IsEmpty() {
		m.unsubscribe()
	}
}

func (m *Monitor) handlePosition(ctx context.Context, message positionMessage) {
	if m.subscription == nil || message.generation != m.generation {
		return
	}
	owner, ok := m.sessions.CurrentOwner()
	if !ok {
		m.stopAll("session_lost")
		return
	}
	position := proximity.Position{Latitude: message.fix.Latitude, Longitude: message.fix.Longitude}
	if err := proximity.ValidatePosition(position); err != nil {
		m.logger.Warn("ignoring malformed position", zap.Error(err))
		return
	}
	fix := message.fix
	m.lastFix = &fix

	m.registry.ForEach(func(id string, target *proximity.Target) {
		if target.Owner == "" || target.Owner != owner {
			m.warnOnce(id, "watch target owner does not match session")
			return
		}
		decision := m.engine.Evaluate(position, target)
		if decision.Malformed != nil {
			m.warnOnce(id, "watch target has malformed data", zap.Error(decision.Malformed))
			return
		}
		switch decision.Event {
		case proximity.EventEnter:
			m.emit(ctx, *target, decision.DistanceMeters, fix.Timestamp)
		case proximity.EventExit:
			m.logger.Debug("left watch area", zap.String("watch_id", id), zap.Float64("distance_m", decision.DistanceMeters))
		}
	})
}

// drainFixes handles fixes already queued so commands observe every delivered position.
func (m *Monitor) drainFixes(ctx context.Context) {
	for {
		select {
		case message := <-m.fixes:
			m.handlePosition(ctx, message)
		default:
			return
		}
	}
}

func (m *Monitor) emit(ctx context.Context, target proximity.Target, distance float64, enteredAt time.Time) {
	if enteredAt.IsZero() {
		enteredAt = m.clock()
	}
	alert := notify.Alert{
		DedupeKey:      DedupeKey(target.Owner, target.ID, enteredAt),
		Owner:          target.Owner,
		WatchID:        target.ID,
		Title:          alertTitle,
		Body:           fmt.Sprintf("You're near: %s (%dm away)", target.Title, int(math.Round(distance))),
		DistanceMeters: distance,
		Timestamp:      m.clock().UTC(),
	}
	m.emitGroup.Add(1)
	go func() {
		defer m.emitGroup.Done()
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		if err := m.emitter.Notify(emitCtx, alert); err != nil {
			m.logger.Warn("alert delivery failed", zap.String("watch_id", alert.WatchID), zap.Error(err))
		}
	}()
}

func (m *Monitor) subscribe() {
	if m.subscription != nil {
		return
	}
	generation := m.generation + 1
	released := make(chan struct{})
	subscription, err := m.provider.Subscribe(m.options, func(fix location.Fix) {
		select {
		case m.fixes <- positionMessage{generation: generation, fix: fix}:
		case <-released:
		case <-m.done:
		}
	})
	if err != nil {
		if location.IsUnavailable(err) {
			m.logger.Debug("location unavailable, staying idle", zap.Error(err))
		} else {
			m.logger.Warn("location subscription failed", zap.Error(err))
		}
		return
	}
	m.generation = generation
	m.subscription = subscription
	m.subscriptionDone = released
	m.state = StateWatching
	m.logger.Info("location subscription started", zap.Int64("subscription_id", subscription.ID()))
}

func (m *Monitor) unsubscribe() {
	m.state = StateIdle
	if m.subscription == nil {
		return
	}
	close(m.subscriptionDone)
	m.provider.Unsubscribe(m.subscription)
	m.logger.Info("location subscription stopped", zap.Int64("subscription_id", m.subscription.ID()))
	m.subscription = nil
	m.subscriptionDone = nil
}

func (m *Monitor) snapshot() Status {
	status := Status{
		State:      m.state,
		Subscribed: m.subscription != nil,
		TargetIDs:  make([]string, 0, m.registry.Len()),
	}
	if owner, ok := m.sessions.CurrentOwner(); ok {
		status.Owner = owner
	}
	m.registry.ForEach(func(id string, _ *proximity.Target) {
		status.TargetIDs = append(status.TargetIDs, id)
	})
	sort.Strings(status.TargetIDs)
	if m.lastFix != nil {
		fix := *m.lastFix
		status.LastFix = &fix
	}
	return status
}

func (m *Monitor) warnOnce(id, message string, fields ...zap.Field) {
	if _, seen := m.warned[id]; seen {
		return
	}
	m.warned[id] = struct{}{}
	m.logger.Warn(message, append([]zap.Field{zap.String("watch_id", id)}, fields...)...)
}

// DedupeKey identifies one arrival at a watch. A later arrival after leaving gets a new key,
// so only redelivery of the same Enter is suppressed.
func DedupeKey(owner, watchID string, enteredAt time.Time) string {
	return "watch:" + owner + ":" + watchID + ":" + strconv.FormatInt(enteredAt.UnixNano(), 10)
}
