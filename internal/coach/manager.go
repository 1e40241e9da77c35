package coach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultPoseInterval is how often a scripted pose turn is sent.
	DefaultPoseInterval = 60 * time.Second

	// DefaultSessionCeiling sits just under the provider's per-session
	// duration limit. A frame pushed past the ceiling forces a full session
	// restart before it is forwarded.
	DefaultSessionCeiling = 110 * time.Second

	// maxPendingFrames bounds frames accepted before the session is active.
	maxPendingFrames = 8
)

var (
	ErrClosed         = errors.New("coach: manager closed")
	ErrAlreadyStarted = errors.New("coach: manager already started")
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateStarting      State = "starting"
	StateActive        State = "active"
	StateRestarting    State = "restarting"
	StateClosed        State = "closed"
)

// PCMSink accepts the next audio chunk decoded from the upstream session.
type PCMSink interface {
	WritePCM(data []byte) error
}

// LiveSession is one upstream streaming session with the coach provider.
type LiveSession interface {
	SendVideoFrame(jpeg []byte) error
	SendTextTurn(text string) error
	// ReceivePCM blocks until the next audio payload arrives. It returns
	// io.EOF on normal end of stream and an error once the session closes.
	ReceivePCM() ([]byte, error)
	Close() error
}

// Dialer opens a fresh upstream session.
type Dialer interface {
	Dial(ctx context.Context) (LiveSession, error)
}

type Config struct {
	Dialer Dialer
	Sink   PCMSink

	// PoseSequence is re-read on every session start so restarts pick up
	// configuration changes. May return a comma-separated list or "".
	PoseSequence func() string

	PoseInterval   time.Duration
	SessionCeiling time.Duration
	Logger         *slog.Logger

	// OnFatal fires at most once when the upstream leg dies with a terminal
	// receive error outside of Close or a planned restart. The manager is
	// already closed when it is invoked, so callers only need to tear down
	// their own side.
	OnFatal func(error)
}

// Manager owns the lifecycle of exactly one upstream coach session,
// restarting it before the provider's duration ceiling and driving the
// scripted pose cadence.
type Manager struct {
	dialer       Dialer
	sink         PCMSink
	poseSequence func() string
	poseInterval time.Duration
	ceiling      time.Duration
	onFatal      func(error)
	log          *slog.Logger

	mu        sync.Mutex
	state     State
	session   LiveSession
	script    *Script
	poseTimer *time.Timer
	poseGen   int
	startedAt time.Time
	pending   [][]byte
	recvWg    sync.WaitGroup

	now func() time.Time
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("coach: dialer is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("coach: PCM sink is required")
	}
	if cfg.PoseSequence == nil {
		cfg.PoseSequence = func() string { return "" }
	}
	if cfg.PoseInterval <= 0 {
		cfg.PoseInterval = DefaultPoseInterval
	}
	if cfg.SessionCeiling <= 0 {
		cfg.SessionCeiling = DefaultSessionCeiling
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		dialer:       cfg.Dialer,
		sink:         cfg.Sink,
		poseSequence: cfg.PoseSequence,
		poseInterval: cfg.PoseInterval,
		ceiling:      cfg.SessionCeiling,
		onFatal:      cfg.OnFatal,
		log:          cfg.Logger.With("component", "coach-manager"),
		state:        StateUninitialized,
		now:          time.Now,
	}, nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Init dials the upstream session. It must complete before frames are
// forwarded; frames pushed earlier sit in a small bounded buffer and are
// flushed on activation.
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateClosed:
		return ErrClosed
	case StateUninitialized:
	default:
		return ErrAlreadyStarted
	}

	m.state = StateStarting
	if err := m.startSessionLocked(ctx); err != nil {
		m.state = StateClosed
		return fmt.Errorf("start upstream session: %w", err)
	}

	m.state = StateActive
	m.flushPendingLocked()
	return nil
}

// startSessionLocked dials a new session, spawns its receive loop and
// schedules the first pose turn. Caller holds the lock.
func (m *Manager) startSessionLocked(ctx context.Context) error {
	session, err := m.dialer.Dial(ctx)
	if err != nil {
		return err
	}

	m.session = session
	m.startedAt = m.now()
	m.script = ParseScript(m.poseSequence())

	m.recvWg.Add(1)
	go m.receiveLoop(session)

	m.poseGen++
	gen := m.poseGen
	m.poseTimer = time.AfterFunc(m.poseInterval, func() { m.sendPoseTurn(gen) })
	return nil
}

func (m *Manager) flushPendingLocked() {
	pending := m.pending
	m.pending = nil
	session := m.session

	for _, frame := range pending {
		if err := session.SendVideoFrame(frame); err != nil {
			m.log.Warn("failed to forward buffered frame", "error", err)
		}
	}
}

// receiveLoop forwards every inbound audio payload to the sink until the
// session ends. One loop runs per upstream session.
func (m *Manager) receiveLoop(session LiveSession) {
	defer m.recvWg.Done()

	for {
		data, err := session.ReceivePCM()
		if err != nil {
			if errors.Is(err, io.EOF) || m.sessionReplaced(session) {
				return
			}
			m.log.Error("upstream receive failed", "error", err)
			m.fatal(err)
			return
		}

		if err := m.sink.WritePCM(data); err != nil {
			m.log.Warn("failed to deliver audio chunk", "error", err)
		}
	}
}

// sessionReplaced reports whether the given session is no longer current,
// meaning its receive loop ended because of a restart or close.
func (m *Manager) sessionReplaced(session LiveSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != session || m.state == StateClosed
}

// fatal closes the manager after an unrecoverable upstream error and reports
// it upward. It runs on the receive goroutine, so it must never wait on
// recvWg; subsequent PushFrame calls return ErrClosed and Close is a no-op.
func (m *Manager) fatal(err error) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	m.stopPoseTimerLocked()
	session := m.session
	m.session = nil
	m.pending = nil
	m.mu.Unlock()

	if session != nil {
		if closeErr := session.Close(); closeErr != nil {
			m.log.Debug("upstream close failed", "error", closeErr)
		}
	}

	if m.onFatal != nil {
		m.onFatal(err)
	}
}

// PushFrame forwards an encoded video frame to the upstream session. If the
// session has outlived the duration ceiling it is restarted first, so the
// coach never hits the provider's hard limit mid-session. Forwarding errors
// are logged, not fatal.
func (m *Manager) PushFrame(ctx context.Context, jpeg []byte) error {
	m.mu.Lock()

	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrClosed
	case StateUninitialized, StateStarting:
		if len(m.pending) >= maxPendingFrames {
			m.pending = m.pending[1:]
		}
		m.pending = append(m.pending, jpeg)
		m.mu.Unlock()
		return nil
	}

	if m.now().Sub(m.startedAt) > m.ceiling {
		if err := m.restartLocked(ctx); err != nil {
			m.mu.Unlock()
			return fmt.Errorf("restart upstream session: %w", err)
		}
	}

	session := m.session
	m.mu.Unlock()

	if err := session.SendVideoFrame(jpeg); err != nil {
		m.log.Warn("failed to forward frame", "error", err)
	}
	return nil
}

// restartLocked closes the current session and opens a new one. This is the
// planned renewal that keeps long coaching sessions alive under the
// provider's per-session time limit. Caller holds the lock.
func (m *Manager) restartLocked(ctx context.Context) error {
	m.log.Info("restarting upstream session", "elapsed", m.now().Sub(m.startedAt))
	m.state = StateRestarting

	m.stopPoseTimerLocked()
	if m.session != nil {
		old := m.session
		m.session = nil
		if err := old.Close(); err != nil {
			m.log.Debug("close of expiring session failed", "error", err)
		}
	}

	if err := m.startSessionLocked(ctx); err != nil {
		m.state = StateClosed
		return err
	}

	m.state = StateActive
	return nil
}

// sendPoseTurn fires on the pose timer: it sends a short text instruction
// naming the next scripted pose and reschedules itself. Each session start
// bumps poseGen, so a callback that raced a restart past its timer Stop sees
// a stale gen and exits without touching the new session's cadence.
func (m *Manager) sendPoseTurn(gen int) {
	m.mu.Lock()
	if m.state != StateActive || gen != m.poseGen {
		m.mu.Unlock()
		return
	}

	pose := m.script.Next()
	session := m.session
	m.poseTimer = time.AfterFunc(m.poseInterval, func() { m.sendPoseTurn(gen) })
	m.mu.Unlock()

	turn := fmt.Sprintf("Guide the student into %s now. Briefly coach alignment and breathing.", pose)
	if err := session.SendTextTurn(turn); err != nil {
		m.log.Warn("failed to send pose turn", "pose", pose, "error", err)
		return
	}
	m.log.Debug("pose turn sent", "pose", pose)
}

func (m *Manager) stopPoseTimerLocked() {
	if m.poseTimer != nil {
		m.poseTimer.Stop()
		m.poseTimer = nil
	}
}

// Close cancels the pending pose timer and closes the upstream session.
// Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosed
	m.stopPoseTimerLocked()
	session := m.session
	m.session = nil
	m.pending = nil
	m.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			m.log.Debug("upstream close failed", "error", err)
		}
	}

	m.recvWg.Wait()
	return nil
}
