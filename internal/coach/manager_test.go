package coach

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSession struct {
	mu     sync.Mutex
	frames [][]byte
	turns  []string
	closes int
	sendErr error

	audio     chan []byte
	recvErrs  chan error
	closeOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		audio:    make(chan []byte, 16),
		recvErrs: make(chan error, 1),
	}
}

func (s *fakeSession) SendVideoFrame(jpeg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, jpeg)
	return nil
}

func (s *fakeSession) SendTextTurn(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, text)
	return nil
}

func (s *fakeSession) ReceivePCM() ([]byte, error) {
	select {
	case err := <-s.recvErrs:
		return nil, err
	case data, ok := <-s.audio:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

// failReceive makes the next ReceivePCM return err instead of blocking.
func (s *fakeSession) failReceive(err error) {
	s.recvErrs <- err
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.audio) })
	return nil
}

func (s *fakeSession) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *fakeSession) turnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
}

func (d *fakeDialer) Dial(ctx context.Context) (LiveSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeSession()
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

type collectSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (s *collectSink) WritePCM(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, data)
	return nil
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, dialer *fakeDialer, sink PCMSink, opts ...func(*Config)) *Manager {
	t.Helper()
	cfg := Config{
		Dialer:       dialer,
		Sink:         sink,
		PoseInterval: time.Hour,
		Logger:       testLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	return m
}

func TestNewManager_RequiresDialerAndSink(t *testing.T) {
	if _, err := NewManager(Config{Sink: &collectSink{}}); err == nil {
		t.Error("expected error without dialer")
	}
	if _, err := NewManager(Config{Dialer: &fakeDialer{}}); err == nil {
		t.Error("expected error without sink")
	}
}

func TestManager_InitActivates(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, &collectSink{})
	defer m.Close()

	if m.State() != StateUninitialized {
		t.Errorf("expected uninitialized, got %s", m.State())
	}
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if m.State() != StateActive {
		t.Errorf("expected active, got %s", m.State())
	}
	if dialer.dialCount() != 1 {
		t.Errorf("expected 1 dial, got %d", dialer.dialCount())
	}

	if err := m.Init(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Init should return ErrAlreadyStarted, got %v", err)
	}
}

func TestManager_InitDialFailure(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("upstream down")}
	m := newTestManager(t, dialer, &collectSink{})

	if err := m.Init(context.Background()); err == nil {
		t.Fatal("expected Init to fail")
	}
	if m.State() != StateClosed {
		t.Errorf("failed init should leave manager closed, got %s", m.State())
	}
}

func TestManager_FramesBeforeInitAreQueuedBounded(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, &collectSink{})
	defer m.Close()

	for i := 0; i < maxPendingFrames+4; i++ {
		if err := m.PushFrame(context.Background(), []byte{byte(i)}); err != nil {
			t.Fatalf("PushFrame error: %v", err)
		}
	}

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	sess := dialer.session(0)
	if got := sess.frameCount(); got != maxPendingFrames {
		t.Fatalf("expected %d flushed frames, got %d", maxPendingFrames, got)
	}
	// Oldest frames beyond the bound were discarded.
	sess.mu.Lock()
	first := sess.frames[0][0]
	sess.mu.Unlock()
	if first != 4 {
		t.Errorf("expected oldest surviving frame 4, got %d", first)
	}
}

func TestManager_PushFrameForwards(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, &collectSink{})
	defer m.Close()

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}
	if err := m.PushFrame(context.Background(), []byte{0xFF}); err != nil {
		t.Fatalf("PushFrame error: %v", err)
	}
	if dialer.session(0).frameCount() != 1 {
		t.Error("frame should be forwarded to the upstream session")
	}
}

func TestManager_PushFrameSendErrorIsNonFatal(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, &collectSink{})
	defer m.Close()

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	sess := dialer.session(0)
	sess.mu.Lock()
	sess.sendErr = errors.New("send failed")
	sess.mu.Unlock()

	if err := m.PushFrame(context.Background(), []byte{1}); err != nil {
		t.Errorf("send failure should be swallowed, got %v", err)
	}
	if m.State() != StateActive {
		t.Errorf("manager should stay active, got %s", m.State())
	}
}

func TestManager_CeilingTriggersRestart(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, &collectSink{})
	defer m.Close()

	base := time.Now()
	now := base
	m.now = func() time.Time { return now }

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	now = base.Add(DefaultSessionCeiling - time.Millisecond)
	if err := m.PushFrame(context.Background(), []byte{1}); err != nil {
		t.Fatalf("PushFrame error: %v", err)
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("frame under the ceiling must not restart, dials=%d", dialer.dialCount())
	}
	if dialer.session(0).frameCount() != 1 {
		t.Error("frame under the ceiling should reach the original session")
	}

	now = base.Add(DefaultSessionCeiling + time.Millisecond)
	if err := m.PushFrame(context.Background(), []byte{2}); err != nil {
		t.Fatalf("PushFrame error: %v", err)
	}
	if dialer.dialCount() != 2 {
		t.Fatalf("frame past the ceiling must restart exactly once, dials=%d", dialer.dialCount())
	}
	if dialer.session(0).closeCount() != 1 {
		t.Errorf("old session should be closed once, got %d", dialer.session(0).closeCount())
	}
	if dialer.session(1).frameCount() != 1 {
		t.Error("frame past the ceiling should be forwarded to the fresh session")
	}

	// Restart reset the clock: the next frame goes out without another dial.
	if err := m.PushFrame(context.Background(), []byte{3}); err != nil {
		t.Fatalf("PushFrame error: %v", err)
	}
	if dialer.dialCount() != 2 {
		t.Errorf("restart should reset the ceiling, dials=%d", dialer.dialCount())
	}
}

func TestManager_PoseTurnsCycle(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, &collectSink{}, func(cfg *Config) {
		cfg.PoseInterval = 20 * time.Millisecond
		cfg.PoseSequence = func() string { return "Mountain,Warrior" }
	})
	defer m.Close()

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for dialer.session(0).turnCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	sess := dialer.session(0)
	sess.mu.Lock()
	turns := append([]string(nil), sess.turns...)
	sess.mu.Unlock()
	if len(turns) < 3 {
		t.Fatalf("expected at least 3 pose turns, got %d", len(turns))
	}

	wantOrder := []string{"Mountain", "Warrior", "Mountain"}
	for i, pose := range wantOrder {
		if !strings.Contains(turns[i], pose) {
			t.Errorf("turn %d: expected pose %s in %q", i, pose, turns[i])
		}
	}
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, &collectSink{}, func(cfg *Config) {
		cfg.PoseInterval = 20 * time.Millisecond
	})

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close should not error: %v", err)
	}

	// Allow any turn already past the state check to land before sampling.
	time.Sleep(10 * time.Millisecond)
	sess := dialer.session(0)
	turnsAtClose := sess.turnCount()
	time.Sleep(60 * time.Millisecond)
	if sess.turnCount() != turnsAtClose {
		t.Error("pose timer must not fire after Close")
	}

	if err := m.PushFrame(context.Background(), []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("PushFrame after Close should return ErrClosed, got %v", err)
	}
}

func TestManager_ReceiveLoopForwardsToSink(t *testing.T) {
	dialer := &fakeDialer{}
	sink := &collectSink{}
	m := newTestManager(t, dialer, sink)

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	sess := dialer.session(0)
	sess.audio <- []byte{1, 2}
	sess.audio <- []byte{3, 4}

	deadline := time.Now().Add(time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 2 {
		t.Fatalf("expected 2 chunks at the sink, got %d", sink.count())
	}

	sink.mu.Lock()
	ordered := sink.chunks[0][0] == 1 && sink.chunks[1][0] == 3
	sink.mu.Unlock()
	if !ordered {
		t.Error("chunks must arrive at the sink in upstream order")
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
}

func TestManager_UpstreamDeathClosesManager(t *testing.T) {
	dialer := &fakeDialer{}
	var (
		fatalMu   sync.Mutex
		fatalErrs []error
	)
	m := newTestManager(t, dialer, &collectSink{}, func(cfg *Config) {
		cfg.OnFatal = func(err error) {
			fatalMu.Lock()
			fatalErrs = append(fatalErrs, err)
			fatalMu.Unlock()
		}
	})

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	upstreamErr := errors.New("connection reset by peer")
	dialer.session(0).failReceive(upstreamErr)

	deadline := time.Now().Add(time.Second)
	for m.State() != StateClosed && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.State() != StateClosed {
		t.Fatalf("upstream death should close the manager, got %s", m.State())
	}

	if err := m.PushFrame(context.Background(), []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("PushFrame after upstream death should return ErrClosed, got %v", err)
	}
	if dialer.session(0).closeCount() != 1 {
		t.Errorf("dead session should be closed once, got %d", dialer.session(0).closeCount())
	}

	fatalMu.Lock()
	got := append([]error(nil), fatalErrs...)
	fatalMu.Unlock()
	if len(got) != 1 {
		t.Fatalf("OnFatal should fire exactly once, got %d calls", len(got))
	}
	if !errors.Is(got[0], upstreamErr) {
		t.Errorf("OnFatal should receive the upstream error, got %v", got[0])
	}

	// Close after a fatal is a no-op and must not hang on the receive loop.
	if err := m.Close(); err != nil {
		t.Fatalf("Close after upstream death: %v", err)
	}
}

func TestManager_StalePoseTimerSkippedAfterRestart(t *testing.T) {
	dialer := &fakeDialer{}
	m := newTestManager(t, dialer, &collectSink{}, func(cfg *Config) {
		cfg.PoseSequence = func() string { return "Mountain,Warrior" }
	})
	defer m.Close()

	base := time.Now()
	now := base
	m.now = func() time.Time { return now }

	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	now = base.Add(DefaultSessionCeiling + time.Millisecond)
	if err := m.PushFrame(context.Background(), []byte{1}); err != nil {
		t.Fatalf("PushFrame error: %v", err)
	}
	if dialer.dialCount() != 2 {
		t.Fatalf("expected restart, dials=%d", dialer.dialCount())
	}

	// A timer callback from the first session that slipped past Stop must
	// not touch the new session or re-arm itself.
	m.sendPoseTurn(1)
	if got := dialer.session(1).turnCount(); got != 0 {
		t.Fatalf("stale timer callback must not send a turn, got %d", got)
	}

	// The new session's own cadence still works.
	m.sendPoseTurn(2)
	if got := dialer.session(1).turnCount(); got != 1 {
		t.Errorf("current cadence should send a turn, got %d", got)
	}
}

func TestNewGeminiDialer_RequiresAPIKey(t *testing.T) {
	if _, err := NewGeminiDialer(GeminiConfig{}, testLogger()); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewGeminiDialer_Defaults(t *testing.T) {
	d, err := NewGeminiDialer(GeminiConfig{APIKey: "test-key"}, testLogger())
	if err != nil {
		t.Fatalf("NewGeminiDialer error: %v", err)
	}
	if d.cfg.Model != DefaultModel {
		t.Errorf("expected default model, got %s", d.cfg.Model)
	}
	if d.cfg.Voice != DefaultVoice {
		t.Errorf("expected default voice, got %s", d.cfg.Voice)
	}
	if d.cfg.SystemInstruction == "" {
		t.Error("expected default system instruction")
	}
}
