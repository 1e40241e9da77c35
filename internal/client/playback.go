package client

import (
	"log/slog"
	"sync"

	"github.com/flowyoga/coach-backend/internal/audio"
)

// Output plays one float32 sample buffer at a time and invokes done when
// the buffer has finished audibly playing. Implementations that start
// suspended stay silent until Resume.
type Output interface {
	Play(samples []float32, done func()) error
	Resume() error
	Close() error
}

// PlaybackQueue turns the stream of PCM chunks from the relay into gapless
// ordered playback. Chunks are never dropped and never overlap: the next
// chunk starts only after the output reports the previous one done.
type PlaybackQueue struct {
	out        Output
	outputRate int
	log        *slog.Logger

	mu      sync.Mutex
	queue   [][]byte
	playing bool
	closed  bool
	resumed bool
}

// NewPlaybackQueue wires the queue to an output running at outputRate Hz.
// Pass 0 when the output matches the 24 kHz wire rate; any other rate gets
// resampled per chunk.
func NewPlaybackQueue(out Output, outputRate int, log *slog.Logger) *PlaybackQueue {
	if outputRate <= 0 {
		outputRate = audio.CoachSampleRate
	}
	if log == nil {
		log = slog.Default()
	}
	return &PlaybackQueue{
		out:        out,
		outputRate: outputRate,
		log:        log.With("component", "playback"),
	}
}

// ResumeOnce unblocks a suspended output. Only the first call reaches the
// output; wire it to the first user gesture.
func (q *PlaybackQueue) ResumeOnce() {
	q.mu.Lock()
	if q.resumed || q.closed {
		q.mu.Unlock()
		return
	}
	q.resumed = true
	q.mu.Unlock()

	if err := q.out.Resume(); err != nil {
		q.log.Warn("output resume failed", "error", err)
	}
}

// Enqueue appends a PCM chunk and starts the pump if it is idle. Safe to
// call from the transport's read goroutine.
func (q *PlaybackQueue) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, pcm)
	start := !q.playing
	if start {
		q.playing = true
	}
	q.mu.Unlock()

	if start {
		q.playNext()
	}
}

// playNext pops the head chunk and hands it to the output. The output's
// completion callback drives the pump forward, so exactly one chunk is in
// flight at any moment.
func (q *PlaybackQueue) playNext() {
	q.mu.Lock()
	if q.closed || len(q.queue) == 0 {
		q.playing = false
		q.mu.Unlock()
		return
	}
	pcm := q.queue[0]
	q.queue = q.queue[1:]
	q.mu.Unlock()

	samples := audio.Int16ToFloat32(audio.PCMBytesToInt16(pcm))
	if q.outputRate != audio.CoachSampleRate {
		samples = audio.Resample(samples, audio.CoachSampleRate, q.outputRate)
	}
	if err := q.out.Play(samples, q.playNext); err != nil {
		q.log.Warn("chunk playback failed, skipping", "error", err)
		q.playNext()
	}
}

// IsPlaying reports whether audio is in flight or queued.
func (q *PlaybackQueue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing || len(q.queue) > 0
}

// Pending reports the number of queued chunks not yet handed to the output.
func (q *PlaybackQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Close drops the queue, stops in-flight playback, and closes the output.
// Idempotent.
func (q *PlaybackQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.queue = nil
	q.playing = false
	q.mu.Unlock()

	return q.out.Close()
}
