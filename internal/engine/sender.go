package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/tsfeed/internal/media"
	"github.com/zsiec/tsfeed/internal/metrics"
)

// Send-loop states. The loop oscillates between sending and switch-pending;
// exit is a return, not a state.
type senderState int

const (
	stateSending senderState = iota
	stateSwitchPending
)

const (
	// commandPollTimeout bounds how long one loop iteration waits for a
	// command before getting back to frame delivery.
	commandPollTimeout = time.Millisecond

	// idleSleep is how long the loop sleeps when the source produced no
	// access unit this tick.
	idleSleep = 10 * time.Millisecond
)

type preloadResult struct {
	request string
	source  string
	err     error
}

// Sender is the engine's send loop: a state machine that pulls access units
// from the Manager at the configured frame cadence, hands them to the frame
// sink, and services runtime commands. It is the only caller of
// Manager.NextAccessUnit and Manager.SwitchToNew.
type Sender struct {
	log      *slog.Logger
	mgr      *Manager
	queue    *Queue
	sink     media.FrameSink
	stats    *metrics.Metrics
	fps      int
	interval time.Duration

	framesSent atomic.Int64
	switching  atomic.Bool
}

// NewSender creates a Sender emitting fps frames per second into sink. If
// log is nil, slog.Default() is used.
func NewSender(mgr *Manager, queue *Queue, sink media.FrameSink, fps int, log *slog.Logger, stats *metrics.Metrics) *Sender {
	if log == nil {
		log = slog.Default()
	}
	if fps <= 0 {
		fps = 30
	}
	return &Sender{
		log:      log.With("component", "sender"),
		mgr:      mgr,
		queue:    queue,
		sink:     sink,
		stats:    stats,
		fps:      fps,
		interval: time.Second / time.Duration(fps),
	}
}

// FramesSent returns the number of access units delivered so far.
func (s *Sender) FramesSent() int64 {
	return s.framesSent.Load()
}

// State reports whether the loop is in steady sending or waiting on a
// preload, for status reporting.
func (s *Sender) State() string {
	if s.switching.Load() {
		return "switch_pending"
	}
	return "sending"
}

// Run drives the send loop until an Exit command arrives, the context is
// cancelled, or the sink fails. Preload goroutines spawned for switch
// commands are joined before Run returns.
func (s *Sender) Run(ctx context.Context) error {
	preloadCtx, cancelPreloads := context.WithCancel(ctx)
	defer cancelPreloads()

	var wg sync.WaitGroup
	defer wg.Wait()

	results := make(chan preloadResult, 8)

	state := stateSending
	inflight := 0
	next := time.Now()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if cmd, ok := s.queue.Pop(commandPollTimeout); ok {
			switch cmd.Type {
			case CommandExit:
				s.log.Info("received exit command")
				return nil

			case CommandSwitchVideo:
				request := uuid.NewString()
				s.log.Info("starting preload for switch", "source", cmd.Source, "request", request)
				wg.Add(1)
				go func(source, request string) {
					defer wg.Done()
					err := s.mgr.Preload(preloadCtx, source)
					select {
					case results <- preloadResult{request: request, source: source, err: err}:
					case <-preloadCtx.Done():
					}
				}(cmd.Source, request)
				inflight++
				state = stateSwitchPending
				s.switching.Store(true)
			}
		}

	drain:
		for {
			select {
			case res := <-results:
				inflight--
				if res.err != nil {
					s.log.Warn("preload failed, keeping current source",
						"source", res.source, "request", res.request, "error", res.err)
					s.stats.PreloadFailed()
					// A newer switch may still be resolving; give up only
					// once no preload remains in flight.
					if inflight == 0 {
						state = stateSending
						s.switching.Store(false)
					}
				}
			default:
				break drain
			}
		}

		if state == stateSwitchPending {
			applied, consumed := s.mgr.SwitchToNew()
			if (applied || consumed) && inflight == 0 {
				state = stateSending
				s.switching.Store(false)
			}
		}

		frame := s.mgr.NextAccessUnit()
		if frame == nil {
			sleepCtx(ctx, idleSleep)
			next = time.Now()
			continue
		}

		if err := s.sink.Send(frame, s.fps); err != nil {
			return fmt.Errorf("sender: deliver frame: %w", err)
		}
		s.framesSent.Add(1)
		s.stats.FrameSent(frame.IsKeyFrame)

		// Drift-corrected pacing: advance the deadline by exactly one
		// frame interval and sleep whatever remains, so per-iteration
		// overhead never accumulates. Resync only after falling a full
		// interval behind.
		next = next.Add(s.interval)
		if d := time.Until(next); d > 0 {
			sleepCtx(ctx, d)
		} else if d < -s.interval {
			next = time.Now()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
