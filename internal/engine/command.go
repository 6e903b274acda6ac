// Package engine contains the media-source engine: the playlist manager
// that owns the active segment sequence, the command channel that carries
// runtime control messages, and the paced send loop that drives frame
// emission.
package engine

import (
	"log/slog"
	"time"
)

// CommandType discriminates runtime control messages.
type CommandType int

// Supported commands.
const (
	CommandSwitchVideo CommandType = iota
	CommandExit
)

// Command is one runtime control message. Source is set for
// CommandSwitchVideo.
type Command struct {
	Type   CommandType
	Source string
}

// Queue is a bounded FIFO decoupling the blocking command reader from the
// send loop. Push never blocks: when the queue is full the command is
// dropped with a warning, which keeps a wedged send loop from ever
// backpressuring stdin.
type Queue struct {
	ch  chan Command
	log *slog.Logger
}

// NewQueue creates a Queue holding up to capacity commands. If log is nil,
// slog.Default() is used.
func NewQueue(capacity int, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		ch:  make(chan Command, capacity),
		log: log.With("component", "commands"),
	}
}

// Push appends a command, waking one waiter.
func (q *Queue) Push(cmd Command) {
	select {
	case q.ch <- cmd:
	default:
		q.log.Warn("command queue full, dropping command", "type", cmd.Type, "source", cmd.Source)
	}
}

// Pop waits up to timeout for a command. The second return is false when
// the timeout elapsed with the queue empty.
func (q *Queue) Pop(timeout time.Duration) (Command, bool) {
	select {
	case cmd := <-q.ch:
		return cmd, true
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case cmd := <-q.ch:
		return cmd, true
	case <-t.C:
		return Command{}, false
	}
}
