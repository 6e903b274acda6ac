package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const switchPrefix = "SWITCH_VIDEO:"

// ReadCommands parses newline-terminated control commands from r and pushes
// them onto q until r is exhausted, an EXIT command arrives, or ctx is
// cancelled between lines. Unrecognized lines are logged and ignored.
//
// r is typically the process's stdin, written by the supervisor; the read
// itself blocks, so cancellation takes effect at the next line boundary.
func ReadCommands(ctx context.Context, r io.Reader, q *Queue, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "commands")

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			continue
		}

		switch {
		case line == "EXIT":
			q.Push(Command{Type: CommandExit})
			return nil
		case strings.HasPrefix(line, switchPrefix):
			source := line[len(switchPrefix):]
			if source == "" {
				log.Warn("ignoring switch command with empty source")
				continue
			}
			log.Info("received switch command", "source", source)
			q.Push(Command{Type: CommandSwitchVideo, Source: source})
		default:
			log.Warn("ignoring unknown command", "line", line)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("command reader: %w", err)
	}
	return nil
}
