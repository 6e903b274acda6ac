package engine

import (
	"testing"
	"time"
)

func TestQueuePushPop(t *testing.T) {
	t.Parallel()

	q := NewQueue(4, nil)
	q.Push(Command{Type: CommandSwitchVideo, Source: "next.m3u8"})

	cmd, ok := q.Pop(time.Millisecond)
	if !ok {
		t.Fatal("Pop returned no command")
	}
	if cmd.Type != CommandSwitchVideo || cmd.Source != "next.m3u8" {
		t.Fatalf("got %+v", cmd)
	}
}

func TestQueuePopTimeout(t *testing.T) {
	t.Parallel()

	q := NewQueue(4, nil)
	start := time.Now()
	if _, ok := q.Pop(5 * time.Millisecond); ok {
		t.Fatal("Pop returned a command from an empty queue")
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("Pop returned before the timeout elapsed")
	}
}

func TestQueueOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(4, nil)
	q.Push(Command{Type: CommandSwitchVideo, Source: "first"})
	q.Push(Command{Type: CommandExit})

	cmd, _ := q.Pop(time.Millisecond)
	if cmd.Source != "first" {
		t.Fatalf("first pop = %+v", cmd)
	}
	cmd, _ = q.Pop(time.Millisecond)
	if cmd.Type != CommandExit {
		t.Fatalf("second pop = %+v", cmd)
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, nil)
	q.Push(Command{Type: CommandSwitchVideo, Source: "kept"})
	q.Push(Command{Type: CommandSwitchVideo, Source: "dropped"})

	cmd, ok := q.Pop(time.Millisecond)
	if !ok || cmd.Source != "kept" {
		t.Fatalf("got %+v, %v", cmd, ok)
	}
	if _, ok := q.Pop(time.Millisecond); ok {
		t.Fatal("overflow command was not dropped")
	}
}
