package httpapi

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/clerk/internal/config"
	"github.com/ent0n29/clerk/internal/protocol"
)

type failingWriter struct {
	writes int
	closed bool
}

func (w *failingWriter) SetWriteDeadline(time.Time) error { return nil }

func (w *failingWriter) WriteJSON(any) error {
	w.writes++
	return errors.New("broken pipe")
}

func (w *failingWriter) Close() error {
	w.closed = true
	return nil
}

func TestWriteLoopClosesConnectionOnWriteError(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	srv := New(config.Config{}, Dependencies{Logger: log})

	outbound := make(chan any, 3)
	for i := 0; i < 3; i++ {
		outbound <- protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "pong"}
	}
	close(outbound)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := &failingWriter{}
	srv.writeLoop(conn, outbound, cancel, log)

	if !conn.closed {
		t.Fatalf("connection not closed after a failed write")
	}
	if conn.writes != 1 {
		t.Fatalf("writes = %d, want 1", conn.writes)
	}
	if ctx.Err() == nil {
		t.Fatalf("connection context not canceled after a failed write")
	}
	if len(outbound) != 0 {
		t.Fatalf("outbound still holds %d messages, want drained", len(outbound))
	}
}
