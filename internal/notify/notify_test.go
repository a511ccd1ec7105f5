package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	logx "feeflow/pkg/logx"
)

func TestDisabledRejects(t *testing.T) {
	t.Parallel()
	err := Disabled{}.Send(context.Background(), "anyone", "hi")
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestLogSenderAccepts(t *testing.T) {
	t.Parallel()
	s := NewLogSender(logx.Nop())
	if err := s.Send(context.Background(), "chat-1", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestLimitedPassesThrough(t *testing.T) {
	t.Parallel()
	rec := NewRecorder()
	l := NewLimited(rec, 100)
	for i := 0; i < 5; i++ {
		if err := l.Send(context.Background(), "chat", "msg"); err != nil {
			t.Fatalf("Send #%d: %v", i, err)
		}
	}
	if got := len(rec.Messages()); got != 5 {
		t.Fatalf("delivered = %d, want 5", got)
	}
}

func TestLimitedHonorsContext(t *testing.T) {
	t.Parallel()
	rec := NewRecorder()
	l := NewLimited(rec, 1) // burst 1: second send must wait ~1s

	ctx := context.Background()
	if err := l.Send(ctx, "chat", "first"); err != nil {
		t.Fatalf("first Send: %v", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Send(shortCtx, "chat", "second"); err == nil {
		t.Fatal("second Send succeeded despite exhausted bucket")
	}
	if got := len(rec.Messages()); got != 1 {
		t.Fatalf("delivered = %d, want 1", got)
	}
}

func TestRecorderFailureInjection(t *testing.T) {
	t.Parallel()
	rec := NewRecorder()
	rec.FailFor["bad"] = errors.New("boom")

	if err := rec.Send(context.Background(), "bad", "x"); err == nil {
		t.Fatal("expected injected failure")
	}
	if err := rec.Send(context.Background(), "good", "y"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msgs := rec.Messages()
	if len(msgs) != 1 || msgs[0].Recipient != "good" {
		t.Fatalf("messages = %+v", msgs)
	}
}
