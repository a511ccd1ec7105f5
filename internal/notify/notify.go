package notify

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	logx "feeflow/pkg/logx"
)

// ErrDisabled is returned by the disabled sender.
var ErrDisabled = errors.New("notifications disabled")

// Sender delivers a message to a recipient handle. Implementations must
// be safe for concurrent use; reminder batch workers share one sender.
type Sender interface {
	Send(ctx context.Context, recipient, message string) error
}

// Disabled is a Sender that rejects everything. Used when notifications
// are switched off but reminder jobs are still configured.
type Disabled struct{}

func (Disabled) Send(context.Context, string, string) error { return ErrDisabled }

// LogSender writes messages to the log instead of delivering them.
// The default channel for local runs.
type LogSender struct {
	log logx.Logger
}

func NewLogSender(log logx.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, recipient, message string) error {
	s.log.Info("notification",
		logx.String("recipient", recipient),
		logx.String("message", message))
	return nil
}

// Limited wraps a Sender with a token-bucket rate limit so batch runs
// cannot flood the downstream channel. Send blocks until a token is
// available or ctx is done.
type Limited struct {
	next    Sender
	limiter *rate.Limiter
}

func NewLimited(next Sender, perSec float64) *Limited {
	if perSec <= 0 {
		perSec = 5
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
	}
}

func (l *Limited) Send(ctx context.Context, recipient, message string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.next.Send(ctx, recipient, message)
}

// Recorder captures sent messages for tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent

	// FailFor makes Send return an error for the listed recipients.
	FailFor map[string]error
}

type Sent struct {
	Recipient string
	Message   string
}

func NewRecorder() *Recorder {
	return &Recorder{FailFor: map[string]error{}}
}

func (r *Recorder) Send(_ context.Context, recipient, message string) error {
	if err, ok := r.FailFor[recipient]; ok {
		return err
	}
	r.mu.Lock()
	r.sent = append(r.sent, Sent{Recipient: recipient, Message: message})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Messages() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}
