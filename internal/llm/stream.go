package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bull/course-tutor/internal/retry"
)

// errStreamIdle reports that the model sent nothing for a whole attempt timeout.
var errStreamIdle = errors.New("no data from the model within the attempt timeout")

// eventStream is the iterator shape shared by the SDK server-sent-event streams.
type eventStream[T any] interface {
	Next() bool
	Current() T
	Err() error
	Close() error
}

// openStream starts a stream under the retry policy. An attempt succeeds once
// the first text fragment arrives; failures before that point are retried.
// After that, the policy's attempt timeout bounds the gap between events.
func openStream[T any](
	ctx context.Context,
	policy retry.Policy,
	retryable func(error) bool,
	logger *slog.Logger,
	open func(ctx context.Context) eventStream[T],
	extract func(T) string,
) (Stream, error) {
	idle := policy.AttemptTimeout
	policy.AttemptTimeout = 0 // enforced by the stream's idle deadline

	var stream *fragmentStream[T]
	err := retry.Do(ctx, policy, retryable, func(context.Context) error {
		s := startFragmentStream(ctx, idle, open, extract)
		if err := s.prime(); err != nil {
			s.Close()
			logger.Warn("stream start failed", "error", err)
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: start stream: %w", ErrGateway, err)
	}
	return stream, nil
}

// fragmentStream adapts an SDK event stream to Stream, skipping events
// that carry no text.
type fragmentStream[T any] struct {
	events  eventStream[T]
	extract func(T) string
	current string
	primed  bool // current holds a fragment Next has not returned yet

	idle    time.Duration
	timer   *time.Timer
	expired atomic.Bool
	cancel  context.CancelFunc
}

func startFragmentStream[T any](ctx context.Context, idle time.Duration, open func(context.Context) eventStream[T], extract func(T) string) *fragmentStream[T] {
	streamCtx, cancel := context.WithCancel(ctx)
	s := &fragmentStream[T]{extract: extract, idle: idle, cancel: cancel}
	if idle > 0 {
		s.timer = time.AfterFunc(idle, func() {
			s.expired.Store(true)
			cancel()
		})
	}
	s.events = open(streamCtx)
	return s
}

// prime reads up to the first fragment. An empty stream is not an error.
func (s *fragmentStream[T]) prime() error {
	if s.advance() {
		s.primed = true
		return nil
	}
	return s.cause()
}

// advance reads to the next text fragment. The idle deadline only runs while
// it waits on the model, so a slow reader never trips it.
func (s *fragmentStream[T]) advance() bool {
	s.arm()
	defer s.disarm()
	for s.events.Next() {
		s.arm()
		if fragment := s.extract(s.events.Current()); fragment != "" {
			s.current = fragment
			return true
		}
	}
	s.current = ""
	return false
}

func (s *fragmentStream[T]) arm() {
	if s.timer != nil {
		s.timer.Reset(s.idle)
	}
}

func (s *fragmentStream[T]) disarm() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *fragmentStream[T]) Next() bool {
	if s.primed {
		s.primed = false
		return true
	}
	return s.advance()
}

func (s *fragmentStream[T]) Fragment() string { return s.current }

func (s *fragmentStream[T]) cause() error {
	if s.expired.Load() {
		return errStreamIdle
	}
	return s.events.Err()
}

func (s *fragmentStream[T]) Err() error {
	if err := s.cause(); err != nil {
		return fmt.Errorf("%w: stream: %w", ErrGateway, err)
	}
	return nil
}

func (s *fragmentStream[T]) Close() error {
	s.disarm()
	s.cancel()
	return s.events.Close()
}
