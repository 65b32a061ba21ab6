package stream

import (
	"context"
	"iter"
	"math"
	"sync"
	"sync/atomic"

	"github.com/tuannm99/novaexec/internal/errs"
	"github.com/tuannm99/novaexec/internal/executor"
	"github.com/tuannm99/novaexec/rowmap"
)

// Subscription is the subscriber's handle on a running publisher.
type Subscription interface {
	// Request signals capacity for n more items. Each unit pulls exactly one
	// row. Rows are produced on the calling goroutine.
	Request(n int64)
	// Cancel stops further pulls and releases the resources. A read already in
	// flight on another goroutine is not interrupted; release follows it. A
	// non-positive Request terminates the same way, then signals OnError.
	Cancel()
}

// Subscriber receives OnSubscribe first, then OnNext at most as often as it
// requested, then at most one of OnError or OnComplete.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(v T)
	OnError(err error)
	OnComplete()
}

// Opener executes the query behind a publisher.
type Opener func(ctx context.Context) (*executor.Cursor, error)

// Publisher is a cold, single-subscription push sequence. The query runs when
// the subscriber arrives; a second Subscribe gets ErrAlreadySubscribed.
type Publisher[T any] struct {
	open       Opener
	mapper     rowmap.RowMapper[T]
	subscribed atomic.Bool
}

func NewPublisher[T any](open Opener, mapper rowmap.RowMapper[T]) *Publisher[T] {
	return &Publisher[T]{open: open, mapper: mapper}
}

// Subscribe executes the query and attaches s. Execution errors are delivered
// through s.OnError after OnSubscribe.
func (p *Publisher[T]) Subscribe(ctx context.Context, s Subscriber[T]) {
	if !p.subscribed.CompareAndSwap(false, true) {
		s.OnSubscribe(noopSubscription{})
		s.OnError(errs.ErrAlreadySubscribed)
		return
	}

	cur, err := p.open(ctx)
	if err != nil {
		s.OnSubscribe(noopSubscription{})
		s.OnError(err)
		return
	}

	s.OnSubscribe(&subscription[T]{ctx: ctx, cur: cur, mapper: p.mapper, sub: s})
}

type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}

type subscription[T any] struct {
	ctx    context.Context
	cur    *executor.Cursor
	mapper rowmap.RowMapper[T]
	sub    Subscriber[T]

	mu       sync.Mutex
	demand   int64
	emitting bool
	done     bool
}

func (s *subscription[T]) Request(n int64) {
	if n <= 0 {
		s.mu.Lock()
		if s.done {
			s.mu.Unlock()
			return
		}
		s.done = true
		emitting := s.emitting
		s.mu.Unlock()

		if !emitting {
			s.cur.Release()
		}
		s.sub.OnError(errs.Config("demand", "%d is not positive", n))
		return
	}

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	if s.demand > math.MaxInt64-n {
		s.demand = math.MaxInt64
	} else {
		s.demand += n
	}
	// A Request from inside OnNext only adds demand; the running loop below
	// picks it up, so emission never recurses.
	if s.emitting {
		s.mu.Unlock()
		return
	}
	s.emitting = true
	s.mu.Unlock()

	s.drain()
}

func (s *subscription[T]) drain() {
	for {
		s.mu.Lock()
		if s.done || s.demand == 0 {
			cancelled := s.done
			s.emitting = false
			s.mu.Unlock()
			if cancelled {
				s.cur.Release()
			}
			return
		}
		s.demand--
		s.mu.Unlock()

		if err := s.ctx.Err(); err != nil {
			s.terminate(err)
			return
		}

		v, ok, err := pull(s.cur, s.mapper)
		if !ok {
			s.terminate(err)
			return
		}

		s.mu.Lock()
		cancelled := s.done
		s.mu.Unlock()
		if cancelled {
			continue
		}
		s.sub.OnNext(v)
	}
}

// terminate releases and signals completion (err == nil) or failure, unless
// the subscription was cancelled meanwhile.
func (s *subscription[T]) terminate(err error) {
	signal := s.markDone()
	s.cur.Release()
	if !signal {
		return
	}
	if err != nil {
		s.sub.OnError(err)
		return
	}
	s.sub.OnComplete()
}

func (s *subscription[T]) Cancel() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	emitting := s.emitting
	s.mu.Unlock()

	// While a pull is running the drain loop releases once it returns.
	if !emitting {
		s.cur.Release()
	}
}

func (s *subscription[T]) markDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	return true
}

// Funcs adapts plain functions to a Subscriber. Nil fields are ignored.
type Funcs[T any] struct {
	Subscribe func(Subscription)
	Next      func(T)
	Error     func(error)
	Complete  func()
}

func (f Funcs[T]) OnSubscribe(s Subscription) {
	if f.Subscribe != nil {
		f.Subscribe(s)
	}
}

func (f Funcs[T]) OnNext(v T) {
	if f.Next != nil {
		f.Next(v)
	}
}

func (f Funcs[T]) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f Funcs[T]) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

// Seq subscribes to p and exposes it as a range-over-func sequence that
// requests one row per step. Breaking out of the loop cancels the
// subscription; a terminal error is yielded last with a zero value.
func Seq[T any](ctx context.Context, p *Publisher[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var (
			sub     Subscription
			item    T
			hasItem bool
			done    bool
			failure error
		)
		p.Subscribe(ctx, Funcs[T]{
			Subscribe: func(s Subscription) { sub = s },
			Next:      func(v T) { item, hasItem = v, true },
			Error:     func(err error) { failure, done = err, true },
			Complete:  func() { done = true },
		})

		for !done {
			hasItem = false
			sub.Request(1)
			if !hasItem {
				continue
			}
			if !yield(item, nil) {
				sub.Cancel()
				return
			}
		}
		if failure != nil {
			var zero T
			yield(zero, failure)
		}
	}
}
