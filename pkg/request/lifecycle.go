package request

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
)

// Request is one issued operation. It completes exactly once.
type Request struct {
	Type Type

	token uint64
	cause error
	done  chan struct{}

	once  sync.Once
	value []byte
	err   error
}

func newRequest(t Type, token uint64) *Request {
	return &Request{Type: t, token: token, done: make(chan struct{})}
}

// complete records the result. Later calls are no-ops.
func (r *Request) complete(value []byte, err error) bool {
	completed := false
	r.once.Do(func() {
		if err == nil && r.Type == TypeErrorDisconnect {
			err = r.cause
		}
		r.value = value
		r.err = err
		close(r.done)
		completed = true
	})
	return completed
}

// Done is closed when the request completes.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (r *Request) Result() ([]byte, error) {
	select {
	case <-r.done:
		return r.value, r.err
	default:
		return nil, nil
	}
}

// Wait blocks until the request completes or ctx is done.
// Cancelling ctx does not complete the request.
func (r *Request) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Config configures a Lifecycle.
type Config struct {
	// LoggerFactory creates the lifecycle logger. Default: pion default factory.
	LoggerFactory logging.LoggerFactory

	// Scope names the logger. Default: "request"
	Scope string
}

// Lifecycle owns the single pending request of a connection.
type Lifecycle struct {
	log logging.LeveledLogger

	mu      sync.Mutex
	pending *Request
	timer   *time.Timer
	token   uint64
	closed  bool
}

// NewLifecycle creates an idle lifecycle.
func NewLifecycle(config Config) *Lifecycle {
	if config.LoggerFactory == nil {
		config.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if config.Scope == "" {
		config.Scope = "request"
	}
	return &Lifecycle{log: config.LoggerFactory.NewLogger(config.Scope)}
}

// Issue makes a new request pending. A prior incomplete request is rejected
// with ErrReplaced, or fulfilled if both are disconnects. A positive timeout
// arms a timer that rejects the request with ErrTimeout if it is still
// current when it fires.
func (l *Lifecycle) Issue(t Type, timeout time.Duration) *Request {
	return l.issue(t, timeout, nil)
}

// IssueErrorDisconnect makes a TypeErrorDisconnect request pending. When the
// link drops, the request completes with cause.
func (l *Lifecycle) IssueErrorDisconnect(cause error, timeout time.Duration) *Request {
	return l.issue(TypeErrorDisconnect, timeout, cause)
}

func (l *Lifecycle) issue(t Type, timeout time.Duration, cause error) *Request {
	l.mu.Lock()
	prior := l.pending
	l.stopTimerLocked()
	l.token++
	req := newRequest(t, l.token)
	req.cause = cause

	if l.closed {
		l.mu.Unlock()
		req.complete(nil, ErrClosed)
		return req
	}

	l.pending = req
	if timeout > 0 {
		token := req.token
		l.timer = time.AfterFunc(timeout, func() { l.expire(token) })
	}
	l.mu.Unlock()

	if prior != nil {
		if prior.Type == TypeDisconnect && t == TypeDisconnect {
			l.log.Debugf("coalescing repeated disconnect")
			prior.complete(nil, nil)
		} else if prior.complete(nil, fmt.Errorf("%w: %s by %s", ErrReplaced, prior.Type, t)) {
			l.log.Debugf("%s request replaced by %s", prior.Type, t)
		}
	}
	return req
}

func (l *Lifecycle) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// expire rejects the pending request if token is still current.
func (l *Lifecycle) expire(token uint64) {
	l.mu.Lock()
	req := l.pending
	if req == nil || req.token != token {
		l.mu.Unlock()
		return
	}
	l.pending = nil
	l.timer = nil
	l.mu.Unlock()

	l.log.Debugf("%s request timed out", req.Type)
	req.complete(nil, fmt.Errorf("%w: %s", ErrTimeout, req.Type))
}

// take removes the pending request if it has type t.
func (l *Lifecycle) take(t Type) (*Request, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return nil, ErrNoPendingRequest
	}
	if l.pending.Type != t {
		return nil, fmt.Errorf("%w: pending %s, got %s", ErrWrongType, l.pending.Type, t)
	}
	req := l.pending
	l.pending = nil
	l.stopTimerLocked()
	return req, nil
}

// Fulfill completes the pending request of type t with value.
// A mismatched type leaves the pending request untouched.
func (l *Lifecycle) Fulfill(t Type, value []byte) error {
	req, err := l.take(t)
	if err != nil {
		return err
	}
	req.complete(value, nil)
	return nil
}

// Reject completes the pending request of type t with err.
func (l *Lifecycle) Reject(t Type, err error) error {
	req, takeErr := l.take(t)
	if takeErr != nil {
		return takeErr
	}
	req.complete(nil, err)
	return nil
}

// Complete finishes req if it is still the pending request.
// It returns false when req was already superseded or completed.
func (l *Lifecycle) Complete(req *Request, value []byte, err error) bool {
	l.mu.Lock()
	if l.pending != req {
		l.mu.Unlock()
		return false
	}
	l.pending = nil
	l.stopTimerLocked()
	l.mu.Unlock()
	return req.complete(value, err)
}

// LinkLost completes a pending disconnect-type request successfully and
// rejects any other pending request with err.
func (l *Lifecycle) LinkLost(err error) {
	l.mu.Lock()
	req := l.pending
	l.pending = nil
	l.stopTimerLocked()
	l.token++
	l.mu.Unlock()

	if req == nil {
		return
	}
	if req.Type.IsDisconnect() {
		req.complete(nil, nil)
		return
	}
	req.complete(nil, err)
}

// Reset handles a radio reset: a pending plain disconnect succeeds and
// anything else fails with ErrReset.
func (l *Lifecycle) Reset() {
	l.mu.Lock()
	req := l.pending
	l.pending = nil
	l.stopTimerLocked()
	l.token++
	l.mu.Unlock()

	if req == nil {
		return
	}
	if req.Type == TypeDisconnect {
		req.complete(nil, nil)
		return
	}
	l.log.Debugf("%s request failed by radio reset", req.Type)
	req.complete(nil, fmt.Errorf("%w: %s", ErrReset, req.Type))
}

// Pending returns the type of the pending request.
func (l *Lifecycle) Pending() (Type, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending == nil {
		return TypeUnknown, false
	}
	return l.pending.Type, true
}

// Close rejects any pending request and refuses new ones.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	req := l.pending
	l.pending = nil
	l.stopTimerLocked()
	l.closed = true
	l.mu.Unlock()
	if req != nil {
		req.complete(nil, ErrClosed)
	}
}
