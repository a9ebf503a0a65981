package transfer

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/apex/log"
)

// Resilient decorates a FileTransport with two retry policies applied to
// every call: a timeout bound that reconnects and retries once when exceeded,
// wrapped by a reconnect-and-retry-once on transient errors.
//
// A failed reconnect leaves the transport disconnected; Connect must be called
// again before further use.
type Resilient struct {
	inner       FileTransport
	timeout     time.Duration
	classify    func(error) bool
	concurrency int
	progress    func(local string, remote Target)

	mu        sync.Mutex
	connected bool
	gen       uint64 // bumped on every successful (re)connect
}

var _ FileTransport = (*Resilient)(nil)

// ResilientOption configures a Resilient
type ResilientOption func(*Resilient)

// WithCallTimeout sets the per call bound; d <= 0 disables it.
func WithCallTimeout(d time.Duration) ResilientOption {
	return func(r *Resilient) { r.timeout = d }
}

// WithClassifier replaces IsTransient as the retry classifier
func WithClassifier(fn func(error) bool) ResilientOption {
	return func(r *Resilient) { r.classify = fn }
}

// WithConcurrency bounds parallel calls of a tree Send. The inner
// transport's own bound (SessionLimiter) applies when tighter.
func WithConcurrency(n int) ResilientOption {
	return func(r *Resilient) { r.concurrency = n }
}

// WithProgress registers fn to be called after each file Send uploads.
// fn may be called concurrently.
func WithProgress(fn func(local string, remote Target)) ResilientOption {
	return func(r *Resilient) { r.progress = fn }
}

// NewResilient wraps inner
func NewResilient(inner FileTransport, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		inner:    inner,
		timeout:  DefaultTimeout,
		classify: IsTransient,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Unwrap returns the decorated transport
func (r *Resilient) Unwrap() FileTransport { return r.inner }

// Connected reports whether a live session is held
func (r *Resilient) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *Resilient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.inner.Connect(ctx); err != nil {
		r.connected = false
		return err
	}
	r.connected = true
	r.gen++
	return nil
}

func (r *Resilient) Disconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = false
	return r.inner.Disconnect(ctx)
}

// recoverer returns the Recover used by one call. Calls that fan out share
// the session, so a call that sees the session already rebuilt since its last
// look only retries instead of tearing the new session down again.
func (r *Resilient) recoverer(gen uint64) Recover {
	return func(ctx context.Context, cause error) error {
		r.mu.Lock()
		defer r.mu.Unlock()

		if !r.connected {
			return fmt.Errorf("%w: session lost: %v", ErrNotConnected, cause)
		}
		if r.gen != gen {
			gen = r.gen
			return nil
		}

		log.WithError(cause).Warn("transfer: reconnecting")
		if err := r.inner.Disconnect(ctx); err != nil {
			log.WithError(err).Debug("transfer: disconnect before reconnect failed")
		}
		if err := r.inner.Connect(ctx); err != nil {
			r.connected = false
			return fmt.Errorf("failed to reconnect after %v: %w", cause, err)
		}
		r.gen++
		gen = r.gen
		return nil
	}
}

func call[T any](ctx context.Context, r *Resilient, name string, op Op[T]) (T, error) {
	r.mu.Lock()
	connected, gen := r.connected, r.gen
	r.mu.Unlock()

	if !connected {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotConnected, name)
	}

	rec := r.recoverer(gen)
	return Retry(ctx, WithTimeout(op, r.timeout, rec), r.classify, rec)
}

func callErr(ctx context.Context, r *Resilient, name string, op func(ctx context.Context) error) error {
	_, err := call(ctx, r, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Send uploads local to remote. Trees are walked here so that each directory
// creation and each file upload is retried on its own.
func (r *Resilient) Send(ctx context.Context, local string, remote Target) error {
	if !r.Connected() {
		return fmt.Errorf("%w: send", ErrNotConnected)
	}
	return SendTree(ctx, local, remote, TreeOps{
		Mkdir: r.Mkdir,
		SendFile: func(ctx context.Context, local string, remote Target) error {
			err := callErr(ctx, r, "send", func(ctx context.Context) error {
				if sender, ok := r.inner.(FileSender); ok {
					return sender.SendFile(ctx, local, remote)
				}
				return r.inner.Send(ctx, local, remote)
			})
			if err == nil && r.progress != nil {
				r.progress(local, remote)
			}
			return err
		},
	}, EffectiveLimit(r.concurrency, r.inner))
}

func (r *Resilient) Get(ctx context.Context, remote Target, local string) error {
	return callErr(ctx, r, "get", func(ctx context.Context) error {
		return r.inner.Get(ctx, remote, local)
	})
}

func (r *Resilient) GetBytes(ctx context.Context, remote Target) ([]byte, error) {
	return call(ctx, r, "get bytes", func(ctx context.Context) ([]byte, error) {
		return r.inner.GetBytes(ctx, remote)
	})
}

func (r *Resilient) Delete(ctx context.Context, remote Target) error {
	return callErr(ctx, r, "delete", func(ctx context.Context) error {
		return r.inner.Delete(ctx, remote)
	})
}

func (r *Resilient) Stat(ctx context.Context, remote Target) (fs.FileInfo, error) {
	return call(ctx, r, "stat", func(ctx context.Context) (fs.FileInfo, error) {
		return r.inner.Stat(ctx, remote)
	})
}

func (r *Resilient) Exists(ctx context.Context, remote Target) (bool, error) {
	return call(ctx, r, "exists", func(ctx context.Context) (bool, error) {
		return r.inner.Exists(ctx, remote)
	})
}

func (r *Resilient) Mkdir(ctx context.Context, remote Target) error {
	return callErr(ctx, r, "mkdir", func(ctx context.Context) error {
		return r.inner.Mkdir(ctx, remote)
	})
}
