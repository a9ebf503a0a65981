package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequence returns an Op yielding errs in order, then success
func sequence(errs ...error) (Op[int], *int) {
	n := 0
	return func(ctx context.Context) (int, error) {
		i := n
		n++
		if i < len(errs) {
			return 0, errs[i]
		}
		return i, nil
	}, &n
}

func countingRecover(err error) (Recover, *int) {
	n := 0
	return func(ctx context.Context, cause error) error {
		n++
		return err
	}, &n
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	transient := Transient("op", io.EOF)
	fatal := errors.New("fatal")

	t.Run("success", func(t *testing.T) {
		op, calls := sequence()
		rec, recs := countingRecover(nil)
		_, err := Retry(ctx, op, IsTransient, rec)
		require.NoError(t, err)
		assert.Equal(t, 1, *calls)
		assert.Equal(t, 0, *recs)
	})

	t.Run("transient then success", func(t *testing.T) {
		op, calls := sequence(transient)
		rec, recs := countingRecover(nil)
		v, err := Retry(ctx, op, IsTransient, rec)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		assert.Equal(t, 2, *calls)
		assert.Equal(t, 1, *recs)
	})

	t.Run("transient twice", func(t *testing.T) {
		second := Transient("op", io.ErrUnexpectedEOF)
		op, calls := sequence(transient, second)
		rec, recs := countingRecover(nil)
		_, err := Retry(ctx, op, IsTransient, rec)
		assert.Same(t, second, err)
		assert.Equal(t, 2, *calls)
		assert.Equal(t, 1, *recs)
	})

	t.Run("fatal", func(t *testing.T) {
		op, calls := sequence(fatal)
		rec, recs := countingRecover(nil)
		_, err := Retry(ctx, op, IsTransient, rec)
		assert.Same(t, fatal, err)
		assert.Equal(t, 1, *calls)
		assert.Equal(t, 0, *recs)
	})

	t.Run("recover fails", func(t *testing.T) {
		op, calls := sequence(transient)
		recErr := errors.New("reconnect refused")
		rec, _ := countingRecover(recErr)
		_, err := Retry(ctx, op, IsTransient, rec)
		assert.Same(t, recErr, err)
		assert.Equal(t, 1, *calls)
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		op, calls := sequence(transient)
		rec, recs := countingRecover(nil)
		_, err := Retry(cctx, op, IsTransient, rec)
		assert.Same(t, transient, err)
		assert.Equal(t, 1, *calls)
		assert.Equal(t, 0, *recs)
	})
}

func stallOnce() Op[string] {
	var n atomic.Int32
	return func(ctx context.Context) (string, error) {
		if n.Add(1) == 1 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	}
}

func TestWithTimeout(t *testing.T) {
	ctx := context.Background()

	t.Run("stall then success", func(t *testing.T) {
		rec, recs := countingRecover(nil)
		v, err := WithTimeout(stallOnce(), 10*time.Millisecond, rec)(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.Equal(t, 1, *recs)
	})

	t.Run("stall twice", func(t *testing.T) {
		op := func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}
		rec, recs := countingRecover(nil)
		_, err := WithTimeout(op, 10*time.Millisecond, rec)(ctx)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 1, *recs)
	})

	t.Run("op ignores context", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		op := func(context.Context) (string, error) {
			<-release
			return "late", nil
		}
		rec, _ := countingRecover(nil)
		start := time.Now()
		_, err := WithTimeout(op, 10*time.Millisecond, rec)(ctx)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("errors pass through", func(t *testing.T) {
		fatal := errors.New("550 no such file")
		op := func(context.Context) (string, error) { return "", fatal }
		rec, recs := countingRecover(nil)
		_, err := WithTimeout(op, time.Second, rec)(ctx)
		assert.Same(t, fatal, err)
		assert.Equal(t, 0, *recs)
	})

	t.Run("disabled", func(t *testing.T) {
		op := func(ctx context.Context) (string, error) {
			_, ok := ctx.Deadline()
			return fmt.Sprint(ok), nil
		}
		rec, _ := countingRecover(nil)
		v, err := WithTimeout(op, 0, rec)(ctx)
		require.NoError(t, err)
		assert.Equal(t, "false", v)
	})

	t.Run("parent canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		op := func(ctx context.Context) (string, error) {
			cancel()
			<-ctx.Done()
			return "", ctx.Err()
		}
		rec, recs := countingRecover(nil)
		_, err := WithTimeout(op, time.Second, rec)(cctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 0, *recs)
	})

	t.Run("recover fails", func(t *testing.T) {
		recErr := errors.New("reconnect refused")
		rec, _ := countingRecover(recErr)
		_, err := WithTimeout(stallOnce(), 10*time.Millisecond, rec)(ctx)
		assert.Same(t, recErr, err)
	})
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", Transient("stor", context.Canceled), false},
		{"marked", Transient("stor", errors.New("421 service not available")), true},
		{"timeout", fmt.Errorf("%w after 10s", ErrTimeout), true},
		{"deadline", context.DeadlineExceeded, true},
		{"eof", io.EOF, true},
		{"unexpected eof", fmt.Errorf("read: %w", io.ErrUnexpectedEOF), true},
		{"closed", net.ErrClosed, true},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, true},
		{"pipe", syscall.EPIPE, true},
		{"not connected", syscall.ENOTCONN, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "ps3"}, true},
		{"not exist", fs.ErrNotExist, false},
		{"permission", fs.ErrPermission, false},
		{"plain", errors.New("550 permission denied"), false},
		{"unsupported", ErrUnsupported, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
