package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// TreeOps are the primitives SendTree drives
type TreeOps struct {
	// Mkdir creates a remote directory unless it exists.
	Mkdir func(ctx context.Context, remote Target) error
	// SendFile uploads one local file to exactly remote.
	SendFile func(ctx context.Context, local string, remote Target) error
}

// SessionLimiter is implemented by transports that serve a bounded number of
// operations at once, e.g. a single control connection.
type SessionLimiter interface {
	// MaxConcurrency returns the bound; <= 0 is unbounded.
	MaxConcurrency() int
}

// EffectiveLimit returns the tighter of limit and the bound t declares.
// A result <= 0 is unbounded.
func EffectiveLimit(limit int, t FileTransport) int {
	sl, ok := t.(SessionLimiter)
	if !ok {
		return limit
	}
	if n := sl.MaxConcurrency(); n > 0 && (limit <= 0 || n < limit) {
		return n
	}
	return limit
}

// SendTree uploads local to remote. Whether local is a directory is decided on
// the local filesystem. A lone file sent to a directory-looking remote lands
// inside it (see Target.IsDir). Entries are uploaded concurrently; when
// limit > 0 at most limit Mkdir/SendFile calls run at once across the whole
// tree, and a call only starts once it holds a slot.
func SendTree(ctx context.Context, local string, remote Target, ops TreeOps, limit int) error {
	info, err := os.Stat(local)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", local, err)
	}
	if !info.IsDir() {
		return ops.SendFile(ctx, local, FileTarget(local, remote))
	}
	var slots chan struct{}
	if limit > 0 {
		slots = make(chan struct{}, limit)
	}
	return sendDir(ctx, local, remote, ops, slots)
}

// slotted runs fn holding one of slots. A nil slots is unbounded.
func slotted(ctx context.Context, slots chan struct{}, fn func() error) error {
	if slots != nil {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		defer func() { <-slots }()
	}
	return fn()
}

func sendDir(ctx context.Context, local string, remote Target, ops TreeOps, slots chan struct{}) error {
	if err := slotted(ctx, slots, func() error { return ops.Mkdir(ctx, remote) }); err != nil {
		return err
	}

	entries, err := os.ReadDir(local)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %w", local, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		src := filepath.Join(local, entry.Name())
		dst := remote.Join(entry.Name())
		if entry.IsDir() {
			g.Go(func() error {
				return sendDir(gctx, src, dst, ops, slots)
			})
			continue
		}
		g.Go(func() error {
			return slotted(gctx, slots, func() error { return ops.SendFile(gctx, src, dst) })
		})
	}
	return g.Wait()
}
