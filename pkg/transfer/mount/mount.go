// Package mount is the mounted-filesystem transfer backend. The device FTP
// server is attached to a scratch directory by a helper process and every
// operation is plain file I/O below it.
package mount

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/apex/log"
	"github.com/spf13/afero"
	"github.com/yesman-dev/yesman/pkg/transfer"
)

// Transport is a FileTransport over a mount point
type Transport struct {
	mounter Mounter
	newFs   func(dir string) afero.Fs
	limit   int

	mu  sync.Mutex
	dir string
	fs  afero.Fs
}

var (
	_ transfer.FileTransport = (*Transport)(nil)
	_ transfer.FileSender    = (*Transport)(nil)
)

// Option configures a Transport
type Option func(*Transport)

// WithMounter replaces the helper process mounter
func WithMounter(m Mounter) Option {
	return func(t *Transport) { t.mounter = m }
}

// WithFs replaces the file system opened on the mount point
func WithFs(fn func(dir string) afero.Fs) Option {
	return func(t *Transport) { t.newFs = fn }
}

func osFs(dir string) afero.Fs {
	return afero.NewBasePathFs(afero.NewOsFs(), dir)
}

// New returns an unmounted transport for conf
func New(conf *transfer.Config) (transfer.FileTransport, error) {
	return NewTransport(conf)
}

// NewTransport returns an unmounted transport for conf
func NewTransport(conf *transfer.Config, opts ...Option) (*Transport, error) {
	if conf.Host == "" {
		return nil, fmt.Errorf("mount: device host is required")
	}
	t := &Transport{
		mounter: NewHelper(conf),
		newFs:   osFs,
		limit:   conf.Concurrency,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// MountPoint returns the scratch directory while mounted
func (t *Transport) MountPoint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir
}

// Connect creates a scratch directory and mounts the device on it
func (t *Transport) Connect(ctx context.Context) error {
	if err := t.Disconnect(ctx); err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "yesman-mount-")
	if err != nil {
		return fmt.Errorf("failed to create mount point: %w", err)
	}
	if err := t.mounter.Mount(ctx, dir); err != nil {
		os.Remove(dir)
		return fmt.Errorf("failed to mount device on %s: %w", dir, err)
	}
	log.WithField("dir", dir).Debug("mount: device mounted")

	t.mu.Lock()
	t.dir = dir
	t.fs = t.newFs(dir)
	t.mu.Unlock()
	return nil
}

// Disconnect unmounts the device and removes the scratch directory. The
// directory is only removed once empty, never recursively. When unmounting
// fails the mount point is kept so a later Disconnect retries it.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	dir := t.dir
	t.fs = nil
	t.mu.Unlock()

	if dir == "" {
		return nil
	}
	if err := t.mounter.Unmount(ctx, dir); err != nil {
		log.WithError(err).WithField("dir", dir).Warn("mount: device still mounted")
		return fmt.Errorf("failed to unmount %s: %w", dir, err)
	}

	t.mu.Lock()
	if t.dir == dir {
		t.dir = ""
	}
	t.mu.Unlock()

	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove mount point: %w", err)
	}
	return nil
}

func (t *Transport) session(ctx context.Context, op string) (afero.Fs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fs == nil {
		return nil, fmt.Errorf("%w: mount %s", transfer.ErrNotConnected, op)
	}
	return t.fs, nil
}

// classify marks a dead FUSE mount transient
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ENOTCONN) || errors.Is(err, syscall.EIO) || errors.Is(err, syscall.ESTALE) {
		return transfer.Transient("mount "+op, err)
	}
	return err
}

// Send uploads a file or directory tree
func (t *Transport) Send(ctx context.Context, local string, remote transfer.Target) error {
	return transfer.SendTree(ctx, local, remote, transfer.TreeOps{
		Mkdir:    t.Mkdir,
		SendFile: t.SendFile,
	}, t.limit)
}

// SendFile copies the local file to exactly remote
func (t *Transport) SendFile(ctx context.Context, local string, remote transfer.Target) error {
	afs, err := t.session(ctx, "send")
	if err != nil {
		return err
	}

	src, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", local, err)
	}
	defer src.Close()

	dst, err := afs.Create(remote.Resolve())
	if err != nil {
		return classify("send", err)
	}
	if _, err := io.Copy(dst, &ctxReader{ctx, src}); err != nil {
		dst.Close()
		return classify("send", err)
	}
	return classify("send", dst.Close())
}

// Get copies remote to local. A local directory receives the file under its
// remote name.
func (t *Transport) Get(ctx context.Context, remote transfer.Target, local string) error {
	afs, err := t.session(ctx, "get")
	if err != nil {
		return err
	}

	src, err := afs.Open(remote.Resolve())
	if err != nil {
		return classify("get", err)
	}
	defer src.Close()

	if info, err := os.Stat(local); err == nil && info.IsDir() {
		local = filepath.Join(local, remote.Name())
	}
	dst, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", local, err)
	}
	if _, err := io.Copy(dst, &ctxReader{ctx, src}); err != nil {
		dst.Close()
		return classify("get", err)
	}
	return dst.Close()
}

func (t *Transport) GetBytes(ctx context.Context, remote transfer.Target) ([]byte, error) {
	afs, err := t.session(ctx, "get")
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(afs, remote.Resolve())
	if err != nil {
		return nil, classify("get", err)
	}
	return data, nil
}

func (t *Transport) Delete(ctx context.Context, remote transfer.Target) error {
	afs, err := t.session(ctx, "delete")
	if err != nil {
		return err
	}
	return classify("delete", afs.Remove(remote.Resolve()))
}

func (t *Transport) Stat(ctx context.Context, remote transfer.Target) (fs.FileInfo, error) {
	afs, err := t.session(ctx, "stat")
	if err != nil {
		return nil, err
	}
	info, err := afs.Stat(remote.Resolve())
	if err != nil {
		return nil, classify("stat", err)
	}
	return info, nil
}

func (t *Transport) Exists(ctx context.Context, remote transfer.Target) (bool, error) {
	afs, err := t.session(ctx, "exists")
	if err != nil {
		return false, err
	}
	ok, err := afero.Exists(afs, remote.Resolve())
	return ok, classify("exists", err)
}

func (t *Transport) Mkdir(ctx context.Context, remote transfer.Target) error {
	afs, err := t.session(ctx, "mkdir")
	if err != nil {
		return err
	}
	ok, err := afero.DirExists(afs, remote.Resolve())
	if err != nil || ok {
		return classify("mkdir", err)
	}
	if err := afs.Mkdir(remote.Resolve(), 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return classify("mkdir", err)
	}
	return nil
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
