// Package ftp is the direct-protocol transfer backend: one authenticated FTP
// session to the device's FTP server.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/apex/log"
	goftp "github.com/jlaffaye/ftp"
	"github.com/yesman-dev/yesman/pkg/transfer"
)

const (
	// DefaultPort is the device's FTP port
	DefaultPort = 21
	// AnonymousUser is used when no user is configured
	AnonymousUser = "anonymous"
)

// conn is the part of *goftp.ServerConn the transport drives
type conn interface {
	Login(user, password string) error
	Stor(path string, r io.Reader) error
	Retr(path string) (io.ReadCloser, error)
	Delete(path string) error
	MakeDir(path string) error
	List(path string) ([]*goftp.Entry, error)
	Quit() error
}

type serverConn struct {
	*goftp.ServerConn
}

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(path)
}

func dialServer(ctx context.Context, addr string, timeout time.Duration) (conn, error) {
	c, err := goftp.Dial(addr, goftp.DialWithContext(ctx), goftp.DialWithTimeout(timeout))
	if err != nil {
		return nil, err
	}
	return serverConn{c}, nil
}

// Transport is a FileTransport over a single FTP control connection.
// Operations are serialized; the tree fan-out of Send queues on the session.
type Transport struct {
	addr    string
	user    string
	pass    string
	timeout time.Duration
	limit   int

	dial func(ctx context.Context, addr string, timeout time.Duration) (conn, error)

	mu sync.Mutex // guards c
	c  conn

	// op is a one slot lock held for the duration of a protocol exchange.
	// Waiting for it honours the caller's context.
	op chan struct{}
}

var (
	_ transfer.FileTransport  = (*Transport)(nil)
	_ transfer.FileSender     = (*Transport)(nil)
	_ transfer.SessionLimiter = (*Transport)(nil)
)

// New returns an unconnected transport for conf
func New(conf *transfer.Config) (transfer.FileTransport, error) {
	return NewTransport(conf)
}

// NewTransport returns an unconnected transport for conf
func NewTransport(conf *transfer.Config) (*Transport, error) {
	if conf.Host == "" {
		return nil, fmt.Errorf("ftp: device host is required")
	}
	port := conf.Port
	if port == 0 {
		port = DefaultPort
	}
	user, pass := conf.User, conf.Pass
	if user == "" {
		user = AnonymousUser
	}
	timeout := conf.DialTimeout
	if timeout <= 0 {
		timeout = transfer.DefaultTimeout
	}
	return &Transport{
		addr:    net.JoinHostPort(conf.Host, strconv.Itoa(port)),
		user:    user,
		pass:    pass,
		timeout: timeout,
		limit:   conf.Concurrency,
		dial:    dialServer,
		op:      make(chan struct{}, 1),
	}, nil
}

// MaxConcurrency is 1: exchanges on the control connection are serialized.
func (t *Transport) MaxConcurrency() int { return 1 }

// Addr returns the device address
func (t *Transport) Addr() string { return t.addr }

// Connect dials and logs in, replacing any previous session
func (t *Transport) Connect(ctx context.Context) error {
	log.WithField("addr", t.addr).Debug("ftp: connecting")

	c, err := t.dial(ctx, t.addr, t.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.addr, err)
	}
	if err := c.Login(t.user, t.pass); err != nil {
		c.Quit()
		return fmt.Errorf("failed to login to %s as %s: %w", t.addr, t.user, err)
	}

	t.mu.Lock()
	old := t.c
	t.c = c
	t.mu.Unlock()

	if old != nil {
		old.Quit()
	}
	return nil
}

// Disconnect quits the session. A stalled operation on it fails promptly.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.mu.Unlock()

	if c == nil {
		return nil
	}
	if err := c.Quit(); err != nil {
		return fmt.Errorf("failed to quit %s: %w", t.addr, err)
	}
	return nil
}

// abort drops c if it is still the live session
func (t *Transport) abort(c conn) {
	t.mu.Lock()
	if t.c != c {
		t.mu.Unlock()
		return
	}
	t.c = nil
	t.mu.Unlock()

	log.WithField("addr", t.addr).Debug("ftp: aborting session")
	c.Quit()
}

// do runs fn on the live session. Cancelling ctx tears the session down so
// that a blocked exchange returns. A call whose ctx ends while it waits for
// the session returns without touching it.
func (t *Transport) do(ctx context.Context, op string, remote transfer.Target, fn func(c conn) error) error {
	select {
	case t.op <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.op }()

	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	c := t.c
	t.mu.Unlock()
	if c == nil {
		return fmt.Errorf("%w: ftp %s", transfer.ErrNotConnected, op)
	}

	stop := context.AfterFunc(ctx, func() { t.abort(c) })
	defer stop()

	return classify(op, remote.Resolve(), fn(c))
}

// classify marks channel failures transient and leaves protocol replies fatal
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var perr *textproto.Error
	if errors.As(err, &perr) {
		switch perr.Code {
		case goftp.StatusNotAvailable, goftp.StatusCanNotOpenDataConnection, goftp.StatusTransfertAborted:
			return transfer.Transient("ftp "+op, err)
		case goftp.StatusFileUnavailable:
			return &fs.PathError{Op: op, Path: path, Err: fmt.Errorf("%w: %v", fs.ErrNotExist, err)}
		}
		return fmt.Errorf("ftp %s %s: %w", op, path, err)
	}
	var pe *fs.PathError
	if errors.As(err, &pe) || errors.Is(err, context.Canceled) {
		return err
	}
	return transfer.Transient("ftp "+op, err)
}

// Send uploads a file or directory tree
func (t *Transport) Send(ctx context.Context, local string, remote transfer.Target) error {
	return transfer.SendTree(ctx, local, remote, transfer.TreeOps{
		Mkdir:    t.Mkdir,
		SendFile: t.SendFile,
	}, transfer.EffectiveLimit(t.limit, t))
}

// SendFile uploads the local file to exactly remote
func (t *Transport) SendFile(ctx context.Context, local string, remote transfer.Target) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", local, err)
	}
	defer f.Close()

	log.WithFields(log.Fields{"src": local, "dst": remote.Resolve()}).Debug("ftp: STOR")
	return t.do(ctx, "stor", remote, func(c conn) error {
		return c.Stor(remote.Resolve(), f)
	})
}

// Get downloads remote to local. A local directory receives the file under
// its remote name. The content lands in a temporary file next to local and
// replaces local only once the download completed.
func (t *Transport) Get(ctx context.Context, remote transfer.Target, local string) error {
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		local = filepath.Join(local, remote.Name())
	}

	var tmp string
	err := t.do(ctx, "retr", remote, func(c conn) error {
		r, err := c.Retr(remote.Resolve())
		if err != nil {
			return err
		}
		defer r.Close()

		f, err := os.CreateTemp(filepath.Dir(local), "."+filepath.Base(local)+".*")
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", local, err)
		}
		tmp = f.Name()
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			return err
		}
		if err := f.Chmod(0o644); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		if tmp != "" {
			os.Remove(tmp)
		}
		return err
	}
	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", local, err)
	}
	return nil
}

func (t *Transport) GetBytes(ctx context.Context, remote transfer.Target) ([]byte, error) {
	var data []byte
	err := t.do(ctx, "retr", remote, func(c conn) error {
		r, err := c.Retr(remote.Resolve())
		if err != nil {
			return err
		}
		defer r.Close()
		data, err = io.ReadAll(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *Transport) Delete(ctx context.Context, remote transfer.Target) error {
	return t.do(ctx, "dele", remote, func(c conn) error {
		return c.Delete(remote.Resolve())
	})
}

// Stat looks remote up in a listing of its parent
func (t *Transport) Stat(ctx context.Context, remote transfer.Target) (fs.FileInfo, error) {
	if remote.IsRoot() {
		return rootInfo{}, nil
	}
	var info fs.FileInfo
	err := t.do(ctx, "stat", remote, func(c conn) error {
		entries, err := c.List(remote.Parent().Resolve())
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Name == remote.Name() {
				info = entryInfo{e}
				return nil
			}
		}
		return &fs.PathError{Op: "stat", Path: remote.Resolve(), Err: fs.ErrNotExist}
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (t *Transport) Exists(ctx context.Context, remote transfer.Target) (bool, error) {
	if _, err := t.Stat(ctx, remote); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (t *Transport) Mkdir(ctx context.Context, remote transfer.Target) error {
	ok, err := t.Exists(ctx, remote)
	if err != nil || ok {
		return err
	}
	return t.do(ctx, "mkd", remote, func(c conn) error {
		return c.MakeDir(remote.Resolve())
	})
}

type entryInfo struct {
	e *goftp.Entry
}

func (i entryInfo) Name() string       { return i.e.Name }
func (i entryInfo) Size() int64        { return int64(i.e.Size) }
func (i entryInfo) ModTime() time.Time { return i.e.Time }
func (i entryInfo) IsDir() bool        { return i.e.Type == goftp.EntryTypeFolder }
func (i entryInfo) Sys() any           { return i.e }

func (i entryInfo) Mode() fs.FileMode {
	switch i.e.Type {
	case goftp.EntryTypeFolder:
		return fs.ModeDir | 0o755
	case goftp.EntryTypeLink:
		return fs.ModeSymlink | 0o777
	default:
		return 0o644
	}
}

type rootInfo struct{}

func (rootInfo) Name() string       { return "/" }
func (rootInfo) Size() int64        { return 0 }
func (rootInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o755 }
func (rootInfo) ModTime() time.Time { return time.Time{} }
func (rootInfo) IsDir() bool        { return true }
func (rootInfo) Sys() any           { return nil }
