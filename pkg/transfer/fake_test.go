package transfer

import (
	"context"
	"errors"
	"io/fs"
	"sync"
)

// errStall makes a fake call block until its context is done
var errStall = errors.New("stall")

type fakeTransport struct {
	mu sync.Mutex

	connects    int
	disconnects int
	connectErr  error

	// errs is consumed one per operation call; calls past its end succeed
	errs  []error
	calls int

	dirs  []string
	files map[string]string
}

var (
	_ FileTransport = (*fakeTransport)(nil)
	_ FileSender    = (*fakeTransport)(nil)
)

func newFake(errs ...error) *fakeTransport {
	return &fakeTransport{errs: errs, files: make(map[string]string)}
}

func (f *fakeTransport) next(ctx context.Context) error {
	f.mu.Lock()
	var err error
	if f.calls < len(f.errs) {
		err = f.errs[f.calls]
	}
	f.calls++
	f.mu.Unlock()

	if err == errStall {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeTransport) counts() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, local string, remote Target) error {
	return f.SendFile(ctx, local, FileTarget(local, remote))
}

func (f *fakeTransport) SendFile(ctx context.Context, local string, remote Target) error {
	if err := f.next(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[remote.String()] = local
	return nil
}

func (f *fakeTransport) Get(ctx context.Context, remote Target, local string) error {
	return f.next(ctx)
}

func (f *fakeTransport) GetBytes(ctx context.Context, remote Target) ([]byte, error) {
	if err := f.next(ctx); err != nil {
		return nil, err
	}
	return []byte(remote.String()), nil
}

func (f *fakeTransport) Delete(ctx context.Context, remote Target) error {
	return f.next(ctx)
}

func (f *fakeTransport) Stat(ctx context.Context, remote Target) (fs.FileInfo, error) {
	return nil, f.next(ctx)
}

func (f *fakeTransport) Exists(ctx context.Context, remote Target) (bool, error) {
	if err := f.next(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (f *fakeTransport) Mkdir(ctx context.Context, remote Target) error {
	if err := f.next(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, remote.String())
	return nil
}
