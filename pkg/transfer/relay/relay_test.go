package relay

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yesman-dev/yesman/pkg/transfer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeDevice mimics the device web server: it pulls download urls and
// records directories.
type fakeDevice struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  []string

	// refuse answers downloads with an error without pulling
	refuse bool
	// ignore accepts downloads without ever pulling
	ignore bool
	// live reports the relay entry count seen while a download is served
	live func() int
	seen []int
}

func newFakeDevice(t *testing.T) (*fakeDevice, *httptest.Server) {
	t.Helper()
	d := &fakeDevice{files: make(map[string][]byte)}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("webMAN"))
	})
	mux.HandleFunc("/mkdir.ps3/", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.dirs = append(d.dirs, strings.TrimPrefix(r.URL.Path, "/mkdir.ps3"))
		d.mu.Unlock()
	})
	mux.HandleFunc("/xmb.ps3/download.ps3", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		refuse, ignore, live := d.refuse, d.ignore, d.live
		d.mu.Unlock()
		if refuse {
			http.Error(w, "download failed", http.StatusBadRequest)
			return
		}
		if ignore {
			return
		}
		resp, err := http.Get(r.URL.Query().Get("url"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			http.Error(w, "pull failed", http.StatusNotFound)
			return
		}
		d.mu.Lock()
		d.files[r.URL.Query().Get("to")] = data
		if live != nil {
			d.seen = append(d.seen, live())
		}
		d.mu.Unlock()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return d, srv
}

func (d *fakeDevice) locked(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}

func deviceConfig(t *testing.T, device *httptest.Server) *transfer.Config {
	t.Helper()
	u, err := url.Parse(device.URL)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return &transfer.Config{Host: host, Port: p, RelayHost: "127.0.0.1"}
}

func newTestTransport(t *testing.T, device *httptest.Server) *Transport {
	t.Helper()
	tr, err := NewTransport(deviceConfig(t, device))
	require.NoError(t, err)
	return tr
}

func connect(t *testing.T, tr *Transport) {
	t.Helper()
	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() { tr.Disconnect(context.Background()) })
}

func TestConnectProbe(t *testing.T) {
	_, device := newFakeDevice(t)
	tr := newTestTransport(t, device)
	connect(t, tr)
	require.NotNil(t, tr.Server())

	require.NoError(t, tr.Disconnect(context.Background()))
	assert.Nil(t, tr.Server())
	require.NoError(t, tr.Disconnect(context.Background()))

	device.Close()
	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, transfer.IsTransient(err))
	assert.Nil(t, tr.Server())
}

func TestSendFile(t *testing.T) {
	d, device := newFakeDevice(t)
	tr := newTestTransport(t, device)
	connect(t, tr)
	d.locked(func() { d.live = tr.Server().Published })

	local := filepath.Join(t.TempDir(), "TROPUSR.DAT")
	require.NoError(t, os.WriteFile(local, []byte("trophy data"), 0o644))

	require.NoError(t, tr.Send(context.Background(), local, transfer.NewTarget("dev_hdd0/home/00000001/trophy/NPWR00001_00")))

	d.locked(func() {
		assert.Equal(t, []byte("trophy data"), d.files["/dev_hdd0/home/00000001/trophy/NPWR00001_00/TROPUSR.DAT"])
		assert.Equal(t, []int{1}, d.seen, "published while the device pulls")
	})
	assert.Equal(t, 0, tr.Server().Published(), "released after the pull")
}

func TestSendFailureReleases(t *testing.T) {
	d, device := newFakeDevice(t)
	d.locked(func() { d.refuse = true })
	tr := newTestTransport(t, device)
	connect(t, tr)

	local := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	err := tr.SendFile(context.Background(), local, transfer.NewTarget("dev_hdd0/tmp/a.bin"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.False(t, transfer.IsTransient(err))
	assert.Equal(t, 0, tr.Server().Published())
}

func TestSendFileNeverFetched(t *testing.T) {
	d, device := newFakeDevice(t)
	d.locked(func() { d.ignore = true })
	conf := deviceConfig(t, device)
	conf.DialTimeout = 50 * time.Millisecond
	tr, err := NewTransport(conf)
	require.NoError(t, err)
	connect(t, tr)

	local := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))

	start := time.Now()
	err = tr.SendFile(context.Background(), local, transfer.NewTarget("dev_hdd0/tmp/a.bin"))
	require.Error(t, err)
	assert.True(t, transfer.IsTransient(err))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, tr.Server().Published())
}

func TestSendTree(t *testing.T) {
	d, device := newFakeDevice(t)
	tr := newTestTransport(t, device)
	connect(t, tr)

	local := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(local, "USRDIR"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "PARAM.SFO"), []byte("sfo"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(local, "USRDIR", "EBOOT"), []byte("elf"), 0o644))

	require.NoError(t, tr.Send(context.Background(), local, transfer.NewTarget("dev_hdd0/game/NPUB00001")))

	d.locked(func() {
		sort.Strings(d.dirs)
		assert.Equal(t, []string{"/dev_hdd0/game/NPUB00001", "/dev_hdd0/game/NPUB00001/USRDIR"}, d.dirs)
		assert.Equal(t, []byte("sfo"), d.files["/dev_hdd0/game/NPUB00001/PARAM.SFO"])
		assert.Equal(t, []byte("elf"), d.files["/dev_hdd0/game/NPUB00001/USRDIR/EBOOT"])
	})
	assert.Equal(t, 0, tr.Server().Published())
}

func TestUnsupported(t *testing.T) {
	_, device := newFakeDevice(t)
	tr := newTestTransport(t, device)
	connect(t, tr)
	ctx := context.Background()
	target := transfer.NewTarget("dev_hdd0/tmp/a.bin")

	assert.ErrorIs(t, tr.Get(ctx, target, t.TempDir()), transfer.ErrUnsupported)
	_, err := tr.GetBytes(ctx, target)
	assert.ErrorIs(t, err, transfer.ErrUnsupported)
	assert.ErrorIs(t, tr.Delete(ctx, target), transfer.ErrUnsupported)
	_, err = tr.Stat(ctx, target)
	assert.ErrorIs(t, err, transfer.ErrUnsupported)
	_, err = tr.Exists(ctx, target)
	assert.ErrorIs(t, err, transfer.ErrUnsupported)
	assert.False(t, transfer.IsTransient(err))
}

func TestNotConnected(t *testing.T) {
	_, device := newFakeDevice(t)
	tr := newTestTransport(t, device)

	local := filepath.Join(t.TempDir(), "a.bin")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0o644))
	assert.ErrorIs(t, tr.SendFile(context.Background(), local, transfer.NewTarget("dev_hdd0/tmp")), transfer.ErrNotConnected)
	assert.ErrorIs(t, tr.Mkdir(context.Background(), transfer.NewTarget("dev_hdd0/tmp")), transfer.ErrNotConnected)
}

func TestServerRoutes(t *testing.T) {
	s := NewServer()
	do := func(method, path string, body []byte) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(method, path, bytes.NewReader(body)))
		return w
	}

	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/abc", nil).Code)

	assert.Equal(t, http.StatusOK, do(http.MethodPut, "/abc", []byte("payload")).Code)
	assert.Equal(t, 1, s.Published())

	w := do(http.MethodGet, "/abc", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "payload", w.Body.String())
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusOK, do(http.MethodDelete, "/abc", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodDelete, "/abc", nil).Code)
	assert.Equal(t, 0, s.Published())
}

// brokenWriter drops the connection on the first body write
type brokenWriter struct {
	header http.Header
}

func (w *brokenWriter) Header() http.Header       { return w.header }
func (w *brokenWriter) WriteHeader(int)           {}
func (w *brokenWriter) Write([]byte) (int, error) { return 0, syscall.EPIPE }

func TestPartialFetchNotSignalled(t *testing.T) {
	s := NewServer()
	fetched, release := s.Publish("h1", []byte("payload"))
	defer release()

	s.Handler().ServeHTTP(&brokenWriter{header: http.Header{}}, httptest.NewRequest(http.MethodGet, "/h1", nil))
	select {
	case <-fetched:
		t.Fatal("fetched signalled for an incomplete response")
	default:
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/h1", nil))
	assert.Equal(t, "payload", w.Body.String())
	select {
	case <-fetched:
	default:
		t.Fatal("fetched not signalled")
	}
}

func TestMaxConcurrency(t *testing.T) {
	tr, err := NewTransport(&transfer.Config{Host: "ps3"})
	require.NoError(t, err)
	assert.Equal(t, maxDeviceConns, transfer.EffectiveLimit(0, tr))
	assert.Equal(t, 2, transfer.EffectiveLimit(2, tr))
}

func TestPublishRelease(t *testing.T) {
	s := NewServer()
	fetched, release := s.Publish("h1", []byte("one"))
	_, release2 := s.Publish("h2", []byte("two"))
	assert.Equal(t, 2, s.Published())

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/h1", nil))
	assert.Equal(t, "one", w.Body.String())
	select {
	case <-fetched:
	default:
		t.Fatal("fetched not signalled")
	}

	release()
	release()
	assert.Equal(t, 1, s.Published())
	release2()
	assert.Equal(t, 0, s.Published())
}

func TestHandleUnique(t *testing.T) {
	tr, err := NewTransport(&transfer.Config{Host: "ps3"})
	require.NoError(t, err)
	a, b := tr.handle("/tmp/a.bin"), tr.handle("/tmp/a.bin")
	assert.NotEqual(t, a, b)
	assert.Equal(t, strings.Split(a, "-")[0], strings.Split(b, "-")[0])
	assert.NotEqual(t, strings.Split(a, "-")[0], strings.Split(tr.handle("/tmp/b.bin"), "-")[0])
}
