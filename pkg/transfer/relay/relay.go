// Package relay is the HTTP-relay transfer backend. The host serves each file
// from a short lived web server and asks the device's web server to pull it.
//
// The device only exposes download and mkdir endpoints, so reads, deletes and
// metadata queries fail with transfer.ErrUnsupported.
package relay

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apex/log"
	"github.com/yesman-dev/yesman/pkg/transfer"
)

const (
	// DefaultPort is the device's web server port
	DefaultPort = 80
	// maxDeviceConns bounds parallel requests to the device web server
	maxDeviceConns = 5
)

// Transport is a send-only FileTransport over the device web server
type Transport struct {
	device    string // http://host:port
	relayHost string
	relayPort int
	limit     int
	client    *http.Client
	// fetchWait bounds how long SendFile waits for the device to pull a file
	fetchWait time.Duration

	seq atomic.Uint64

	mu     sync.Mutex
	server *Server
	base   string // URL prefix the device pulls from
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
		return nil, fmt.Errorf("relay: device host is required")
	}
	port := conf.Port
	if port == 0 {
		port = DefaultPort
	}
	wait := conf.DialTimeout
	if wait <= 0 {
		wait = transfer.DefaultTimeout
	}
	return &Transport{
		device:    "http://" + net.JoinHostPort(conf.Host, strconv.Itoa(port)),
		relayHost: conf.RelayHost,
		relayPort: conf.RelayPort,
		limit:     conf.Concurrency,
		fetchWait: wait,
		client: &http.Client{
			Timeout:   conf.DialTimeout,
			Transport: &http.Transport{MaxConnsPerHost: maxDeviceConns},
		},
	}, nil
}

// MaxConcurrency matches the connection cap towards the device web server
func (t *Transport) MaxConcurrency() int { return maxDeviceConns }

// Server returns the relay server while connected
func (t *Transport) Server() *Server {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.server
}

// Connect checks the device web server answers and starts the relay server
func (t *Transport) Connect(ctx context.Context) error {
	if err := t.Disconnect(ctx); err != nil {
		return err
	}
	if err := t.get(ctx, "/"); err != nil {
		return fmt.Errorf("device web server not reachable: %w", err)
	}

	host := t.relayHost
	if host == "" {
		var err error
		if host, err = outboundIP(t.device); err != nil {
			return fmt.Errorf("failed to determine relay host: %w", err)
		}
	}

	srv := NewServer()
	addr, err := srv.Start(net.JoinHostPort("", strconv.Itoa(t.relayPort)))
	if err != nil {
		return err
	}
	port := addr.(*net.TCPAddr).Port

	t.mu.Lock()
	t.server = srv
	t.base = "http://" + net.JoinHostPort(host, strconv.Itoa(port))
	t.mu.Unlock()

	log.WithFields(log.Fields{"device": t.device, "relay": t.base}).Debug("relay: connected")
	return nil
}

// Disconnect stops the relay server
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	srv := t.server
	t.server, t.base = nil, ""
	t.mu.Unlock()

	if srv == nil {
		return nil
	}
	t.client.CloseIdleConnections()
	return srv.Stop(ctx)
}

// outboundIP returns the local address used to reach deviceURL
func outboundIP(deviceURL string) (string, error) {
	u, err := url.Parse(deviceURL)
	if err != nil {
		return "", err
	}
	conn, err := net.Dial("udp", u.Host)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func (t *Transport) session(op string) (*Server, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.server == nil {
		return nil, "", fmt.Errorf("%w: http %s", transfer.ErrNotConnected, op)
	}
	return t.server, t.base, nil
}

func (t *Transport) get(ctx context.Context, uri string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.device+uri, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transfer.Transient("http get", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("device answered %s for %s", resp.Status, uri)
		if resp.StatusCode >= 500 {
			return transfer.Transient("http get", err)
		}
		return err
	}
	return nil
}

// handle derives the publication name from the local path
func (t *Transport) handle(local string) string {
	if abs, err := filepath.Abs(local); err == nil {
		local = abs
	}
	sum := sha1.Sum([]byte(local))
	return hex.EncodeToString(sum[:8]) + "-" + strconv.FormatUint(t.seq.Add(1), 10)
}

func escape(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}

// Send uploads a file or directory tree
func (t *Transport) Send(ctx context.Context, local string, remote transfer.Target) error {
	return transfer.SendTree(ctx, local, remote, transfer.TreeOps{
		Mkdir:    t.Mkdir,
		SendFile: t.SendFile,
	}, transfer.EffectiveLimit(t.limit, t))
}

// SendFile publishes local and has the device download it to exactly remote.
// It returns once the device has pulled the content. A device that accepts the
// request but does not pull within the dial timeout yields a transient error.
func (t *Transport) SendFile(ctx context.Context, local string, remote transfer.Target) error {
	srv, base, err := t.session("send")
	if err != nil {
		return err
	}

	data, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", local, err)
	}

	handle := t.handle(local)
	fetched, release := srv.Publish(handle, data)
	defer release()

	uri := fmt.Sprintf("/xmb.ps3/download.ps3?to=%s&url=%s/%s", escape(remote.Resolve()), base, handle)
	log.WithFields(log.Fields{"src": local, "dst": remote.Resolve()}).Debug("relay: requesting download")
	if err := t.get(ctx, uri); err != nil {
		return err
	}

	timer := time.NewTimer(t.fetchWait)
	defer timer.Stop()
	select {
	case <-fetched:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return transfer.Transient("http fetch", fmt.Errorf("device did not fetch %s within %s (relay %s)", handle, t.fetchWait, base))
	}
}

// Mkdir asks the device to create remote
func (t *Transport) Mkdir(ctx context.Context, remote transfer.Target) error {
	if _, _, err := t.session("mkdir"); err != nil {
		return err
	}
	if remote.IsRoot() {
		return nil
	}
	return t.get(ctx, "/mkdir.ps3"+escape(remote.Resolve()))
}

func unsupported(op string) error {
	return fmt.Errorf("%w: http %s", transfer.ErrUnsupported, op)
}

func (t *Transport) Get(ctx context.Context, remote transfer.Target, local string) error {
	return unsupported("get")
}

func (t *Transport) GetBytes(ctx context.Context, remote transfer.Target) ([]byte, error) {
	return nil, unsupported("get")
}

func (t *Transport) Delete(ctx context.Context, remote transfer.Target) error {
	return unsupported("delete")
}

func (t *Transport) Stat(ctx context.Context, remote transfer.Target) (fs.FileInfo, error) {
	return nil, unsupported("stat")
}

func (t *Transport) Exists(ctx context.Context, remote transfer.Target) (bool, error) {
	return false, unsupported("exists")
}
