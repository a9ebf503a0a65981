package transfer

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Backend identifies a transport implementation
type Backend string

const (
	// BackendFTP talks to the device's FTP server over one persistent session.
	BackendFTP Backend = "ftp"
	// BackendFilesystem mounts the device FTP server and uses local file I/O.
	BackendFilesystem Backend = "filesystem"
	// BackendHTTP serves files from the host and has the device download them.
	BackendHTTP Backend = "http"
)

// Backends returns every known backend identifier
func Backends() []Backend {
	return []Backend{BackendFTP, BackendFilesystem, BackendHTTP}
}

// Valid reports whether b is a known backend identifier
func (b Backend) Valid() bool {
	return slices.Contains(Backends(), b)
}

// Config holds the settings shared by the backend constructors
type Config struct {
	// Host and Port address the device.
	Host string
	Port int
	User string
	Pass string
	// DialTimeout bounds session establishment.
	DialTimeout time.Duration
	// Concurrency bounds parallel uploads per directory; <= 0 is unbounded.
	Concurrency int

	// RelayHost is the host address the device uses to reach the relay server.
	RelayHost string
	// RelayPort is the port the relay server listens on; 0 picks a free port.
	RelayPort int

	// MountHelper mounts the device, UnmountHelper releases the mount point.
	MountHelper   string
	UnmountHelper string
}

// Constructor builds a transport from a config
type Constructor func(conf *Config) (FileTransport, error)

// Registry maps backend identifiers to constructors. It is populated once at
// process start and read-only afterwards.
type Registry struct {
	ctors map[Backend]Constructor
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[Backend]Constructor)}
}

// Register binds ctor to name. It panics on an unknown identifier or a
// duplicate registration.
func (r *Registry) Register(name Backend, ctor Constructor) {
	if !name.Valid() {
		panic(fmt.Sprintf("transfer: register of unknown backend %q", name))
	}
	if ctor == nil {
		panic(fmt.Sprintf("transfer: register of nil constructor for %q", name))
	}
	if _, dup := r.ctors[name]; dup {
		panic(fmt.Sprintf("transfer: backend %q registered twice", name))
	}
	r.ctors[name] = ctor
}

// Names returns the registered backend names, sorted
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		names = append(names, string(name))
	}
	slices.Sort(names)
	return names
}

// New builds the transport registered under name
func (r *Registry) New(name string, conf *Config) (FileTransport, error) {
	ctor, ok := r.ctors[Backend(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q, valid backends are: %s", ErrUnknownBackend, name, strings.Join(r.Names(), ", "))
	}
	if conf == nil {
		conf = &Config{}
	}
	return ctor(conf)
}
