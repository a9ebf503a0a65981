package mount

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/url"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/yesman-dev/yesman/pkg/transfer"
)

const (
	// DefaultMountHelper mounts an FTP server through FUSE
	DefaultMountHelper = "curlftpfs"
	defaultFTPPort     = 21
)

// DefaultUnmountHelper returns the platform unmount command
func DefaultUnmountHelper() string {
	if runtime.GOOS == "linux" {
		return "fusermount -u"
	}
	return "umount"
}

// Mounter attaches the device file system to a local directory
type Mounter interface {
	Mount(ctx context.Context, dir string) error
	Unmount(ctx context.Context, dir string) error
}

// Helper is a Mounter running external commands:
//
//	<MountCmd...> <URL> <dir>
//	<UnmountCmd...> <dir>
type Helper struct {
	MountCmd   []string
	UnmountCmd []string
	URL        string
}

// NewHelper builds the helper for conf
func NewHelper(conf *transfer.Config) *Helper {
	mountCmd := conf.MountHelper
	if mountCmd == "" {
		mountCmd = DefaultMountHelper
	}
	unmountCmd := conf.UnmountHelper
	if unmountCmd == "" {
		unmountCmd = DefaultUnmountHelper()
	}
	port := conf.Port
	if port == 0 {
		port = defaultFTPPort
	}
	u := url.URL{
		Scheme: "ftp",
		Host:   net.JoinHostPort(conf.Host, strconv.Itoa(port)),
		Path:   "/",
	}
	switch {
	case conf.User != "" && conf.Pass != "":
		u.User = url.UserPassword(conf.User, conf.Pass)
	case conf.User != "":
		u.User = url.User(conf.User)
	}
	return &Helper{
		MountCmd:   strings.Fields(mountCmd),
		UnmountCmd: strings.Fields(unmountCmd),
		URL:        u.String(),
	}
}

func (h *Helper) mountArgs(dir string) []string {
	return append(append([]string{}, h.MountCmd...), h.URL, dir)
}

func (h *Helper) unmountArgs(dir string) []string {
	return append(append([]string{}, h.UnmountCmd...), dir)
}

func (h *Helper) Mount(ctx context.Context, dir string) error {
	if len(h.MountCmd) == 0 {
		return fmt.Errorf("mount: empty helper command")
	}
	return run(ctx, h.mountArgs(dir))
}

func (h *Helper) Unmount(ctx context.Context, dir string) error {
	if len(h.UnmountCmd) == 0 {
		return fmt.Errorf("mount: empty unmount helper command")
	}
	return run(ctx, h.unmountArgs(dir))
}

func run(ctx context.Context, args []string) error {
	log.WithFields(log.Fields{"helper": args[0], "dir": args[len(args)-1]}).Debug("mount: running helper")

	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %v: %s", args[0], err, bytes.TrimSpace(out))
	}
	return nil
}
