package transfer

import (
	"path"
	"path/filepath"
	"strings"
)

// Target is a path on the device. It always uses forward slashes and is kept
// relative to the device root; Resolve returns the absolute form.
type Target struct {
	p string
}

// NewTarget joins elem into a device path. Backslashes are treated as
// separators so paths typed on Windows hosts still address the device.
func NewTarget(elem ...string) Target {
	joined := strings.ReplaceAll(strings.Join(elem, "/"), `\`, "/")
	return Target{p: strings.TrimPrefix(path.Clean("/"+joined), "/")}
}

// Join returns the target with elem appended
func (t Target) Join(elem ...string) Target {
	return NewTarget(append([]string{t.p}, elem...)...)
}

// Parent returns the containing directory
func (t Target) Parent() Target {
	return NewTarget(path.Dir("/" + t.p))
}

// Name returns the final path segment
func (t Target) Name() string {
	if t.p == "" {
		return ""
	}
	return path.Base(t.p)
}

// IsRoot reports whether t addresses the device root
func (t Target) IsRoot() bool { return t.p == "" }

// IsDir guesses whether t names a directory: the final segment has no dot.
// Extensionless files (EBOOT, PARAM) are misreported as directories, so only
// use it where the caller cannot know better.
func (t Target) IsDir() bool {
	return !strings.Contains(t.Name(), ".")
}

// Resolve returns the absolute device path
func (t Target) Resolve() string { return "/" + t.p }

// String returns the root relative device path
func (t Target) String() string { return t.p }

// FileTarget returns where a local file sent to remote ends up: inside remote
// when remote looks like a directory, at remote itself otherwise.
func FileTarget(local string, remote Target) Target {
	if remote.IsDir() {
		return remote.Join(filepath.Base(local))
	}
	return remote
}
