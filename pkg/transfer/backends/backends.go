// Package backends binds the transfer backends to their identifiers.
package backends

import (
	"github.com/yesman-dev/yesman/pkg/transfer"
	"github.com/yesman-dev/yesman/pkg/transfer/ftp"
	"github.com/yesman-dev/yesman/pkg/transfer/mount"
	"github.com/yesman-dev/yesman/pkg/transfer/relay"
)

// Register adds every backend to r
func Register(r *transfer.Registry) {
	r.Register(transfer.BackendFTP, ftp.New)
	r.Register(transfer.BackendFilesystem, mount.New)
	r.Register(transfer.BackendHTTP, relay.New)
}

// NewRegistry returns a registry holding every backend
func NewRegistry() *transfer.Registry {
	r := transfer.NewRegistry()
	Register(r)
	return r
}
