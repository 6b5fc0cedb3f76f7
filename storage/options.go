package storage

import (
	"log/slog"

	"github.com/hupe1980/blockcache/internal/fs"
	"github.com/hupe1980/blockcache/resource"
)

type options struct {
	fs       fs.FileSystem
	resource *resource.Controller
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*options)

// withFileSystem sets the file system used by the File backing.
func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithResourceController accounts heap and direct partition memory against rc.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resource = rc
	}
}

// WithLogger sets the logger for partition lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
