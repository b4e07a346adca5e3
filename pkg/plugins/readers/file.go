// Package readers holds the built-in reader plugins.
package readers

import (
	"context"
	"fmt"
	"os"

	"github.com/vulntor/stoq/pkg/plugin"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryReader, "file", func() any { return &File{} })
}

// FileOptions configures File.
type FileOptions struct {
	// MaxSize rejects larger files; zero means no limit.
	MaxSize int64 `option:"max_size"`
}

// File reads a path verbatim.
type File struct {
	Options FileOptions
}

func (f *File) OptionTarget() any { return &f.Options }

func (f *File) Read(_ context.Context, path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if f.Options.MaxSize > 0 && info.Size() > f.Options.MaxSize {
		return nil, fmt.Errorf("%s is %d bytes, above max_size %d", path, info.Size(), f.Options.MaxSize)
	}
	return os.ReadFile(path)
}
