// Package sources holds the built-in source plugins.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
)

func init() {
	plugin.RegisterFactory(plugin.CategorySource, "dirwalk", func() any { return &DirWalk{} })
}

// DirWalkOptions configures DirWalk.
type DirWalkOptions struct {
	Path        string `option:"path"`
	Recursive   bool   `option:"recursive" default:"true"`
	Concurrency int    `option:"concurrency" default:"4"`
	// MaxSize skips larger files; zero means no limit.
	MaxSize int64 `option:"max_size"`
}

// DirWalk emits every regular file below a directory. Files are read by up
// to Concurrency goroutines; emit is serialized.
type DirWalk struct {
	Options DirWalkOptions
}

func (d *DirWalk) OptionTarget() any { return &d.Options }

func (d *DirWalk) Activate(context.Context, *plugin.Instance) error {
	if d.Options.Path == "" {
		return errors.New("dirwalk: path is required")
	}
	info, err := os.Stat(d.Options.Path)
	if err != nil {
		return fmt.Errorf("dirwalk: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("dirwalk: %s is not a directory", d.Options.Path)
	}
	return nil
}

// Ingest walks the directory in lexical order.
func (d *DirWalk) Ingest(ctx context.Context, emit func(payload.Ref) error) error {
	root := d.Options.Path
	limit := d.Options.Concurrency
	if limit < 1 {
		limit = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	var emitMu sync.Mutex

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if gctx.Err() != nil {
			return gctx.Err()
		}
		if entry.IsDir() {
			if path != root && !d.Options.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		g.Go(func() error {
			info, err := entry.Info()
			if err != nil {
				return err
			}
			if d.Options.MaxSize > 0 && info.Size() > d.Options.MaxSize {
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			ref := payload.Ref{
				Path: path,
				Data: data,
				Meta: map[string]any{
					"path":     path,
					"size":     info.Size(),
					"modified": info.ModTime().UTC().Format(time.RFC3339),
				},
			}
			emitMu.Lock()
			defer emitMu.Unlock()
			return emit(ref)
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return walkErr
}
