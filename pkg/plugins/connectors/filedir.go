package connectors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/vulntor/stoq/pkg/paths"
	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
	"github.com/vulntor/stoq/pkg/results"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryConnector, "filedir", func() any { return &FileDir{} })
}

// FileDirOptions configures FileDir.
type FileDirOptions struct {
	// Path is the root directory, the user archive directory by default.
	Path    string `option:"path"`
	Compact bool   `option:"compact"`
}

// FileDir stores envelopes under <path>/results/<uuid>.json and archived
// payloads under <path>/archive/<sha256>. Writes from concurrent processes
// are serialized with a lock file.
type FileDir struct {
	Options FileDirOptions

	lock *flock.Flock
}

func (f *FileDir) OptionTarget() any { return &f.Options }

func (f *FileDir) Activate(context.Context, *plugin.Instance) error {
	if f.Options.Path == "" {
		f.Options.Path = paths.ArchiveDir()
	}
	for _, sub := range []string{"results", "archive"} {
		if err := os.MkdirAll(filepath.Join(f.Options.Path, sub), 0o755); err != nil {
			return fmt.Errorf("filedir: %w", err)
		}
	}
	f.lock = flock.New(filepath.Join(f.Options.Path, ".stoq.lock"))
	return nil
}

func (f *FileDir) Save(_ context.Context, env map[string]any) (map[string]any, error) {
	raw, _ := env[results.KeyUUID].(string)
	if raw == "" {
		return nil, errors.New("filedir: envelope has no uuid")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("filedir: envelope uuid %q: %w", raw, err)
	}
	id := parsed.String()
	marshal := results.MarshalIndent
	if f.Options.Compact {
		marshal = results.Marshal
	}
	data, err := marshal(env)
	if err != nil {
		return nil, err
	}

	dest := filepath.Join(f.Options.Path, "results", id+".json")
	if err := f.write(dest, data); err != nil {
		return nil, err
	}
	return map[string]any{"path": dest}, nil
}

func (f *FileDir) Archive(_ context.Context, p *payload.Payload) (map[string]any, error) {
	sum := p.Fingerprint()
	dest := filepath.Join(f.Options.Path, "archive", sum[:2], sum)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("filedir: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		return map[string]any{"path": dest, "sha256": sum}, nil
	}
	if err := f.write(dest, p.Data); err != nil {
		return nil, err
	}
	return map[string]any{"path": dest, "sha256": sum}, nil
}

// write replaces dest atomically while holding the directory lock.
func (f *FileDir) write(dest string, data []byte) error {
	if f.lock == nil {
		return errors.New("filedir: connector not activated")
	}
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("filedir: lock: %w", err)
	}
	defer f.lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("filedir: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("filedir: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("filedir: %w", err)
	}
	return os.Rename(tmp.Name(), dest)
}

func (f *FileDir) Deactivate() error {
	if f.lock != nil {
		return f.lock.Close()
	}
	return nil
}
