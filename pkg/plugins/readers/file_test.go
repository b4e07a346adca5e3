package readers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFile_Read(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))
	ctx := context.Background()

	tests := []struct {
		name    string
		opts    FileOptions
		path    string
		want    []byte
		wantErr bool
	}{
		{name: "verbatim", path: path, want: []byte("0123456789")},
		{name: "within limit", opts: FileOptions{MaxSize: 10}, path: path, want: []byte("0123456789")},
		{name: "above limit", opts: FileOptions{MaxSize: 9}, path: path, wantErr: true},
		{name: "directory", path: dir, wantErr: true},
		{name: "missing", path: filepath.Join(dir, "missing"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &File{Options: tt.opts}
			got, err := f.Read(ctx, tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
