// Package builtin links every built-in plugin implementation and ships
// their descriptors.
package builtin

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"github.com/vulntor/stoq/pkg/plugin"

	_ "github.com/vulntor/stoq/pkg/plugins/carvers"
	_ "github.com/vulntor/stoq/pkg/plugins/connectors"
	_ "github.com/vulntor/stoq/pkg/plugins/decoders"
	_ "github.com/vulntor/stoq/pkg/plugins/decorators"
	_ "github.com/vulntor/stoq/pkg/plugins/extractors"
	_ "github.com/vulntor/stoq/pkg/plugins/readers"
	_ "github.com/vulntor/stoq/pkg/plugins/sources"
	_ "github.com/vulntor/stoq/pkg/plugins/workers"
)

//go:embed descriptors/*.yaml
var descriptorFS embed.FS

// Descriptors parses the embedded descriptors in lexical file order.
func Descriptors() ([]*plugin.Descriptor, error) {
	names, err := fs.Glob(descriptorFS, "descriptors/*.yaml")
	if err != nil {
		return nil, err
	}

	out := make([]*plugin.Descriptor, 0, len(names))
	for _, name := range names {
		data, err := descriptorFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		d, err := plugin.ParseDescriptor(path.Join("builtin", path.Base(name)), data)
		if err != nil {
			return nil, fmt.Errorf("builtin descriptor %s: %w", name, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// RegistryOption returns the registry option installing the built-in
// descriptors as baseline.
func RegistryOption() (plugin.RegistryOption, error) {
	descs, err := Descriptors()
	if err != nil {
		return nil, err
	}
	return plugin.WithBaseline(descs...), nil
}
