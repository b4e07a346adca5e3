package results

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cast"
)

// Renderer renders envelopes through text/template files. Parsed templates
// are cached by path.
type Renderer struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewRenderer creates a renderer with an empty cache.
func NewRenderer() *Renderer {
	return &Renderer{cache: make(map[string]*template.Template)}
}

// TemplateFuncs are available to every template.
func TemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"json": func(v any) (string, error) {
			b, err := Marshal(v)
			return string(b), err
		},
		"jsonIndent": func(v any) (string, error) {
			b, err := MarshalIndent(v)
			return string(b), err
		},
		"bytes": func(v any) string {
			return humanize.Bytes(cast.ToUint64(v))
		},
		"comma": func(v any) string {
			return humanize.Comma(cast.ToInt64(v))
		},
		"lower": strings.ToLower,
		"upper": strings.ToUpper,
		"join": func(sep string, v any) string {
			return strings.Join(cast.ToStringSlice(v), sep)
		},
		"flatten": func(delim string, v map[string]any) map[string]any {
			return Flatten(v, delim)
		},
	}
}

func (r *Renderer) load(path string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.cache[path]; ok {
		return t, nil
	}
	t, err := template.New(filepath.Base(path)).Funcs(TemplateFuncs()).ParseFiles(path)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", path, err)
	}
	r.cache[path] = t
	return t, nil
}

// Render executes the template at path against env.
func (r *Renderer) Render(path string, env Envelope) (string, error) {
	t, err := r.load(path)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, env); err != nil {
		return "", fmt.Errorf("render template %s: %w", path, err)
	}
	return buf.String(), nil
}
