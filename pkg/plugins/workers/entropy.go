package workers

import (
	"context"
	"math"
	"sort"

	"github.com/vulntor/stoq/pkg/payload"
	"github.com/vulntor/stoq/pkg/plugin"
)

func init() {
	plugin.RegisterFactory(plugin.CategoryWorker, "entropy", func() any { return &Entropy{} })
}

// EntropyOptions configures Entropy.
type EntropyOptions struct {
	// Top is the number of most frequent bytes reported.
	Top int `option:"top" default:"5"`
}

// Entropy reports the Shannon entropy of a payload and its byte
// distribution.
type Entropy struct {
	Options EntropyOptions
}

func (e *Entropy) OptionTarget() any { return &e.Options }

func (e *Entropy) Scan(_ context.Context, p *payload.Payload) (map[string]any, error) {
	var hist [256]int
	for _, b := range p.Data {
		hist[b]++
	}

	type freq struct {
		b     int
		count int
	}
	unique := 0
	var freqs []freq
	for b, n := range hist {
		if n == 0 {
			continue
		}
		unique++
		freqs = append(freqs, freq{b: b, count: n})
	}
	sort.SliceStable(freqs, func(i, j int) bool { return freqs[i].count > freqs[j].count })

	top := make([]map[string]any, 0, e.Options.Top)
	for i := 0; i < len(freqs) && i < e.Options.Top; i++ {
		top = append(top, map[string]any{"byte": freqs[i].b, "count": freqs[i].count})
	}

	return map[string]any{
		"entropy":      ShannonEntropy(p.Data),
		"unique_bytes": unique,
		"top_bytes":    top,
	}, nil
}

// ShannonEntropy returns the entropy of data in bits per byte, rounded to
// four decimals.
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var hist [256]int
	for _, b := range data {
		hist[b]++
	}
	size := float64(len(data))
	h := 0.0
	for _, n := range hist {
		if n == 0 {
			continue
		}
		prob := float64(n) / size
		h -= prob * math.Log2(prob)
	}
	return math.Round(h*10000) / 10000
}
