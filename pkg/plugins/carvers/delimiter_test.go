package carvers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelimiter_Activate(t *testing.T) {
	require.Error(t, (&Delimiter{}).Activate(context.Background(), nil))
	require.Error(t, (&Delimiter{Options: DelimiterOptions{Start: "<<"}}).Activate(context.Background(), nil))
	require.NoError(t, (&Delimiter{Options: DelimiterOptions{Start: "<<", End: ">>"}}).Activate(context.Background(), nil))
}

func TestDelimiter_Carve(t *testing.T) {
	data := []byte("xx<<a>>yy<<bb>>zz<<c")

	tests := []struct {
		name    string
		include bool
		want    []string
		offsets []int
	}{
		{name: "bodies", want: []string{"a", "bb"}, offsets: []int{4, 11}},
		{name: "with markers", include: true, want: []string{"<<a>>", "<<bb>>"}, offsets: []int{2, 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Delimiter{Options: DelimiterOptions{Start: "<<", End: ">>", IncludeMarkers: tt.include}}
			parts, err := d.Carve(context.Background(), data)
			require.NoError(t, err)
			require.Len(t, parts, len(tt.want))
			for i, part := range parts {
				assert.Equal(t, tt.want[i], string(part.Data))
				assert.Equal(t, tt.offsets[i], part.Meta["offset"])
				assert.Equal(t, len(tt.want[i]), part.Meta["length"])
			}
		})
	}
}

func TestDelimiter_NoMatch(t *testing.T) {
	d := &Delimiter{Options: DelimiterOptions{Start: "<<", End: ">>"}}
	parts, err := d.Carve(context.Background(), []byte("nothing here"))
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestDelimiter_IgnoreCase(t *testing.T) {
	data := []byte("\xff<Start>One</END>\xfe<start>two</end>")

	tests := []struct {
		name       string
		ignoreCase bool
		want       []string
		offsets    []int
	}{
		{name: "case sensitive", want: []string{"two"}, offsets: []int{25}},
		{name: "ignore case", ignoreCase: true, want: []string{"One", "two"}, offsets: []int{8, 25}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Delimiter{Options: DelimiterOptions{Start: "<start>", End: "</end>", IgnoreCase: tt.ignoreCase}}
			parts, err := d.Carve(context.Background(), data)
			require.NoError(t, err)
			require.Len(t, parts, len(tt.want))
			for i, part := range parts {
				assert.Equal(t, tt.want[i], string(part.Data), "original bytes are carved")
				assert.Equal(t, tt.offsets[i], part.Meta["offset"])
			}
		})
	}
}
