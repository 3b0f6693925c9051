package relay

import (
	"testing"

	"relaymesh/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRelayListWrongKind(t *testing.T) {
	c := NewCodec(nil)

	_, err := c.ParseRelayList(types.Record{Kind: 1})

	require.ErrorIs(t, err, ErrFormat)
}

func TestParseRelayListMarkers(t *testing.T) {
	c := NewCodec(nil)

	tests := []struct {
		name  string
		tag   []string
		read  bool
		write bool
	}{
		{"no marker defaults to read+write", []string{"r", "wss://a.example"}, true, true},
		{"empty marker defaults to read+write", []string{"r", "wss://a.example", ""}, true, true},
		{"read marker", []string{"r", "wss://a.example", "read"}, true, false},
		{"write marker", []string{"r", "wss://a.example", "write"}, false, true},
		{"unknown marker coerced to read+write", []string{"r", "wss://a.example", "both"}, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := types.Record{Kind: types.KindRelayList, Tags: [][]string{tt.tag}}
			eps, err := c.ParseRelayList(rec)
			require.NoError(t, err)
			require.Len(t, eps, 1)
			assert.Equal(t, tt.read, eps[0].Read)
			assert.Equal(t, tt.write, eps[0].Write)
			assert.NoError(t, eps[0].Validate())
		})
	}
}

func TestParseRelayListSkipsAndDeduplicates(t *testing.T) {
	c := NewCodec(nil)

	rec := types.Record{
		Kind: types.KindRelayList,
		Tags: [][]string{
			{"r", "wss://a.example"},
			{"r", "WSS://A.EXAMPLE/"}, // same relay after normalization
			{"r", "::garbage::"},
			{"e", "wss://not-a-relay-tag.example"},
			{"r"}, // too short
			{"r", "b.example", "read"},
		},
	}

	eps, err := c.ParseRelayList(rec)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "wss://a.example", eps[0].URL)
	assert.Equal(t, "wss://b.example", eps[1].URL)
	assert.False(t, eps[1].Write)
}

func TestParsePrivateRelayList(t *testing.T) {
	c := NewCodec(nil)

	rec := types.Record{
		Kind: types.KindPrivateRelayList,
		Tags: [][]string{{"r", "wss://inbox.example"}},
	}

	eps, err := c.ParsePrivateRelayList(rec)
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "wss://inbox.example", eps[0].URL)

	// The general parser must reject the private kind.
	_, err = c.ParseRelayList(rec)
	assert.ErrorIs(t, err, ErrFormat)
}
