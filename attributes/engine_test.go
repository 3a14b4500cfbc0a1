package attributes

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mintTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestInitialize(t *testing.T) {
	a := Initialize(1, mintTime)
	b := Initialize(1, mintTime)

	assert.Equal(t, a, b)
	assert.Equal(t, uint64(1), a.Level)
	assert.Regexp(t, `^#[0-9a-f]{6}$`, a.Color)
	assert.Equal(t, mintTime, a.CreatedAt)

	assert.NotEqual(t, a.Color, Initialize(2, mintTime).Color)
	assert.NotEqual(t, a.Color, Initialize(1, mintTime.Add(time.Second)).Color)
}

func TestLevelUp(t *testing.T) {
	s := Initialize(7, mintTime)
	up := LevelUp(s)

	assert.Equal(t, uint64(2), up.Level)
	assert.Equal(t, s.Color, up.Color)
	assert.Equal(t, s.CreatedAt, up.CreatedAt)
	assert.Equal(t, uint64(1), s.Level, "input must not be mutated")
}

func TestRender(t *testing.T) {
	s := Initialize(3, mintTime)

	t.Run("stable", func(t *testing.T) {
		now := mintTime.Add(49 * time.Hour)
		first := Render(s, now)
		if diff := cmp.Diff(first, Render(s, now)); diff != "" {
			t.Fatalf("render not deterministic (-first +second):\n%s", diff)
		}
		want := Descriptor{Level: 1, Color: s.Color, AgeDays: 2, Rotation: 30, Size: 50, Label: "Lv.1"}
		if diff := cmp.Diff(want, first); diff != "" {
			t.Fatalf("unexpected descriptor (-want +got):\n%s", diff)
		}
	})

	t.Run("rotation wraps", func(t *testing.T) {
		d := Render(s, mintTime.Add(25*24*time.Hour))
		assert.Equal(t, uint64(25*15%360), d.Rotation)
		assert.Less(t, d.Rotation, uint64(360))
	})

	t.Run("clock before mint", func(t *testing.T) {
		d := Render(s, mintTime.Add(-time.Hour))
		assert.Zero(t, d.AgeDays)
		assert.Zero(t, d.Rotation)
	})

	t.Run("size grows with level", func(t *testing.T) {
		prev := Render(s, mintTime).Size
		for i := 0; i < 20; i++ {
			s = LevelUp(s)
			size := Render(s, mintTime).Size
			assert.Greater(t, size, prev)
			prev = size
		}
	})
}

func TestMetadataURI(t *testing.T) {
	s := Initialize(1, mintTime)
	doc := Document("Dynamic SVG NFT", 1, Render(s, mintTime))

	uri, err := doc.URI()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, jsonURIPrefix))

	raw, err := base64.StdEncoding.DecodeString(strings.SplitN(uri, ",", 2)[1])
	require.NoError(t, err)

	var decoded struct {
		Name       string `json:"name"`
		Image      string `json:"image"`
		Attributes []struct {
			TraitType string `json:"trait_type"`
		} `json:"attributes"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "Dynamic SVG NFT #1", decoded.Name)
	assert.True(t, strings.HasPrefix(decoded.Image, svgURIPrefix))

	var names []string
	for _, a := range decoded.Attributes {
		names = append(names, a.TraitType)
	}
	assert.Equal(t, []string{"Level", "Color", "Days Since Mint", "Rotation", "Size"}, names)

	svg, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(decoded.Image, svgURIPrefix))
	require.NoError(t, err)
	assert.Contains(t, string(svg), s.Color)
	assert.Contains(t, string(svg), "Lv.1")
}
