package main

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/crossyield/internal/model"
)

func TestParseToken(t *testing.T) {
	t.Run("missing parameter", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/yield", nil)
		_, err := parseToken(r)
		assert.Error(t, err)
	})

	t.Run("label", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/yield?token=WETH", nil)
		token, err := parseToken(r)
		require.NoError(t, err)
		assert.Equal(t, model.NamedTokenID("WETH"), token)
	})

	t.Run("hex id", func(t *testing.T) {
		want := model.NamedTokenID("WETH")
		r := httptest.NewRequest("GET", "/yield?token="+want.Hex(), nil)
		token, err := parseToken(r)
		require.NoError(t, err)
		assert.Equal(t, want, token)
	})

	t.Run("64 chars of non-hex falls back to label error", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/yield?token="+strings.Repeat("z", 64), nil)
		_, err := parseToken(r)
		assert.Error(t, err)
	})

	t.Run("label too long", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/yield?token="+strings.Repeat("a", 40), nil)
		_, err := parseToken(r)
		assert.Error(t, err)
	})
}

func TestParseTokenAndSource(t *testing.T) {
	r := httptest.NewRequest("POST", "/pause?token=WETH&source=local", nil)
	token, src, err := parseTokenAndSource(r)
	require.NoError(t, err)
	assert.Equal(t, model.NamedTokenID("WETH"), token)
	assert.Equal(t, model.SourceLocal, src)

	r = httptest.NewRequest("POST", "/pause?token=WETH&source=remote", nil)
	_, src, err = parseTokenAndSource(r)
	require.NoError(t, err)
	assert.Equal(t, model.SourceRemote, src)

	r = httptest.NewRequest("POST", "/pause?token=WETH&source=bogus", nil)
	_, _, err = parseTokenAndSource(r)
	assert.Error(t, err)
}
