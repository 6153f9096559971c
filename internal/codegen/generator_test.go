package codegen

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/couponbook/internal/apperr"
)

func TestGenerateDistinctCodes(t *testing.T) {
	g := New("")

	codes, err := g.Generate(500, "", 8, nil)
	require.NoError(t, err)
	require.Len(t, codes, 500)

	seen := map[string]bool{}
	for _, c := range codes {
		assert.Len(t, c, 8)
		assert.False(t, seen[c], "duplicate %s", c)
		seen[c] = true
		for _, r := range c {
			assert.True(t, strings.ContainsRune(DefaultCharset, r))
		}
	}
}

func TestGenerateAppliesPattern(t *testing.T) {
	g := New("")

	withPlaceholder, err := g.Generate(3, "SUMMER-{}-24", 5, nil)
	require.NoError(t, err)
	for _, c := range withPlaceholder {
		assert.True(t, strings.HasPrefix(c, "SUMMER-"))
		assert.True(t, strings.HasSuffix(c, "-24"))
		assert.Len(t, c, len("SUMMER--24")+5)
	}

	prefixOnly, err := g.Generate(3, "VIP", 4, nil)
	require.NoError(t, err)
	for _, c := range prefixOnly {
		assert.True(t, strings.HasPrefix(c, "VIP"))
		assert.Len(t, c, 7)
	}
}

func TestGenerateAvoidsExistingCodes(t *testing.T) {
	g := &Generator{charset: []byte("AB"), rand: bytes.NewReader([]byte{0, 0, 0, 1, 1, 0, 1, 1})}
	existing := map[string]struct{}{"AA": {}, "AB": {}, "BA": {}}

	codes, err := g.Generate(1, "", 2, existing)
	require.NoError(t, err)
	assert.Equal(t, []string{"BB"}, codes)
}

func TestGenerateFailsWhenSpaceIsTooSmall(t *testing.T) {
	g := New("AB")

	_, err := g.Generate(5, "", 2, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "could not generate 5 unique codes")
}

func TestGenerateRejectsBadArguments(t *testing.T) {
	g := New("")

	_, err := g.Generate(0, "", 8, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = g.Generate(1, "", 0, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestRandomStringRejectsBiasedBytes(t *testing.T) {
	// 36 symbols: bytes >= 252 are biased and must be skipped.
	g := &Generator{charset: []byte(DefaultCharset), rand: bytes.NewReader([]byte{255, 252, 0, 1, 27, 99})}

	s, err := g.randomString(3)
	require.NoError(t, err)
	assert.Equal(t, "AB1", s)
}

func TestValidatePattern(t *testing.T) {
	assert.True(t, ValidatePattern(""))
	assert.True(t, ValidatePattern("SUMMER_2024-{}"))
	assert.False(t, ValidatePattern("bad pattern"))
	assert.False(t, ValidatePattern("promo!{}"))
	assert.False(t, ValidatePattern(strings.Repeat("A", 41)))
	assert.True(t, ValidatePattern(strings.Repeat("A", 40)))
}

func TestCodeLength(t *testing.T) {
	assert.Equal(t, 8, CodeLength("", 8))
	assert.Equal(t, 15, CodeLength("SUMMER-{}", 8))
	assert.Equal(t, 14, CodeLength("PROMO-", 8))
}
