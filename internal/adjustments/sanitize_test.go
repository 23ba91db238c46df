package adjustments

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

const testPrefix = "7725780"

func TestSanitizeItemRefCleanInput(t *testing.T) {
	ref, err := SanitizeItemRef("7725780000001234", testPrefix)
	require.NoError(t, err)
	require.Equal(t, "7725780000001234", ref)
}

func TestSanitizeItemRefTrimsWhitespace(t *testing.T) {
	ref, err := SanitizeItemRef("  7725780000001234 \n", testPrefix)
	require.NoError(t, err)
	require.Equal(t, "7725780000001234", ref)
}

func TestSanitizeItemRefConcatenatedScansFirstWins(t *testing.T) {
	ref, err := SanitizeItemRef("7725780000001234\t7725780000005678", testPrefix)
	require.NoError(t, err)
	require.Equal(t, "7725780000001234", ref)
}

func TestSanitizeItemRefMultipleSpacesSplit(t *testing.T) {
	ref, err := SanitizeItemRef("garbage  7725780000005678  more", testPrefix)
	require.NoError(t, err)
	require.Equal(t, "7725780000005678", ref)
}

func TestSanitizeItemRefNewlineGarbage(t *testing.T) {
	ref, err := SanitizeItemRef("scan error\n7725780000001234\nretry", testPrefix)
	require.NoError(t, err)
	require.Equal(t, "7725780000001234", ref)
}

func TestSanitizeItemRefDigitStripFallback(t *testing.T) {
	// No single token qualifies, but the whole input stripped to digits is
	// long enough.
	ref, err := SanitizeItemRef("7725780-0000-01234", testPrefix)
	require.NoError(t, err)
	require.Equal(t, "7725780000001234", ref)
}

func TestSanitizeItemRefRejectsShortInput(t *testing.T) {
	_, err := SanitizeItemRef("12345", testPrefix)
	require.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestSanitizeItemRefRejectsEmpty(t *testing.T) {
	_, err := SanitizeItemRef("   ", testPrefix)
	require.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestSanitizeItemRefWrongPrefixFallsBackToDigits(t *testing.T) {
	// The fallback accepts any all-digit input of plausible length even
	// outside the prefix namespace; the remote lookup rejects unknown ids.
	ref, err := SanitizeItemRef("9915780000001234", testPrefix)
	require.NoError(t, err)
	require.Equal(t, "9915780000001234", ref)
}

func TestSanitizeItemRefRejectsAlphaTokens(t *testing.T) {
	_, err := SanitizeItemRef("ITEM-ABCDEFGH-XYZ", testPrefix)
	require.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestSanitizeItemRefFoldsFullWidthDigits(t *testing.T) {
	// Full-width digits from a misconfigured scanner keyboard layout.
	ref, err := SanitizeItemRef("７７２５７８０000001234", testPrefix)
	require.NoError(t, err)
	require.Equal(t, "7725780000001234", ref)
}

func TestSanitizeItemRefTruncatesLongInputInError(t *testing.T) {
	_, err := SanitizeItemRef(strings.Repeat("x", 500), testPrefix)
	require.ErrorIs(t, err, ErrInvalidIdentifier)
	require.Less(t, len(err.Error()), 200)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	// "棚" is three bytes; a 50-byte cut of a pure CJK string would land
	// mid-rune, so truncate must back off to the previous boundary.
	got := truncate(strings.Repeat("棚", 40), 50)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, strings.Repeat("棚", 16)+"...", got)

	// Errors quoting a garbled label stay printable end to end.
	_, err := SanitizeItemRef(strings.Repeat("棚", 40), testPrefix)
	require.ErrorIs(t, err, ErrInvalidIdentifier)
	require.NotContains(t, err.Error(), `\x`)
}

func TestSanitizeItemRefEmptyPrefixAcceptsAnyNumeric(t *testing.T) {
	ref, err := SanitizeItemRef("999999999999999", "")
	require.NoError(t, err)
	require.Equal(t, "999999999999999", ref)
}
