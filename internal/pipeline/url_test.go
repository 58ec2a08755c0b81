package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL_StripsTrackingAndCaseFolds(t *testing.T) {
	t.Parallel()

	got, err := NormalizeURL("HTTPS://Example.COM:443/v/Listing-123/?utm_source=mail&b=2&a=1&gclid=xyz#photos")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/v/Listing-123?a=1&b=2", got)
}

func TestNormalizeURL_KeepsMeaningfulQuery(t *testing.T) {
	t.Parallel()

	got, err := NormalizeURL("http://example.com:80/listing?id=42&utm_campaign=x")
	require.NoError(t, err)
	require.Equal(t, "http://example.com/listing?id=42", got)
}

func TestNormalizeURL_RejectsRelative(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("/v/listing-123")
	require.Error(t, err)
}

func TestHashURL_StableAcrossEquivalentForms(t *testing.T) {
	t.Parallel()

	a, err := NormalizeURL("https://example.com/v/1?utm_medium=feed")
	require.NoError(t, err)
	b, err := NormalizeURL("HTTPS://EXAMPLE.com/v/1/")
	require.NoError(t, err)

	require.Equal(t, HashURL(a), HashURL(b))
	require.Len(t, HashURL(a), 64)
}
