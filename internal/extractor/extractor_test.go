package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marketscout/crawler/internal/pipeline"
)

const listingHTML = `<html><body>
<h1>Bright two bedroom flat</h1>
<div class="price-box">€ 320,000</div>
<div class="description">Recently renovated, close to the river.</div>
<address class="location">Lisbon, Alvalade</address>
<ul class="params">
  <li>2 bedrooms</li>
  <li>74 m²</li>
  <li></li>
</ul>
<div class="gallery">
  <img src="/img/1.jpg">
  <img src="/img/1.jpg">
  <img data-src="/img/2.jpg">
</div>
<div class="contact-card">Maria, +351 000 000 000</div>
</body></html>`

func TestExtractFullListing(t *testing.T) {
	t.Parallel()

	e := New(Selectors{})
	record, hints, err := e.Extract(pipeline.Page{
		URL:  "https://example.com/v/flat-1",
		Body: []byte(listingHTML),
	})
	require.NoError(t, err)

	require.Equal(t, "Bright two bedroom flat", record["title"])
	require.Equal(t, "€ 320,000", record["price"])
	require.Equal(t, "Lisbon, Alvalade", record["locality"])
	require.Equal(t, "https://example.com/v/flat-1", record["url"])
	require.Equal(t, []string{"2 bedrooms", "74 m²"}, record["attributes"])
	require.Equal(t, []string{"/img/1.jpg", "/img/2.jpg"}, record["images"])

	require.Equal(t, 7, hints.SelectorHits)
	require.InDelta(t, 1.0, hints.Confidence, 1e-9)
}

func TestExtractPartialListingReportsLowerConfidence(t *testing.T) {
	t.Parallel()

	e := New(Selectors{})
	record, hints, err := e.Extract(pipeline.Page{
		URL:  "https://example.com/v/flat-2",
		Body: []byte(`<html><body><h1>Plot of land</h1></body></html>`),
	})
	require.NoError(t, err)
	require.Equal(t, "Plot of land", record["title"])
	require.Equal(t, 1, hints.SelectorHits)
	require.Less(t, hints.Confidence, 0.5)
}

func TestExtractEmptyPageFails(t *testing.T) {
	t.Parallel()

	e := New(Selectors{})
	_, _, err := e.Extract(pipeline.Page{
		URL:  "https://example.com/v/flat-3",
		Body: []byte(`<html><body><p>nothing here</p></body></html>`),
	})
	require.ErrorIs(t, err, ErrNoContent)
}

func TestExtractPrefersFinalURL(t *testing.T) {
	t.Parallel()

	e := New(Selectors{})
	record, _, err := e.Extract(pipeline.Page{
		URL:      "https://example.com/v/old",
		FinalURL: "https://example.com/v/new",
		Body:     []byte(`<html><body><h1>Moved listing</h1></body></html>`),
	})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/v/new", record["url"])
}

func TestExtractCustomSelectorOverride(t *testing.T) {
	t.Parallel()

	e := New(Selectors{Title: ".headline"})
	record, _, err := e.Extract(pipeline.Page{
		URL:  "https://example.com/v/flat-4",
		Body: []byte(`<html><body><h1>wrong</h1><div class="headline">right</div></body></html>`),
	})
	require.NoError(t, err)
	require.Equal(t, "right", record["title"])
}
