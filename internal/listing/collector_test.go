package listing

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/browser/static"
	"github.com/JakeFAU/directory-crawler/internal/extract"
	"github.com/JakeFAU/directory-crawler/internal/pager"
	"github.com/JakeFAU/directory-crawler/internal/record"
	"github.com/JakeFAU/directory-crawler/internal/schema"
	"github.com/JakeFAU/directory-crawler/internal/throttle"
)

const listingURL = "https://drlogy.com/rajkot/doctor"

const linksPage = `<html><body>
<a href="/rajkot/doctor/dr-a">Dr. A</a>
<a href="https://drlogy.com/rajkot/doctor/dr-a">Dr. A again</a>
<a href="/rajkot/doctor/dr-a">Dr. A thrice</a>
<a href="/rajkot/doctor/dr-b">Dr. B</a>
<a href="/rajkot/doctor/dr-b/services">Dr. B services</a>
<a href="/about">About</a>
</body></html>`

const cardsPage = `<html><body>
<div class="pc-doc-details"><h3 class="pc-dr-nmmm">Dr. A</h3><span class="hse-8">Alpha Clinic</span><span class="hp-576">₹ 300</span></div>
<div class="pc-doc-details"><span class="hse-8">No Name Clinic</span></div>
<div class="pc-doc-details"><h3 class="pc-dr-nmmm"> Dr. B </h3></div>
</body></html>`

// scrollable gives the static engine a script runtime whose page never grows.
type scrollable struct {
	*static.Engine
	evals int
}

func (s *scrollable) Evaluate(_ context.Context, _ string, out any) error {
	s.evals++
	*out.(*float64) = 1000
	return nil
}

func newCollector(engine browser.Engine, cfg Config, rec *throttle.Recorder) *Collector {
	if cfg.URL == "" {
		cfg.URL = listingURL
	}
	p := pager.New(engine, rec, pager.Config{}, nil)
	return New(engine, p, extract.New(nil), rec, schema.Default().Listing, cfg, nil)
}

func TestCollectReferencesDedupsInOrder(t *testing.T) {
	t.Parallel()

	engine := static.New(static.MapLoader{listingURL: linksPage})
	cfg := Config{LinkPattern: regexp.MustCompile(`/rajkot/doctor/[^/]+/?$`)}
	refs, err := newCollector(engine, cfg, &throttle.Recorder{}).CollectReferences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []EntityReference{
		{URL: "https://drlogy.com/rajkot/doctor/dr-a"},
		{URL: "https://drlogy.com/rajkot/doctor/dr-b"},
	}, refs)
}

func TestCollectReferencesWithoutPattern(t *testing.T) {
	t.Parallel()

	engine := static.New(static.MapLoader{listingURL: linksPage})
	refs, err := newCollector(engine, Config{}, &throttle.Recorder{}).CollectReferences(context.Background())
	require.NoError(t, err)
	assert.Len(t, refs, 3, "the services sub-link survives without a pattern")
}

func TestCollectScrollsAndSettles(t *testing.T) {
	t.Parallel()

	engine := &scrollable{Engine: static.New(static.MapLoader{listingURL: linksPage})}
	rec := &throttle.Recorder{}
	cfg := Config{SettleDelay: 5 * time.Second, ScrollPause: 3 * time.Second}
	refs, err := newCollector(engine, cfg, rec).CollectReferences(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, refs)
	assert.Equal(t, 3, engine.evals, "measure, scroll, re-measure")
	assert.Equal(t, []time.Duration{5 * time.Second, 3 * time.Second}, rec.Delays)
}

func TestCollectTimeoutReturnsEmpty(t *testing.T) {
	t.Parallel()

	engine := static.New(static.MapLoader{listingURL: `<html><body><p>loading</p></body></html>`})
	c := newCollector(engine, Config{}, &throttle.Recorder{})

	refs, err := c.CollectReferences(context.Background())
	require.NoError(t, err)
	assert.Empty(t, refs)

	records, err := c.CollectRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestCollectNavigationFaultIsFatal(t *testing.T) {
	t.Parallel()

	engine := static.New(static.MapLoader{})
	_, err := newCollector(engine, Config{}, &throttle.Recorder{}).CollectReferences(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, static.ErrNotFound))
}

func TestCollectRecordsSkipsNamelessCards(t *testing.T) {
	t.Parallel()

	engine := static.New(static.MapLoader{listingURL: cardsPage})
	records, err := newCollector(engine, Config{}, &throttle.Recorder{}).CollectRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	name, ok := records[0].Key()
	require.True(t, ok)
	assert.Equal(t, "Dr. A", name)
	clinic, _ := records[0].Get("clinic")
	assert.Equal(t, "Alpha Clinic", clinic.Text())
	fee, _ := records[0].Get("fee")
	assert.Equal(t, "₹ 300", fee.Text())

	name, _ = records[1].Key()
	assert.Equal(t, "Dr. B", name)
	qual, ok := records[1].Get("qualification")
	require.True(t, ok)
	assert.Equal(t, record.KindUnspecified, qual.Kind())
	assert.Equal(t, []string{"name", "qualification", "specialty", "experience", "clinic", "location", "fee"}, records[1].Fields())
}

func TestResolve(t *testing.T) {
	t.Parallel()

	base := mustParse(t, listingURL)
	assert.Equal(t, "https://drlogy.com/rajkot/doctor/x", resolve(base, "/rajkot/doctor/x"))
	assert.Equal(t, "https://drlogy.com/rajkot/doctor/x", resolve(base, " https://drlogy.com/rajkot/doctor/x "))
	assert.Empty(t, resolve(base, "#top"))
	assert.Empty(t, resolve(base, "javascript:void(0)"))
	assert.Empty(t, resolve(base, ""))
}
