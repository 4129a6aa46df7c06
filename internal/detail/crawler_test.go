package detail

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/browser/static"
	"github.com/JakeFAU/directory-crawler/internal/dataset"
	"github.com/JakeFAU/directory-crawler/internal/extract"
	"github.com/JakeFAU/directory-crawler/internal/listing"
	"github.com/JakeFAU/directory-crawler/internal/record"
	"github.com/JakeFAU/directory-crawler/internal/schema"
	"github.com/JakeFAU/directory-crawler/internal/throttle"
)

const drA = "https://drlogy.com/rajkot/doctor/dr-a"

const detailPage = `<html><body>
<h1>Dr. A Mehta</h1>
<section><h2>Specialization</h2><ul><li>Cardiology</li><li>Internal Medicine</li></ul></section>
<section><h2>Languages spoken</h2><ul><li>English</li><li>Gujarati</li></ul></section>
<section><h2>Education</h2><ul><li>MBBS - PDU Medical College</li></ul></section>
<section><h2>Registrations</h2><ul><li>G-12345 Gujarat Medical Council</li></ul></section>
<section><h2>Experience</h2><ul><li>2010 - Present Civil Hospital</li></ul></section>
<section><h2>Memberships</h2><p>Indian Medical Association</p></section>
<section><h2>Clinic Fees</h2><div>₹ 500</div></section>
<section><h2>Clinic Timing</h2><div>Mon - Sat 10:00 AM - 1:00 PM</div></section>
</body></html>`

const servicesPage = `<html><body>
<h2>Services</h2><ul><li>ECG</li><li>Echo</li></ul><ul><li>not this one</li></ul>
</body></html>`

func fixtures() static.MapLoader {
	return static.MapLoader{
		drA:               detailPage,
		drA + "/services": servicesPage,
	}
}

// faultyEngine fails or panics on queries mentioning trigger.
type faultyEngine struct {
	*static.Engine
	trigger string
	panics  bool
}

func (f *faultyEngine) FindElements(ctx context.Context, q browser.Query) ([]browser.Element, error) {
	if strings.Contains(q.Expr, f.trigger) {
		if f.panics {
			panic("memberships exploded")
		}
		return nil, errors.New("node detached")
	}
	return f.Engine.FindElements(ctx, q)
}

// cancelingEngine cancels the crawl when a query mentions trigger, the way
// an interrupt lands in the middle of a page.
type cancelingEngine struct {
	*static.Engine
	trigger string
	cancel  context.CancelFunc
}

func (c *cancelingEngine) FindElements(ctx context.Context, q browser.Query) ([]browser.Element, error) {
	if strings.Contains(q.Expr, c.trigger) {
		c.cancel()
		return nil, ctx.Err()
	}
	return c.Engine.FindElements(ctx, q)
}

type missingLog struct {
	mu     sync.Mutex
	fields []string
}

func (m *missingLog) observe(_, field string, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fields = append(m.fields, field)
}

func newCrawler(engine browser.Engine, cfg Config, rec *throttle.Recorder) *Crawler {
	return New(engine, extract.New(nil), rec, schema.Default().Detail, cfg, nil)
}

// firstWrite merges rec into an empty dataset with the detail defaults, as a
// crawl does for an entity it has not stored before.
func firstWrite(t *testing.T, rec *record.Record) *record.Record {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doctors_data.json")
	m := dataset.New(nil, nil, dataset.WithDefaults(schema.Default().Detail.Template()))
	_, err := m.Merge(context.Background(), path, []*record.Record{rec})
	require.NoError(t, err)
	records, err := dataset.Load(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
	return records[0]
}

func TestCrawlDetailFullRecord(t *testing.T) {
	t.Parallel()

	rec := &throttle.Recorder{}
	cfg := Config{ServicesSettle: 2 * time.Second}
	got := newCrawler(static.New(fixtures()), cfg, rec).CrawlDetail(context.Background(), listing.EntityReference{URL: drA})

	assert.Equal(t, []string{
		"name", "specialization", "languages_spoken", "education", "registrations",
		"experience", "memberships", "clinic_fees", "timing", "services",
	}, got.Fields())

	name, ok := got.Key()
	require.True(t, ok)
	assert.Equal(t, "Dr. A Mehta", name)

	spec, _ := got.Get("specialization")
	assert.Equal(t, []string{"Cardiology", "Internal Medicine"}, spec.Items())
	memberships, _ := got.Get("memberships")
	assert.Equal(t, []string{"Indian Medical Association"}, memberships.Items())
	timing, _ := got.Get("timing")
	assert.Equal(t, []string{"Mon - Sat 10:00 AM - 1:00 PM"}, timing.Items())
	services, _ := got.Get("services")
	assert.Equal(t, []string{"ECG", "Echo"}, services.Items())

	assert.Equal(t, []time.Duration{2 * time.Second}, rec.Delays)
}

func TestCrawlDetailIsolatesPanickingField(t *testing.T) {
	t.Parallel()

	engine := &faultyEngine{Engine: static.New(fixtures()), trigger: "Membership", panics: true}
	c := newCrawler(engine, Config{}, &throttle.Recorder{})
	missing := &missingLog{}
	c.OnFieldMissing(missing.observe)

	got := c.CrawlDetail(context.Background(), listing.EntityReference{URL: drA})

	assert.False(t, got.Has("memberships"))
	for _, field := range []string{"name", "specialization", "education", "clinic_fees", "timing", "services"} {
		assert.True(t, got.Has(field), field)
	}
	assert.Equal(t, []string{"memberships"}, missing.fields)

	memberships, ok := firstWrite(t, got).Get("memberships")
	require.True(t, ok)
	assert.Equal(t, record.KindList, memberships.Kind())
	assert.Empty(t, memberships.Items())
}

func TestCrawlDetailOmitsFaultedField(t *testing.T) {
	t.Parallel()

	engine := &faultyEngine{Engine: static.New(fixtures()), trigger: "Membership"}
	got := newCrawler(engine, Config{}, &throttle.Recorder{}).CrawlDetail(context.Background(), listing.EntityReference{URL: drA})

	assert.False(t, got.Has("memberships"))
	assert.True(t, got.Has("experience"))

	stored := firstWrite(t, got)
	memberships, ok := stored.Get("memberships")
	require.True(t, ok)
	assert.Empty(t, memberships.Items())
	experience, _ := stored.Get("experience")
	assert.Equal(t, []string{"2010 - Present Civil Hospital"}, experience.Items())
}

func TestCrawlDetailInterruptLeavesUnreadFieldsUnset(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine := &cancelingEngine{Engine: static.New(fixtures()), trigger: "Education", cancel: cancel}

	got := newCrawler(engine, Config{}, &throttle.Recorder{}).CrawlDetail(ctx, listing.EntityReference{URL: drA})

	assert.Equal(t, []string{"name", "specialization", "languages_spoken"}, got.Fields())
}

func TestCrawlDetailRecordsSentinelsForEmptySections(t *testing.T) {
	t.Parallel()

	loader := static.MapLoader{drA: `<html><body><h1>Dr. A Mehta</h1></body></html>`}
	c := newCrawler(static.New(loader), Config{ServicesMode: ServicesSamePage}, &throttle.Recorder{})
	missing := &missingLog{}
	c.OnFieldMissing(missing.observe)

	got := c.CrawlDetail(context.Background(), listing.EntityReference{URL: drA})
	require.Equal(t, 10, got.Len())
	for _, field := range got.Fields()[1:] {
		v, _ := got.Get(field)
		assert.Equal(t, record.KindList, v.Kind(), field)
		assert.Empty(t, v.Items(), field)
	}
	assert.Len(t, missing.fields, 9)
}

func TestCrawlDetailEmptyWhenNameNeverAppears(t *testing.T) {
	t.Parallel()

	loader := static.MapLoader{drA: `<html><body><h1>Clinic Directory</h1></body></html>`}
	got := newCrawler(static.New(loader), Config{}, &throttle.Recorder{}).CrawlDetail(context.Background(), listing.EntityReference{URL: drA})
	assert.Zero(t, got.Len())
}

func TestCrawlDetailEmptyOnNavigationFault(t *testing.T) {
	t.Parallel()

	got := newCrawler(static.New(static.MapLoader{}), Config{}, &throttle.Recorder{}).
		CrawlDetail(context.Background(), listing.EntityReference{URL: drA})
	assert.Zero(t, got.Len())
}

func TestServicesModes(t *testing.T) {
	t.Parallel()

	samePage := strings.Replace(detailPage, "</body>", "<h2>Services</h2><ul><li>Holter</li></ul></body>", 1)

	tests := []struct {
		name   string
		mode   ServicesMode
		loader static.MapLoader
		want   []string
		absent bool
	}{
		{"suffix", ServicesSuffix, fixtures(), []string{"ECG", "Echo"}, false},
		{"same page", ServicesSamePage, static.MapLoader{drA: samePage}, []string{"Holter"}, false},
		{"none", ServicesNone, fixtures(), nil, true},
		{"missing services page", ServicesSuffix, static.MapLoader{drA: detailPage}, nil, true},
		{"no heading", ServicesSuffix, static.MapLoader{drA: detailPage, drA + "/services": "<html><body></body></html>"}, []string{}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := newCrawler(static.New(tt.loader), Config{ServicesMode: tt.mode}, &throttle.Recorder{}).
				CrawlDetail(context.Background(), listing.EntityReference{URL: drA})
			require.True(t, got.Has("name"))
			if tt.absent {
				assert.False(t, got.Has("services"))
				services, ok := firstWrite(t, got).Get("services")
				require.True(t, ok)
				assert.Empty(t, services.Items())
				return
			}
			v, ok := got.Get("services")
			require.True(t, ok)
			assert.Equal(t, tt.want, v.Items())
		})
	}
}

func TestServicesURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, drA+"/services", ServicesURL(drA, "/services"))
	assert.Equal(t, drA+"/services", ServicesURL(drA+"//", "/services"))
}
