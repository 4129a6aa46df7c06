package chrome

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/browser"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	assert.Equal(t, defaultNavigationTimeout, cfg.NavigationTimeout)
	assert.Equal(t, defaultQueryTimeout, cfg.QueryTimeout)

	cfg = Config{NavigationTimeout: time.Second, QueryTimeout: 2 * time.Second}.withDefaults()
	assert.Equal(t, time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 2*time.Second, cfg.QueryTimeout)
}

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	t.Parallel()

	base := len(Config{Headless: true}.allocatorOptions())
	full := len(Config{UserAgent: "ua", ExecPath: "/bin/chrome", WindowWidth: 800, WindowHeight: 600}.allocatorOptions())
	assert.Equal(t, base+5, full)
}

func TestAnchorXPath(t *testing.T) {
	t.Parallel()

	got, err := anchorXPath("/html[1]/body[1]/div[2]", "./ul/li")
	require.NoError(t, err)
	assert.Equal(t, "/html[1]/body[1]/div[2]/ul/li", got)

	got, err = anchorXPath("/html[1]/body[1]/div[2]", ".//span[@class='x']")
	require.NoError(t, err)
	assert.Equal(t, "/html[1]/body[1]/div[2]//span[@class='x']", got)

	_, err = anchorXPath("/html[1]", "//h1")
	require.Error(t, err)
}

func TestSelectorScopedXPathUsesFullPath(t *testing.T) {
	t.Parallel()

	doc := &cdp.Node{NodeID: 1, NodeType: cdp.NodeTypeDocument}
	html := &cdp.Node{NodeID: 2, LocalName: "html", Parent: doc}
	body := &cdp.Node{NodeID: 3, LocalName: "body", Parent: html}
	first := &cdp.Node{NodeID: 4, LocalName: "div", Parent: body}
	second := &cdp.Node{NodeID: 5, LocalName: "div", Parent: body}
	doc.Children = []*cdp.Node{html}
	html.Children = []*cdp.Node{body}
	body.Children = []*cdp.Node{first, second}

	sel, opts, err := selector(second, browser.XPath(".//a"))
	require.NoError(t, err)
	assert.Equal(t, "/html[1]/body[1]/div[2]//a", sel)
	assert.Len(t, opts, 1)

	_, opts, err = selector(second, browser.CSS("a"))
	require.NoError(t, err)
	assert.Len(t, opts, 2, "scoped css queries start from the node")

	_, _, err = selector(nil, browser.Query{Kind: "regex", Expr: "x"})
	require.Error(t, err)
}

func TestStatusClass(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unknown", statusClass(0))
	assert.Equal(t, "ok", statusClass(200))
	assert.Equal(t, "ok", statusClass(304))
	assert.Equal(t, "4xx", statusClass(404))
	assert.Equal(t, "5xx", statusClass(503))
}

func TestDocumentStatusIgnoresSubresources(t *testing.T) {
	t.Parallel()

	d := &documentStatus{}
	d.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404},
	})
	assert.Equal(t, 0, d.code())

	d.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200},
	})
	assert.Equal(t, 200, d.code())

	d.reset()
	assert.Equal(t, 0, d.code())
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation was not forwarded")
	}
}

const listingPage = `<!doctype html><html><body>
<h1>Dr. Jane Roe</h1>
<h2>Specializations</h2><ul><li>Cardiology</li><li>Medicine</li></ul>
<div class="card"><a href="/rajkot/doctor/dr-a">A</a></div>
<div class="card"><a href="/rajkot/doctor/dr-b">B</a></div>
<script>setTimeout(function(){ var d=document.createElement('p'); d.id='late'; d.textContent='late'; document.body.appendChild(d); }, 200);</script>
</body></html>`

func TestSessionAgainstRealChrome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingPage)
	}))
	defer srv.Close()

	s, err := New(Config{Headless: true, QueryTimeout: 5 * time.Second, NavigationTimeout: 10 * time.Second}, zap.NewNop())
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if err := s.Navigate(ctx, srv.URL); err != nil {
		t.Skipf("navigate failed: %v", err)
	}

	items, err := s.FindElements(ctx, browser.HeadingFollowing("h2", "Specializations", "ul/li"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	text, err := items[0].Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Cardiology", text)

	cards, err := s.FindElements(ctx, browser.CSS(".card"))
	require.NoError(t, err)
	require.Len(t, cards, 2)
	links, err := cards[1].FindElements(ctx, browser.XPath(".//a"))
	require.NoError(t, err)
	require.Len(t, links, 1)
	href, ok, err := links[0].Attribute(ctx, "href")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "/rajkot/doctor/dr-b", href)

	_, err = s.WaitForElement(ctx, browser.CSS("#late"), 3*time.Second)
	require.NoError(t, err)
	_, err = s.WaitForElement(ctx, browser.CSS("#never"), 300*time.Millisecond)
	require.ErrorIs(t, err, browser.ErrTimeout)

	var height float64
	require.NoError(t, s.Evaluate(ctx, "document.body.scrollHeight", &height))
	assert.Positive(t, height)
}
