// Command dircrawl extracts doctor records from a directory site into a JSON
// dataset.
//
// Architecture overview:
//   - Browser: one page engine per process, either a Chrome session driven by
//     chromedp or a static engine that fetches with colly and queries parsed
//     HTML with goquery (CSS) and htmlquery (XPath). The static engine cannot
//     run scripts, so infinite-scroll listings only show their first page.
//   - Extraction: every field is a list of ordered strategies. The first one
//     that yields text wins; exhausted fields get the "Not specified" sentinel
//     or an empty list.
//   - Modes: listing reads the cards of the listing page; detail collects the
//     detail links of the listing and crawls each page plus its /services
//     sub-page; single crawls one detail page.
//   - Persistence: records are upserted by name into the dataset file, which
//     is replaced atomically. Optional exporters then copy the file to a local
//     directory or a GCS bucket, mirror records into Postgres and announce the
//     merge on Pub/Sub. Exporter failures are logged, never fatal.
//   - Observability: zap logs per entity and field, Prometheus collectors on an
//     optional /metrics endpoint or node-exporter textfile, and progress events
//     recorded per run in Postgres when configured.
//
// Configuration is read from dircrawl.yaml and DIRCRAWL_* variables, for
// example DIRCRAWL_MODE=single DIRCRAWL_SITE_ENTITY_URL=https://... .
//
//	dircrawl crawl --mode detail --headless
//	dircrawl inspect dataset data/doctors_data.json
package main
