// Package api serves read-only run history next to /metrics while a crawl is
// in progress:
//   - GET /api/runs?limit=&offset= lists runs, newest first.
//   - GET /api/runs/{run_id} returns one run with its counters.
package api
