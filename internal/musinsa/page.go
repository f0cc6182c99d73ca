package musinsa

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/musinsa-manager/internal/browser/remote"
)

type pageResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// pageFetch runs fetch() in the page with the tab's own cookies. Network failures inside the
// page reject the promise and surface as script exceptions.
var pageFetch = remote.New[Request, pageResult]("site_fetch", `async (req) => {
  const init = { method: req.method || 'GET', credentials: 'include', headers: req.headers || {} };
  if (req.body) init.body = req.body;
  const res = await fetch(req.url, init);
  const body = await res.text();
  return { status: res.status, body };
}`)

// PageFetcher performs requests from inside a browser tab, so they carry the tab's session
// cookies and origin exactly like the site's own scripts.
type PageFetcher struct {
	ev remote.Evaluator
}

// NewPageFetcher binds a fetcher to a tab.
func NewPageFetcher(ev remote.Evaluator) *PageFetcher {
	return &PageFetcher{ev: ev}
}

// Do implements Doer. Script failures are returned as *remote.Error so callers can map
// them to window_missing or exception.
func (p *PageFetcher) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = "GET"
	}
	res, err := pageFetch.Run(ctx, p.ev, req)
	if err != nil {
		return nil, fmt.Errorf("musinsa: in-page %s %s: %w", req.Method, req.URL, err)
	}
	return &Response{Status: res.Status, Body: []byte(res.Body)}, nil
}
