package facade

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/tools/duckduckgo"
	"golang.org/x/sync/errgroup"
)

// Searcher is the web-search facade used by pipeline steps.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// DuckDuckGo is a Searcher backed by the DuckDuckGo HTML endpoint.
type DuckDuckGo struct {
	tool *duckduckgo.Tool
}

var _ Searcher = (*DuckDuckGo)(nil)

// NewDuckDuckGo creates a Searcher returning up to maxResults results
// per query.
func NewDuckDuckGo(maxResults int) (*DuckDuckGo, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	tool, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearch, err)
	}
	return &DuckDuckGo{tool: tool}, nil
}

func (d *DuckDuckGo) Search(ctx context.Context, query string) (string, error) {
	res, err := d.tool.Call(ctx, query)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSearch, err)
	}
	return res, nil
}

// QueryResult is the outcome of a single query in a fan-out batch.
// Failed queries carry their error text instead of failing the batch;
// downstream consumers see which queries degraded.
type QueryResult struct {
	Query  string `json:"query"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// FanOut runs all queries concurrently against s, at most limit at a
// time, and returns one result per query in input order. Individual
// query failures are captured per-result; FanOut itself only stops early
// when ctx is cancelled.
func FanOut(ctx context.Context, s Searcher, queries []string, limit int) []QueryResult {
	results := make([]QueryResult, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, q := range queries {
		g.Go(func() error {
			results[i] = runQuery(gctx, s, q)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

func runQuery(ctx context.Context, s Searcher, query string) QueryResult {
	res, err := s.Search(ctx, query)
	if err != nil {
		return QueryResult{Query: query, Error: err.Error()}
	}
	return QueryResult{Query: query, Result: res}
}
