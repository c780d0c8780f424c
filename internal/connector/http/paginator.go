package http

import (
	"encoding/json"
	"net/url"
	"strconv"
)

// =============================================================================
// PAGINATION
// =============================================================================

// OffsetPaginator walks offset/limit style REST pagination (Jira search,
// Confluence content listings).
type OffsetPaginator struct {
	Path       string
	Limit      int
	Offset     int
	OffsetKey  string // query param name (default: "startAt")
	LimitKey   string // query param name (default: "maxResults")
	TotalKey   string // JSON key for the total count (default: "total")
	ResultsKey string // JSON key for the results array (default: "values")

	total   int
	fetched int
}

// NewOffsetPaginator creates an offset-based paginator.
func NewOffsetPaginator(path string, limit int) *OffsetPaginator {
	return &OffsetPaginator{
		Path:       path,
		Limit:      limit,
		OffsetKey:  "startAt",
		LimitKey:   "maxResults",
		TotalKey:   "total",
		ResultsKey: "values",
	}
}

// PageRequest returns the request for the current offset.
func (p *OffsetPaginator) PageRequest() *Request {
	query := url.Values{}
	query.Set(p.OffsetKey, strconv.Itoa(p.Offset))
	query.Set(p.LimitKey, strconv.Itoa(p.Limit))
	return &Request{Method: "GET", Path: p.Path, Query: query}
}

// NextPage consumes one response and returns the next page request, or nil
// when the total has been fetched.
func (p *OffsetPaginator) NextPage(resp *Response) (*Request, error) {
	var data map[string]any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return nil, err
	}

	if total, ok := data[p.TotalKey]; ok {
		switch v := total.(type) {
		case float64:
			p.total = int(v)
		case int:
			p.total = v
		}
	}

	pageLen := 0
	if results, ok := data[p.ResultsKey].([]any); ok {
		pageLen = len(results)
	}
	p.fetched += pageLen

	// APIs that omit the total end pagination with a short page.
	if p.fetched >= p.total && (p.total > 0 || pageLen < p.Limit) {
		return nil, nil
	}

	p.Offset = p.fetched
	return p.PageRequest(), nil
}

// LinkPaginator follows an absolute next-page link embedded in responses
// (Microsoft Graph's @odata.nextLink).
type LinkPaginator struct {
	NextLinkKey string
}

// NextLink extracts the next-page URL from a response body, or "" when the
// listing is exhausted.
func (p *LinkPaginator) NextLink(resp *Response) (string, error) {
	var data map[string]any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		return "", err
	}
	key := p.NextLinkKey
	if key == "" {
		key = "@odata.nextLink"
	}
	if link, ok := data[key].(string); ok {
		return link, nil
	}
	return "", nil
}
