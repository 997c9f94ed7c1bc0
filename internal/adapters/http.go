package adapters

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"kin-go/internal/kin"
)

// maxFeedPages stops a feed that keeps returning cursors.
const maxFeedPages = 1000

// HTTPAdapter pulls observations from a JSON feed:
//
//	GET <base>/observations?since=<RFC3339>&cursor=<c>
//	-> {"observations": [Record...], "next_cursor": "..."}
//
// Per-person refresh queries the same endpoint with email= and phone=.
// Retries are left to the orchestrator.
type HTTPAdapter struct {
	base
	client *resty.Client
}

var (
	_ kin.Adapter       = (*HTTPAdapter)(nil)
	_ kin.PersonFetcher = (*HTTPAdapter)(nil)
)

type feedPage struct {
	Observations []Record `json:"observations"`
	NextCursor   string   `json:"next_cursor"`
}

type feedError struct {
	Error string `json:"error"`
}

// NewHTTPAdapter creates an HTTPAdapter for the feed at baseURL. An empty
// token sends no Authorization header.
func NewHTTPAdapter(name string, phase int, baseURL, token string, sourceType kin.SourceType, filter *SenderFilter, region string, logger kin.Logger) *HTTPAdapter {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "kin")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPAdapter{
		base:   base{name: name, phase: phase, sourceType: sourceType, filter: filter, region: region, logger: logger},
		client: client,
	}
}

// Fetch pages through the feed. On failure it returns the pages already read.
func (a *HTTPAdapter) Fetch(ctx context.Context, since time.Time) ([]kin.Observation, error) {
	params := url.Values{}
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339))
	}
	return a.fetch(ctx, params, since)
}

// FetchForPerson asks the feed for observations carrying the person's
// identifiers. A person with no identifiers yields nothing.
func (a *HTTPAdapter) FetchForPerson(ctx context.Context, p *kin.PersonEntity) ([]kin.Observation, error) {
	if len(p.Emails) == 0 && len(p.PhoneNumbers) == 0 {
		return nil, nil
	}
	params := url.Values{}
	for _, e := range p.Emails {
		params.Add("email", e)
	}
	for _, ph := range p.PhoneNumbers {
		params.Add("phone", ph)
	}
	obs, err := a.fetch(ctx, params, time.Time{})
	if err != nil {
		return obs, err
	}
	out := obs[:0]
	for _, o := range obs {
		if a.mentions(o, p) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (a *HTTPAdapter) fetch(ctx context.Context, params url.Values, since time.Time) ([]kin.Observation, error) {
	var (
		out    []kin.Observation
		cursor string
	)
	for pageNo := 0; pageNo < maxFeedPages; pageNo++ {
		q := url.Values{}
		for k, v := range params {
			q[k] = v
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var page feedPage
		var ferr feedError
		resp, err := a.client.R().
			SetContext(ctx).
			SetQueryParamsFromValues(q).
			SetResult(&page).
			SetError(&ferr).
			Get("/observations")
		if err != nil {
			return out, fmt.Errorf("fetching %s page %d: %w", a.name, pageNo+1, err)
		}
		if resp.IsError() {
			msg := ferr.Error
			if msg == "" {
				msg = resp.Status()
			}
			return out, fmt.Errorf("fetching %s page %d: status %d: %s", a.name, pageNo+1, resp.StatusCode(), msg)
		}

		for _, rec := range page.Observations {
			if obs, ok := a.accept(rec, since); ok {
				out = append(out, obs)
			}
		}
		a.logger.Debug("feed page fetched", "adapter", a.name, "page", pageNo+1, "records", len(page.Observations))
		if page.NextCursor == "" || page.NextCursor == cursor {
			return out, nil
		}
		cursor = page.NextCursor
	}
	a.logger.Warn("feed page limit reached", "adapter", a.name, "pages", maxFeedPages)
	return out, nil
}
