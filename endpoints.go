package domguard

import (
	"context"
	"fmt"

	"github.com/hazyhaar/domguard/idgen"
	"github.com/hazyhaar/domguard/kit"
)

type guardRequest struct {
	ID           string `json:"id"`
	URL          string `json:"url"`
	StealthLevel string `json:"stealth_level,omitempty"`
}

type navigateRequest struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type releaseRequest struct {
	ID string `json:"id"`
}

type eventsRequest struct {
	PageID string `json:"page_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type statusRequest struct{}

func (r *guardRequest) PageRef() string    { return r.ID }
func (r *navigateRequest) PageRef() string { return r.ID }
func (r *releaseRequest) PageRef() string  { return r.ID }
func (r *eventsRequest) PageRef() string   { return r.PageID }

// endpoints are the control operations shared by HTTP and MCP.
type endpoints struct {
	status, guard, navigate, release, events kit.Endpoint
}

func (g *Guard) endpoints() endpoints {
	wrap := func(name string, e kit.Endpoint) kit.Endpoint {
		return kit.Logging(g.logger, name)(e)
	}
	return endpoints{
		status: wrap("status", func(context.Context, any) (any, error) {
			return g.Status(), nil
		}),
		guard: wrap("guard_page", func(ctx context.Context, req any) (any, error) {
			r := req.(*guardRequest)
			if r.URL == "" {
				return nil, fmt.Errorf("url is required")
			}
			if r.ID == "" {
				r.ID = idgen.Page()
			}
			p := PageConfig{ID: r.ID, URL: r.URL, StealthLevel: r.StealthLevel}
			if err := g.GuardPage(ctx, p); err != nil {
				return nil, err
			}
			return map[string]string{"status": "guarding", "id": r.ID}, nil
		}),
		navigate: wrap("navigate", func(ctx context.Context, req any) (any, error) {
			r := req.(*navigateRequest)
			if r.ID == "" || r.URL == "" {
				return nil, fmt.Errorf("id and url are required")
			}
			if err := g.Navigate(ctx, r.ID, r.URL); err != nil {
				return nil, err
			}
			return map[string]string{"status": "navigated", "id": r.ID}, nil
		}),
		release: wrap("release", func(_ context.Context, req any) (any, error) {
			r := req.(*releaseRequest)
			if err := g.Release(r.ID); err != nil {
				return nil, err
			}
			return map[string]string{"status": "released", "id": r.ID}, nil
		}),
		events: wrap("events", func(ctx context.Context, req any) (any, error) {
			r := req.(*eventsRequest)
			evs, err := g.Events(ctx, r.PageID, r.Limit)
			if err != nil {
				return nil, err
			}
			if evs == nil {
				evs = []Event{}
			}
			return evs, nil
		}),
	}
}
