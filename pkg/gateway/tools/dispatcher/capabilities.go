package dispatcher

import (
	"context"
	"time"
)

// The dispatcher reaches the rest of the marketplace only through these
// narrow capabilities. A nil capability makes its tool report "not available".

type JobSearcher interface {
	SearchJobs(ctx context.Context, q JobQuery) ([]Job, error)
}

type ProviderSearcher interface {
	SearchProviders(ctx context.Context, q ProviderQuery) ([]Provider, error)
}

type ProfileUpdater interface {
	SaveCV(ctx context.Context, userID string, cv CV) (CV, error)
}

type LocationLister interface {
	ServiceLocations(ctx context.Context, serviceSlug string) ([]ServiceLocation, error)
}

type Capabilities struct {
	Jobs      JobSearcher
	Providers ProviderSearcher
	Profiles  ProfileUpdater
	Locations LocationLister
}

type JobQuery struct {
	Search   string
	Location string
	Limit    int
}

type Job struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Company  string    `json:"company,omitempty"`
	City     string    `json:"city,omitempty"`
	Summary  string    `json:"summary,omitempty"`
	PostedAt time.Time `json:"postedAt"`
}

type ProviderQuery struct {
	ServiceSlug string
	Location    string
	Limit       int
}

type Provider struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ServiceSlug string  `json:"serviceSlug"`
	City        string  `json:"city,omitempty"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"reviewCount"`
}

type ServiceLocation struct {
	ServiceSlug   string `json:"serviceSlug"`
	City          string `json:"city"`
	ProviderCount int    `json:"providerCount"`
}

type CV struct {
	Headline string   `json:"headline"`
	Summary  string   `json:"summary,omitempty"`
	Location string   `json:"location,omitempty"`
	Skills   []string `json:"skills,omitempty"`
}
