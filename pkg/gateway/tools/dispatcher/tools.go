package dispatcher

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

const (
	ToolSearchJobs          = "search_jobs"
	ToolSearchProviders     = "search_providers"
	ToolSaveCVData          = "save_cv_data"
	ToolNavigateUser        = "navigate_user"
	ToolGetServiceLocations = "get_service_locations"
)

const searchLimit = 10

var errUnavailable = errors.New("capability is not available")

type toolSpec struct {
	name        string
	description string
	args        []argSpec
	run         func(ctx context.Context, d *Dispatcher, caller Caller, a args) (map[string]any, error)
}

func (d *Dispatcher) buildSpecs() []*toolSpec {
	return []*toolSpec{
		{
			name:        ToolSearchJobs,
			description: "Search open job listings by free-text query and optional city or district.",
			args: []argSpec{
				{name: "search", description: "Job title, skill or keyword", maxLen: 120},
				{name: "location", description: "City or district", maxLen: 80},
			},
			run: runSearchJobs,
		},
		{
			name:        ToolSearchProviders,
			description: "Search service providers by service slug (e.g. cleaning, plumbing) and optional city or district.",
			args: []argSpec{
				{name: "serviceSlug", description: "English service slug such as cleaning, plumbing, electrical, moving", maxLen: 60},
				{name: "location", description: "City or district", maxLen: 80},
			},
			run: runSearchProviders,
		},
		{
			name:        ToolSaveCVData,
			description: "Save CV details to the logged-in user's profile. Only headline is required.",
			args: []argSpec{
				{name: "headline", description: "Job title shown at the top of the CV", required: true, maxLen: 120},
				{name: "summary", description: "Short professional summary", maxLen: 1000},
				{name: "location", description: "City or district the user works in", maxLen: 80},
				{name: "skills", description: "List of skills", kind: kindStringList, maxLen: 60},
			},
			run: runSaveCV,
		},
		{
			name:        ToolNavigateUser,
			description: "Send the user to a page of the app.",
			args: []argSpec{
				{name: "page", description: "Target page", required: true, maxLen: 40, enum: d.pages},
				{name: "reason", description: "Short reason shown to the user", maxLen: 200},
			},
			run: runNavigate,
		},
		{
			name:        ToolGetServiceLocations,
			description: "List the cities where a service is offered, with provider counts.",
			args: []argSpec{
				{name: "serviceSlug", description: "English service slug; empty lists all services", maxLen: 60},
			},
			run: runServiceLocations,
		},
	}
}

func runSearchJobs(ctx context.Context, d *Dispatcher, _ Caller, a args) (map[string]any, error) {
	if d.caps.Jobs == nil {
		return nil, errUnavailable
	}
	jobs, err := d.caps.Jobs.SearchJobs(ctx, JobQuery{
		Search:   a.str("search"),
		Location: a.str("location"),
		Limit:    searchLimit,
	})
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []Job{}
	}
	return map[string]any{
		"jobs":     jobs,
		"count":    len(jobs),
		"search":   a.str("search"),
		"location": a.str("location"),
	}, nil
}

func runSearchProviders(ctx context.Context, d *Dispatcher, _ Caller, a args) (map[string]any, error) {
	if d.caps.Providers == nil {
		return nil, errUnavailable
	}
	slug := d.normalizeSlug(a.str("serviceSlug"))
	providers, err := d.caps.Providers.SearchProviders(ctx, ProviderQuery{
		ServiceSlug: slug,
		Location:    a.str("location"),
		Limit:       searchLimit,
	})
	if err != nil {
		return nil, err
	}
	if providers == nil {
		providers = []Provider{}
	}
	return map[string]any{
		"providers":   providers,
		"count":       len(providers),
		"serviceSlug": slug,
		"location":    a.str("location"),
	}, nil
}

func runSaveCV(ctx context.Context, d *Dispatcher, caller Caller, a args) (map[string]any, error) {
	if !caller.IsLoggedIn || strings.TrimSpace(caller.UserID) == "" {
		return map[string]any{"error": "login required", "requiresLogin": true}, nil
	}
	if d.caps.Profiles == nil {
		return nil, errUnavailable
	}
	saved, err := d.caps.Profiles.SaveCV(ctx, caller.UserID, CV{
		Headline: a.str("headline"),
		Summary:  a.str("summary"),
		Location: a.str("location"),
		Skills:   a.list("skills"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"saved": true, "cv": saved}, nil
}

func runNavigate(_ context.Context, _ *Dispatcher, _ Caller, a args) (map[string]any, error) {
	out := map[string]any{
		"action": "navigate",
		"page":   a.str("page"),
	}
	if reason := a.str("reason"); reason != "" {
		out["reason"] = reason
	}
	return out, nil
}

func runServiceLocations(ctx context.Context, d *Dispatcher, _ Caller, a args) (map[string]any, error) {
	if d.caps.Locations == nil {
		return nil, errUnavailable
	}
	slug := d.normalizeSlug(a.str("serviceSlug"))
	locations, err := d.caps.Locations.ServiceLocations(ctx, slug)
	if err != nil {
		return nil, err
	}
	if locations == nil {
		locations = []ServiceLocation{}
	}
	return map[string]any{
		"serviceSlug": slug,
		"locations":   locations,
		"count":       len(locations),
	}, nil
}

// normalizeSlug maps free-form service names ("Ev Temizliği", "house_cleaning")
// onto catalog slugs. Unknown names are reduced to a lowercase kebab slug.
func (d *Dispatcher) normalizeSlug(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	if slug, ok := d.aliases[raw]; ok {
		return slug
	}
	var b strings.Builder
	lastDash := false
	for _, r := range raw {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			lastDash = false
		case r == ' ' || r == '_' || r == '-':
			if b.Len() > 0 && !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if mapped, ok := d.aliases[strings.ReplaceAll(slug, "-", " ")]; ok {
		return mapped
	}
	return slug
}
