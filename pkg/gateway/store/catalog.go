package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/workbeexuk-collab/workbeex-api-sub000/pkg/gateway/tools/dispatcher"
)

const catalogLimit = 10

// Catalog serves the dispatcher capabilities from the marketplace tables.
type Catalog struct {
	s *Store
}

func (s *Store) Catalog() *Catalog {
	return &Catalog{s: s}
}

// Capabilities wires every catalog operation into a dispatcher capability set.
func (c *Catalog) Capabilities() dispatcher.Capabilities {
	return dispatcher.Capabilities{Jobs: c, Providers: c, Profiles: c, Locations: c}
}

func (c *Catalog) SearchJobs(ctx context.Context, q dispatcher.JobQuery) ([]dispatcher.Job, error) {
	query := `SELECT id, title, company, city, summary, posted_at FROM jobs WHERE 1=1`
	var args []any
	if term := strings.TrimSpace(q.Search); term != "" {
		query += ` AND (LOWER(title) LIKE LOWER(?) OR LOWER(summary) LIKE LOWER(?))`
		like := "%" + escapeLike(term) + "%"
		args = append(args, like, like)
	}
	if loc := strings.TrimSpace(q.Location); loc != "" {
		query += ` AND LOWER(city) LIKE LOWER(?)`
		args = append(args, "%"+escapeLike(loc)+"%")
	}
	query += ` ORDER BY posted_at DESC LIMIT ?`
	args = append(args, clampLimit(q.Limit))

	rows, err := c.s.db.QueryContext(ctx, c.s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("search jobs: %w", err)
	}
	defer rows.Close()

	out := []dispatcher.Job{}
	for rows.Next() {
		var j dispatcher.Job
		if err := rows.Scan(&j.ID, &j.Title, &j.Company, &j.City, &j.Summary, &j.PostedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (c *Catalog) SearchProviders(ctx context.Context, q dispatcher.ProviderQuery) ([]dispatcher.Provider, error) {
	query := `SELECT id, name, service_slug, city, rating, review_count FROM providers WHERE 1=1`
	var args []any
	if slug := strings.TrimSpace(q.ServiceSlug); slug != "" {
		query += ` AND service_slug = ?`
		args = append(args, slug)
	}
	if loc := strings.TrimSpace(q.Location); loc != "" {
		query += ` AND LOWER(city) LIKE LOWER(?)`
		args = append(args, "%"+escapeLike(loc)+"%")
	}
	query += ` ORDER BY rating DESC, review_count DESC LIMIT ?`
	args = append(args, clampLimit(q.Limit))

	rows, err := c.s.db.QueryContext(ctx, c.s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("search providers: %w", err)
	}
	defer rows.Close()

	out := []dispatcher.Provider{}
	for rows.Next() {
		var p dispatcher.Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.ServiceSlug, &p.City, &p.Rating, &p.ReviewCount); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *Catalog) ServiceLocations(ctx context.Context, serviceSlug string) ([]dispatcher.ServiceLocation, error) {
	query := `SELECT service_slug, city, COUNT(1) FROM providers WHERE city <> ''`
	var args []any
	if slug := strings.TrimSpace(serviceSlug); slug != "" {
		query += ` AND service_slug = ?`
		args = append(args, slug)
	}
	query += ` GROUP BY service_slug, city ORDER BY COUNT(1) DESC, city ASC`

	rows, err := c.s.db.QueryContext(ctx, c.s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("service locations: %w", err)
	}
	defer rows.Close()

	out := []dispatcher.ServiceLocation{}
	for rows.Next() {
		var l dispatcher.ServiceLocation
		if err := rows.Scan(&l.ServiceSlug, &l.City, &l.ProviderCount); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SaveCV upserts the user's CV profile. Empty optional fields keep what was
// stored before.
func (c *Catalog) SaveCV(ctx context.Context, userID string, cv dispatcher.CV) (dispatcher.CV, error) {
	prev, err := c.loadCV(ctx, userID)
	if err != nil {
		return dispatcher.CV{}, err
	}
	merged := cv
	if merged.Summary == "" {
		merged.Summary = prev.Summary
	}
	if merged.Location == "" {
		merged.Location = prev.Location
	}
	if len(merged.Skills) == 0 {
		merged.Skills = prev.Skills
	}

	skills, err := json.Marshal(nonNil(merged.Skills))
	if err != nil {
		return dispatcher.CV{}, fmt.Errorf("encode skills: %w", err)
	}
	_, err = c.s.db.ExecContext(ctx, c.s.rebind(
		`INSERT INTO cv_profiles (user_id, headline, summary, location, skills, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   headline = excluded.headline,
		   summary = excluded.summary,
		   location = excluded.location,
		   skills = excluded.skills,
		   updated_at = excluded.updated_at`),
		userID, merged.Headline, merged.Summary, merged.Location, string(skills), c.s.timestamp())
	if err != nil {
		return dispatcher.CV{}, fmt.Errorf("save cv: %w", err)
	}
	return merged, nil
}

func (c *Catalog) loadCV(ctx context.Context, userID string) (dispatcher.CV, error) {
	rows, err := c.s.db.QueryContext(ctx, c.s.rebind(
		`SELECT headline, summary, location, skills FROM cv_profiles WHERE user_id = ?`), userID)
	if err != nil {
		return dispatcher.CV{}, fmt.Errorf("load cv: %w", err)
	}
	defer rows.Close()

	var cv dispatcher.CV
	if !rows.Next() {
		return cv, rows.Err()
	}
	var skills string
	if err := rows.Scan(&cv.Headline, &cv.Summary, &cv.Location, &skills); err != nil {
		return dispatcher.CV{}, fmt.Errorf("scan cv: %w", err)
	}
	if skills != "" {
		if err := json.Unmarshal([]byte(skills), &cv.Skills); err != nil {
			c.s.logger.Warn("stored cv skills unreadable", "user_id", userID, "error", err)
			cv.Skills = nil
		}
	}
	return cv, nil
}

func clampLimit(n int) int {
	if n <= 0 || n > catalogLimit {
		return catalogLimit
	}
	return n
}

// escapeLike drops "%" so user text cannot widen the pattern.
func escapeLike(s string) string {
	return strings.ReplaceAll(s, "%", "")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
