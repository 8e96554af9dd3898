package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type seedProvider struct {
	id, name, slug, city string
	rating               float64
	reviews              int
}

type seedJob struct {
	id, title, company, city, summary string
	age                               time.Duration
}

var demoProviders = []seedProvider{
	{"prv-clean-ist-1", "Parlak Temizlik", "cleaning", "Istanbul", 4.8, 212},
	{"prv-clean-ist-2", "Evim Pırıl", "cleaning", "Istanbul", 4.5, 87},
	{"prv-clean-ank-1", "Ankara Clean Co", "cleaning", "Ankara", 4.6, 54},
	{"prv-plumb-ist-1", "Usta Tesisat", "plumbing", "Istanbul", 4.7, 131},
	{"prv-plumb-izm-1", "Ege Su Tesisat", "plumbing", "Izmir", 4.4, 40},
	{"prv-elec-ist-1", "Voltaj Elektrik", "electrical", "Istanbul", 4.3, 66},
	{"prv-move-ank-1", "Başkent Nakliyat", "moving", "Ankara", 4.9, 301},
	{"prv-paint-izm-1", "Renk Boya", "painting", "Izmir", 4.2, 19},
	{"prv-garden-lon-1", "Green Thumb Gardens", "gardening", "London", 4.7, 88},
	{"prv-tutor-lon-1", "Bright Tutors", "tutoring", "London", 4.8, 142},
}

var demoJobs = []seedJob{
	{"job-dev-ist-1", "Backend Developer", "Kod Atölyesi", "Istanbul", "Go services and PostgreSQL.", 24 * time.Hour},
	{"job-dev-lon-1", "Frontend Developer", "Bright Apps", "London", "React and TypeScript.", 48 * time.Hour},
	{"job-clean-ist-1", "Temizlik Personeli", "Parlak Temizlik", "Istanbul", "Ev ve ofis temizliği, tam zamanlı.", 72 * time.Hour},
	{"job-drive-ank-1", "Delivery Driver", "Başkent Nakliyat", "Ankara", "B class licence required.", 96 * time.Hour},
	{"job-elec-izm-1", "Electrician", "Voltaj Elektrik", "Izmir", "Residential installations.", 120 * time.Hour},
}

// SeedDemo inserts a small demo catalog. Existing rows are left alone, so it
// can run repeatedly.
func (s *Store) SeedDemo(ctx context.Context) error {
	now := s.timestamp()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		insertProvider := s.rebind(`INSERT INTO providers (id, name, service_slug, city, rating, review_count) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`)
		for _, p := range demoProviders {
			if _, err := tx.ExecContext(ctx, insertProvider, p.id, p.name, p.slug, p.city, p.rating, p.reviews); err != nil {
				return fmt.Errorf("seed provider %s: %w", p.id, err)
			}
		}
		insertJob := s.rebind(`INSERT INTO jobs (id, title, company, city, summary, posted_at) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`)
		for _, j := range demoJobs {
			if _, err := tx.ExecContext(ctx, insertJob, j.id, j.title, j.company, j.city, j.summary, now.Add(-j.age)); err != nil {
				return fmt.Errorf("seed job %s: %w", j.id, err)
			}
		}
		return nil
	})
}
