package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to the
// Postgres ILIKE scan.
type Service struct {
	meili  *Meili
	pglike *PgLike
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pglike *PgLike) *Service {
	return &Service{meili: meili, pglike: pglike}
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	results, total, err := s.pglike.Search(q)
	if err != nil {
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexLead indexes a lead (fire-and-forget to Meilisearch).
func (s *Service) IndexLead(lead LeadRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexLead(lead); err != nil {
			log.Printf("search: index lead %s: %v", lead.ID, err)
		}
	}()
}

// DeleteLead removes a lead from the search index (fire-and-forget).
func (s *Service) DeleteLead(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteLead(id); err != nil {
			log.Printf("search: delete lead %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes every lead from PostgreSQL into Meilisearch.
// Called during bootstrap if Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pglike == nil {
		return
	}
	leads, err := s.pglike.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexLeads(leads); err != nil {
		log.Printf("search: reindex leads: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
