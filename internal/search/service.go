package search

import (
	"context"
	"fmt"
	"log/slog"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres.
type Service struct {
	primary  Searcher
	fallback Searcher
	indexer  *Meili
	loader   recordLoader
	logger   *slog.Logger
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]TicketRecord, error)
}

// NewService creates a search service. meili may be nil when Meilisearch
// is not configured.
func NewService(m *Meili, pg *Postgres, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{logger: logger.With("component", "search")}
	if pg != nil {
		s.fallback = pg
		s.loader = pg
	}
	if m != nil {
		s.primary = m
		s.indexer = m
	}
	return s
}

func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("primary search failed, falling back", "error", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error("fallback search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTicket pushes a ticket to Meilisearch in the background.
func (s *Service) IndexTicket(record TicketRecord) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	go func() {
		if err := s.indexer.IndexTickets([]TicketRecord{record}); err != nil {
			s.logger.Warn("index ticket", "ticket", record.ID, "error", err)
		}
	}()
}

// DeleteTicket removes a ticket from the index in the background.
func (s *Service) DeleteTicket(id string) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	go func() {
		if err := s.indexer.DeleteTicket(id); err != nil {
			s.logger.Warn("delete ticket from index", "ticket", id, "error", err)
		}
	}()
}

// Reindex loads every ticket from Postgres and pushes it to Meilisearch.
// It returns the number of records sent.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return 0, errUnhealthy
	}
	if s.loader == nil {
		return 0, fmt.Errorf("reindex: no record source")
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("reindex load: %w", err)
	}
	if err := s.indexer.IndexTickets(records); err != nil {
		return 0, fmt.Errorf("reindex push: %w", err)
	}
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
