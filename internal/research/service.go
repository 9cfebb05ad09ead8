package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/salesbot/internal/events"
	"github.com/ashureev/salesbot/internal/knowledge"
)

// DefaultScope is used when the caller names no research focus.
const DefaultScope = "General"

// Service searches both providers and indexes what it finds.
type Service struct {
	lookup    Provider
	analysis  Provider
	knowledge knowledge.Retriever
	maxChars  int
	logger    *slog.Logger
}

// NewService creates a Service. lookup answers short factual queries and
// analysis answers the longer question. The merged results of both are
// indexed, capped at maxChars (zero leaves the cap to the index).
func NewService(lookup, analysis Provider, kb knowledge.Retriever, maxChars int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if kb == nil {
		kb = knowledge.Nop{}
	}
	return &Service{lookup: lookup, analysis: analysis, knowledge: kb, maxChars: maxChars, logger: logger}
}

// Request describes one research run.
type Request struct {
	Company string
	Scope   string
	UserID  string
	Queries Queries
}

// DefaultQueries derives search strings from the company and scope.
func DefaultQueries(company, scope string) Queries {
	if scope == "" {
		scope = DefaultScope
	}
	return Queries{
		Lookup:   fmt.Sprintf("Research %s %s", company, scope),
		Analysis: fmt.Sprintf("Detailed research on %s focusing on %s", company, scope),
	}
}

// Gather queries both providers in parallel.
// Provider failures are recorded in the dossier, never returned.
func (s *Service) Gather(ctx context.Context, req Request, sink events.Sink) Dossier {
	if req.Scope == "" {
		req.Scope = DefaultScope
	}
	def := DefaultQueries(req.Company, req.Scope)
	if req.Queries.Lookup == "" {
		req.Queries.Lookup = def.Lookup
	}
	if req.Queries.Analysis == "" {
		req.Queries.Analysis = def.Analysis
	}

	ctx, span := tracer.Start(ctx, "research.Gather", trace.WithAttributes(
		attribute.String("research.company", req.Company),
	))
	defer span.End()

	sink.Deliver(ctx, events.StatusUpdate{
		Stage:   "research",
		Message: fmt.Sprintf("Searching Tavily for: %s...", req.Queries.Lookup),
	})
	sink.Deliver(ctx, events.StatusUpdate{
		Stage:   "research",
		Message: fmt.Sprintf("Querying Perplexity for: %s...", req.Queries.Analysis),
	})

	var lookupRes, analysisRes Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lookupRes = s.lookup.Search(gctx, req.Queries.Lookup)
		return nil
	})
	g.Go(func() error {
		analysisRes = s.analysis.Search(gctx, req.Queries.Analysis)
		return nil
	})
	_ = g.Wait()

	for _, r := range []Result{lookupRes, analysisRes} {
		if !r.OK() {
			s.logger.Warn("Search provider failed",
				"provider", r.Provider,
				"company", req.Company,
				"error", r.Error,
			)
			span.SetAttributes(attribute.Bool("research."+r.Provider+".failed", true))
		}
	}

	dossier := Dossier{
		s.lookup.Name():   lookupRes,
		s.analysis.Name(): analysisRes,
	}

	if !dossier.Failed() {
		sink.Deliver(ctx, events.StatusUpdate{Stage: "research", Message: "Storing research in Knowledge Base..."})
		err := s.knowledge.Store(ctx, dossier.Compact(s.maxChars), knowledge.Metadata{
			Company: req.Company,
			Type:    knowledge.TypeResearchSummary,
			Source:  strings.Join(dossier.Sources(), ","),
			Scope:   req.Scope,
			UserID:  req.UserID,
		})
		if err != nil {
			s.logger.Warn("Failed to store research in knowledge base", "company", req.Company, "error", err)
		}
	}

	return dossier
}
