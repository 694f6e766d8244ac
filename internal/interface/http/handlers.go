package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/tuition-hub/benefit-resolver/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "Benefit Resolver API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":          "/health",
			"resolve":         "/api/v1/candidates/resolve",
			"resolve_batch":   "/api/v1/candidates/resolve-batch",
			"resolve_family":  "/api/v1/families/resolve",
			"check_conflicts": "/api/v1/conflicts/check",
			"commit":          "/api/v1/benefits/commit",
			"catalog_sync":    "/api/v1/catalog/sync",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady answers the readiness check. A degraded cache keeps the
// service ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive", "uptime": s.Uptime().String()})
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLUTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleResolveCandidate handles POST /api/v1/candidates/resolve
func (s *Server) handleResolveCandidate(w http.ResponseWriter, r *http.Request) {
	if s.deps.ResolveCandidate == nil {
		s.notConfigured(w, r)
		return
	}
	var cmd command.ResolveCandidateCommand
	if err := decodeJSON(r, &cmd); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	row, err := s.deps.ResolveCandidate.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, row)
}

// handleResolveBatch handles POST /api/v1/candidates/resolve-batch. Per
// student failures are rows of a 200 response.
func (s *Server) handleResolveBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.ResolveBatch == nil {
		s.notConfigured(w, r)
		return
	}
	var cmd command.ResolveBatchCommand
	if err := decodeJSON(r, &cmd); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	result, err := s.deps.ResolveBatch.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleResolveFamily handles POST /api/v1/families/resolve
func (s *Server) handleResolveFamily(w http.ResponseWriter, r *http.Request) {
	if s.deps.ResolveFamily == nil {
		s.notConfigured(w, r)
		return
	}
	var cmd command.ResolveFamilyCommand
	if err := decodeJSON(r, &cmd); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	result, err := s.deps.ResolveFamily.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// BENEFIT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleCheckConflicts handles POST /api/v1/conflicts/check. Conflicts are
// data in a 200 response.
func (s *Server) handleCheckConflicts(w http.ResponseWriter, r *http.Request) {
	if s.deps.CheckConflicts == nil {
		s.notConfigured(w, r)
		return
	}
	var cmd command.CheckConflictsCommand
	if err := decodeJSON(r, &cmd); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	report, err := s.deps.CheckConflicts.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// handleCommitBenefits handles POST /api/v1/benefits/commit. Answers 207
// when some rows were not committed.
func (s *Server) handleCommitBenefits(w http.ResponseWriter, r *http.Request) {
	if s.deps.CommitBenefits == nil {
		s.notConfigured(w, r)
		return
	}
	var cmd command.CommitBenefitsCommand
	if err := decodeJSON(r, &cmd); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	result, err := s.deps.CommitBenefits.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if _, rejected, failed := result.Counts(); rejected+failed > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, r, status, result)
}

// handleListBenefits handles GET /api/v1/benefits
func (s *Server) handleListBenefits(w http.ResponseWriter, r *http.Request) {
	if s.deps.Benefits == nil {
		s.notConfigured(w, r)
		return
	}
	benefits, err := s.deps.Benefits.ListBenefits(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, benefits)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG & JOBS
// ══════════════════════════════════════════════════════════════════════════════

// handleSyncCatalog handles POST /api/v1/catalog/sync. An empty body
// refreshes both listings.
func (s *Server) handleSyncCatalog(w http.ResponseWriter, r *http.Request) {
	if s.deps.SyncCatalog == nil {
		s.notConfigured(w, r)
		return
	}
	var cmd command.SyncCatalogCommand
	if err := decodeJSON(r, &cmd); err != nil && !errors.Is(err, io.EOF) {
		s.writeDomainError(w, r, err)
		return
	}

	result, err := s.deps.SyncCatalog.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Locked {
		status = http.StatusAccepted
	}
	writeJSON(w, r, status, result)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, r, http.StatusOK, []any{})
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Jobs.ListJobs())
}

func (s *Server) notConfigured(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Handler not configured")
}
