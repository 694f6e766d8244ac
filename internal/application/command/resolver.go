// Package command contains the operations of the benefit resolution
// pipeline: resolving candidates and family groups, checking conflicts,
// committing benefits and refreshing the course catalog.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tuition-hub/benefit-resolver/internal/application/extraction"
	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/catalog"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/external/academic"
	"github.com/tuition-hub/benefit-resolver/pkg/textnorm"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// AcademicGateway is the academic service as the pipeline sees it. Every call
// except Ping is expected to renew the session transparently
// (academic.Gateway).
type AcademicGateway interface {
	SearchPersons(ctx context.Context, criteria string) ([]academic.PersonDTO, error)
	GetKardex(ctx context.Context, personID string) ([]academic.Block, error)
	GetPayments(ctx context.Context, personID string) ([]academic.Block, error)
	GetInvoiceDetail(ctx context.Context, ref academic.InvoiceRef) (academic.Block, error)
	GetCatalog(ctx context.Context, name string) ([]academic.Block, error)
	Ping(ctx context.Context) error
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST TYPES
// ══════════════════════════════════════════════════════════════════════════════

// StudentCriteria identifies a student. The national ID is tried first, then
// the name.
type StudentCriteria struct {
	NationalID string `json:"national_id,omitempty"`
	FullName   string `json:"full_name,omitempty"`
}

// Validate requires at least one criterion.
func (c StudentCriteria) Validate() error {
	if strings.TrimSpace(c.NationalID) == "" && strings.TrimSpace(c.FullName) == "" {
		return shared.NewDomainError("resolve", "Validate", shared.ErrValidation,
			"national id or full name is required")
	}
	return nil
}

// String formats the criteria for messages.
func (c StudentCriteria) String() string {
	switch {
	case c.NationalID != "" && c.FullName != "":
		return c.NationalID + " / " + c.FullName
	case c.NationalID != "":
		return c.NationalID
	default:
		return c.FullName
	}
}

// StudentRequest is one student of a resolution request, with the operator's
// payment entry when the history carries no plan.
type StudentRequest struct {
	StudentCriteria
	ManualPayment *benefit.ManualPayment `json:"manual_payment,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVER
// ══════════════════════════════════════════════════════════════════════════════

// Resolver runs the per-student pipeline: person lookup, kardex extraction,
// valuation and payment resolution. Each call owns its candidate.
type Resolver struct {
	gateway  AcademicGateway
	kardex   *extraction.KardexExtractor
	payments *extraction.PaymentPlanResolver
	valuator catalog.Valuator
	logger   *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(
	gateway AcademicGateway,
	kardex *extraction.KardexExtractor,
	payments *extraction.PaymentPlanResolver,
	valuator catalog.Valuator,
	logger *slog.Logger,
) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		gateway:  gateway,
		kardex:   kardex,
		payments: payments,
		valuator: valuator,
		logger:   logger.With("component", "resolver"),
	}
}

// Gateway returns the academic gateway.
func (r *Resolver) Gateway() AcademicGateway {
	return r.gateway
}

// Resolve runs the pipeline for one student. In strict mode a kardex without
// matching periods is an error wrapping shared.ErrNoMatchingPeriod;
// otherwise it yields benefit.MissingKardex. Returned errors are technical
// failures (upstream, malformed rows, invalid manual entry).
//
// When several stages are incomplete the outcome reports the most blocking
// one: PersonNotFound, MissingKardex, MissingCareer, MissingPayment.
func (r *Resolver) Resolve(ctx context.Context, req StudentRequest, periods []benefit.Period, strict bool) (benefit.Outcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(periods) == 0 {
		return nil, shared.NewDomainError("resolve", "Resolve", shared.ErrValidation, "at least one period is required")
	}

	person, err := r.findPerson(ctx, req.StudentCriteria)
	if err != nil {
		return nil, err
	}
	if person == nil {
		return benefit.PersonNotFound{Criteria: req.String()}, nil
	}

	nationalID := person.NationalID.String()
	if nationalID == "" {
		nationalID = strings.TrimSpace(req.NationalID)
	}
	candidate := benefit.NewCandidate(person.ID.String(), nationalID, person.FullName)
	log := r.logger.With("national_id", candidate.NationalID)

	blocks, err := r.gateway.GetKardex(ctx, candidate.ExternalPersonID)
	if err != nil {
		return nil, fmt.Errorf("kardex of %s: %w", candidate.Label(), err)
	}

	var kardex extraction.KardexResult
	if strict {
		if kardex, err = r.kardex.Extract(blocks, periods); err != nil {
			return nil, err
		}
	} else {
		var found bool
		if kardex, found, err = r.kardex.ExtractLenient(blocks, periods); err != nil {
			return nil, err
		}
		if !found {
			log.Info("no kardex for requested periods", "periods", benefit.JoinPeriodNames(periods))
			return benefit.MissingKardex{Candidate: candidate, Periods: periods}, nil
		}
	}

	candidate.DeclaredMajor = kardex.Major
	candidate.NormalizedMajor = kardex.NormalizedMajor

	careerMissing := false
	valuation, err := r.valuator.Valuate(ctx, kardex.Subjects, kardex.NormalizedMajor)
	switch {
	case errors.Is(err, shared.ErrAmbiguousCareer):
		careerMissing = true
		log.Warn("major has no catalog match", "major", kardex.Major)
	case err != nil:
		return nil, fmt.Errorf("valuate %s: %w", candidate.Label(), err)
	}
	candidate.SetSubjects(valuation.Subjects)
	candidate.TuitionRate = valuation.TuitionRate

	paymentBlocks, err := r.gateway.GetPayments(ctx, candidate.ExternalPersonID)
	if err != nil {
		return nil, fmt.Errorf("payments of %s: %w", candidate.Label(), err)
	}
	info, err := r.payments.Resolve(ctx, paymentBlocks, periods)
	if err != nil {
		return nil, fmt.Errorf("payment plan of %s: %w", candidate.Label(), err)
	}
	candidate.Payment = info

	if !info.HasPlan() && req.ManualPayment != nil {
		if err := candidate.ApplyManualPayment(*req.ManualPayment); err != nil {
			return nil, err
		}
		log.Info("manual payment applied", "plan", req.ManualPayment.PlanType)
	}

	switch {
	case careerMissing:
		return benefit.MissingCareer{
			Candidate:      candidate,
			Major:          kardex.Major,
			PaymentMissing: !candidate.Payment.HasPlan(),
		}, nil
	case !candidate.Payment.HasPlan():
		return benefit.MissingPayment{Candidate: candidate}, nil
	default:
		return benefit.Found{Candidate: candidate}, nil
	}
}

// findPerson tries the national ID, then the name. It returns nil when
// neither matches.
func (r *Resolver) findPerson(ctx context.Context, criteria StudentCriteria) (*academic.PersonDTO, error) {
	if id := strings.TrimSpace(criteria.NationalID); id != "" {
		persons, err := r.gateway.SearchPersons(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("search person %s: %w", id, err)
		}
		if p := pickPerson(persons, func(p academic.PersonDTO) bool {
			return strings.TrimSpace(p.NationalID.String()) == id
		}); p != nil {
			return p, nil
		}
	}

	if name := strings.TrimSpace(criteria.FullName); name != "" {
		persons, err := r.gateway.SearchPersons(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("search person %q: %w", name, err)
		}
		normalized := textnorm.Normalize(name)
		if p := pickPerson(persons, func(p academic.PersonDTO) bool {
			return textnorm.Normalize(p.FullName) == normalized
		}); p != nil {
			return p, nil
		}
	}

	return nil, nil
}

// pickPerson prefers an exact match and falls back to the first hit.
func pickPerson(persons []academic.PersonDTO, exact func(academic.PersonDTO) bool) *academic.PersonDTO {
	if len(persons) == 0 {
		return nil
	}
	for i := range persons {
		if exact(persons[i]) {
			return &persons[i]
		}
	}
	return &persons[0]
}
