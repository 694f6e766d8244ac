package extraction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/external/academic"
	"github.com/tuition-hub/benefit-resolver/pkg/textnorm"
)

// InvoiceFetcher loads invoice line items.
type InvoiceFetcher interface {
	GetInvoiceDetail(ctx context.Context, ref academic.InvoiceRef) (academic.Block, error)
}

// PaymentKeywords are matched accent-insensitively against normalized text.
type PaymentKeywords struct {
	RegularInvoice []string
	Standard       []string
	Plus           []string
	TechCredit     []string
}

// DefaultPaymentKeywords returns the labels the service prints.
func DefaultPaymentKeywords() PaymentKeywords {
	return PaymentKeywords{
		RegularInvoice: []string{"FACTURA REGULAR", "REGULAR INVOICE"},
		Standard:       []string{"STANDARD", "ESTÁNDAR"},
		Plus:           []string{"PLUS"},
		TechCredit:     []string{"CRÉDITO TECNOLÓGICO", "TECHNOLOGY CREDIT", "TECH CREDIT"},
	}
}

// PaymentLayout locates fields in payment rows and invoice lines.
type PaymentLayout struct {
	// TypeColumn holds the row type discriminator in the payment history.
	TypeColumn int

	// ReferenceColumn holds the line reference text on an invoice. The amount
	// is always the last column.
	ReferenceColumn int
}

// DefaultPaymentLayout returns the layout the service prints today.
func DefaultPaymentLayout() PaymentLayout {
	return PaymentLayout{TypeColumn: 0, ReferenceColumn: 0}
}

// PaymentPlanResolver finds the tuition plan a student paid for the target
// periods by following regular invoices to their line items.
type PaymentPlanResolver struct {
	fetcher  InvoiceFetcher
	keywords PaymentKeywords
	layout   PaymentLayout
	matcher  PeriodMatcher
	logger   *slog.Logger
}

// NewPaymentPlanResolver creates a resolver.
func NewPaymentPlanResolver(fetcher InvoiceFetcher, keywords PaymentKeywords, layout PaymentLayout, matcher PeriodMatcher, logger *slog.Logger) *PaymentPlanResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentPlanResolver{
		fetcher:  fetcher,
		keywords: keywords,
		layout:   layout,
		matcher:  matcher,
		logger:   logger,
	}
}

// Resolve scans the payment history. Without a STANDARD or PLUS line the
// result has PlanNoneOnRecord and the candidate needs a manual entry.
func (r *PaymentPlanResolver) Resolve(ctx context.Context, payments []academic.Block, periods []benefit.Period) (benefit.PaymentInfo, error) {
	info := benefit.NoPayment()
	seen := make(map[academic.InvoiceRef]struct{})

	for b, block := range payments {
		for i := range block.Rows {
			row := block.Row(b, i)
			if !containsAny(textnorm.Normalize(row.TextOr(r.layout.TypeColumn, "")), r.keywords.RegularInvoice) {
				continue
			}

			ref, err := row.FindParams()
			if err != nil {
				return info, err
			}
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}

			detail, err := r.fetcher.GetInvoiceDetail(ctx, ref)
			if err != nil {
				return info, fmt.Errorf("invoice %s: %w", ref, err)
			}

			done, err := r.applyInvoice(&info, detail, b, periods)
			if err != nil {
				return info, err
			}
			if done {
				return info, nil
			}
		}
	}

	return info, nil
}

// applyInvoice folds the period lines of one invoice into info. It reports
// true once a plan is found.
func (r *PaymentPlanResolver) applyInvoice(info *benefit.PaymentInfo, detail academic.Block, blockIndex int, periods []benefit.Period) (bool, error) {
	for i := range detail.Rows {
		line := detail.Row(blockIndex, i)
		reference := line.TextOr(r.layout.ReferenceColumn, "")
		if reference == "" {
			continue
		}
		if _, ok := r.matcher.MatchAny(reference, periods); !ok {
			continue
		}

		normalized := textnorm.Normalize(reference)

		// a tech-credit line only flags the payment, its amount is never read
		var plan benefit.PlanType
		switch {
		case containsAny(normalized, r.keywords.Standard):
			plan = benefit.PlanStandard
		case containsAny(normalized, r.keywords.Plus):
			plan = benefit.PlanPlus
		case containsAny(normalized, r.keywords.TechCredit):
			info.TechCreditPaid = true
			continue
		}

		amount, err := line.Decimal(-1)
		if err != nil {
			return false, err
		}
		if plan == "" {
			info.PeriodPaymentsAggregate = info.PeriodPaymentsAggregate.Add(amount)
			continue
		}

		info.PlanType = plan
		info.ReferenceText = reference
		info.AmountPaid = amount
		r.logger.Debug("tuition plan found", "plan", plan, "reference", reference, "amount", amount.String())
		return true, nil
	}
	return false, nil
}
