package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/application/batch"
	"github.com/tuition-hub/benefit-resolver/internal/application/extraction"
	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
	"github.com/tuition-hub/benefit-resolver/internal/domain/catalog"
	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
	"github.com/tuition-hub/benefit-resolver/internal/infrastructure/external/academic"
)

var p2024a = benefit.Period{ID: "p-2024-1", Name: "1/2024"}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cell(s string) academic.Cell {
	return academic.Cell{Content: academic.Flex(s)}
}

func row(values ...string) []academic.Cell {
	cells := make([]academic.Cell, 0, len(values))
	for _, v := range values {
		cells = append(cells, cell(v))
	}
	return cells
}

func invoiceLink(master string) []academic.Cell {
	return []academic.Cell{
		cell("FACTURA REGULAR"),
		{
			Content: academic.Flex("ver detalle"),
			Parameters: &academic.CellParameters{
				MasterNumber: academic.Flex(master),
				RegionID:     academic.Flex("1"),
				Order:        academic.Flex("1"),
			},
		},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ACADEMIC GATEWAY
// ══════════════════════════════════════════════════════════════════════════════

type student struct {
	person   academic.PersonDTO
	kardex   []academic.Block
	payments []academic.Block
	err      error
}

type fakeGateway struct {
	mu           sync.Mutex
	students     map[string]*student // by person id
	invoices     map[string]academic.Block
	catalogs     map[string][]academic.Block
	pingErr      error
	paymentCalls map[string]int
	searches     []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		students:     make(map[string]*student),
		invoices:     make(map[string]academic.Block),
		catalogs:     make(map[string][]academic.Block),
		paymentCalls: make(map[string]int),
	}
}

// add registers a student enrolled in 1/2024 with the given subjects. plan is
// the invoice line text; empty means no plan on record.
func (g *fakeGateway) add(id, nationalID, name, major, plan string, subjects ...string) *student {
	rows := make([][]academic.Cell, 0, len(subjects))
	for _, code := range subjects {
		rows = append(rows, row(code, "Materia "+code, "Regular", "80", "75"))
	}

	master := "INV-" + id
	line := "Matrícula 1/2024"
	if plan != "" {
		line = plan
	}
	g.invoices[master] = academic.Block{Rows: [][]academic.Cell{row(line, "1200")}}

	s := &student{
		person: academic.PersonDTO{ID: academic.Flex(id), NationalID: academic.Flex(nationalID), FullName: name},
		kardex: []academic.Block{{
			Header: []string{"PERIODO 1/2024", "Carrera: " + major},
			Rows:   rows,
		}},
		payments: []academic.Block{{Rows: [][]academic.Cell{invoiceLink(master)}}},
	}
	g.students[id] = s
	return s
}

func (g *fakeGateway) SearchPersons(_ context.Context, criteria string) ([]academic.PersonDTO, error) {
	g.mu.Lock()
	g.searches = append(g.searches, criteria)
	g.mu.Unlock()

	var out []academic.PersonDTO
	for _, s := range g.students {
		if s.person.NationalID.String() == criteria || s.person.FullName == criteria {
			out = append(out, s.person)
		}
	}
	return out, nil
}

func (g *fakeGateway) GetKardex(_ context.Context, personID string) ([]academic.Block, error) {
	s, ok := g.students[personID]
	if !ok {
		return nil, shared.NewDomainError("academic", "GetKardex", shared.ErrNotFound, personID)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.kardex, nil
}

func (g *fakeGateway) GetPayments(_ context.Context, personID string) ([]academic.Block, error) {
	g.mu.Lock()
	g.paymentCalls[personID]++
	g.mu.Unlock()
	return g.students[personID].payments, nil
}

func (g *fakeGateway) GetInvoiceDetail(_ context.Context, ref academic.InvoiceRef) (academic.Block, error) {
	block, ok := g.invoices[ref.MasterNumber]
	if !ok {
		return academic.Block{}, fmt.Errorf("invoice %s not found", ref)
	}
	return block, nil
}

func (g *fakeGateway) GetCatalog(_ context.Context, name string) ([]academic.Block, error) {
	blocks, ok := g.catalogs[name]
	if !ok {
		return nil, errors.New("catalog unavailable")
	}
	return blocks, nil
}

func (g *fakeGateway) Ping(context.Context) error {
	return g.pingErr
}

func (g *fakeGateway) payments(personID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paymentCalls[personID]
}

// ══════════════════════════════════════════════════════════════════════════════
// VALUATOR
// ══════════════════════════════════════════════════════════════════════════════

// fakeValuator weighs every subject by code and prices majors from a table.
type fakeValuator struct {
	weights map[string]decimal.Decimal
	rates   map[string]decimal.Decimal
}

func (v *fakeValuator) Valuate(_ context.Context, subjects []benefit.SubjectRecord, normalizedMajor string) (catalog.Valuation, error) {
	out := catalog.Valuation{TuitionRate: decimal.Zero}
	for _, s := range subjects {
		if w, ok := v.weights[s.Code]; ok {
			s = s.WithCreditWeight(w)
		}
		out.Subjects = append(out.Subjects, s)
	}
	out.TotalCreditWeight = benefit.TotalCreditWeight(out.Subjects)

	rate, ok := v.rates[normalizedMajor]
	if !ok {
		return out, shared.NewDomainError("catalog", "Valuate", shared.ErrAmbiguousCareer, normalizedMajor)
	}
	out.TuitionRate = rate
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BENEFIT STORAGE
// ══════════════════════════════════════════════════════════════════════════════

type fakeDefinitions map[string]benefit.Benefit

func (f fakeDefinitions) GetBenefit(_ context.Context, id string) (*benefit.Benefit, error) {
	b, ok := f[id]
	if !ok {
		return nil, shared.NewDomainError("benefit", "GetBenefit", shared.ErrNotFound, id)
	}
	return &b, nil
}

func (f fakeDefinitions) ListBenefits(context.Context) ([]benefit.Benefit, error) {
	out := make([]benefit.Benefit, 0, len(f))
	for _, b := range f {
		out = append(out, b)
	}
	return out, nil
}

type fakeRecords struct {
	mu            sync.Mutex
	active        []benefit.ExistingRecord
	created       []*benefit.Record
	deactivated   []string
	deactivateErr error
	createErr     map[string]error
	findCalls     int
	saveCalls     int
}

func (f *fakeRecords) FindActiveByNationalIDs(_ context.Context, ids []string, periodID string) ([]benefit.ExistingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []benefit.ExistingRecord
	for _, r := range f.active {
		if want[r.NationalID] && r.PeriodID == periodID && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

// SaveGroup writes nothing unless every record of the group can be written.
func (f *fakeRecords) SaveGroup(_ context.Context, records []*benefit.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++

	for _, rec := range records {
		if rec.SupersedesRecordID != "" && f.deactivateErr != nil {
			return &benefit.GroupWriteError{
				NationalID: rec.NationalID,
				Err: shared.WrapError("benefit", "SaveGroup", shared.ErrSupersedeFailed,
					"could not deactivate record "+rec.SupersedesRecordID, f.deactivateErr),
			}
		}
		if err := f.createErr[rec.NationalID]; err != nil {
			return &benefit.GroupWriteError{NationalID: rec.NationalID, Err: err}
		}
	}

	for _, rec := range records {
		if rec.SupersedesRecordID != "" {
			f.deactivated = append(f.deactivated, rec.SupersedesRecordID)
		}
		rec.ID = fmt.Sprintf("rec-%d", len(f.created)+1)
		f.created = append(f.created, rec)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// WIRING
// ══════════════════════════════════════════════════════════════════════════════

var (
	familyBenefit = benefit.Benefit{ID: "family", Name: "Family support", Kind: benefit.KindFamily, Active: true}
	sportsBenefit = benefit.Benefit{ID: "sports", Name: "Sports", Kind: benefit.KindFixed, Percentage: decimal.NewNullDecimal(dec("0.3")), Active: true}
)

type fixture struct {
	gateway  *fakeGateway
	valuator *fakeValuator
	records  *fakeRecords
	defs     fakeDefinitions
	resolver *Resolver
	engine   *benefit.Engine
	orch     *batch.Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tiers, err := benefit.NewTierTable([]decimal.Decimal{dec("0.5"), dec("0.25")})
	if err != nil {
		t.Fatal(err)
	}

	gateway := newFakeGateway()
	valuator := &fakeValuator{
		weights: map[string]decimal.Decimal{"MAT101": dec("5"), "FIS101": dec("4"), "QUI101": dec("3")},
		rates:   map[string]decimal.Decimal{"INGENIERIA CIVIL": dec("100")},
	}
	matcher := extraction.NewPeriodMatcher(extraction.MatchContains)

	return &fixture{
		gateway:  gateway,
		valuator: valuator,
		records:  &fakeRecords{},
		defs:     fakeDefinitions{familyBenefit.ID: familyBenefit, sportsBenefit.ID: sportsBenefit},
		resolver: NewResolver(
			gateway,
			extraction.NewKardexExtractor(extraction.DefaultKardexLayout(), matcher),
			extraction.NewPaymentPlanResolver(gateway, extraction.DefaultPaymentKeywords(), extraction.DefaultPaymentLayout(), matcher, nil),
			valuator,
			nil,
		),
		engine: benefit.NewEngine(tiers, benefit.PolicyRules{}),
		orch:   batch.NewOrchestrator(2, nil),
	}
}

func byID(id string) StudentRequest {
	return StudentRequest{StudentCriteria: StudentCriteria{NationalID: id}}
}
