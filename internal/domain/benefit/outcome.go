package benefit

import "fmt"

// OutcomeKind names the variant of an Outcome.
type OutcomeKind string

const (
	OutcomeFound          OutcomeKind = "found"
	OutcomeMissingKardex  OutcomeKind = "missing_kardex"
	OutcomeMissingPayment OutcomeKind = "missing_payment"
	OutcomeMissingCareer  OutcomeKind = "missing_career"
	OutcomePersonNotFound OutcomeKind = "person_not_found"
)

// Outcome is the result of resolving one student. The set of variants is
// closed: Found, MissingKardex, MissingPayment, MissingCareer and
// PersonNotFound. Callers switch on the concrete type.
//
// When several stages are incomplete the most blocking one is reported, in
// the order PersonNotFound, MissingKardex, MissingCareer, MissingPayment.
type Outcome interface {
	Kind() OutcomeKind
	Reason() string
	outcome()
}

// Found carries a fully resolved candidate.
type Found struct {
	Candidate *Candidate
}

// MissingKardex means no kardex block matched the requested periods.
type MissingKardex struct {
	Candidate *Candidate
	Periods   []Period
}

// MissingPayment means the payment history had no recognised plan. The
// candidate is complete otherwise and waits for a ManualPayment.
type MissingPayment struct {
	Candidate *Candidate
}

// MissingCareer means the declared major had no catalog match. The candidate
// proceeds with zero valuation pending manual resolution.
type MissingCareer struct {
	Candidate      *Candidate
	Major          string
	PaymentMissing bool
}

// PersonNotFound means neither the national ID nor the name matched.
type PersonNotFound struct {
	Criteria string
}

func (Found) outcome()          {}
func (MissingKardex) outcome()  {}
func (MissingPayment) outcome() {}
func (MissingCareer) outcome()  {}
func (PersonNotFound) outcome() {}

func (Found) Kind() OutcomeKind          { return OutcomeFound }
func (MissingKardex) Kind() OutcomeKind  { return OutcomeMissingKardex }
func (MissingPayment) Kind() OutcomeKind { return OutcomeMissingPayment }
func (MissingCareer) Kind() OutcomeKind  { return OutcomeMissingCareer }
func (PersonNotFound) Kind() OutcomeKind { return OutcomePersonNotFound }

func (o Found) Reason() string { return "" }

func (o MissingKardex) Reason() string {
	return fmt.Sprintf("no kardex found for periods %s", JoinPeriodNames(o.Periods))
}

func (o MissingPayment) Reason() string {
	return "no STANDARD or PLUS plan on record, manual payment entry required"
}

func (o MissingCareer) Reason() string {
	return fmt.Sprintf("major %q has no catalog match", o.Major)
}

func (o PersonNotFound) Reason() string {
	return fmt.Sprintf("no person matches %q", o.Criteria)
}

// CandidateOf returns the candidate carried by an outcome, if any.
func CandidateOf(o Outcome) (*Candidate, bool) {
	switch v := o.(type) {
	case Found:
		return v.Candidate, v.Candidate != nil
	case MissingKardex:
		return v.Candidate, v.Candidate != nil
	case MissingPayment:
		return v.Candidate, v.Candidate != nil
	case MissingCareer:
		return v.Candidate, v.Candidate != nil
	default:
		return nil, false
	}
}

// Rankable reports whether the outcome carries enough data to take part in
// family ranking. Candidates without a kardex cannot be weighed.
func Rankable(o Outcome) bool {
	switch o.(type) {
	case Found, MissingPayment, MissingCareer:
		return true
	default:
		return false
	}
}

// OutcomeCases holds one handler per outcome variant. Switch panics on a
// missing handler so new variants cannot be ignored silently.
type OutcomeCases[R any] struct {
	Found          func(Found) R
	MissingKardex  func(MissingKardex) R
	MissingPayment func(MissingPayment) R
	MissingCareer  func(MissingCareer) R
	PersonNotFound func(PersonNotFound) R
}

// Switch dispatches o to the matching handler.
func Switch[R any](o Outcome, cases OutcomeCases[R]) R {
	switch v := o.(type) {
	case Found:
		return cases.Found(v)
	case MissingKardex:
		return cases.MissingKardex(v)
	case MissingPayment:
		return cases.MissingPayment(v)
	case MissingCareer:
		return cases.MissingCareer(v)
	case PersonNotFound:
		return cases.PersonNotFound(v)
	default:
		panic(fmt.Sprintf("benefit: unknown outcome %T", o))
	}
}
