package academic

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/shared"
)

// Row is a validated accessor over one table row. Columns may be negative to
// count from the end: -1 is the last column. Every failed access returns an
// error wrapping shared.ErrMalformedRow with block, row and column.
type Row struct {
	block int
	index int
	cells []Cell
}

// NewRow wraps raw cells.
func NewRow(block, index int, cells []Cell) Row {
	return Row{block: block, index: index, cells: cells}
}

// Len returns the number of cells.
func (r Row) Len() int {
	return len(r.cells)
}

func (r Row) resolve(col int) (int, bool) {
	if col < 0 {
		col = len(r.cells) + col
	}
	return col, col >= 0 && col < len(r.cells)
}

func (r Row) malformed(col int, format string, args ...any) error {
	return shared.NewDomainError("academic", "ReadRow", shared.ErrMalformedRow,
		fmt.Sprintf("block %d row %d column %d: %s", r.block, r.index, col, fmt.Sprintf(format, args...)))
}

// IsBlank reports whether the column is missing or has no text.
func (r Row) IsBlank(col int) bool {
	i, ok := r.resolve(col)
	return !ok || r.cells[i].Text() == ""
}

// Text returns the column text. A missing column is an error; an empty one
// is not.
func (r Row) Text(col int) (string, error) {
	i, ok := r.resolve(col)
	if !ok {
		return "", r.malformed(col, "row has %d cells", len(r.cells))
	}
	return r.cells[i].Text(), nil
}

// TextOr returns the column text or def when the column is missing or blank.
func (r Row) TextOr(col int, def string) string {
	if r.IsBlank(col) {
		return def
	}
	s, _ := r.Text(col)
	return s
}

// Joined concatenates the text of every cell.
func (r Row) Joined() string {
	parts := make([]string, 0, len(r.cells))
	for _, c := range r.cells {
		if t := c.Text(); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Decimal parses the column as an amount. Blank cells are an error.
func (r Row) Decimal(col int) (decimal.Decimal, error) {
	text, err := r.Text(col)
	if err != nil {
		return decimal.Zero, err
	}
	if text == "" {
		return decimal.Zero, r.malformed(col, "amount is blank")
	}
	d, err := ParseAmount(text)
	if err != nil {
		return decimal.Zero, r.malformed(col, "amount %q: %v", text, err)
	}
	return d, nil
}

// NullDecimal parses the column as an optional amount. Missing or blank cells
// yield an invalid NullDecimal; unparseable text is an error.
func (r Row) NullDecimal(col int) (decimal.NullDecimal, error) {
	if r.IsBlank(col) {
		return decimal.NullDecimal{}, nil
	}
	d, err := r.Decimal(col)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// Params returns the invoice reference attached to the column.
func (r Row) Params(col int) (InvoiceRef, error) {
	i, ok := r.resolve(col)
	if !ok {
		return InvoiceRef{}, r.malformed(col, "row has %d cells", len(r.cells))
	}
	p := r.cells[i].params()
	if p == nil {
		return InvoiceRef{}, r.malformed(col, "no invoice parameters")
	}
	return r.checkRef(col, p)
}

// FindParams returns the first invoice reference attached to any cell.
func (r Row) FindParams() (InvoiceRef, error) {
	for i, c := range r.cells {
		if p := c.params(); p != nil {
			return r.checkRef(i, p)
		}
	}
	return InvoiceRef{}, r.malformed(-1, "no invoice parameters in row")
}

func (r Row) checkRef(col int, p *CellParameters) (InvoiceRef, error) {
	ref := InvoiceRef{
		MasterNumber: strings.TrimSpace(p.MasterNumber.String()),
		RegionID:     strings.TrimSpace(p.RegionID.String()),
		Order:        strings.TrimSpace(p.Order.String()),
	}
	if !ref.Complete() {
		return InvoiceRef{}, r.malformed(col, "incomplete invoice parameters %s", ref)
	}
	return ref, nil
}

// ParseAmount parses service amounts such as "1.250,50", "1,250.50",
// "1250.5", "1.250" or "Bs. 300". The right-most separator is the decimal
// mark when both appear. A lone separator followed by exactly three digits,
// or a repeated one, groups thousands.
func ParseAmount(text string) (decimal.Decimal, error) {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "Bs.")
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		if groupsThousands(s, ",", comma) {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case dot >= 0:
		if groupsThousands(s, ".", dot) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	return decimal.NewFromString(s)
}

func groupsThousands(s, sep string, last int) bool {
	return strings.Count(s, sep) > 1 || len(s)-last-1 == 3
}
