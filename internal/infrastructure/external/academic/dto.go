package academic

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// APIResponse is the envelope every endpoint answers with.
type APIResponse[T any] struct {
	Success bool       `json:"success"`
	Data    T          `json:"data"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the error part of the envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTH DTOs
// ══════════════════════════════════════════════════════════════════════════════

// LoginRequestDTO is the login payload.
type LoginRequestDTO struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponseDTO carries the issued tokens.
type LoginResponseDTO struct {
	Token    string `json:"token"`
	AuxToken string `json:"auxToken"`

	// ExpiresIn is the session lifetime in seconds.
	ExpiresIn int `json:"expiresIn"`
}

// ══════════════════════════════════════════════════════════════════════════════
// PERSON DTOs
// ══════════════════════════════════════════════════════════════════════════════

// PersonDTO is one hit of a person lookup.
type PersonDTO struct {
	ID         FlexString `json:"id"`
	NationalID FlexString `json:"nationalId"`
	FullName   string     `json:"fullName"`
}

// ══════════════════════════════════════════════════════════════════════════════
// TABULAR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// Block is one spreadsheet-shaped section of a response: a kardex period, a
// payment listing, an invoice or a catalog page.
type Block struct {
	Header []string `json:"header"`
	Rows   [][]Cell `json:"rows"`
}

// HeaderText joins the header lines for matching.
func (b Block) HeaderText() string {
	return strings.Join(b.Header, " ")
}

// Row returns an accessor for row i of the block. blockIndex is only used in
// error coordinates.
func (b Block) Row(blockIndex, i int) Row {
	return Row{block: blockIndex, index: i, cells: b.Rows[i]}
}

// Cell is one table cell. Text may sit directly in Content or nested in the
// first ContentCell.
type Cell struct {
	Content     FlexString      `json:"content"`
	ContentCell []Cell          `json:"contentCell,omitempty"`
	Parameters  *CellParameters `json:"parameters,omitempty"`
}

// Text returns the cell text, descending into the first nested cell when the
// cell itself is empty.
func (c Cell) Text() string {
	if s := strings.TrimSpace(c.Content.String()); s != "" {
		return s
	}
	if len(c.ContentCell) > 0 {
		return c.ContentCell[0].Text()
	}
	return ""
}

// params returns the first parameter set found in the cell tree.
func (c Cell) params() *CellParameters {
	if c.Parameters != nil {
		return c.Parameters
	}
	for _, nested := range c.ContentCell {
		if p := nested.params(); p != nil {
			return p
		}
	}
	return nil
}

// CellParameters link a payment row to its invoice.
type CellParameters struct {
	MasterNumber FlexString `json:"masterNumber"`
	RegionID     FlexString `json:"regionId"`
	Order        FlexString `json:"order"`
}

// InvoiceRef identifies one invoice.
type InvoiceRef struct {
	MasterNumber string `json:"master_number"`
	RegionID     string `json:"region_id"`
	Order        string `json:"order"`
}

// Complete reports whether all three parts are present.
func (r InvoiceRef) Complete() bool {
	return r.MasterNumber != "" && r.RegionID != "" && r.Order != ""
}

// String formats the reference for logs.
func (r InvoiceRef) String() string {
	return r.MasterNumber + "/" + r.RegionID + "/" + r.Order
}

// FlexString decodes a JSON string, number or boolean as text. The service
// is not consistent about quoting identifiers and amounts.
type FlexString struct {
	Value string
	Valid bool
}

// String returns the text, or "" for null.
func (f FlexString) String() string {
	return f.Value
}

// Flex builds a non-null FlexString.
func Flex(s string) FlexString {
	return FlexString{Value: s, Valid: true}
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = FlexString{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = Flex(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*f = Flex(strconv.FormatBool(b))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = Flex(n.String())
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f FlexString) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}
