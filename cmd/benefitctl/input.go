package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tuition-hub/benefit-resolver/internal/domain/benefit"
)

// readJSON decodes one JSON document from path, or from in when path is "-".
func readJSON(path string, in io.Reader, dst any) error {
	if path == "" {
		return errors.New("an input file is required (use - for stdin)")
	}

	r := in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if dec.More() {
		return fmt.Errorf("decode %s: expected a single JSON document", path)
	}
	return nil
}

// parsePeriods turns "id=name" pairs into periods. A bare value is used as
// both id and name.
func parsePeriods(values []string) ([]benefit.Period, error) {
	periods := make([]benefit.Period, 0, len(values))
	for _, v := range values {
		id, name, found := strings.Cut(v, "=")
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if !found {
			name = id
		}
		if id == "" || name == "" {
			return nil, fmt.Errorf("invalid period %q, expected id=name", v)
		}
		periods = append(periods, benefit.Period{ID: id, Name: name})
	}
	return periods, nil
}

// parsePercentage parses an optional discount fraction such as 0.4.
func parsePercentage(s string) (decimal.NullDecimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid percentage %q: %w", s, err)
	}
	if !benefit.IsFraction(d) {
		return decimal.NullDecimal{}, fmt.Errorf("percentage %s is outside [0,1]", d)
	}
	return decimal.NewNullDecimal(d), nil
}
