// Package rating resolves the unit system of the rating-curve tables and
// consolidates them into one harmonized table.
package rating

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
)

// System is a family of length and discharge units.
type System string

const (
	Feet  System = "feet"
	Meter System = "meter"
)

const (
	feetPerMeter = 1 / 0.3048
	metersPerFt  = 0.3048
	cmsPerCfs    = 0.0283168466
)

var unitToken = regexp.MustCompile(`\(([^()]*)\)`)

var tokenSystems = map[string]System{
	"ft":     Feet,
	"feet":   Feet,
	"foot":   Feet,
	"cfs":    Feet,
	"m":      Meter,
	"meter":  Meter,
	"meters": Meter,
	"metre":  Meter,
	"metres": Meter,
	"cms":    Meter,
	"m3/s":   Meter,
}

// UnitPolicy describes how rating-curve columns are read and written for one
// run. Source is the unit family of the input tables; System is the family
// of the products. The scale factors convert from Source to System.
type UnitPolicy struct {
	Source          System
	System          System
	StageColumn     string
	DischargeColumn string
	StageScale      float64
	DischargeScale  float64
}

func policyFor(s System) UnitPolicy {
	p := UnitPolicy{Source: s, System: s, StageScale: 1, DischargeScale: 1}
	p.StageColumn, p.DischargeColumn = columnNames(s)
	return p
}

func columnNames(s System) (stage, discharge string) {
	if s == Meter {
		return "stage_m", "discharge_cms"
	}
	return "stage_ft", "discharge_cfs"
}

// SourceStageHeader is the stage column header expected in the input tables.
func (p UnitPolicy) SourceStageHeader() string {
	if p.Source == Meter {
		return "AvgDepth(m)"
	}
	return "AvgDepth(ft)"
}

// SourceDischargeHeader is the discharge column header expected in the input
// tables.
func (p UnitPolicy) SourceDischargeHeader() string {
	if p.Source == Meter {
		return "Flow(cms)"
	}
	return "Flow(cfs)"
}

// ConvertTo returns a policy that writes products in target units. An empty
// target or "native" keeps the source units.
func (p UnitPolicy) ConvertTo(target string) (UnitPolicy, error) {
	switch strings.ToLower(target) {
	case "", "native":
		return policyFor(p.Source), nil
	case string(Feet):
		out := policyFor(p.Source)
		out.System = Feet
		out.StageColumn, out.DischargeColumn = columnNames(Feet)
		if p.Source == Meter {
			out.StageScale, out.DischargeScale = feetPerMeter, 1/cmsPerCfs
		}
		return out, nil
	case string(Meter):
		out := policyFor(p.Source)
		out.System = Meter
		out.StageColumn, out.DischargeColumn = columnNames(Meter)
		if p.Source == Feet {
			out.StageScale, out.DischargeScale = metersPerFt, cmsPerCfs
		}
		return out, nil
	}
	return UnitPolicy{}, fmt.Errorf("unknown unit system %q", target)
}

// SystemOf classifies the parenthesized unit token of a column header.
func SystemOf(header string) (System, string, bool) {
	m := unitToken.FindStringSubmatch(header)
	if m == nil {
		return "", "", false
	}
	token := strings.TrimSpace(m[1])
	s, ok := tokenSystems[strings.ToLower(token)]
	return s, token, ok
}

// InferUnits reads the header row of one rating-curve table and derives the
// run's unit policy from the unit token of its second column.
func InferUnits(path string) (UnitPolicy, error) {
	f, err := os.Open(path)
	if err != nil {
		return UnitPolicy{}, fmt.Errorf("open rating curve: %w", err)
	}
	defer f.Close()

	header, err := readHeader(csv.NewReader(f))
	if err != nil {
		return UnitPolicy{}, fmt.Errorf("read header of %s: %w", path, err)
	}
	if len(header) < 2 {
		return UnitPolicy{}, &domain.UnsupportedUnitError{
			Path:   path,
			Header: strings.Join(header, ","),
			Reason: "header has fewer than two columns",
		}
	}
	col := header[1]
	s, token, ok := SystemOf(col)
	if !ok {
		reason := "unknown unit token"
		if token == "" && !unitToken.MatchString(col) {
			reason = "no unit token"
		}
		return UnitPolicy{}, &domain.UnsupportedUnitError{Path: path, Header: col, Token: token, Reason: reason}
	}
	return policyFor(s), nil
}

func readHeader(r *csv.Reader) ([]string, error) {
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("empty file")
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return header, nil
}
