package domain

import (
	"errors"
	"fmt"
)

// Input classes reported by NoInputFilesError.
const (
	InputRasterTiles  = "raster tiles"
	InputRatingCurves = "rating curves"
	InputStageLayers  = "stage layers"
	InputRatingRows   = "rating curve rows"
)

// NoInputFilesError is fatal: every product of the run depends on a
// non-empty input of the named class.
type NoInputFilesError struct {
	Kind string
	Root string
}

func (e *NoInputFilesError) Error() string {
	if e.Root == "" {
		return fmt.Sprintf("no input files: zero %s found", e.Kind)
	}
	return fmt.Sprintf("no input files: zero %s found under %s", e.Kind, e.Root)
}

// UnsupportedUnitError reports a rating curve header whose unit token is
// missing, unknown, or inconsistent with the unit system of the run.
type UnsupportedUnitError struct {
	Path   string
	Header string
	Token  string
	Reason string
}

func (e *UnsupportedUnitError) Error() string {
	msg := fmt.Sprintf("unsupported unit in %q", e.Header)
	if e.Token != "" {
		msg += fmt.Sprintf(" (token %q)", e.Token)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Path != "" {
		msg += " [" + e.Path + "]"
	}
	return msg
}

// ErrNoStageLayers is returned when every stage mosaic came out empty.
var ErrNoStageLayers = errors.New("no usable stage layers")

// IsFatal reports whether err belongs to a run-level class that must abort
// the run with a non-zero exit code.
func IsFatal(err error) bool {
	var noInput *NoInputFilesError
	var unit *UnsupportedUnitError
	return errors.As(err, &noInput) || errors.As(err, &unit) || errors.Is(err, ErrNoStageLayers)
}
