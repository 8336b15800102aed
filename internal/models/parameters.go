// Package models defines the case data structures shared across ventsim.
package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidParameters is wrapped by every CaseParameters validation failure.
var ErrInvalidParameters = errors.New("invalid case parameters")

// Patch names one of the four vertical faces of the domain box.
type Patch string

const (
	PatchFront Patch = "front"
	PatchBack  Patch = "back"
	PatchLeft  Patch = "left"
	PatchRight Patch = "right"
)

// Patches lists the four patches in their fixed order.
var Patches = []Patch{PatchFront, PatchBack, PatchLeft, PatchRight}

// Valid reports whether p is one of the four known patches.
func (p Patch) Valid() bool {
	switch p {
	case PatchFront, PatchBack, PatchLeft, PatchRight:
		return true
	}
	return false
}

// ParsePatch converts a case-insensitive name into a Patch.
func ParsePatch(s string) (Patch, error) {
	p := Patch(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown patch %q (want front, back, left or right)", s)
	}
	return p, nil
}

// CaseParameters holds the user-editable inputs of a case.
// Roughness and FlowDirection are derived on read and never stored.
type CaseParameters struct {
	Length              float64   `json:"length" yaml:"length"`
	Width               float64   `json:"width" yaml:"width"`
	Height              float64   `json:"height" yaml:"height"`
	Inlet               Patch     `json:"inlet" yaml:"inlet"`
	Outlet              Patch     `json:"outlet" yaml:"outlet"`
	WindSpeed           float64   `json:"windSpeed" yaml:"windSpeed"`
	WindReferenceHeight float64   `json:"windReferenceHeight" yaml:"windReferenceHeight"`
	Landscape           Landscape `json:"landscape" yaml:"landscape"`
	Duration            float64   `json:"duration" yaml:"duration"`
	// CutPlaneHeight is where the result slice is drawn; zero means WindReferenceHeight.
	CutPlaneHeight float64 `json:"cutPlaneHeight,omitempty" yaml:"cutPlaneHeight,omitempty"`
}

// DefaultParameters returns the values a new session starts with.
func DefaultParameters() CaseParameters {
	return CaseParameters{
		Length:              5,
		Width:               5,
		Height:              5,
		Inlet:               PatchFront,
		Outlet:              PatchBack,
		WindSpeed:           5,
		WindReferenceHeight: 5,
		Landscape:           LandscapeOpen,
		Duration:            5,
	}
}

// Validate checks every rule and returns all violations joined, each wrapping
// ErrInvalidParameters. A nil return means the parameters are runnable.
func (p CaseParameters) Validate() error {
	var errs []error
	positive := func(name string, v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			errs = append(errs, fmt.Errorf("%w: %s must be a positive number, got %v", ErrInvalidParameters, name, v))
		}
	}

	positive("length", p.Length)
	positive("width", p.Width)
	positive("height", p.Height)
	positive("wind speed", p.WindSpeed)
	positive("wind reference height", p.WindReferenceHeight)
	positive("duration", p.Duration)

	if !p.Inlet.Valid() {
		errs = append(errs, fmt.Errorf("%w: unknown inlet patch %q", ErrInvalidParameters, p.Inlet))
	}
	if !p.Outlet.Valid() {
		errs = append(errs, fmt.Errorf("%w: unknown outlet patch %q", ErrInvalidParameters, p.Outlet))
	}
	if p.Inlet.Valid() && p.Inlet == p.Outlet {
		errs = append(errs, fmt.Errorf("%w: inlet and outlet must differ (both %s)", ErrInvalidParameters, p.Inlet))
	}
	if !p.Landscape.Valid() {
		errs = append(errs, fmt.Errorf("%w: unknown landscape %d", ErrInvalidParameters, int(p.Landscape)))
	}
	if math.IsNaN(p.CutPlaneHeight) || p.CutPlaneHeight < 0 {
		errs = append(errs, fmt.Errorf("%w: cut plane height must not be negative", ErrInvalidParameters))
	}

	return errors.Join(errs...)
}

// Roughness returns the aerodynamic roughness length z0 for the landscape.
func (p CaseParameters) Roughness() float64 {
	return p.Landscape.Roughness()
}

// FlowDirection returns the unit wind direction for the inlet/outlet pair.
func (p CaseParameters) FlowDirection() (Vector, bool) {
	return FlowDirection(p.Inlet, p.Outlet)
}

// EffectiveCutPlaneHeight returns the slice height used for result display.
func (p CaseParameters) EffectiveCutPlaneHeight() float64 {
	if p.CutPlaneHeight > 0 {
		return p.CutPlaneHeight
	}
	return p.WindReferenceHeight
}

// SidePatches returns the two patches that are neither inlet nor outlet, in
// the fixed front, back, left, right order.
func (p CaseParameters) SidePatches() []Patch {
	sides := make([]Patch, 0, 2)
	for _, patch := range Patches {
		if patch != p.Inlet && patch != p.Outlet {
			sides = append(sides, patch)
		}
	}
	return sides
}
