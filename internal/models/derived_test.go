package models

import (
	"math"
	"testing"
)

func TestFlowDirectionTable(t *testing.T) {
	tests := []struct {
		in, out Patch
		want    Vector
	}{
		{PatchFront, PatchBack, Vector{0, -1, 0}},
		{PatchBack, PatchFront, Vector{0, 1, 0}},
		{PatchLeft, PatchRight, Vector{1, 0, 0}},
		{PatchRight, PatchLeft, Vector{-1, 0, 0}},
		{PatchFront, PatchLeft, Vector{-diagonal, -diagonal, 0}},
		{PatchFront, PatchRight, Vector{diagonal, -diagonal, 0}},
		{PatchBack, PatchLeft, Vector{-diagonal, diagonal, 0}},
		{PatchBack, PatchRight, Vector{diagonal, diagonal, 0}},
		{PatchLeft, PatchFront, Vector{diagonal, diagonal, 0}},
		{PatchLeft, PatchBack, Vector{diagonal, -diagonal, 0}},
		{PatchRight, PatchFront, Vector{-diagonal, diagonal, 0}},
		{PatchRight, PatchBack, Vector{-diagonal, -diagonal, 0}},
	}

	if len(tests) != 12 {
		t.Fatalf("table should cover 12 ordered pairs, has %d", len(tests))
	}

	for _, tt := range tests {
		got, ok := FlowDirection(tt.in, tt.out)
		if !ok {
			t.Errorf("%s->%s: missing direction", tt.in, tt.out)
			continue
		}
		if got != tt.want {
			t.Errorf("%s->%s: got %v, want %v", tt.in, tt.out, got, tt.want)
		}
		again, _ := FlowDirection(tt.in, tt.out)
		if again != got {
			t.Errorf("%s->%s: repeated call returned %v", tt.in, tt.out, again)
		}
		length := math.Hypot(got.X, got.Y)
		if math.Abs(length-1) > 1e-5 {
			t.Errorf("%s->%s: direction is not unit length (%v)", tt.in, tt.out, length)
		}
	}
}

func TestFlowDirectionRejectsSamePatch(t *testing.T) {
	for _, p := range Patches {
		if _, ok := FlowDirection(p, p); ok {
			t.Errorf("%s->%s should have no direction", p, p)
		}
	}
}

func TestRoughnessTable(t *testing.T) {
	want := map[Landscape]float64{
		LandscapeOpen:        0.0002,
		LandscapeNegligible:  0.005,
		LandscapeMinimal:     0.03,
		LandscapeOccasional:  0.10,
		LandscapeScattered:   0.25,
		LandscapeLarge:       0.5,
		LandscapeHomogeneous: 1.0,
		LandscapeVarying:     2.0,
	}
	prev := 0.0
	for l := LandscapeOpen; l <= LandscapeVarying; l++ {
		got := l.Roughness()
		if got != want[l] {
			t.Errorf("%s: got %v, want %v", l, got, want[l])
		}
		if got <= prev {
			t.Errorf("%s: roughness %v is not above previous %v", l, got, prev)
		}
		prev = got
	}
	if Landscape(9).Roughness() != 0 {
		t.Error("unknown landscape should have zero roughness")
	}
}

func TestLandscapeText(t *testing.T) {
	var l Landscape
	if err := l.UnmarshalText([]byte("scattered")); err != nil || l != LandscapeScattered {
		t.Errorf("UnmarshalText(scattered) = %v, %v", l, err)
	}
	if err := l.UnmarshalText([]byte("7")); err != nil || l != LandscapeVarying {
		t.Errorf("UnmarshalText(7) = %v, %v", l, err)
	}
	if err := l.UnmarshalText([]byte("occassional")); err != nil || l != LandscapeOccasional {
		t.Errorf("UnmarshalText(occassional) = %v, %v", l, err)
	}
	if err := l.UnmarshalText([]byte("swamp")); err == nil {
		t.Error("expected error for unknown landscape")
	}
	b, err := LandscapeLarge.MarshalText()
	if err != nil || string(b) != "large" {
		t.Errorf("MarshalText(large) = %q, %v", b, err)
	}
}

func TestPatchFaces(t *testing.T) {
	want := map[Patch]string{
		PatchFront: "(0 1 5 4)",
		PatchBack:  "(3 7 6 2)",
		PatchLeft:  "(0 4 7 3)",
		PatchRight: "(1 2 6 5)",
	}
	for p, face := range want {
		if got := p.FaceString(); got != face {
			t.Errorf("%s: got %s, want %s", p, got, face)
		}
	}
}

func TestBoxVertices(t *testing.T) {
	cases := [][3]float64{{5, 5, 5}, {1.5, 20, 0.25}, {100, 3, 7}}
	for _, c := range cases {
		l, w, h := c[0], c[1], c[2]
		v := BoxVertices(l, w, h)
		want := [8]Vector{
			{-l, -w, 0}, {l, -w, 0}, {l, w, 0}, {-l, w, 0},
			{-l, -w, h}, {l, -w, h}, {l, w, h}, {-l, w, h},
		}
		if v != want {
			t.Errorf("BoxVertices(%v, %v, %v) = %v, want %v", l, w, h, v, want)
		}
	}
}

func TestTimeName(t *testing.T) {
	tests := map[float64]string{
		5:         "5",
		20:        "20",
		0.5:       "0.5",
		0.1234567: "0.123457",
		123456:    "123456",
		1234567:   "1.23457e+06",
		1e6:       "1e+06",
		0.00001:   "1e-05",
	}
	for in, want := range tests {
		if got := TimeName(in); got != want {
			t.Errorf("TimeName(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[float64]string{
		0:         "0",
		5:         "5",
		-5:        "-5",
		0.0002:    "0.0002",
		0.707107:  "0.707107",
		-0.707107: "-0.707107",
		1e6:       "1000000",
	}
	for in, want := range tests {
		if got := FormatNumber(in); got != want {
			t.Errorf("FormatNumber(%v) = %q, want %q", in, got, want)
		}
	}
	if got := (Vector{0, -1, 0}).Foam(); got != "(0 -1 0)" {
		t.Errorf("Foam() = %q", got)
	}
}
