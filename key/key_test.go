package key

import (
	"errors"
	"strings"
	"testing"
)

func TestBuild_OrderIndependence(t *testing.T) {
	p1 := Params{
		"bbox":  []any{92.1, 9.4, 101.2, 28.5},
		"day":   "2024-05-01",
		"layer": "viirs",
	}
	p2 := Params{
		"layer": "viirs",
		"day":   "2024-05-01",
		"bbox":  []any{92.1, 9.4, 101.2, 28.5},
	}

	k1, err := Build("fires", p1)
	if err != nil {
		t.Fatalf("Build(p1) failed: %v", err)
	}
	k2, err := Build("fires", p2)
	if err != nil {
		t.Fatalf("Build(p2) failed: %v", err)
	}

	if k1 != k2 {
		t.Errorf("keys differ for identical params: %v vs %v", k1, k2)
	}
}

func TestBuild_NilParamsOmitted(t *testing.T) {
	withNil := Params{"province": "chiang_mai", "district": nil}
	without := Params{"province": "chiang_mai"}

	k1, err := Build("boundaries", withNil)
	if err != nil {
		t.Fatalf("Build(withNil) failed: %v", err)
	}
	k2, err := Build("boundaries", without)
	if err != nil {
		t.Fatalf("Build(without) failed: %v", err)
	}

	if k1 != k2 {
		t.Errorf("nil parameter changed the key: %v vs %v", k1, k2)
	}
}

func TestBuild_NestedNilOmitted(t *testing.T) {
	k1, err := Build("floods", Params{"filter": map[string]any{"basin": "mekong", "sensor": nil}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	k2, err := Build("floods", Params{"filter": map[string]any{"basin": "mekong"}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if k1 != k2 {
		t.Errorf("nested nil changed the key: %v vs %v", k1, k2)
	}
}

func TestBuild_DistinctInputs(t *testing.T) {
	tests := []struct {
		name            string
		domainA, domainB string
		paramsA, paramsB Params
	}{
		{"different value", "fires", "fires", Params{"day": "2024-05-01"}, Params{"day": "2024-05-02"}},
		{"different name", "fires", "fires", Params{"day": "2024-05-01"}, Params{"date": "2024-05-01"}},
		{"different domain", "fires", "floods", Params{"day": "2024-05-01"}, Params{"day": "2024-05-01"}},
		{"string vs number", "fires", "fires", Params{"zoom": "7"}, Params{"zoom": 7}},
		{"extra param", "fires", "fires", Params{"day": "2024-05-01"}, Params{"day": "2024-05-01", "sat": "noaa20"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kA, err := Build(tt.domainA, tt.paramsA)
			if err != nil {
				t.Fatalf("Build(A) failed: %v", err)
			}
			kB, err := Build(tt.domainB, tt.paramsB)
			if err != nil {
				t.Fatalf("Build(B) failed: %v", err)
			}
			if kA == kB {
				t.Errorf("distinct inputs produced equal keys: %v", kA)
			}
		})
	}
}

func TestBuild_EmptyDomain(t *testing.T) {
	_, err := Build("", Params{"day": "2024-05-01"})
	if !errors.Is(err, ErrEmptyDomain) {
		t.Errorf("Build with empty domain = %v, want ErrEmptyDomain", err)
	}
}

func TestBuild_UnsupportedValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"function", func() {}},
		{"channel", make(chan int)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build("fires", Params{"bad": tt.value})
			if !errors.Is(err, ErrUnsupportedValue) {
				t.Errorf("Build = %v, want ErrUnsupportedValue", err)
			}
		})
	}
}

func TestBuild_NilAndEmptyParams(t *testing.T) {
	k1, err := Build("land_cover", nil)
	if err != nil {
		t.Fatalf("Build(nil) failed: %v", err)
	}
	k2, err := Build("land_cover", Params{})
	if err != nil {
		t.Fatalf("Build(empty) failed: %v", err)
	}
	if k1 != k2 {
		t.Errorf("nil and empty params produced different keys: %v vs %v", k1, k2)
	}
}

func TestKey_String(t *testing.T) {
	k, err := Build("fires", Params{"day": "2024-05-01"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	s := k.String()
	if !strings.HasPrefix(s, "query:fires:") {
		t.Errorf("String() = %q, want query:fires: prefix", s)
	}
	if len(k.Hash()) != 16 {
		t.Errorf("Hash() length = %d, want 16", len(k.Hash()))
	}
}

func TestKey_Zero(t *testing.T) {
	var zero Key
	if !zero.IsZero() {
		t.Error("zero Key should report IsZero")
	}

	k, err := Build("fires", nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if k.IsZero() {
		t.Error("built Key should not report IsZero")
	}
}

func BenchmarkBuild(b *testing.B) {
	params := Params{
		"bbox":  []any{92.1, 9.4, 101.2, 28.5},
		"day":   "2024-05-01",
		"layer": "viirs",
		"conf":  "nominal",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Build("fires", params); err != nil {
			b.Fatal(err)
		}
	}
}
