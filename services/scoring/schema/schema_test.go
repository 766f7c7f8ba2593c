// Copyright (C) 2025 ThermaSense Labs (engineering@thermasense.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package schema

import "testing"

func TestFeatures_CountAndOrder(t *testing.T) {
	names := Features()

	if len(names) != Count {
		t.Fatalf("schema has %d features, want %d", len(names), Count)
	}

	// The first four positions are demographics + environment; the model
	// artifact relies on this exact prefix.
	wantPrefix := []string{Gender, Age, Temperature, Humidity}
	for i, want := range wantPrefix {
		if names[i] != want {
			t.Errorf("feature[%d] = %q, want %q", i, names[i], want)
		}
	}

	// No duplicate names.
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			t.Errorf("duplicate feature name %q", n)
		}
		seen[n] = true
	}
}

func TestFeatures_ReturnsCopy(t *testing.T) {
	a := Features()
	a[0] = "mutated"
	b := Features()
	if b[0] != Gender {
		t.Error("Features() exposed internal slice to mutation")
	}
}

func TestRequired_SubsetOfSchema(t *testing.T) {
	for _, name := range Required() {
		if Index(name) < 0 {
			t.Errorf("required feature %q not in schema", name)
		}
		if !IsRequired(name) {
			t.Errorf("IsRequired(%q) = false for a required feature", name)
		}
	}

	want := []string{Gender, Age, Temperature, Humidity, MeanHR, MeanNNI}
	got := Required()
	if len(got) != len(want) {
		t.Fatalf("Required() returned %d names, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Required()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRange_KnownAndUnknown(t *testing.T) {
	t.Run("known feature has sane bounds", func(t *testing.T) {
		min, max, ok := Range(Temperature)
		if !ok {
			t.Fatal("Range(temperature_c) not found")
		}
		if min != -10 || max != 50 {
			t.Errorf("temperature range = (%v, %v), want (-10, 50)", min, max)
		}
	})

	t.Run("unknown feature reports not ok", func(t *testing.T) {
		if _, _, ok := Range("no_such_feature"); ok {
			t.Error("Range should report ok=false for unknown feature")
		}
	})

	t.Run("every feature has min < max", func(t *testing.T) {
		for _, f := range Definitions() {
			if f.Min >= f.Max {
				t.Errorf("feature %q has degenerate range (%v, %v)", f.Name, f.Min, f.Max)
			}
		}
	})

	t.Run("every default lies inside its range", func(t *testing.T) {
		for _, f := range Definitions() {
			if f.Default < f.Min || f.Default > f.Max {
				t.Errorf("feature %q default %v outside range (%v, %v)",
					f.Name, f.Default, f.Min, f.Max)
			}
		}
	})
}

func TestIndex_Stable(t *testing.T) {
	names := Features()
	for i, n := range names {
		if Index(n) != i {
			t.Errorf("Index(%q) = %d, want %d", n, Index(n), i)
		}
	}
	if Index("bogus") != -1 {
		t.Error("Index of unknown feature should be -1")
	}
}

func TestIsHRV(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{MeanHR, true},
		{RMSSD, true},
		{"sampen", true},
		{"triangular_index", true},
		{Gender, false},
		{Age, false},
		{Temperature, false},
		{Humidity, false},
		{"unknown", false},
	}
	for _, tc := range cases {
		if got := IsHRV(tc.name); got != tc.want {
			t.Errorf("IsHRV(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestHRVFeatureCount(t *testing.T) {
	hrv := 0
	for _, n := range Features() {
		if IsHRV(n) {
			hrv++
		}
	}
	if hrv != 46 {
		t.Errorf("schema carries %d HRV features, want 46", hrv)
	}
}
