package models

import "testing"

func TestParseCategory(t *testing.T) {
	tests := []struct {
		input string
		want  Category
		ok    bool
	}{
		{input: "cpu", want: CategoryCPU, ok: true},
		{input: " GPU ", want: CategoryGPU, ok: true},
		{input: "processors", want: CategoryCPU, ok: true},
		{input: "pc", want: CategoryBuild, ok: true},
		{input: "keyboard", want: "", ok: false},
		{input: "", want: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseCategory(tt.input)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("ParseCategory(%q) = %q/%v, want %q/%v", tt.input, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCategoryValid(t *testing.T) {
	if !CategoryCase.Valid() {
		t.Fatalf("case should be valid")
	}
	if Category("processors").Valid() {
		t.Fatalf("aliases are not canonical categories")
	}
}

func TestParsePurpose(t *testing.T) {
	tests := []struct {
		input string
		want  Purpose
		ok    bool
	}{
		{input: "gaming", want: PurposeGaming, ok: true},
		{input: "Office", want: PurposeWork, ok: true},
		{input: "any", want: PurposeAny, ok: true},
		{input: "", want: PurposeAny, ok: true},
		{input: "mining", want: PurposeAny, ok: false},
	}

	for _, tt := range tests {
		got, ok := ParsePurpose(tt.input)
		if got != tt.want || ok != tt.ok {
			t.Fatalf("ParsePurpose(%q) = %q/%v, want %q/%v", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNewBuildSumsComponents(t *testing.T) {
	components := []CatalogItem{
		{Title: "CPU", Price: 7990, Category: CategoryCPU},
		{Title: "GPU", Price: 15990, Category: CategoryGPU},
		{Title: "RAM", Price: 4990, Category: CategoryRAM},
	}

	b := NewBuild("Budget gaming", "http://example.test/b/1", "manual", "", PurposeGaming, components)
	if b.TotalPrice != 28970 {
		t.Fatalf("total = %d, want 28970", b.TotalPrice)
	}
	if b.Type != TypePC {
		t.Fatalf("type = %q, want %q", b.Type, TypePC)
	}

	components[0].Price = 1
	if b.Components[0].Price != 7990 {
		t.Fatalf("build must not alias the caller's slice")
	}
}

func TestSnapshotLen(t *testing.T) {
	var nilSnap *Snapshot
	if nilSnap.Len() != 0 {
		t.Fatalf("nil snapshot should be empty")
	}
	s := &Snapshot{Items: make([]CatalogItem, 2), Builds: make([]Build, 3)}
	if s.Len() != 5 {
		t.Fatalf("len = %d, want 5", s.Len())
	}
}
