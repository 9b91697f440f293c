package main

import (
	"strings"
	"testing"

	"github.com/andreyvit/refstore"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		in   string
		exp  refstore.Range
		fail bool
	}{
		{"1-10", refstore.Range{From: 1, To: 10}, false},
		{"0-1", refstore.Range{From: 0, To: 1}, false},
		{"10-10", refstore.Range{}, true},
		{"10", refstore.Range{}, true},
		{"a-10", refstore.Range{}, true},
		{"1-b", refstore.Range{}, true},
	}
	for _, tt := range tests {
		a, err := parseRange(tt.in)
		if tt.fail {
			if err == nil {
				t.Errorf("** parseRange(%q) = %v, wanted error", tt.in, a)
			}
		} else if err != nil || a != tt.exp {
			t.Errorf("** parseRange(%q) = (%v, %v), wanted %v", tt.in, a, err, tt.exp)
		}
	}
}

func TestLoadLines(t *testing.T) {
	s, err := refstore.Open(refstore.InMemory, refstore.Options{IsTesting: true})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	def := refstore.MapDefinition{
		RefStreamDefinition: refstore.RefStreamDefinition{PipelineUUID: "cli", PipelineVersion: "1", StreamID: 1},
		MapName:             "M",
	}

	counts, err := loadLines(s, def, strings.NewReader("alice\tParis\nbob\tLondon\n\ncarol\n"), false, false)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Puts != 3 || counts.NewEntries != 2 || counts.IgnoredNils != 1 {
		t.Fatalf("loadLines counts = %+v", counts)
	}
	v, found, err := s.GetValue(def, "bob")
	if err != nil || !found || v != refstore.StringValue("London") {
		t.Fatalf("GetValue(bob) = (%v, %v, %v), wanted London", v, found, err)
	}

	rangeDef := def
	rangeDef.StreamID = 2
	_, err = loadLines(s, rangeDef, strings.NewReader("1-10\tlow\n10-5\tbad\n"), true, false)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("loadLines(bad range) err = %v, wanted a line 2 error", err)
	}
	state, _, _ := s.GetLoadState(rangeDef.RefStreamDefinition)
	if state != refstore.Failed {
		t.Fatalf("state after failed load = %v, wanted %v", state, refstore.Failed)
	}
}
