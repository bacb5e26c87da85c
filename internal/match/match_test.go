package match

import (
	"testing"

	"github.com/hyperjump/damgrep/internal/models"
)

func TestPolicy_Matches(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		text   string
		terms  []string
		want   bool
	}{
		{"exact case-insensitive", Exact, "Contract", []string{"contract"}, true},
		{"exact rejects prefix", Exact, "Contract", []string{"con"}, false},
		{"exact rejects surrounding text", Exact, "Contract 2024", []string{"contract"}, false},
		{"exact keeps padding", Exact, " Contract", []string{"contract"}, false},
		{"substring in prose", Substring, "...please see the attached contract for details...", []string{"contract"}, true},
		{"substring any term", Substring, "overdue invoice", []string{"contract", "invoice"}, true},
		{"substring miss", Substring, "quarterly report", []string{"contract"}, false},
		{"substring upper text", Substring, "SIGNED CONTRACT", []string{"Contract"}, true},
		{"no terms", Substring, "contract", nil, false},
		{"empty text", Exact, "", []string{"contract"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.Matches(tt.text, models.NewTerms(tt.terms...))
			if got != tt.want {
				t.Errorf("%s.Matches(%q, %q) = %v, want %v", tt.policy, tt.text, tt.terms, got, tt.want)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"substring": Substring, " EXACT ": Exact} {
		got, err := ParsePolicy(in)
		if err != nil {
			t.Fatalf("ParsePolicy(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParsePolicy(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParsePolicy("fuzzy"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
