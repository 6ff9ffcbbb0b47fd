package validate

import "testing"

func TestValidateReport_NoSourcesMarker(t *testing.T) {
	if err := ValidateReport("No available sources"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestValidateReport_ValidCitationsAndBibliography(t *testing.T) {
	body := "Findings here [1], more detail [2].\n\n## References\n1. First — https://a.example\n2. Second — https://b.example\n"
	if err := ValidateReport(body); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestValidateReport_OutOfRangeCitation(t *testing.T) {
	body := "Findings here [3].\n\n## References\n1. First — https://a.example\n"
	if err := ValidateReport(body); err == nil {
		t.Fatal("expected error for out-of-range citation")
	}
}

func TestValidateReport_CitationsWithoutBibliography(t *testing.T) {
	body := "Some claim [1] with nothing backing it."
	if err := ValidateReport(body); err == nil {
		t.Fatal("expected error for missing bibliography")
	}
}

func TestValidateReport_NoBibliographyNoCitations(t *testing.T) {
	body := "Just prose, no citations, no sources section."
	if err := ValidateReport(body); err == nil {
		t.Fatal("expected error when neither marker nor bibliography present")
	}
}

func TestCountBibliographyEntries(t *testing.T) {
	body := "## References\n1. One\n2. Two\n3. Three\n"
	if got := CountBibliographyEntries(body); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestCountBibliographyEntries_BracketStyle(t *testing.T) {
	body := "Findings [1] and [2].\n\n## Bibliography\n[1] https://a.example\n[2] https://b.example\n"
	if got := CountBibliographyEntries(body); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if err := ValidateReport(body); err != nil {
		t.Fatalf("expected bracket-style bibliography to validate, got %v", err)
	}
}
