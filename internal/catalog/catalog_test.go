package catalog

import (
	"errors"
	"testing"
)

func loadDefaults(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return c
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	c := loadDefaults(t)

	templates := c.Templates()
	if len(templates) < 2 {
		t.Fatalf("embedded catalog has %d templates, want at least 2", len(templates))
	}

	report, err := c.Get("report")
	if err != nil {
		t.Fatalf("Get(report) error = %v", err)
	}
	if report.DefaultStyle == "" {
		t.Error("report template has no default style")
	}
	ids := report.FragmentIDs()
	if len(ids) == 0 {
		t.Fatal("report template accepts no fragments")
	}
	found := false
	for _, id := range ids {
		if id == "paragraph" {
			found = true
		}
	}
	if !found {
		t.Errorf("report fragments = %v, want paragraph present", ids)
	}
}

func TestGetUnknownTemplate(t *testing.T) {
	c := loadDefaults(t)
	if _, err := c.Get("flyer"); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("Get(flyer) = %v, want ErrUnknownTemplate", err)
	}
}

func TestValidateFragment(t *testing.T) {
	c := loadDefaults(t)

	err := c.ValidateFragment("report", "heading", map[string]any{"text": "Intro", "level": 2})
	if err != nil {
		t.Fatalf("valid heading rejected: %v", err)
	}

	err = c.ValidateFragment("report", "heading", map[string]any{"level": 2})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("heading without text = %v, want ValidationError", err)
	}
	if len(ve.Problems) == 0 {
		t.Error("ValidationError carries no problems")
	}

	err = c.ValidateFragment("report", "heading", map[string]any{"text": "Intro", "level": 9})
	if !errors.As(err, &ve) {
		t.Fatalf("heading level 9 = %v, want ValidationError", err)
	}

	if err := c.ValidateFragment("report", "sidebar", nil); !errors.Is(err, ErrUnknownFragment) {
		t.Fatalf("unknown fragment kind = %v, want ErrUnknownFragment", err)
	}
	if err := c.ValidateFragment("flyer", "heading", nil); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("unknown template = %v, want ErrUnknownTemplate", err)
	}
}

func TestValidateGlobalsIsPartial(t *testing.T) {
	c := loadDefaults(t)

	// memo requires title and author, but partial merges omitting them must
	// still pass; only types are checked here.
	if err := c.ValidateGlobals("memo", map[string]any{"title": "Q3"}); err != nil {
		t.Fatalf("partial globals rejected: %v", err)
	}

	err := c.ValidateGlobals("memo", map[string]any{"title": 7})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("numeric title = %v, want ValidationError", err)
	}
}

func TestMissingGlobals(t *testing.T) {
	c := loadDefaults(t)

	missing, err := c.MissingGlobals("memo", map[string]any{"title": "Q3"})
	if err != nil {
		t.Fatalf("MissingGlobals() error = %v", err)
	}
	if len(missing) != 1 || missing[0] != "author" {
		t.Fatalf("missing = %v, want [author]", missing)
	}

	missing, err = c.MissingGlobals("memo", map[string]any{"title": "Q3", "author": "Avery"})
	if err != nil {
		t.Fatalf("MissingGlobals() error = %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("missing = %v, want none", missing)
	}
}

func TestStyleResolution(t *testing.T) {
	c := loadDefaults(t)

	css, err := c.Style("report", "")
	if err != nil {
		t.Fatalf("Style(report, default) error = %v", err)
	}
	if css == "" {
		t.Error("default style resolved to empty CSS")
	}

	if _, err := c.Style("report", "compact"); err != nil {
		t.Fatalf("Style(report, compact) error = %v", err)
	}
	if _, err := c.Style("report", "neon"); !errors.Is(err, ErrUnknownStyle) {
		t.Fatalf("Style(report, neon) = %v, want ErrUnknownStyle", err)
	}
}
