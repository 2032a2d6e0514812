package domain_test

import (
	"encoding/json"
	"errors"
	"testing"

	"cseflow/internal/domain"
)

func TestNewFormShape(t *testing.T) {
	f := domain.NewForm("client-1", "alice", "2026-01-01T00:00:00Z")
	if f.Status != domain.StatusDraft {
		t.Fatalf("new form status = %s, want draft", f.Status)
	}
	if len(f.Steps) != len(domain.StepOrder) {
		t.Fatalf("got %d steps, want %d", len(f.Steps), len(domain.StepOrder))
	}
	for _, id := range domain.StepOrder {
		s := f.Step(id)
		if s == nil {
			t.Fatalf("missing step %s", id)
		}
		if s.Status != domain.StepIncomplete {
			t.Errorf("step %s status = %s, want incomplete", id, s.Status)
		}
		if s.NeedsCorrection {
			t.Errorf("step %s starts flagged", id)
		}
		if len(s.Data) == 0 {
			t.Errorf("step %s has no initial payload", id)
		}
		// Initial payloads must pass their own schema.
		if _, err := domain.ValidateStepData(id, s.Data); err != nil {
			t.Errorf("initial payload for %s invalid: %v", id, err)
		}
	}
}

func TestValidateStepDataRejectsUnknownFields(t *testing.T) {
	_, err := domain.ValidateStepData(domain.StepWalls, json.RawMessage(`{"walls":[],"bogus":1}`))
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestValidateStepDataFieldErrors(t *testing.T) {
	raw := json.RawMessage(`{"walls":[{"name":"","height":0,"length":2,"material":""}]}`)
	_, err := domain.ValidateStepData(domain.StepWalls, raw)
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"walls[0].name", "walls[0].height", "walls[0].material"} {
		if _, ok := ve.Fields[field]; !ok {
			t.Errorf("missing field error for %s (got %v)", field, ve.Fields)
		}
	}
	if _, ok := ve.Fields["walls[0].length"]; ok {
		t.Error("length 2 should be valid")
	}
}

func TestValidateStepDataUnknownStep(t *testing.T) {
	if _, err := domain.ValidateStepData("nonsense", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for unknown step")
	}
}

func TestMapsVersionDefault(t *testing.T) {
	raw := json.RawMessage(`{"documents":[{"name":"site plan","type":"pdf","uploaded_at":"2026-01-15"}]}`)
	normalized, err := domain.ValidateStepData(domain.StepMaps, raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	var d domain.MapsData
	if err := json.Unmarshal(normalized, &d); err != nil {
		t.Fatal(err)
	}
	if d.Documents[0].Version != "1.0" {
		t.Errorf("version = %q, want default 1.0", d.Documents[0].Version)
	}
}

func TestMapsUploadedAtFormat(t *testing.T) {
	raw := json.RawMessage(`{"documents":[{"name":"plan","type":"pdf","uploaded_at":"15/01/2026"}]}`)
	if _, err := domain.ValidateStepData(domain.StepMaps, raw); err == nil {
		t.Fatal("expected date format error")
	}
}

func TestMergeStepDataShallow(t *testing.T) {
	base := json.RawMessage(`{"name":"Old","code":"C-1"}`)
	patch := json.RawMessage(`{"name":"New"}`)
	merged, err := domain.MergeStepData(domain.StepInformation, base, patch)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	var info domain.InformationData
	if err := json.Unmarshal(merged, &info); err != nil {
		t.Fatal(err)
	}
	if info.Name != "New" {
		t.Errorf("name = %q, want New", info.Name)
	}
	if info.Code != "C-1" {
		t.Errorf("code = %q, want untouched C-1", info.Code)
	}
}

func TestMergeStepDataRejectsNonObject(t *testing.T) {
	_, err := domain.MergeStepData(domain.StepInformation, json.RawMessage(`{}`), json.RawMessage(`[1,2]`))
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestFormTitle(t *testing.T) {
	f := domain.NewForm("client-9", "alice", "2026-01-01T00:00:00Z")
	if got := f.Title(); got != "Form client-9" {
		t.Errorf("default title = %q", got)
	}
	f.Step(domain.StepInformation).Data = json.RawMessage(`{"name":"Landfill North"}`)
	if got := f.Title(); got != "Landfill North" {
		t.Errorf("title = %q, want Landfill North", got)
	}
}

func TestStepsNeedingCorrectionOrder(t *testing.T) {
	f := domain.NewForm("c", "alice", "2026-01-01T00:00:00Z")
	f.Step(domain.StepMaps).NeedsCorrection = true
	f.Step(domain.StepWalls).NeedsCorrection = true
	got := f.StepsNeedingCorrection()
	if len(got) != 2 || got[0] != domain.StepWalls || got[1] != domain.StepMaps {
		t.Errorf("flagged = %v, want catalog order [walls maps]", got)
	}
}

func TestSummarize(t *testing.T) {
	f := domain.NewForm("client-2", "bob", "2026-02-02T00:00:00Z")
	e := f.Summarize()
	if e.ClientID != "client-2" || e.Status != domain.StatusDraft || e.CreatedBy != "bob" {
		t.Errorf("unexpected entry %+v", e)
	}
}
