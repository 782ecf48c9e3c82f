package plan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func samplePlan() *TestPlan {
	p := New("Sample")
	p.Variables = []Variable{
		{ID: uuid.New(), Name: "base_url", Value: "http://example.com", Scope: ScopeGlobal},
	}
	p.ThreadGroups = []ThreadGroup{{
		ID:            uuid.New(),
		Name:          "Workers",
		NumThreads:    5,
		RampUpSeconds: 10,
		LoopCount:     LoopCount{Type: LoopDuration, Seconds: 60},
		Requests: []HTTPRequest{{
			ID:      uuid.New(),
			Name:    "GET /",
			Method:  MethodGet,
			URL:     "${base_url}/",
			Enabled: true,
		}},
		Enabled: true,
	}}
	return p
}

func TestSaveLoad_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.rmeter")
	p := samplePlan()
	if err := Save(p, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ID != p.ID || loaded.Name != p.Name {
		t.Error("identity must survive the roundtrip")
	}
	if len(loaded.ThreadGroups) != 1 || loaded.ThreadGroups[0].NumThreads != 5 {
		t.Error("thread group must survive the roundtrip")
	}
	if loaded.FormatVersion != CurrentFormatVersion {
		t.Errorf("unexpected format version %d", loaded.FormatVersion)
	}
}

func TestLoad_ToleratesComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commented.rmeter")
	content := `{
	  // plan identity
	  "id": "00000000-0000-0000-0000-000000000001",
	  "name": "Commented", /* inline */
	  "format_version": 1
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "Commented" {
		t.Errorf("unexpected name %q", p.Name)
	}
}

func TestLoad_ToleratesUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forward.rmeter")
	content := `{
	  "id": "00000000-0000-0000-0000-000000000002",
	  "name": "Forward",
	  "format_version": 2,
	  "future_field": {"anything": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err != nil {
		t.Fatalf("unknown fields must be tolerated: %v", err)
	}
}

func TestLoad_YAMLPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	content := `
id: 00000000-0000-0000-0000-000000000003
name: Yaml Plan
format_version: 1
thread_groups:
  - id: 00000000-0000-0000-0000-000000000004
    name: Group
    num_threads: 2
    ramp_up_seconds: 0
    enabled: true
    loop_count:
      type: finite
      count: 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "Yaml Plan" || len(p.ThreadGroups) != 1 {
		t.Errorf("unexpected plan: %+v", p)
	}
	if p.ThreadGroups[0].LoopCount.Count != 3 {
		t.Errorf("unexpected loop count: %+v", p.ThreadGroups[0].LoopCount)
	}
}

func TestUnmarshal_EnabledDefaultsTrue(t *testing.T) {
	var req HTTPRequest
	raw := `{"id":"00000000-0000-0000-0000-000000000001","name":"r","method":"GET","url":"http://x"}`
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatal(err)
	}
	if !req.Enabled {
		t.Error("request enabled must default to true")
	}

	var tg ThreadGroup
	raw = `{"id":"00000000-0000-0000-0000-000000000001","name":"g","num_threads":1}`
	if err := json.Unmarshal([]byte(raw), &tg); err != nil {
		t.Fatal(err)
	}
	if !tg.Enabled {
		t.Error("thread group enabled must default to true")
	}
}

func TestUnmarshal_RecycleDefaultsTrue(t *testing.T) {
	var src CsvDataSource
	raw := `{"id":"00000000-0000-0000-0000-000000000001","name":"users","columns":["u"],"rows":[["a"]]}`
	if err := json.Unmarshal([]byte(raw), &src); err != nil {
		t.Fatal(err)
	}
	if !src.Recycle {
		t.Error("recycle must default to true")
	}
}

func TestValidate_ValidPlan(t *testing.T) {
	if errs := Validate(samplePlan()); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	p := samplePlan()
	p.Name = " "
	p.ThreadGroups[0].NumThreads = 0
	errs := Validate(p)
	if len(errs) < 2 {
		t.Errorf("expected both findings collected, got %v", errs)
	}
}

func TestValidate_UnknownAssertionRuleType(t *testing.T) {
	p := samplePlan()
	p.ThreadGroups[0].Requests[0].Assertions = []Assertion{{
		ID:   uuid.New(),
		Name: "bad",
		Rule: json.RawMessage(`{"type":"made_up"}`),
	}}
	if errs := Validate(p); len(errs) == 0 {
		t.Error("unknown rule types must fail validation")
	}
}

func TestValidate_StatusRange(t *testing.T) {
	p := samplePlan()
	p.ThreadGroups[0].Requests[0].Assertions = []Assertion{{
		ID:   uuid.New(),
		Name: "range",
		Rule: json.RawMessage(`{"type":"status_code_range","min":250,"max":200}`),
	}}
	if errs := Validate(p); len(errs) == 0 {
		t.Error("inverted status range must fail validation")
	}
}

func TestValidate_CsvRowArity(t *testing.T) {
	p := samplePlan()
	p.CsvDataSources = []CsvDataSource{{
		ID:      uuid.New(),
		Name:    "users",
		Columns: []string{"a", "b"},
		Rows:    [][]string{{"only-one"}},
		Recycle: true,
	}}
	if errs := Validate(p); len(errs) == 0 {
		t.Error("row arity mismatch must fail validation")
	}
}

func TestValidate_LoopBounds(t *testing.T) {
	p := samplePlan()
	p.ThreadGroups[0].LoopCount = LoopCount{Type: LoopFinite, Count: 0}
	if errs := Validate(p); len(errs) == 0 {
		t.Error("finite loop of zero must fail validation")
	}
}

func TestHasRunnableWork(t *testing.T) {
	p := samplePlan()
	if !p.HasRunnableWork() {
		t.Error("sample plan should be runnable")
	}

	p.ThreadGroups[0].Requests[0].Enabled = false
	if p.HasRunnableWork() {
		t.Error("plan without enabled requests is not runnable")
	}

	p.ThreadGroups[0].Requests[0].Enabled = true
	p.ThreadGroups[0].Enabled = false
	if p.HasRunnableWork() {
		t.Error("plan without enabled groups is not runnable")
	}
}

func TestParseCsvSource(t *testing.T) {
	src, err := ParseCsvSource("users", "username,password\nalice,a1\nbob,b2\n", ',')
	if err != nil {
		t.Fatalf("ParseCsvSource: %v", err)
	}
	if len(src.Columns) != 2 || src.Columns[0] != "username" {
		t.Errorf("unexpected columns: %v", src.Columns)
	}
	if len(src.Rows) != 2 || src.Rows[1][0] != "bob" {
		t.Errorf("unexpected rows: %v", src.Rows)
	}
	if !src.Recycle || src.SharingMode != ShareAllThreads {
		t.Error("defaults must be recycle=true, all_threads")
	}
}

func TestParseCsvSource_NoDataRows(t *testing.T) {
	if _, err := ParseCsvSource("empty", "only,header\n", ','); err == nil {
		t.Error("expected error for CSV without data rows")
	}
}
