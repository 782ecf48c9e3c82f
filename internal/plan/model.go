package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CurrentFormatVersion is written into a plan saved by this build when the
// plan carries no format version of its own.
const CurrentFormatVersion = 1

// Method is an HTTP method supported by the engine.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodPatch   Method = "PATCH"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
)

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch, MethodHead, MethodOptions:
		return true
	}
	return false
}

// Body type tags for RequestBody.
const (
	BodyJSON = "json"
	BodyRaw  = "raw"
	BodyXML  = "xml"
	BodyForm = "form_data"
)

// FormPair is one ordered key/value entry of a form-data body.
type FormPair struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// RequestBody is a tagged variant describing a request payload.
//
// Type selects the variant: "json", "raw" and "xml" carry their payload in
// Content; "form_data" carries ordered pairs in Form.
type RequestBody struct {
	Type    string     `json:"type" yaml:"type"`
	Content string     `json:"content,omitempty" yaml:"content,omitempty"`
	Form    []FormPair `json:"form,omitempty" yaml:"form,omitempty"`
}

// LoopCount type tags.
const (
	LoopFinite   = "finite"
	LoopDuration = "duration"
	LoopInfinite = "infinite"
)

// LoopCount is a tagged variant controlling how long a thread group iterates.
type LoopCount struct {
	Type string `json:"type" yaml:"type"`
	// Count is the number of iterations for "finite" loops.
	Count uint64 `json:"count,omitempty" yaml:"count,omitempty"`
	// Seconds is the wall-clock limit for "duration" loops.
	Seconds uint64 `json:"seconds,omitempty" yaml:"seconds,omitempty"`
}

// DefaultLoopCount returns the default loop policy: a single iteration.
func DefaultLoopCount() LoopCount {
	return LoopCount{Type: LoopFinite, Count: 1}
}

// Assertion attaches a named assertion rule to a request. The rule itself is
// kept as raw JSON; the assertions package owns its schema.
type Assertion struct {
	ID   uuid.UUID       `json:"id" yaml:"id"`
	Name string          `json:"name" yaml:"name"`
	Rule json.RawMessage `json:"rule" yaml:"rule"`
}

// Extractor captures a value from a response into a variable. The expression
// is kept as raw JSON; the extract package owns its schema.
type Extractor struct {
	ID       uuid.UUID       `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	Variable string          `json:"variable" yaml:"variable"`
	Expr     json.RawMessage `json:"expression" yaml:"expression"`
}

// HTTPRequest is one request template inside a thread group. URL, header
// names/values and body content may contain ${name} placeholders.
type HTTPRequest struct {
	ID         uuid.UUID         `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Method     Method            `json:"method" yaml:"method"`
	URL        string            `json:"url" yaml:"url"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body       *RequestBody      `json:"body,omitempty" yaml:"body,omitempty"`
	Assertions []Assertion       `json:"assertions,omitempty" yaml:"assertions,omitempty"`
	Extractors []Extractor       `json:"extractors,omitempty" yaml:"extractors,omitempty"`
	Enabled    bool              `json:"enabled" yaml:"enabled"`
}

// UnmarshalJSON defaults Enabled to true when the field is absent.
func (r *HTTPRequest) UnmarshalJSON(b []byte) error {
	type alias HTTPRequest
	aux := alias{Enabled: true}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*r = HTTPRequest(aux)
	return nil
}

// VariableScope determines which resolver layer a plan variable feeds.
type VariableScope string

const (
	ScopeGlobal      VariableScope = "global"
	ScopePlan        VariableScope = "plan"
	ScopeThreadGroup VariableScope = "thread_group"
)

// Variable is a named initial value available to ${name} templates.
type Variable struct {
	ID    uuid.UUID     `json:"id" yaml:"id"`
	Name  string        `json:"name" yaml:"name"`
	Value string        `json:"value" yaml:"value"`
	Scope VariableScope `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// CsvSharingMode controls how CSV rows are distributed across virtual users.
type CsvSharingMode string

const (
	// ShareAllThreads uses a single row cursor shared by every virtual user.
	ShareAllThreads CsvSharingMode = "all_threads"
	// SharePerThread gives every virtual user its own cursor starting at row 0.
	SharePerThread CsvSharingMode = "per_thread"
)

// CsvDataSource feeds variable values into the test plan. Each column name
// becomes a variable referencable as ${column_name}; each iteration reads the
// next row of data.
type CsvDataSource struct {
	ID          uuid.UUID      `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Columns     []string       `json:"columns" yaml:"columns"`
	Rows        [][]string     `json:"rows" yaml:"rows"`
	SharingMode CsvSharingMode `json:"sharing_mode,omitempty" yaml:"sharing_mode,omitempty"`
	Recycle     bool           `json:"recycle" yaml:"recycle"`
}

// UnmarshalJSON defaults Recycle to true when the field is absent.
func (s *CsvDataSource) UnmarshalJSON(b []byte) error {
	type alias CsvDataSource
	aux := alias{Recycle: true}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*s = CsvDataSource(aux)
	return nil
}

// ThreadGroup is a population of virtual users sharing ramp-up, loop policy,
// a request list and group-scoped variables.
type ThreadGroup struct {
	ID            uuid.UUID     `json:"id" yaml:"id"`
	Name          string        `json:"name" yaml:"name"`
	NumThreads    int           `json:"num_threads" yaml:"num_threads"`
	RampUpSeconds int           `json:"ramp_up_seconds" yaml:"ramp_up_seconds"`
	LoopCount     LoopCount     `json:"loop_count" yaml:"loop_count"`
	Requests      []HTTPRequest `json:"requests,omitempty" yaml:"requests,omitempty"`
	Variables     []Variable    `json:"variables,omitempty" yaml:"variables,omitempty"`
	Enabled       bool          `json:"enabled" yaml:"enabled"`
}

// UnmarshalJSON defaults Enabled to true when the field is absent.
func (tg *ThreadGroup) UnmarshalJSON(b []byte) error {
	type alias ThreadGroup
	aux := alias{Enabled: true}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*tg = ThreadGroup(aux)
	return nil
}

// TestPlan is the immutable input of a run.
type TestPlan struct {
	ID             uuid.UUID       `json:"id" yaml:"id"`
	Name           string          `json:"name" yaml:"name"`
	Description    string          `json:"description,omitempty" yaml:"description,omitempty"`
	ThreadGroups   []ThreadGroup   `json:"thread_groups,omitempty" yaml:"thread_groups,omitempty"`
	Variables      []Variable      `json:"variables,omitempty" yaml:"variables,omitempty"`
	CsvDataSources []CsvDataSource `json:"csv_data_sources,omitempty" yaml:"csv_data_sources,omitempty"`
	FormatVersion  int             `json:"format_version" yaml:"format_version"`
}

// New creates an empty plan with a fresh identity.
func New(name string) *TestPlan {
	return &TestPlan{
		ID:            uuid.New(),
		Name:          name,
		FormatVersion: CurrentFormatVersion,
	}
}

// EnabledGroups returns the thread groups that will actually run.
func (p *TestPlan) EnabledGroups() []ThreadGroup {
	var out []ThreadGroup
	for _, tg := range p.ThreadGroups {
		if tg.Enabled {
			out = append(out, tg)
		}
	}
	return out
}

// EnabledRequests returns the requests of the group that will actually run.
func (tg *ThreadGroup) EnabledRequests() []HTTPRequest {
	var out []HTTPRequest
	for _, r := range tg.Requests {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

// HasRunnableWork reports whether at least one enabled group contains at
// least one enabled request.
func (p *TestPlan) HasRunnableWork() bool {
	for _, tg := range p.EnabledGroups() {
		if len(tg.EnabledRequests()) > 0 {
			return true
		}
	}
	return false
}

// SourceByName finds a CSV data source by its name.
func (p *TestPlan) SourceByName(name string) (*CsvDataSource, bool) {
	for i := range p.CsvDataSources {
		if p.CsvDataSources[i].Name == name {
			return &p.CsvDataSources[i], true
		}
	}
	return nil, false
}

// ParseCsvSource parses CSV content (header row required) into a data source.
func ParseCsvSource(name, content string, delimiter rune) (*CsvDataSource, error) {
	records, err := readCsv(content, delimiter)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv %q has no header row", name)
	}
	columns := make([]string, len(records[0]))
	for i, h := range records[0] {
		columns[i] = strings.TrimSpace(h)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("csv %q has no columns", name)
	}
	rows := records[1:]
	if len(rows) == 0 {
		return nil, fmt.Errorf("csv %q has no data rows", name)
	}
	return &CsvDataSource{
		ID:          uuid.New(),
		Name:        name,
		Columns:     columns,
		Rows:        rows,
		SharingMode: ShareAllThreads,
		Recycle:     true,
	}, nil
}
