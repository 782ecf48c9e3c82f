package plan

import (
	"fmt"
	"strings"

	"github.com/rmeter/rmeter/internal/assertions"
	"github.com/rmeter/rmeter/internal/extract"
)

// Validate checks a plan before a run. An empty slice means the plan is
// valid. All findings are collected rather than stopping at the first.
func Validate(p *TestPlan) []error {
	var errs []error

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, fmt.Errorf("test plan name must not be empty"))
	}

	for i := range p.ThreadGroups {
		errs = append(errs, validateThreadGroup(&p.ThreadGroups[i])...)
	}
	for i := range p.CsvDataSources {
		errs = append(errs, validateCsvSource(&p.CsvDataSources[i])...)
	}

	return errs
}

func validateThreadGroup(tg *ThreadGroup) []error {
	var errs []error

	if strings.TrimSpace(tg.Name) == "" {
		errs = append(errs, fmt.Errorf("thread group %s: name must not be empty", tg.ID))
	}
	if tg.NumThreads < 1 {
		errs = append(errs, fmt.Errorf("thread group %q: num_threads must be at least 1", tg.Name))
	}
	if tg.RampUpSeconds < 0 {
		errs = append(errs, fmt.Errorf("thread group %q: ramp_up_seconds must not be negative", tg.Name))
	}

	switch tg.LoopCount.Type {
	case LoopFinite:
		if tg.LoopCount.Count < 1 {
			errs = append(errs, fmt.Errorf("thread group %q: finite loop count must be at least 1", tg.Name))
		}
	case LoopDuration:
		if tg.LoopCount.Seconds < 1 {
			errs = append(errs, fmt.Errorf("thread group %q: loop duration must be at least 1 second", tg.Name))
		}
	case LoopInfinite:
	default:
		errs = append(errs, fmt.Errorf("thread group %q: unknown loop type %q", tg.Name, tg.LoopCount.Type))
	}

	for i := range tg.Requests {
		errs = append(errs, validateRequest(&tg.Requests[i])...)
	}
	return errs
}

func validateRequest(req *HTTPRequest) []error {
	var errs []error

	if !req.Method.Valid() {
		errs = append(errs, fmt.Errorf("request %q: unsupported method %q", req.Name, req.Method))
	}

	url := strings.TrimSpace(req.URL)
	if url == "" {
		errs = append(errs, fmt.Errorf("request %q: URL must not be empty", req.Name))
	} else {
		// Strip the "${" and "}" delimiters before the scheme check, and accept
		// any URL that starts with a placeholder, so templated hosts like
		// ${base_url}/path still validate.
		stripped := strings.ReplaceAll(strings.ReplaceAll(url, "${", ""), "}", "")
		if !strings.HasPrefix(stripped, "http://") && !strings.HasPrefix(stripped, "https://") &&
			!strings.HasPrefix(url, "${") {
			errs = append(errs, fmt.Errorf("request %q: URL must start with http:// or https://", req.Name))
		}
	}

	if req.Body != nil {
		switch req.Body.Type {
		case BodyJSON, BodyRaw, BodyXML, BodyForm:
		default:
			errs = append(errs, fmt.Errorf("request %q: unknown body type %q", req.Name, req.Body.Type))
		}
	}

	for _, a := range req.Assertions {
		rule, err := assertions.ParseRule(a.Rule)
		if err != nil {
			errs = append(errs, fmt.Errorf("request %q, assertion %q: %w", req.Name, a.Name, err))
			continue
		}
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("request %q, assertion %q: %w", req.Name, a.Name, err))
		}
	}

	for _, e := range req.Extractors {
		if strings.TrimSpace(e.Variable) == "" {
			errs = append(errs, fmt.Errorf("request %q, extractor %q: variable name must not be empty", req.Name, e.Name))
		}
		rule, err := extract.ParseRule(e.Expr)
		if err != nil {
			errs = append(errs, fmt.Errorf("request %q, extractor %q: %w", req.Name, e.Name, err))
			continue
		}
		if err := rule.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("request %q, extractor %q: %w", req.Name, e.Name, err))
		}
	}

	return errs
}

func validateCsvSource(s *CsvDataSource) []error {
	var errs []error

	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, fmt.Errorf("csv source %s: name must not be empty", s.ID))
	}
	if len(s.Columns) == 0 {
		errs = append(errs, fmt.Errorf("csv source %q: must have at least one column", s.Name))
	}
	switch s.SharingMode {
	case ShareAllThreads, SharePerThread, "":
	default:
		errs = append(errs, fmt.Errorf("csv source %q: unknown sharing mode %q", s.Name, s.SharingMode))
	}
	for i, row := range s.Rows {
		if len(row) != len(s.Columns) {
			errs = append(errs, fmt.Errorf("csv source %q: row %d has %d cells, expected %d", s.Name, i, len(row), len(s.Columns)))
		}
	}
	return errs
}
