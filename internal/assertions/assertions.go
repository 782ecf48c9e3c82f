// Package assertions scores HTTP responses against the assertion rules
// configured on a request.
package assertions

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/rmeter/rmeter/internal/jsonpath"
)

// Rule type tags.
const (
	RuleStatusCodeEquals    = "status_code_equals"
	RuleStatusCodeNotEquals = "status_code_not_equals"
	RuleStatusCodeRange     = "status_code_range"
	RuleBodyContains        = "body_contains"
	RuleBodyNotContains     = "body_not_contains"
	RuleJSONPath            = "json_path"
	RuleResponseTimeBelow   = "response_time_below"
	RuleHeaderEquals        = "header_equals"
	RuleHeaderContains      = "header_contains"
)

// Rule is the decoded form of one assertion. Exactly the fields of the
// selected Type are meaningful. On the wire, each variant is an object with a
// "type" tag and the variant's own fields; several variants share the field
// name "expected" with different value types, so decoding is per-variant.
type Rule struct {
	Type string

	Expected    int
	NotExpected int
	Min         int
	Max         int

	Substring string

	Expression   string
	ExpectedJSON json.RawMessage

	ThresholdMs int64

	Header        string
	ExpectedValue string
}

// ParseRule decodes a raw rule and rejects unknown type tags.
func ParseRule(raw json.RawMessage) (*Rule, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("invalid assertion rule: %w", err)
	}

	r := &Rule{Type: probe.Type}
	switch probe.Type {
	case RuleStatusCodeEquals:
		var v struct {
			Expected int `json:"expected"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid %s rule: %w", probe.Type, err)
		}
		r.Expected = v.Expected
	case RuleStatusCodeNotEquals:
		var v struct {
			NotExpected int `json:"not_expected"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid %s rule: %w", probe.Type, err)
		}
		r.NotExpected = v.NotExpected
	case RuleStatusCodeRange:
		var v struct {
			Min int `json:"min"`
			Max int `json:"max"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid %s rule: %w", probe.Type, err)
		}
		r.Min, r.Max = v.Min, v.Max
	case RuleBodyContains, RuleBodyNotContains:
		var v struct {
			Substring string `json:"substring"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid %s rule: %w", probe.Type, err)
		}
		r.Substring = v.Substring
	case RuleJSONPath:
		var v struct {
			Expression string          `json:"expression"`
			Expected   json.RawMessage `json:"expected"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid %s rule: %w", probe.Type, err)
		}
		r.Expression, r.ExpectedJSON = v.Expression, v.Expected
	case RuleResponseTimeBelow:
		var v struct {
			ThresholdMs int64 `json:"threshold_ms"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid %s rule: %w", probe.Type, err)
		}
		r.ThresholdMs = v.ThresholdMs
	case RuleHeaderEquals:
		var v struct {
			Header   string `json:"header"`
			Expected string `json:"expected"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid %s rule: %w", probe.Type, err)
		}
		r.Header, r.ExpectedValue = v.Header, v.Expected
	case RuleHeaderContains:
		var v struct {
			Header    string `json:"header"`
			Substring string `json:"substring"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("invalid %s rule: %w", probe.Type, err)
		}
		r.Header, r.Substring = v.Header, v.Substring
	case "":
		return nil, fmt.Errorf("assertion rule is missing a type")
	default:
		return nil, fmt.Errorf("unknown assertion rule type %q", probe.Type)
	}
	return r, nil
}

// Validate checks the rule's invariants without evaluating it.
func (r *Rule) Validate() error {
	switch r.Type {
	case RuleStatusCodeEquals:
		return validStatus(r.Expected)
	case RuleStatusCodeNotEquals:
		return validStatus(r.NotExpected)
	case RuleStatusCodeRange:
		if err := validStatus(r.Min); err != nil {
			return err
		}
		if err := validStatus(r.Max); err != nil {
			return err
		}
		if r.Min > r.Max {
			return fmt.Errorf("status range min %d exceeds max %d", r.Min, r.Max)
		}
	case RuleResponseTimeBelow:
		if r.ThresholdMs <= 0 {
			return fmt.Errorf("response time threshold must be positive, got %d", r.ThresholdMs)
		}
	case RuleJSONPath:
		if strings.TrimSpace(r.Expression) == "" {
			return fmt.Errorf("json_path assertion requires an expression")
		}
	case RuleHeaderEquals, RuleHeaderContains:
		if strings.TrimSpace(r.Header) == "" {
			return fmt.Errorf("header assertion requires a header name")
		}
	}
	return nil
}

func validStatus(code int) error {
	if code < 100 || code > 599 {
		return fmt.Errorf("status code %d is outside [100, 599]", code)
	}
	return nil
}

// Outcome is the result of evaluating a single assertion.
type Outcome struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Passed  bool      `json:"passed"`
	Message string    `json:"message"`
}

// ResponseContext carries everything a rule may inspect. Headers use
// lowercased names; Body is capped by the dispatcher.
type ResponseContext struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	ElapsedMs  int64
}

// bodyText decodes the body as UTF-8, replacing invalid bytes with U+FFFD.
func (c *ResponseContext) bodyText() string {
	return strings.ToValidUTF8(string(c.Body), "�")
}

// Evaluate scores a single rule against the response. It never panics; any
// malformed input shows up as a failed outcome message.
func Evaluate(rule *Rule, ctx *ResponseContext) (bool, string) {
	switch rule.Type {
	case RuleStatusCodeEquals:
		if ctx.StatusCode == rule.Expected {
			return true, fmt.Sprintf("status code %d matches expected %d", ctx.StatusCode, rule.Expected)
		}
		return false, fmt.Sprintf("expected status %d, got %d", rule.Expected, ctx.StatusCode)

	case RuleStatusCodeNotEquals:
		if ctx.StatusCode != rule.NotExpected {
			return true, fmt.Sprintf("status code %d is not %d", ctx.StatusCode, rule.NotExpected)
		}
		return false, fmt.Sprintf("status code should not be %d", rule.NotExpected)

	case RuleStatusCodeRange:
		if ctx.StatusCode >= rule.Min && ctx.StatusCode <= rule.Max {
			return true, fmt.Sprintf("status %d is within range [%d, %d]", ctx.StatusCode, rule.Min, rule.Max)
		}
		return false, fmt.Sprintf("status %d is outside range [%d, %d]", ctx.StatusCode, rule.Min, rule.Max)

	case RuleBodyContains:
		if strings.Contains(ctx.bodyText(), rule.Substring) {
			return true, fmt.Sprintf("body contains %q", rule.Substring)
		}
		return false, fmt.Sprintf("body does not contain %q", rule.Substring)

	case RuleBodyNotContains:
		if !strings.Contains(ctx.bodyText(), rule.Substring) {
			return true, fmt.Sprintf("body does not contain %q", rule.Substring)
		}
		return false, fmt.Sprintf("body unexpectedly contains %q", rule.Substring)

	case RuleJSONPath:
		return evaluateJSONPath(rule, ctx)

	case RuleResponseTimeBelow:
		if ctx.ElapsedMs < rule.ThresholdMs {
			return true, fmt.Sprintf("response time %d ms < %d ms threshold", ctx.ElapsedMs, rule.ThresholdMs)
		}
		return false, fmt.Sprintf("response time %d ms exceeds %d ms threshold", ctx.ElapsedMs, rule.ThresholdMs)

	case RuleHeaderEquals:
		value, ok := lookupHeader(ctx.Headers, rule.Header)
		if !ok {
			return false, fmt.Sprintf("header %q not found in response", rule.Header)
		}
		if value == rule.ExpectedValue {
			return true, fmt.Sprintf("header %q equals %q", rule.Header, rule.ExpectedValue)
		}
		return false, fmt.Sprintf("header %q expected %q, got %q", rule.Header, rule.ExpectedValue, value)

	case RuleHeaderContains:
		value, ok := lookupHeader(ctx.Headers, rule.Header)
		if !ok {
			return false, fmt.Sprintf("header %q not found in response", rule.Header)
		}
		if strings.Contains(value, rule.Substring) {
			return true, fmt.Sprintf("header %q contains %q", rule.Header, rule.Substring)
		}
		return false, fmt.Sprintf("header %q value %q does not contain %q", rule.Header, value, rule.Substring)
	}

	return false, fmt.Sprintf("unknown assertion rule type %q", rule.Type)
}

func evaluateJSONPath(rule *Rule, ctx *ResponseContext) (bool, string) {
	var doc interface{}
	if err := json.Unmarshal(ctx.Body, &doc); err != nil {
		return false, "body is not JSON"
	}

	actual, err := jsonpath.Lookup(doc, rule.Expression)
	if err != nil {
		var nf *jsonpath.ErrNotFound
		if !errors.As(err, &nf) {
			return false, err.Error()
		}
		return false, fmt.Sprintf("JSON path %q not found in response", rule.Expression)
	}

	var expected interface{}
	if len(rule.ExpectedJSON) > 0 {
		if err := json.Unmarshal(rule.ExpectedJSON, &expected); err != nil {
			return false, fmt.Sprintf("invalid expected value: %v", err)
		}
	}

	if reflect.DeepEqual(actual, expected) {
		return true, fmt.Sprintf("JSON path %q equals expected value", rule.Expression)
	}
	actualJSON, _ := json.Marshal(actual)
	expectedJSON, _ := json.Marshal(expected)
	return false, fmt.Sprintf("JSON path %q expected %s, got %s", rule.Expression, expectedJSON, actualJSON)
}

// lookupHeader finds a header by case-insensitive name. The map is stored
// with lowercased keys, so one ToLower covers arbitrary rule input too.
func lookupHeader(headers map[string]string, name string) (string, bool) {
	v, ok := headers[strings.ToLower(name)]
	return v, ok
}

// EvaluateAll scores every rule in list order. Rules that fail to parse
// produce a failed outcome rather than aborting the request.
func EvaluateAll(rules []RawAssertion, ctx *ResponseContext) []Outcome {
	outcomes := make([]Outcome, 0, len(rules))
	for _, a := range rules {
		rule, err := ParseRule(a.Rule)
		if err != nil {
			outcomes = append(outcomes, Outcome{
				ID:      a.ID,
				Name:    a.Name,
				Passed:  false,
				Message: err.Error(),
			})
			continue
		}
		passed, msg := Evaluate(rule, ctx)
		outcomes = append(outcomes, Outcome{ID: a.ID, Name: a.Name, Passed: passed, Message: msg})
	}
	return outcomes
}

// AllPassed reports whether every outcome passed; vacuously true when empty.
func AllPassed(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

// RawAssertion pairs an assertion's identity with its undecoded rule. It
// mirrors the plan model without importing it.
type RawAssertion struct {
	ID   uuid.UUID
	Name string
	Rule json.RawMessage
}
