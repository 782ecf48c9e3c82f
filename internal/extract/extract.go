// Package extract pulls values out of HTTP responses and into variables for
// later requests in the same iteration.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/rmeter/rmeter/internal/jsonpath"
)

// Rule type tags.
const (
	RuleJSONPath = "json_path"
	RuleRegex    = "regex"
	RuleHeader   = "header"
)

// Rule is the decoded form of one extractor expression.
type Rule struct {
	Type string `json:"type"`

	Expression string `json:"expression,omitempty"`

	Pattern string `json:"pattern,omitempty"`
	Group   int    `json:"group,omitempty"`

	Name string `json:"name,omitempty"`
}

// ParseRule decodes a raw expression and rejects unknown type tags.
func ParseRule(raw json.RawMessage) (*Rule, error) {
	var r Rule
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("invalid extractor rule: %w", err)
	}
	switch r.Type {
	case RuleJSONPath, RuleRegex, RuleHeader:
		return &r, nil
	case "":
		return nil, fmt.Errorf("extractor rule is missing a type")
	default:
		return nil, fmt.Errorf("unknown extractor rule type %q", r.Type)
	}
}

// Validate checks the rule's invariants without evaluating it.
func (r *Rule) Validate() error {
	switch r.Type {
	case RuleJSONPath:
		if strings.TrimSpace(r.Expression) == "" {
			return fmt.Errorf("json_path extractor requires an expression")
		}
	case RuleRegex:
		if r.Group < 0 {
			return fmt.Errorf("regex capture group must be >= 0, got %d", r.Group)
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("invalid regex pattern %q: %w", r.Pattern, err)
		}
	case RuleHeader:
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("header extractor requires a header name")
		}
	}
	return nil
}

// Outcome is the result of evaluating a single extractor.
type Outcome struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Variable string    `json:"variable"`
	Success  bool      `json:"success"`
	Value    string    `json:"value,omitempty"`
	Message  string    `json:"message"`
}

// ResponseContext carries the response fields an extractor may read. Headers
// use lowercased names.
type ResponseContext struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Evaluate runs a single rule. It returns success, the extracted value, and
// a human-readable message; it never panics.
func Evaluate(rule *Rule, ctx *ResponseContext) (bool, string, string) {
	switch rule.Type {
	case RuleJSONPath:
		var doc interface{}
		if err := json.Unmarshal(ctx.Body, &doc); err != nil {
			return false, "", fmt.Sprintf("failed to parse response body as JSON: %v", err)
		}
		value, err := jsonpath.Lookup(doc, rule.Expression)
		if err != nil {
			var nf *jsonpath.ErrNotFound
			if !errors.As(err, &nf) {
				return false, "", err.Error()
			}
			return false, "", fmt.Sprintf("JSON path %q not found in response body", rule.Expression)
		}
		if !jsonpath.IsScalar(value) {
			return false, "", fmt.Sprintf("JSON path %q yielded a non-scalar value", rule.Expression)
		}
		s := jsonpath.ScalarString(value)
		return true, s, fmt.Sprintf("JSON path %q extracted %q", rule.Expression, s)

	case RuleRegex:
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return false, "", fmt.Sprintf("invalid regex pattern %q: %v", rule.Pattern, err)
		}
		body := strings.ToValidUTF8(string(ctx.Body), "�")
		match := re.FindStringSubmatch(body)
		if match == nil {
			return false, "", fmt.Sprintf("regex %q did not match the response body", rule.Pattern)
		}
		if rule.Group >= len(match) {
			return false, "", fmt.Sprintf("regex %q matched but group %d does not exist", rule.Pattern, rule.Group)
		}
		s := match[rule.Group]
		return true, s, fmt.Sprintf("regex %q group %d extracted %q", rule.Pattern, rule.Group, s)

	case RuleHeader:
		value, ok := ctx.Headers[strings.ToLower(rule.Name)]
		if !ok {
			return false, "", fmt.Sprintf("header %q not found in response", rule.Name)
		}
		return true, value, fmt.Sprintf("header %q extracted %q", rule.Name, value)
	}

	return false, "", fmt.Sprintf("unknown extractor rule type %q", rule.Type)
}

// RawExtractor pairs an extractor's identity with its undecoded expression.
// It mirrors the plan model without importing it.
type RawExtractor struct {
	ID       uuid.UUID
	Name     string
	Variable string
	Expr     json.RawMessage
}

// EvaluateAll runs every extractor in list order. Failures only record the
// outcome; they never abort the request.
func EvaluateAll(extractors []RawExtractor, ctx *ResponseContext) []Outcome {
	outcomes := make([]Outcome, 0, len(extractors))
	for _, e := range extractors {
		rule, err := ParseRule(e.Expr)
		if err != nil {
			outcomes = append(outcomes, Outcome{
				ID:       e.ID,
				Name:     e.Name,
				Variable: e.Variable,
				Success:  false,
				Message:  err.Error(),
			})
			continue
		}
		ok, value, msg := Evaluate(rule, ctx)
		outcomes = append(outcomes, Outcome{
			ID:       e.ID,
			Name:     e.Name,
			Variable: e.Variable,
			Success:  ok,
			Value:    value,
			Message:  msg,
		})
	}
	return outcomes
}

// Bindings collects the successful outcomes into a variable map.
func Bindings(outcomes []Outcome) map[string]string {
	if len(outcomes) == 0 {
		return nil
	}
	vars := make(map[string]string)
	for _, o := range outcomes {
		if o.Success {
			vars[o.Variable] = o.Value
		}
	}
	return vars
}
