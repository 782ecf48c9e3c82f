// Package pipeline composes variable resolution, HTTP dispatch, assertion
// scoring and extraction into the execution of one request by one virtual
// user.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rmeter/rmeter/internal/assertions"
	"github.com/rmeter/rmeter/internal/extract"
	"github.com/rmeter/rmeter/internal/httpclient"
	"github.com/rmeter/rmeter/internal/plan"
	"github.com/rmeter/rmeter/internal/results"
	"github.com/rmeter/rmeter/internal/vars"
)

// Pipeline executes requests for one thread group. It is safe for use by
// many virtual users concurrently; per-iteration state lives in the resolver
// each caller passes in.
type Pipeline struct {
	client    *httpclient.Client
	planID    uuid.UUID
	groupName string
}

// New creates a pipeline bound to a plan and thread group.
func New(client *httpclient.Client, planID uuid.UUID, groupName string) *Pipeline {
	return &Pipeline{
		client:    client,
		planID:    planID,
		groupName: groupName,
	}
}

// Execute runs one request template through the full pipeline and returns
// the result record plus the variable bindings its extractors produced. The
// caller merges those bindings into the iteration scope before the next
// request.
func (p *Pipeline) Execute(ctx context.Context, req *plan.HTTPRequest, resolver *vars.Resolver) (*results.Result, map[string]string) {
	timestamp := time.Now().UTC()

	input, buildErr := buildInput(req, resolver)

	var resp *httpclient.Response
	if buildErr != nil {
		resp = &httpclient.Response{Error: buildErr.Error()}
	} else {
		resp = p.client.Dispatch(ctx, input)
	}

	result := &results.Result{
		ID:              uuid.New(),
		PlanID:          p.planID,
		ThreadGroupName: p.groupName,
		RequestID:       req.ID,
		RequestName:     req.Name,
		Timestamp:       timestamp,
		Method:          string(req.Method),
		URL:             input.URL,
		StatusCode:      resp.StatusCode,
		ElapsedMs:       resp.ElapsedMs,
		SizeBytes:       resp.SizeBytes,
		Error:           resp.Error,
	}

	assertCtx := &assertions.ResponseContext{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
		ElapsedMs:  resp.ElapsedMs,
	}
	if resp.Error == "" {
		result.AssertionOutcomes = assertions.EvaluateAll(rawAssertions(req), assertCtx)
	} else {
		result.AssertionOutcomes = failedAssertions(req, assertCtx)
	}
	result.AssertionsPassed = assertions.AllPassed(result.AssertionOutcomes)

	extractCtx := &extract.ResponseContext{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
	}
	result.ExtractionOutcomes = extract.EvaluateAll(rawExtractors(req), extractCtx)

	result.ResponseHeaders = resp.Headers
	result.ResponseBody = results.TruncateBody(resp.Body)

	return result, extract.Bindings(result.ExtractionOutcomes)
}

// buildInput expands the request template into a dispatchable input. The URL
// is always returned, resolved as far as possible, so failed builds still
// carry a useful record.
func buildInput(req *plan.HTTPRequest, resolver *vars.Resolver) (*httpclient.Input, error) {
	input := &httpclient.Input{
		Method:  string(req.Method),
		URL:     resolver.Expand(req.URL),
		Headers: resolver.ExpandMap(req.Headers),
	}

	if req.Body == nil {
		return input, nil
	}

	switch req.Body.Type {
	case plan.BodyJSON:
		content := resolver.Expand(req.Body.Content)
		if !json.Valid([]byte(content)) {
			return input, fmt.Errorf("invalid JSON body for request %q", req.Name)
		}
		input.Body = []byte(content)
		input.ContentType = "application/json"
	case plan.BodyRaw:
		input.Body = []byte(resolver.Expand(req.Body.Content))
	case plan.BodyXML:
		input.Body = []byte(resolver.Expand(req.Body.Content))
		input.ContentType = "application/xml"
	case plan.BodyForm:
		input.Body = []byte(encodeForm(req.Body.Form, resolver))
		input.ContentType = "application/x-www-form-urlencoded"
	default:
		return input, fmt.Errorf("unknown body type %q for request %q", req.Body.Type, req.Name)
	}

	return input, nil
}

// encodeForm url-encodes form pairs preserving their plan order.
// url.Values.Encode would sort keys, so the encoding is done by hand.
func encodeForm(pairs []plan.FormPair, resolver *vars.Resolver) string {
	var b strings.Builder
	for i, pair := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(resolver.Expand(pair.Name)))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(resolver.Expand(pair.Value)))
	}
	return b.String()
}

// failedAssertions produces the outcome list for a request that never got a
// response: every rule fails, except time-based rules which still compute
// against the time to failure.
func failedAssertions(req *plan.HTTPRequest, ctx *assertions.ResponseContext) []assertions.Outcome {
	outcomes := make([]assertions.Outcome, 0, len(req.Assertions))
	for _, a := range req.Assertions {
		rule, err := assertions.ParseRule(a.Rule)
		if err == nil && rule.Type == assertions.RuleResponseTimeBelow {
			passed, msg := assertions.Evaluate(rule, ctx)
			outcomes = append(outcomes, assertions.Outcome{ID: a.ID, Name: a.Name, Passed: passed, Message: msg})
			continue
		}
		outcomes = append(outcomes, assertions.Outcome{
			ID:      a.ID,
			Name:    a.Name,
			Passed:  false,
			Message: "request failed before a response was received",
		})
	}
	return outcomes
}

func rawAssertions(req *plan.HTTPRequest) []assertions.RawAssertion {
	if len(req.Assertions) == 0 {
		return nil
	}
	raw := make([]assertions.RawAssertion, len(req.Assertions))
	for i, a := range req.Assertions {
		raw[i] = assertions.RawAssertion{ID: a.ID, Name: a.Name, Rule: a.Rule}
	}
	return raw
}

func rawExtractors(req *plan.HTTPRequest) []extract.RawExtractor {
	if len(req.Extractors) == 0 {
		return nil
	}
	raw := make([]extract.RawExtractor, len(req.Extractors))
	for i, e := range req.Extractors {
		raw[i] = extract.RawExtractor{ID: e.ID, Name: e.Name, Variable: e.Variable, Expr: e.Expr}
	}
	return raw
}
