// Package builtin provides documented fake implementations of the
// reference capability nodes used in examples and tests: a handful of
// adapters standing in for the "external collaborators" the specification
// treats as out of scope (spec.md §1) — search, booking, payment, and
// summarization nodes that do no real I/O but exercise the full
// prepare/run/commit contract, including the Interactive suspension path.
package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/flowcore/agentrt/internal/capability"
	"github.com/flowcore/agentrt/internal/scratchpad"
)

// --- web_search --------------------------------------------------------

type webSearchPrepared struct {
	query string
}

type webSearchResult struct {
	results []string
}

// WebSearch is a documented fake: it returns canned results derived from the
// query rather than calling a real search API, matching its registry entry
// (category search, tier none).
type WebSearch struct{}

func (WebSearch) Prepare(ctx context.Context, sp *scratchpad.Scratchpad, bindings capability.StepBindings) (capability.Prepared, error) {
	q, _ := bindings["query"].(string)
	if q == "" {
		return nil, fmt.Errorf("web_search: missing query input")
	}
	return webSearchPrepared{query: q}, nil
}

func (WebSearch) Run(ctx context.Context, prepared capability.Prepared) (capability.Result, error) {
	p := prepared.(webSearchPrepared)
	return webSearchResult{results: []string{
		fmt.Sprintf("result 1 for %q", p.query),
		fmt.Sprintf("result 2 for %q", p.query),
	}}, nil
}

func (WebSearch) Commit(ctx context.Context, sp *scratchpad.Scratchpad, prepared capability.Prepared, result capability.Result) (string, error) {
	r := result.(webSearchResult)
	sp.Set("results", r.results)
	return capability.DefaultAction, nil
}

// --- flight_search -------------------------------------------------------

type flightSearchPrepared struct {
	origin, destination string
}

type flightSearchResult struct {
	options []string
}

// FlightSearch is a documented fake standing in for a flight inventory API.
type FlightSearch struct{}

func (FlightSearch) Prepare(ctx context.Context, sp *scratchpad.Scratchpad, bindings capability.StepBindings) (capability.Prepared, error) {
	origin, _ := bindings["origin"].(string)
	dest, _ := bindings["destination"].(string)
	if origin == "" || dest == "" {
		return nil, fmt.Errorf("flight_search: missing origin or destination")
	}
	return flightSearchPrepared{origin: origin, destination: dest}, nil
}

func (FlightSearch) Run(ctx context.Context, prepared capability.Prepared) (capability.Result, error) {
	p := prepared.(flightSearchPrepared)
	return flightSearchResult{options: []string{
		fmt.Sprintf("%s->%s nonstop, 09:00", p.origin, p.destination),
		fmt.Sprintf("%s->%s one stop, 14:30", p.origin, p.destination),
	}}, nil
}

func (FlightSearch) Commit(ctx context.Context, sp *scratchpad.Scratchpad, prepared capability.Prepared, result capability.Result) (string, error) {
	r := result.(flightSearchResult)
	sp.Set("flight_options", r.options)
	return capability.DefaultAction, nil
}

// --- cost_analysis ---------------------------------------------------------

type costAnalysisPrepared struct {
	items []string
}

type costAnalysisResult struct {
	estimatedTotal float64
	summary        string
}

// CostAnalysis is a documented fake that estimates a flat per-item cost.
type CostAnalysis struct{}

func (CostAnalysis) Prepare(ctx context.Context, sp *scratchpad.Scratchpad, bindings capability.StepBindings) (capability.Prepared, error) {
	raw, ok := bindings["items"].([]string)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("cost_analysis: missing items input")
	}
	return costAnalysisPrepared{items: raw}, nil
}

func (CostAnalysis) Run(ctx context.Context, prepared capability.Prepared) (capability.Result, error) {
	p := prepared.(costAnalysisPrepared)
	const perItem = 125.0
	total := perItem * float64(len(p.items))
	return costAnalysisResult{
		estimatedTotal: total,
		summary:        fmt.Sprintf("estimated total $%.2f across %d option(s)", total, len(p.items)),
	}, nil
}

func (CostAnalysis) Commit(ctx context.Context, sp *scratchpad.Scratchpad, prepared capability.Prepared, result capability.Result) (string, error) {
	r := result.(costAnalysisResult)
	sp.Set("estimated_total", r.estimatedTotal)
	sp.Set("cost_summary", r.summary)
	return capability.DefaultAction, nil
}

// --- preference_matcher ----------------------------------------------------

type preferenceMatcherPrepared struct {
	options     []string
	preferences string
}

type preferenceMatcherResult struct {
	chosen string
}

// PreferenceMatcher is a documented fake that picks the first option —
// standing in for a real ranking model.
type PreferenceMatcher struct{}

func (PreferenceMatcher) Prepare(ctx context.Context, sp *scratchpad.Scratchpad, bindings capability.StepBindings) (capability.Prepared, error) {
	opts, _ := bindings["options"].([]string)
	prefs, _ := bindings["preferences"].(string)
	if len(opts) == 0 {
		return nil, fmt.Errorf("preference_matcher: missing options input")
	}
	return preferenceMatcherPrepared{options: opts, preferences: prefs}, nil
}

func (PreferenceMatcher) Run(ctx context.Context, prepared capability.Prepared) (capability.Result, error) {
	p := prepared.(preferenceMatcherPrepared)
	return preferenceMatcherResult{chosen: p.options[0]}, nil
}

func (PreferenceMatcher) Commit(ctx context.Context, sp *scratchpad.Scratchpad, prepared capability.Prepared, result capability.Result) (string, error) {
	r := result.(preferenceMatcherResult)
	sp.Set("chosen_option", r.chosen)
	return capability.DefaultAction, nil
}

// --- user_query (Interactive) -----------------------------------------------

type userQueryPrepared struct {
	prompt   string
	fields   []string
	response interface{}
}

// UserQuery is the reference Interactive node: it always suspends for a
// user_response before committing the reply to the scratchpad.
type UserQuery struct {
	Prompt string
	Fields []string
}

func (a UserQuery) Prepare(ctx context.Context, sp *scratchpad.Scratchpad, bindings capability.StepBindings) (capability.Prepared, error) {
	return userQueryPrepared{prompt: a.Prompt, fields: a.Fields}, nil
}

func (a UserQuery) Question(ctx context.Context, prepared capability.Prepared) (string, []string, error) {
	p := prepared.(userQueryPrepared)
	return p.prompt, p.fields, nil
}

func (a UserQuery) WithResponse(prepared capability.Prepared, response interface{}) (capability.Prepared, error) {
	p := prepared.(userQueryPrepared)
	p.response = response
	return p, nil
}

func (a UserQuery) Run(ctx context.Context, prepared capability.Prepared) (capability.Result, error) {
	p := prepared.(userQueryPrepared)
	return p.response, nil
}

func (a UserQuery) Commit(ctx context.Context, sp *scratchpad.Scratchpad, prepared capability.Prepared, result capability.Result) (string, error) {
	sp.Set("user_reply", result)
	return capability.DefaultAction, nil
}

var _ capability.Interactive = UserQuery{}

// --- flight_booking (sensitive, permission-gated) ---------------------------

type flightBookingPrepared struct {
	flight string
}

type flightBookingResult struct {
	confirmation string
}

// FlightBooking is a documented fake standing in for a real booking API; its
// registry entry carries permissionTier=sensitive so the Executor always
// gates it behind a permission request.
type FlightBooking struct{}

func (FlightBooking) Prepare(ctx context.Context, sp *scratchpad.Scratchpad, bindings capability.StepBindings) (capability.Prepared, error) {
	flight, _ := bindings["flight"].(string)
	if flight == "" {
		return nil, fmt.Errorf("flight_booking: missing flight input")
	}
	return flightBookingPrepared{flight: flight}, nil
}

func (FlightBooking) Run(ctx context.Context, prepared capability.Prepared) (capability.Result, error) {
	p := prepared.(flightBookingPrepared)
	time.Sleep(0) // real bookings perform I/O here; idempotent no-op for the fake.
	return flightBookingResult{confirmation: "CONF-" + p.flight}, nil
}

func (FlightBooking) Commit(ctx context.Context, sp *scratchpad.Scratchpad, prepared capability.Prepared, result capability.Result) (string, error) {
	r := result.(flightBookingResult)
	sp.Set("booking_confirmation", r.confirmation)
	return capability.DefaultAction, nil
}

// --- payment_processing (critical, permission-gated) ------------------------

type paymentPrepared struct {
	amount float64
}

type paymentResult struct {
	receiptID string
}

// PaymentProcessing is a documented fake for a payment capture API; its
// registry entry carries permissionTier=critical.
type PaymentProcessing struct{}

func (PaymentProcessing) Prepare(ctx context.Context, sp *scratchpad.Scratchpad, bindings capability.StepBindings) (capability.Prepared, error) {
	amount, ok := bindings["amount"].(float64)
	if !ok || amount <= 0 {
		return nil, fmt.Errorf("payment_processing: missing or invalid amount input")
	}
	return paymentPrepared{amount: amount}, nil
}

func (PaymentProcessing) Run(ctx context.Context, prepared capability.Prepared) (capability.Result, error) {
	p := prepared.(paymentPrepared)
	return paymentResult{receiptID: fmt.Sprintf("RCPT-%d", int(p.amount*100))}, nil
}

func (PaymentProcessing) Commit(ctx context.Context, sp *scratchpad.Scratchpad, prepared capability.Prepared, result capability.Result) (string, error) {
	r := result.(paymentResult)
	sp.Set("payment_receipt", r.receiptID)
	return capability.DefaultAction, nil
}

// --- result_summarizer (creation/analysis) ----------------------------------

type summarizerPrepared struct {
	inputs map[string]interface{}
}

type summarizerResult struct {
	summary string
}

// ResultSummarizer composes a human-readable summary out of whatever the
// scratchpad has accumulated; the Optimizer relies on nodes like this one
// (category creation or analysis) to produce its final report (§4.8).
type ResultSummarizer struct{}

func (ResultSummarizer) Prepare(ctx context.Context, sp *scratchpad.Scratchpad, bindings capability.StepBindings) (capability.Prepared, error) {
	return summarizerPrepared{inputs: bindings}, nil
}

func (ResultSummarizer) Run(ctx context.Context, prepared capability.Prepared) (capability.Result, error) {
	p := prepared.(summarizerPrepared)
	return summarizerResult{summary: fmt.Sprintf("summarized %d input(s)", len(p.inputs))}, nil
}

func (ResultSummarizer) Commit(ctx context.Context, sp *scratchpad.Scratchpad, prepared capability.Prepared, result capability.Result) (string, error) {
	r := result.(summarizerResult)
	sp.Set("summary", r.summary)
	return capability.DefaultAction, nil
}
