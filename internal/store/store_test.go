package store

import (
	"context"
	"testing"
	"time"

	"github.com/flowcore/agentrt/internal/errs"
	"github.com/flowcore/agentrt/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTemplate(question string) Template {
	return Template{
		Name:            "trip planner",
		QuestionPattern: question,
		Steps: []Step{
			{StepName: "search", NodeName: "web_search"},
			{StepName: "summarize", NodeName: "result_summarizer"},
		},
		Edges: []Edge{
			{From: "search", To: "summarize", ActionLabel: DefaultAction},
		},
		Tags: []string{"travel"},
	}
}

func TestSaveThenGetRoundTrips(t *testing.T) {
	s, err := New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)

	tmpl := sampleTemplate("plan a trip to lisbon")
	require.NoError(t, s.Save(context.Background(), tmpl))

	id := ComputeID(tmpl.Steps, tmpl.Edges)
	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tmpl.Name, got.Name)
	assert.Equal(t, tmpl.Steps, got.Steps)
	assert.Equal(t, tmpl.Edges, got.Edges)
}

func TestSaveRejectsZeroSteps(t *testing.T) {
	s, err := New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)
	err = s.Save(context.Background(), Template{Name: "empty"})
	assert.Error(t, err)
}

func TestSaveRejectsCycles(t *testing.T) {
	s, err := New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)
	tmpl := Template{
		Steps: []Step{{StepName: "a"}, {StepName: "b"}},
		Edges: []Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	err = s.Save(context.Background(), tmpl)
	assert.ErrorIs(t, err, errs.ErrCyclic)
}

func TestGetNotFound(t *testing.T) {
	s, err := New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)
	_, err = s.Get("missing")
	assert.Error(t, err)
}

func TestDeleteRemovesTemplate(t *testing.T) {
	s, err := New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)
	tmpl := sampleTemplate("book a flight to tokyo")
	require.NoError(t, s.Save(context.Background(), tmpl))
	id := ComputeID(tmpl.Steps, tmpl.Edges)

	require.NoError(t, s.Delete(id))
	_, err = s.Get(id)
	assert.Error(t, err)
}

func TestFindSimilarRanksExactMatchFirst(t *testing.T) {
	s, err := New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)

	t1 := sampleTemplate("book a flight to paris")
	t2 := sampleTemplate("find the weather in antarctica")
	t2.Steps = []Step{{StepName: "lookup", NodeName: "web_search"}}
	t2.Edges = nil
	require.NoError(t, s.Save(context.Background(), t1))
	require.NoError(t, s.Save(context.Background(), t2))

	ranked := s.FindSimilar(context.Background(), "book a flight to paris", 5)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "book a flight to paris", ranked[0].Template.QuestionPattern)
	assert.Equal(t, float64(1), ranked[0].Score)
}

func TestSaveDoesNotClobberExistingUsageStats(t *testing.T) {
	s, err := New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)

	tmpl := sampleTemplate("plan a trip to lisbon")
	require.NoError(t, s.Save(context.Background(), tmpl))
	id := ComputeID(tmpl.Steps, tmpl.Edges)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.RecordOutcome(context.Background(), id, 1))
	}

	got, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, 5, got.UsageCount)

	// Re-saving the same content-hash template (the Designer re-retrieving
	// and re-submitting an existing plan, §8 scenario 4 "re-use") must not
	// reset the usage history RecordOutcome built up.
	require.NoError(t, s.Save(context.Background(), tmpl))

	got, err = s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 5, got.UsageCount)
	assert.Equal(t, float64(1), got.SuccessRate)
}

func TestRecordOutcomeAppliesEMA(t *testing.T) {
	s, err := New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)
	tmpl := sampleTemplate("plan a trip to oslo")
	require.NoError(t, s.Save(context.Background(), tmpl))
	id := ComputeID(tmpl.Steps, tmpl.Edges)

	require.NoError(t, s.RecordOutcome(context.Background(), id, 1))
	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)
	assert.Equal(t, float64(1), got.SuccessRate)

	require.NoError(t, s.RecordOutcome(context.Background(), id, 0))
	got, err = s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
	assert.InDelta(t, 0.7, got.SuccessRate, 1e-9)
	assert.WithinDuration(t, time.Now(), got.LastUsedAt, 5*time.Second)
}

func TestIncrementUsageLeavesSuccessRateUnchanged(t *testing.T) {
	s, err := New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)
	tmpl := sampleTemplate("plan a trip to porto")
	require.NoError(t, s.Save(context.Background(), tmpl))
	id := ComputeID(tmpl.Steps, tmpl.Edges)
	require.NoError(t, s.RecordOutcome(context.Background(), id, 1))

	require.NoError(t, s.IncrementUsage(context.Background(), id))

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
	assert.Equal(t, float64(1), got.SuccessRate)
}

func TestStatsAggregatesByTag(t *testing.T) {
	s, err := New(t.TempDir(), logger.Noop{})
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sampleTemplate("a")))

	st := s.Stats()
	assert.Equal(t, 1, st.TotalTemplates)
	assert.Equal(t, 1, st.CountsByCategory["travel"])
}

func TestNewReloadsExistingTemplates(t *testing.T) {
	dir := t.TempDir()
	s1, err := New(dir, logger.Noop{})
	require.NoError(t, err)
	tmpl := sampleTemplate("plan a trip to reykjavik")
	require.NoError(t, s1.Save(context.Background(), tmpl))

	s2, err := New(dir, logger.Noop{})
	require.NoError(t, err)
	id := ComputeID(tmpl.Steps, tmpl.Edges)
	got, err := s2.Get(id)
	require.NoError(t, err)
	assert.Equal(t, tmpl.Name, got.Name)
}
