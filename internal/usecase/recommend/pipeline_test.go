package recommend

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kailas-cloud/healthrec/internal/domain"
	"github.com/kailas-cloud/healthrec/internal/domain/candidate"
	"github.com/kailas-cloud/healthrec/internal/domain/filter"
	"github.com/kailas-cloud/healthrec/internal/domain/query"
	"github.com/kailas-cloud/healthrec/internal/domain/recommendation"
	"github.com/kailas-cloud/healthrec/internal/domain/service"
	"github.com/kailas-cloud/healthrec/internal/metrics"
	"github.com/kailas-cloud/healthrec/internal/usecase/classify"
	"github.com/kailas-cloud/healthrec/internal/usecase/compose"
	"github.com/kailas-cloud/healthrec/internal/usecase/geofilter"
	"github.com/kailas-cloud/healthrec/internal/usecase/refine"
	"github.com/kailas-cloud/healthrec/internal/usecase/rerank"
	"github.com/kailas-cloud/healthrec/internal/usecase/retrieve"
)

type harness struct {
	llm      *scriptedLLM
	embedder *fakeEmbedder
	catalog  *fakeCatalog
	svc      *Service
}

// newHarness wires the real stages over deterministic fakes.
func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		llm:      newScriptedLLM(),
		embedder: &fakeEmbedder{},
		catalog:  &fakeCatalog{set: torontoPool()},
	}
	log := zap.NewNop()
	h.svc = New(Stages{
		Classifier: classify.New(h.llm, log),
		Retriever:  retrieve.New(h.embedder, h.catalog, log),
		GeoFilter:  geofilter.New(0.5, 5000),
		Reranker:   rerank.New(h.llm, rerank.Config{}, log),
		Composer:   compose.New(h.llm, 0, log),
		Questions:  refine.New(h.llm, log),
		Catalog:    h.catalog,
	}, cfg, log)
	return h
}

func mustQuery(t *testing.T, text string, rerankOn bool) query.Query {
	t.Helper()
	q, err := query.New(text, nil, nil, rerankOn, filter.Expression{})
	require.NoError(t, err)
	return q
}

func ids(recs []service.Record) []string {
	out := make([]string, len(recs))
	for i := range recs {
		out[i] = recs[i].ID
	}
	return out
}

func TestPipeline_NormalQuery(t *testing.T) {
	h := newHarness(t, Config{})
	before := testutil.ToFloat64(metrics.RecommendationsTotal.WithLabelValues(outcomeFound))

	got, err := h.svc.Recommend(context.Background(), mustQuery(t, "I need food for my family", true))
	require.NoError(t, err)

	assert.False(t, got.IsEmergency)
	assert.False(t, got.IsOutOfScope)
	assert.False(t, got.NoServicesFound)
	assert.Equal(t, []string{"sh", "fb", "ph"}, ids(got.Services), "re-ranked order")
	assert.Equal(t, "Overview: Daily Bread Food Bank offers groceries.\nReasoning: It is close and free.", got.Message)

	assert.Equal(t, 1, h.llm.callCount(domain.StageClassify))
	assert.Equal(t, 1, h.llm.callCount(domain.StageRerank))
	assert.Equal(t, 1, h.llm.callCount(domain.StageCompose))
	assert.InDelta(t, before+1, testutil.ToFloat64(metrics.RecommendationsTotal.WithLabelValues(outcomeFound)), 1e-9)
}

func TestPipeline_NoRerankTruncatesToTopK(t *testing.T) {
	h := newHarness(t, Config{TopK: 2})

	got, err := h.svc.Recommend(context.Background(), mustQuery(t, "I need food", false))
	require.NoError(t, err)

	assert.Equal(t, []string{"fb", "sh"}, ids(got.Services))
	assert.Zero(t, h.llm.callCount(domain.StageRerank))
}

func TestPipeline_Deterministic(t *testing.T) {
	h := newHarness(t, Config{})
	q := mustQuery(t, "I need food", true)

	first, err := h.svc.Recommend(context.Background(), q)
	require.NoError(t, err)
	second, err := h.svc.Recommend(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, ids(first.Services), ids(second.Services))
	assert.Equal(t, first.Message, second.Message)
}

func TestPipeline_TiedScoresKeepInsertionOrder(t *testing.T) {
	h := newHarness(t, Config{TopK: 3})
	h.catalog.set = candidate.Set{
		{Record: rec("c", "Legal Aid Clinic", nil), Score: 0.75, Seq: 3},
		{Record: rec("a", "Community Pantry", nil), Score: 0.75, Seq: 1},
		{Record: rec("d", "Youth Drop-In", nil), Score: 0.75, Seq: 4},
		{Record: rec("b", "Meal Program", nil), Score: 0.75, Seq: 2},
	}
	q := mustQuery(t, "I need food", false)

	first, err := h.svc.Recommend(context.Background(), q)
	require.NoError(t, err)
	second, err := h.svc.Recommend(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, ids(first.Services))
	assert.Equal(t, ids(first.Services), ids(second.Services))
	assert.Equal(t, first.Message, second.Message)
	assert.Zero(t, h.llm.callCount(domain.StageRerank))
}

func TestPipeline_Emergency(t *testing.T) {
	h := newHarness(t, Config{})
	h.llm.classifyFn = func(text string) string {
		if strings.Contains(text, "chest pain") {
			return `{"category": "emergency"}`
		}
		return `{"category": "normal"}`
	}

	got, err := h.svc.Recommend(context.Background(), mustQuery(t, "I have severe chest pain and can't breathe", true))
	require.NoError(t, err)

	assert.True(t, got.IsEmergency)
	assert.False(t, got.IsOutOfScope)
	assert.Empty(t, got.Services)
	assert.Equal(t, recommendation.EmergencyMessage, got.Message)
	assert.Empty(t, h.embedder.texts, "retriever must not run for emergencies")
	assert.Zero(t, h.catalog.searches)
	assert.Zero(t, h.llm.callCount(domain.StageCompose))
}

func TestPipeline_OutOfScope(t *testing.T) {
	h := newHarness(t, Config{})
	h.llm.replies[domain.StageClassify] = `{"category": "out_of_scope"}`

	got, err := h.svc.Recommend(context.Background(), mustQuery(t, "What's the weather tomorrow?", false))
	require.NoError(t, err)

	assert.True(t, got.IsOutOfScope)
	assert.False(t, got.IsEmergency)
	assert.Empty(t, got.Services)
	assert.Equal(t, recommendation.OutOfScopeMessage, got.Message)
	assert.Zero(t, h.catalog.searches)
}

func TestPipeline_GeoExclusion(t *testing.T) {
	h := newHarness(t, Config{})
	radius := 5000.0
	q, err := query.New("food bank near me", &downtown, &radius, true, filter.Expression{})
	require.NoError(t, err)

	got, err := h.svc.Recommend(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, []string{"fb"}, ids(got.Services), "far and unlocated services excluded")
	assert.Zero(t, h.llm.callCount(domain.StageRerank), "single survivor skips the model")
}

func TestPipeline_NothingWithinRadius(t *testing.T) {
	h := newHarness(t, Config{})
	radius := 100.0
	q, err := query.New("food bank near me", &downtown, &radius, true, filter.Expression{})
	require.NoError(t, err)

	got, err := h.svc.Recommend(context.Background(), q)
	require.NoError(t, err)

	assert.True(t, got.NoServicesFound)
	assert.Empty(t, got.Services)
	assert.NotNil(t, got.Services)
	assert.Equal(t, compose.NoServicesMessage, got.Message)
	assert.Zero(t, h.llm.callCount(domain.StageCompose))
}

func TestPipeline_EmptyCatalog(t *testing.T) {
	h := newHarness(t, Config{})
	h.catalog.set = nil

	got, err := h.svc.Recommend(context.Background(), mustQuery(t, "I need food", true))
	require.NoError(t, err)
	assert.True(t, got.NoServicesFound)
}

func TestPipeline_Refinement(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	q := mustQuery(t, "I need food", true)

	first, err := h.svc.Recommend(ctx, q)
	require.NoError(t, err)

	questions, err := h.svc.GenerateQuestions(ctx, q.Text, first.Message)
	require.NoError(t, err)
	require.Equal(t, []string{"Do you have children?", "Do you have dietary restrictions?"}, questions)

	refined, err := h.svc.RefineRecommend(ctx, recommendation.RefineRequest{
		Query:           q,
		Questions:       questions,
		Answers:         []string{"Two kids", ""},
		PreviousMessage: first.Message,
		Round:           1,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, refined.Services)

	last := h.embedder.texts[len(h.embedder.texts)-1]
	assert.Equal(t, "I need food\nQ: Do you have children?\nA: Two kids", last)
	assert.Equal(t, 2, h.llm.callCount(domain.StageClassify), "gate reruns on the augmented query")
}

func TestPipeline_RefinementWithoutAnswersEqualsRecommend(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	q := mustQuery(t, "I need food", true)

	plain, err := h.svc.Recommend(ctx, q)
	require.NoError(t, err)
	refined, err := h.svc.RefineRecommend(ctx, recommendation.RefineRequest{
		Query:     q,
		Questions: []string{"Do you have children?"},
		Answers:   []string{"   "},
		Round:     1,
	})
	require.NoError(t, err)

	assert.Equal(t, plain, refined)
	assert.Equal(t, []string{"I need food", "I need food"}, h.embedder.texts)
}

func TestPipeline_CanceledContext(t *testing.T) {
	h := newHarness(t, Config{ClassifierPolicy: PolicyOpen})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Recommend(ctx, mustQuery(t, "I need food", true))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.catalog.searches)
}
