package usecase

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"priorart/internal/domain"
	"priorart/internal/port"
)

// EvalCase is one labelled query. Relevant lists the ids of the documents a
// searcher should find.
type EvalCase struct {
	Query    string         `yaml:"query" json:"query"`
	K        int            `yaml:"k,omitempty" json:"k,omitempty"`
	Filters  domain.Filters `yaml:"filters,omitempty" json:"filters,omitempty"`
	Relevant []string       `yaml:"relevant" json:"relevant"`
}

// EvalResult holds the metrics of one case. Retrieved lists distinct
// document ids in rank order.
type EvalResult struct {
	Query          string        `json:"query"`
	Retrieved      []string      `json:"retrieved"`
	Precision      float64       `json:"precision"`
	Recall         float64       `json:"recall"`
	ReciprocalRank float64       `json:"reciprocal_rank"`
	NDCG           float64       `json:"ndcg"`
	Latency        time.Duration `json:"latency"`
	Err            string        `json:"error,omitempty"`
}

// EvalReport averages metrics over the cases that ran without error.
type EvalReport struct {
	Cases       []EvalResult  `json:"cases"`
	Precision   float64       `json:"precision"`
	Recall      float64       `json:"recall"`
	MRR         float64       `json:"mrr"`
	NDCG        float64       `json:"ndcg"`
	MeanLatency time.Duration `json:"mean_latency"`
	P95Latency  time.Duration `json:"p95_latency"`
	Failed      int           `json:"failed"`
}

// EvalUseCase measures retrieval quality against labelled queries.
type EvalUseCase struct {
	retriever port.Retriever
	defaultK  int
	logger    zerolog.Logger
}

func NewEvalUseCase(retriever port.Retriever, defaultK int, logger zerolog.Logger) *EvalUseCase {
	return &EvalUseCase{retriever: retriever, defaultK: defaultK, logger: logger}
}

// Evaluate runs the cases one at a time.
func (u *EvalUseCase) Evaluate(ctx context.Context, cases []EvalCase) (EvalReport, error) {
	report := EvalReport{Cases: make([]EvalResult, 0, len(cases))}
	var latencies []time.Duration

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		k := c.K
		if k == 0 {
			k = u.defaultK
		}
		start := time.Now()
		passages, err := u.retriever.Retrieve(ctx, domain.Query{Text: c.Query, K: k, Filters: c.Filters})
		latency := time.Since(start)

		res := EvalResult{Query: c.Query, Latency: latency}
		if err != nil {
			res.Err = err.Error()
			report.Failed++
			report.Cases = append(report.Cases, res)
			u.logger.Warn().Err(err).Str("query", c.Query).Msg("evaluation query failed")
			continue
		}

		res.Retrieved = distinctDocuments(passages)
		res.Precision = PrecisionAtK(res.Retrieved, c.Relevant)
		res.Recall = RecallAtK(res.Retrieved, c.Relevant)
		res.ReciprocalRank = ReciprocalRank(res.Retrieved, c.Relevant)
		res.NDCG = BinaryNDCG(res.Retrieved, c.Relevant)
		report.Cases = append(report.Cases, res)

		report.Precision += res.Precision
		report.Recall += res.Recall
		report.MRR += res.ReciprocalRank
		report.NDCG += res.NDCG
		latencies = append(latencies, latency)
	}

	if n := len(latencies); n > 0 {
		report.Precision /= float64(n)
		report.Recall /= float64(n)
		report.MRR /= float64(n)
		report.NDCG /= float64(n)

		var total time.Duration
		for _, l := range latencies {
			total += l
		}
		report.MeanLatency = total / time.Duration(n)

		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		report.P95Latency = latencies[int(math.Ceil(0.95*float64(n)))-1]
	}
	return report, nil
}

func distinctDocuments(passages []domain.Passage) []string {
	seen := make(map[string]struct{}, len(passages))
	ids := make([]string, 0, len(passages))
	for _, p := range passages {
		if _, ok := seen[p.DocumentID]; ok {
			continue
		}
		seen[p.DocumentID] = struct{}{}
		ids = append(ids, p.DocumentID)
	}
	return ids
}

func PrecisionAtK(retrieved, relevant []string) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	relevantSet := make(map[string]bool)
	for _, r := range relevant {
		relevantSet[r] = true
	}
	hits := 0
	for _, r := range retrieved {
		if relevantSet[r] {
			hits++
		}
	}
	return float64(hits) / float64(len(retrieved))
}

func RecallAtK(retrieved, relevant []string) float64 {
	if len(relevant) == 0 {
		return 0
	}
	relevantSet := make(map[string]bool)
	for _, r := range relevant {
		relevantSet[r] = true
	}
	hits := 0
	for _, r := range retrieved {
		if relevantSet[r] {
			hits++
		}
	}
	return float64(hits) / float64(len(relevant))
}

// ReciprocalRank is 1/rank of the first relevant document, or 0.
func ReciprocalRank(retrieved, relevant []string) float64 {
	relevantSet := make(map[string]bool, len(relevant))
	for _, r := range relevant {
		relevantSet[r] = true
	}
	for i, r := range retrieved {
		if relevantSet[r] {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// BinaryNDCG scores each retrieved document 1 if relevant, else 0, against
// the ideal ranking of all relevant documents first.
func BinaryNDCG(retrieved, relevant []string) float64 {
	relevantSet := make(map[string]bool, len(relevant))
	for _, r := range relevant {
		relevantSet[r] = true
	}
	scores := make([]float64, len(retrieved))
	for i, r := range retrieved {
		if relevantSet[r] {
			scores[i] = 1
		}
	}
	ideal := make([]float64, min(len(relevantSet), len(retrieved)))
	for i := range ideal {
		ideal[i] = 1
	}
	return NDCG(scores, ideal)
}

func NDCG(scores, ideal []float64) float64 {
	dcg := calculateDCG(scores)
	idcg := calculateDCG(ideal)
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

func calculateDCG(scores []float64) float64 {
	dcg := 0.0
	for i, score := range scores {
		dcg += score / math.Log2(float64(i+2))
	}
	return dcg
}
