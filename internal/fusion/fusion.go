// Package fusion merges, deduplicates, and re-ranks candidate chunks from
// multiple search backends into a single ordered result list.
package fusion

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/provenanced/internal/backend"
)

// ErrNoInputs is returned when Fuse is called with no backend inputs.
var ErrNoInputs = errors.New("fusion requires at least one backend input")

// Input carries one backend's search outcome for a query. A failed
// backend contributes zero candidates and sets Err; the failure is
// absorbed here and surfaced only as a degraded-result flag.
type Input struct {
	Backend    string
	Candidates []backend.Candidate
	Err        error
}

// Result is a single fused entry: one chunk with its combined relevance
// score and final rank.
type Result struct {
	ChunkID    string   `json:"chunk_id"`
	DocumentID string   `json:"document_id"`
	Section    string   `json:"section_reference"`
	Page       int      `json:"page_number"`
	Ordinal    int      `json:"ordinal_index"`
	Text       string   `json:"text"`
	Score      float64  `json:"relevance_score"`
	Rank       int      `json:"rank"`
	Backends   []string `json:"backends"`
}

// DocumentGroup collects a document's fused results for section-level
// navigation. Results keep their global rank order.
type DocumentGroup struct {
	DocumentID string   `json:"document_id"`
	Results    []Result `json:"results"`
}

// Fused is the ordered, deduplicated output of one fusion pass.
//
// Invariants: Results contains no duplicate chunk ID, and Score is
// non-increasing with Rank.
type Fused struct {
	// Results is the flat ranked list, the primary output.
	Results []Result `json:"results"`

	// ByDocument groups results per document, ordered by each
	// document's best rank.
	ByDocument []DocumentGroup `json:"by_document"`

	// Degraded is set when at least one backend failed or timed out;
	// the results may be incomplete but are never fabricated.
	Degraded bool `json:"degraded"`

	// FailedBackends names the backends whose failures were absorbed.
	FailedBackends []string `json:"failed_backends,omitempty"`
}

// Config holds fusion parameters.
type Config struct {
	// Weights maps backend name to its weight in the combined score.
	// Backends absent from the map share the remaining weight equally;
	// an empty map means equal weights for all inputs.
	Weights map[string]float64
}

// Engine fuses per-backend candidate lists. It is stateless apart from
// configuration and safe for concurrent use.
type Engine struct {
	config Config
}

// NewEngine creates a fusion engine.
func NewEngine(cfg Config) (*Engine, error) {
	for name, w := range cfg.Weights {
		if w < 0 {
			return nil, fmt.Errorf("negative weight %f for backend %q", w, name)
		}
	}
	return &Engine{config: cfg}, nil
}

// Fuse merges the per-backend inputs into a single ranked list of at most
// topK results.
//
// Steps, in order:
//  1. Per-backend min-max normalization of raw scores to [0,1]. Scores
//     already within [0,1] (cosine similarity, pre-normalized backends)
//     pass through unchanged; only out-of-range scales (BM25 and the
//     like) are rescaled, so comparable scores stay comparable.
//  2. Weighted-sum combination across backends. A chunk absent from a
//     backend's results contributes 0 for that backend, not a penalty.
//  3. Deduplication by chunk ID keeping the highest combined score, with
//     a deterministic tie-break by (document ID, section, ordinal)
//     ascending.
//  4. Document grouping for section-level navigation.
//  5. Truncation to topK AFTER ranking, so partial backend failures
//     cannot bias earlier truncation.
//
// Zero candidates from every backend yields an empty result, not an
// error. Backend failures are absorbed: the affected backend contributes
// nothing and the output is flagged Degraded.
func (e *Engine) Fuse(inputs []Input, topK int) (*Fused, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	fused := &Fused{}

	weights := e.resolveWeights(inputs)

	// Accumulate the best normalized score per chunk per backend.
	type entry struct {
		candidate  backend.Candidate
		perBackend map[string]float64
	}
	entries := make(map[string]*entry)

	for _, in := range inputs {
		if in.Err != nil {
			fused.Degraded = true
			fused.FailedBackends = append(fused.FailedBackends, in.Backend)
			continue
		}

		normalized := normalize(in.Candidates)
		for i, cand := range in.Candidates {
			ent, ok := entries[cand.Chunk.ID]
			if !ok {
				ent = &entry{candidate: cand, perBackend: make(map[string]float64, len(inputs))}
				entries[cand.Chunk.ID] = ent
			}
			// Within one backend a chunk may appear more than once;
			// keep its best normalized score.
			if normalized[i] > ent.perBackend[in.Backend] {
				ent.perBackend[in.Backend] = normalized[i]
			}
		}
	}
	sort.Strings(fused.FailedBackends)

	// Weighted-sum combine and rank.
	results := make([]Result, 0, len(entries))
	for _, ent := range entries {
		var score float64
		backends := make([]string, 0, len(ent.perBackend))
		for name, norm := range ent.perBackend {
			score += weights[name] * norm
			backends = append(backends, name)
		}
		sort.Strings(backends)

		c := ent.candidate.Chunk
		results = append(results, Result{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Section:    c.Section,
			Page:       c.Page,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			Score:      score,
			Backends:   backends,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Deterministic tie-break: (document ID, section, ordinal) ascending.
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		if results[i].Section != results[j].Section {
			return results[i].Section < results[j].Section
		}
		return results[i].Ordinal < results[j].Ordinal
	})

	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}

	fused.Results = results
	fused.ByDocument = groupByDocument(results)
	return fused, nil
}

// resolveWeights returns the effective weight per backend. Explicitly
// configured weights are taken as-is; unconfigured backends split the
// default share equally.
func (e *Engine) resolveWeights(inputs []Input) map[string]float64 {
	weights := make(map[string]float64, len(inputs))

	var unconfigured []string
	for _, in := range inputs {
		if w, ok := e.config.Weights[in.Backend]; ok {
			weights[in.Backend] = w
		} else {
			unconfigured = append(unconfigured, in.Backend)
		}
	}
	if len(unconfigured) > 0 {
		share := 1.0 / float64(len(inputs))
		for _, name := range unconfigured {
			weights[name] = share
		}
	}
	return weights
}

// normalize min-max scales raw scores to [0,1] within one backend's
// result set. Scores already inside [0,1] are passed through unchanged;
// rescaling only applies when the backend's native scale leaves the unit
// interval (negative scores or scores above 1). When all scores in an
// out-of-range set are equal, each maps to 1.0.
func normalize(candidates []backend.Candidate) []float64 {
	norms := make([]float64, len(candidates))
	if len(candidates) == 0 {
		return norms
	}

	min, max := candidates[0].RawScore, candidates[0].RawScore
	for _, c := range candidates[1:] {
		if c.RawScore < min {
			min = c.RawScore
		}
		if c.RawScore > max {
			max = c.RawScore
		}
	}

	if min >= 0 && max <= 1 {
		for i, c := range candidates {
			norms[i] = c.RawScore
		}
		return norms
	}

	if max == min {
		for i := range norms {
			norms[i] = 1.0
		}
		return norms
	}

	for i, c := range candidates {
		norms[i] = (c.RawScore - min) / (max - min)
	}
	return norms
}

// groupByDocument buckets ranked results per document, preserving global
// rank order inside each group and ordering groups by best rank.
func groupByDocument(results []Result) []DocumentGroup {
	if len(results) == 0 {
		return nil
	}

	index := make(map[string]int)
	var groups []DocumentGroup
	for _, r := range results {
		i, ok := index[r.DocumentID]
		if !ok {
			i = len(groups)
			index[r.DocumentID] = i
			groups = append(groups, DocumentGroup{DocumentID: r.DocumentID})
		}
		groups[i].Results = append(groups[i].Results, r)
	}
	return groups
}
