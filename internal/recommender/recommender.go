// Package recommender implements the Recommender (C9): centroid cosine
// scoring against a user's Favourite/NotInterested tag history, spec.md
// §4.9.
package recommender

import (
	"context"
	"math"
	"sort"

	"github.com/scholiabot/core/internal/apperr"
	"github.com/scholiabot/core/internal/papers"
	"github.com/scholiabot/core/internal/vectorstore"
)

// RecentWindow bounds how many of a user's newest Favourite/NotInterested
// links feed the centroid, per spec.md §9's "treat as a tunable" guidance
// on the "≤10 most recent" Open Question.
const RecentWindow = 10

// TargetRecommended is the steady-state number of "Recommended"-tagged
// papers spec.md §4.9 aims to keep a user supplied with.
const TargetRecommended = 5

// Recommender scores a user's untagged papers against their liked/disliked
// history and promotes the best candidates to "Recommended".
type Recommender struct {
	Links  papers.LinkStore
	Vector vectorstore.Store
}

func New(links papers.LinkStore, vector vectorstore.Store) *Recommender {
	return &Recommender{Links: links, Vector: vector}
}

// Run implements spec.md §4.9 end to end and returns the paper ids newly
// tagged "Recommended".
func (r *Recommender) Run(ctx context.Context, userID int64) ([]int64, error) {
	favourites, err := r.Links.LinksWithTag(ctx, userID, papers.TagFavourite, RecentWindow)
	if err != nil {
		return nil, apperr.New(apperr.Dependency, err, "recommender: load favourites")
	}
	disliked, err := r.Links.LinksWithTag(ctx, userID, papers.TagNotInterested, RecentWindow)
	if err != nil {
		return nil, apperr.New(apperr.Dependency, err, "recommender: load not-interested")
	}
	existingRecommended, err := r.Links.LinksWithTag(ctx, userID, papers.TagRecommended, 0)
	if err != nil {
		return nil, apperr.New(apperr.Dependency, err, "recommender: count existing recommendations")
	}

	budget := TargetRecommended - len(existingRecommended)
	if budget <= 0 || len(favourites) == 0 {
		return nil, nil
	}

	favVectors, err := r.vectorsFor(ctx, userID, favourites)
	if err != nil {
		return nil, err
	}
	centroidFav, ok := centroid(favVectors)
	if !ok {
		return nil, nil
	}

	var centroidDis []float32
	if len(disliked) > 0 {
		disVectors, err := r.vectorsFor(ctx, userID, disliked)
		if err != nil {
			return nil, err
		}
		if c, ok := centroid(disVectors); ok {
			centroidDis = c
		}
	}

	candidates, err := r.Links.CandidateLinks(ctx, userID, []string{papers.TagFavourite, papers.TagNotInterested, papers.TagRecommended})
	if err != nil {
		return nil, apperr.New(apperr.Dependency, err, "recommender: load candidates")
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	candidateVectors, err := r.vectorsFor(ctx, userID, candidates)
	if err != nil {
		return nil, err
	}

	type scored struct {
		link  papers.UserPaperLink
		score float64
	}
	scores := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		v, ok := candidateVectors[c.PaperID]
		if !ok {
			continue
		}
		s := cosine(v, centroidFav)
		if centroidDis != nil {
			s -= cosine(v, centroidDis)
		}
		scores = append(scores, scored{link: c, score: s})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if len(scores) > budget {
		scores = scores[:budget]
	}

	tagged := make([]int64, 0, len(scores))
	for _, s := range scores {
		tags := append(append([]string{}, s.link.Tags...), papers.TagRecommended)
		if err := r.Links.SetTags(ctx, s.link.ID, tags); err != nil {
			return tagged, apperr.New(apperr.Dependency, err, "recommender: tag recommendation")
		}
		tagged = append(tagged, s.link.PaperID)
	}
	return tagged, nil
}

func (r *Recommender) vectorsFor(ctx context.Context, userID int64, links []papers.UserPaperLink) (map[int64][]float32, error) {
	conditions := make([]vectorstore.Condition, 0, len(links))
	for _, l := range links {
		conditions = append(conditions, vectorstore.Condition{UserID: userID, PaperID: l.PaperID})
	}
	byDocID, err := r.Vector.GetEmbeddings(ctx, conditions)
	if err != nil {
		return nil, apperr.New(apperr.Dependency, err, "recommender: fetch embeddings")
	}
	out := make(map[int64][]float32, len(links))
	for _, l := range links {
		if v, ok := byDocID[vectorstore.DocID(userID, l.PaperID)]; ok {
			out[l.PaperID] = v
		}
	}
	return out, nil
}

// centroid returns the mean vector across vectors, or false if vectors is
// empty (spec.md §4.9: μ_D is omitted entirely when D is empty; the same
// rule applies defensively to μ_F if no favourite has a stored vector yet).
func centroid(vectors map[int64][]float32) ([]float32, bool) {
	if len(vectors) == 0 {
		return nil, false
	}
	var dim int
	for _, v := range vectors {
		dim = len(v)
		break
	}
	sum := make([]float64, dim)
	for _, v := range vectors {
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	for i, x := range sum {
		out[i] = float32(x / float64(len(vectors)))
	}
	return out, true
}

// cosine is the standard cosine similarity. A zero-norm vector scores 0
// against anything rather than dividing by zero.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
