// Package match is the public entry point: it takes a candidate profile and
// returns a ranked shortlist of cached job postings.
package match

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"jobscout/match-service/internal/coordinator"
	"jobscout/match-service/internal/embedding"
	"jobscout/match-service/internal/fingerprint"
	"jobscout/match-service/internal/model"
	"jobscout/match-service/internal/ranking"
)

// ErrEmbeddingUnavailable means the candidate's own embedding could not be
// computed. Unlike per-job embedding failures this fails the whole match: an
// unembeddable candidate cannot be ranked against anything.
var ErrEmbeddingUnavailable = errors.New("candidate embedding unavailable")

// Skills beyond this many only blur the search query.
const maxCriteriaSkills = 10

// Matcher drives fingerprinting, fetch-or-reuse and ranking.
type Matcher struct {
	coordinator *coordinator.Coordinator
	embeddings  *embedding.Store
	defaultTopK int
	logger      *zap.Logger
}

// New constructs a Matcher. defaultTopK applies when the caller passes k <= 0.
func New(coord *coordinator.Coordinator, embs *embedding.Store, defaultTopK int, logger *zap.Logger) *Matcher {
	return &Matcher{
		coordinator: coord,
		embeddings:  embs,
		defaultTopK: defaultTopK,
		logger:      logger.Named("match"),
	}
}

// Match returns up to k recommendations for the profile, best first.
func (m *Matcher) Match(ctx context.Context, profile model.CandidateProfile, k int) ([]model.Recommendation, error) {
	if k <= 0 {
		k = m.defaultTopK
	}

	criteria := criteriaFromProfile(profile)
	fp := fingerprint.New(criteria)

	queryVec, err := m.embeddings.QueryVector(ctx, ProfileText(profile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}

	jobs, err := m.coordinator.Resolve(ctx, fp, criteria)
	if err != nil {
		return nil, err
	}

	jobs = dropRedFlagged(jobs, profile.RedFlags)
	if len(jobs) == 0 {
		return []model.Recommendation{}, nil
	}

	ids := make([]string, len(jobs))
	byID := make(map[string]model.Job, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
		byID[j.ID] = j
	}

	vectors, err := m.embeddings.Vectors(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Jobs without a stored vector (their embedding failed at cache time)
	// are excluded from ranking, not from the cache.
	candidates := make([]ranking.Candidate, 0, len(vectors))
	for id, vec := range vectors {
		candidates = append(candidates, ranking.Candidate{JobID: id, Vector: vec})
	}
	if skipped := len(jobs) - len(candidates); skipped > 0 {
		m.logger.Debug("jobs without embeddings excluded from ranking",
			zap.String("fingerprint", fp), zap.Int("skipped", skipped))
	}

	scored, err := ranking.Rank(queryVec, candidates, k)
	if err != nil {
		return nil, err
	}

	recs := make([]model.Recommendation, 0, len(scored))
	for _, s := range scored {
		recs = append(recs, model.Recommendation{Job: byID[s.JobID], Score: s.Score})
	}
	return recs, nil
}

func criteriaFromProfile(profile model.CandidateProfile) model.SearchCriteria {
	skills := profile.Skills
	if len(skills) > maxCriteriaSkills {
		skills = skills[:maxCriteriaSkills]
	}
	return model.SearchCriteria{
		Skills:          skills,
		ExperienceLevel: profile.ExperienceLevel,
		Location:        profile.Location,
		EmploymentType:  profile.EmploymentType,
	}
}

// ProfileText synthesizes the representative text the candidate is embedded
// from: skills and an experience summary, plus the raw resume text when the
// upstream pipeline supplied one.
func ProfileText(profile model.CandidateProfile) string {
	var parts []string

	if len(profile.Skills) > 0 {
		parts = append(parts, "Skills: "+strings.Join(profile.Skills, ", "))
	}
	if profile.ExperienceLevel != "" {
		exp := "Experience: " + profile.ExperienceLevel
		if profile.YearsExperience > 0 {
			exp += fmt.Sprintf(" (%d years)", profile.YearsExperience)
		}
		parts = append(parts, exp)
	}
	if profile.Location != "" {
		parts = append(parts, "Location: "+profile.Location)
	}
	if raw := strings.TrimSpace(profile.RawText); raw != "" {
		parts = append(parts, raw)
	}
	return strings.Join(parts, ". ")
}
