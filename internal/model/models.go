// Package model defines shared data structures for the match service.
package model

import (
	"encoding/json"
	"time"
)

// Canonical experience-level buckets. Anything unrecognized collapses into
// LevelUnspecified rather than being rejected.
const (
	LevelStudent     = "student"
	LevelEntry       = "entry"
	LevelMid         = "mid"
	LevelSenior      = "senior"
	LevelLead        = "lead"
	LevelUnspecified = "unspecified"
)

// Canonical employment-type buckets.
const (
	EmploymentFullTime    = "fulltime"
	EmploymentPartTime    = "parttime"
	EmploymentContract    = "contract"
	EmploymentInternship  = "internship"
	EmploymentUnspecified = "unspecified"
)

// SearchCriteria is the tuple that identifies one distinct job search.
// Its canonical form (see the fingerprint package) is the cache key.
type SearchCriteria struct {
	Skills          []string `json:"skills"`
	ExperienceLevel string   `json:"experienceLevel"`
	Location        string   `json:"location"`
	EmploymentType  string   `json:"employmentType"`
}

// CandidateProfile is the structured output of the (external) resume
// pipeline. The service never parses resume text itself.
type CandidateProfile struct {
	Skills          []string `json:"skills"`
	ExperienceLevel string   `json:"experienceLevel"`
	YearsExperience int      `json:"yearsExperience"`
	Location        string   `json:"location"`
	EmploymentType  string   `json:"employmentType"`
	RedFlags        []string `json:"redFlags"` // exclusion terms — any match discards the offer
	RawText         string   `json:"rawText"`
}

// Job is a normalised posting fetched from an external job board.
// Fields not promoted to a typed column survive round-trips in RawPayload.
type Job struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Company         string          `json:"company"`
	Location        string          `json:"location"`
	Description     string          `json:"description"`
	Requirements    string          `json:"requirements"`
	EmploymentType  string          `json:"employmentType,omitempty"`
	ExperienceLevel string          `json:"experienceLevel,omitempty"`
	URL             string          `json:"url"`
	SalaryMin       *float64        `json:"salaryMin,omitempty"`
	SalaryMax       *float64        `json:"salaryMax,omitempty"`
	RawPayload      json.RawMessage `json:"-"`
}

// QueryRecord is the per-fingerprint cache bookkeeping row. HitCount is
// diagnostic only and never affects cache correctness.
type QueryRecord struct {
	Fingerprint    string         `json:"fingerprint"`
	Criteria       SearchCriteria `json:"criteria"`
	HitCount       int            `json:"hitCount"`
	FirstFetchedAt time.Time      `json:"firstFetchedAt"`
	LastFetchedAt  time.Time      `json:"lastFetchedAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}

// Expired reports whether the record must be treated as a cache miss at the
// given instant, regardless of whether its rows were physically purged yet.
func (r *QueryRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// JobEmbedding is the stored vector for one cached job. Vector holds the
// unit-normalised embedding in little-endian float32 wire form.
type JobEmbedding struct {
	JobID        string
	Vector       []byte
	SourceDigest string
}

// Recommendation is one ranked match returned to the caller.
type Recommendation struct {
	Job   Job     `json:"job"`
	Score float64 `json:"score"`
}
