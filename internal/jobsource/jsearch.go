// Package jobsource implements job posting retrieval from external boards.
package jobsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"jobscout/match-service/internal/model"
)

const (
	jsearchBaseURL  = "https://jsearch.p.rapidapi.com"
	jsearchMaxPages = 3 // ~30 results per criteria set
	httpTimeout     = 15 * time.Second
	maxQuerySkills  = 5
)

// JSearchClient fetches job offers from the JSearch API on RapidAPI.
// Rate limiting is the provider's concern: on HTTP 429 the client stops
// paginating and returns whatever it already has.
type JSearchClient struct {
	APIKey  string
	APIHost string
	BaseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewJSearchClient constructs a client with a shared HTTP client.
func NewJSearchClient(apiKey, apiHost string, logger *zap.Logger) *JSearchClient {
	return &JSearchClient{
		APIKey:  apiKey,
		APIHost: apiHost,
		BaseURL: jsearchBaseURL,
		client:  &http.Client{Timeout: httpTimeout},
		logger:  logger.Named("jsearch"),
	}
}

// jsearchResponse mirrors the top-level JSearch JSON response.
type jsearchResponse struct {
	Data []json.RawMessage `json:"data"`
}

// jsearchResult mirrors one JSearch job listing. The raw message is kept
// alongside so unpromoted fields survive in the job's payload blob.
type jsearchResult struct {
	JobID          string              `json:"job_id"`
	Title          string              `json:"job_title"`
	Employer       string              `json:"employer_name"`
	City           string              `json:"job_city"`
	State          string              `json:"job_state"`
	Country        string              `json:"job_country"`
	Description    string              `json:"job_description"`
	EmploymentType string              `json:"job_employment_type"`
	ApplyLink      string              `json:"job_apply_link"`
	SalaryMin      *float64            `json:"job_min_salary"`
	SalaryMax      *float64            `json:"job_max_salary"`
	Highlights     map[string][]string `json:"job_highlights"`
}

// Fetch retrieves offers for the given criteria, paginating until no more
// results or jsearchMaxPages is reached. The criteria are sent as-is, not in
// canonical form — the provider's relevance engine wants the original text.
func (c *JSearchClient) Fetch(ctx context.Context, criteria model.SearchCriteria) ([]model.Job, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("JSEARCH_API_KEY not configured")
	}

	query := buildQuery(criteria)
	var jobs []model.Job

	for page := 1; page <= jsearchMaxPages; page++ {
		batch, err := c.fetchPage(ctx, query, criteria.Location, page)
		if err != nil {
			if len(jobs) > 0 {
				c.logger.Warn("pagination stopped early", zap.Int("page", page), zap.Error(err))
				break
			}
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		jobs = append(jobs, batch...)
	}

	return jobs, nil
}

func (c *JSearchClient) fetchPage(ctx context.Context, query, location string, page int) ([]model.Job, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("num_pages", "1")
	if location != "" {
		params.Set("location", location)
	}

	reqURL := c.BaseURL + "/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-RapidAPI-Key", c.APIKey)
	req.Header.Set("X-RapidAPI-Host", c.APIHost)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("jsearch rate limit reached")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jsearch returned %d: %s", resp.StatusCode, string(body))
	}

	var apiResp jsearchResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	jobs := make([]model.Job, 0, len(apiResp.Data))
	for _, raw := range apiResp.Data {
		var r jsearchResult
		if err := json.Unmarshal(raw, &r); err != nil {
			c.logger.Warn("skipping malformed listing", zap.Error(err))
			continue
		}
		jobs = append(jobs, normalizeJob(r, raw))
	}
	return jobs, nil
}

// buildQuery turns criteria into the provider's free-text query: top skills
// OR-joined, enriched with experience-level synonyms the way recruiters
// title their postings.
func buildQuery(criteria model.SearchCriteria) string {
	skills := criteria.Skills
	if len(skills) > maxQuerySkills {
		skills = skills[:maxQuerySkills]
	}
	query := strings.Join(skills, " OR ")

	switch criteria.ExperienceLevel {
	case model.LevelStudent:
		query += " intern OR internship OR student"
	case model.LevelEntry:
		query += " junior OR entry level OR graduate"
	case model.LevelSenior:
		query += " senior OR lead"
	case model.LevelLead:
		query += " lead OR principal OR staff"
	}
	return strings.TrimSpace(query)
}

func normalizeJob(r jsearchResult, raw json.RawMessage) model.Job {
	id := r.JobID
	if id == "" {
		id = DeriveJobID(r.Title, r.Employer)
	}

	return model.Job{
		ID:             id,
		Title:          r.Title,
		Company:        r.Employer,
		Location:       formatLocation(r.City, r.State, r.Country),
		Description:    r.Description,
		Requirements:   strings.Join(r.Highlights["Qualifications"], "\n"),
		EmploymentType: r.EmploymentType,
		URL:            r.ApplyLink,
		SalaryMin:      r.SalaryMin,
		SalaryMax:      r.SalaryMax,
		RawPayload:     raw,
	}
}

// DeriveJobID builds a deterministic identifier for postings the source
// returned without one.
func DeriveJobID(title, company string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(title) + "|" + strings.ToLower(company)))
	return "derived:" + hex.EncodeToString(sum[:16])
}

func formatLocation(city, state, country string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{city, state, country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "Remote"
	}
	return strings.Join(parts, ", ")
}
