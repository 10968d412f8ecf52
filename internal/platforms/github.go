package platforms

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2/endpoints"

	"github.com/soulprint/soulprint-sync/internal/model"
)

// GitHubDescriptor describes the GitHub capability record. GitHub supports
// push delivery signed with HMAC-SHA256 over the raw body.
func GitHubDescriptor() Descriptor {
	return Descriptor{
		Name:             "github",
		Category:         "technical",
		OAuth:            endpoints.GitHub,
		Scopes:           []string{"read:user", "repo"},
		SupportsWebhooks: true,
		WebhookScheme: &WebhookScheme{
			SignatureHeader: "X-Hub-Signature-256",
			SignaturePrefix: "sha256=",
			EventIDHeader:   "X-GitHub-Delivery",
			EventTypeHeader: "X-GitHub-Event",
		},
		WebhookRegisterURL:      "https://api.github.com/user/hooks",
		WebhookRegistrationBody: githubRegistrationBody,
		QualityHigh:             30,
		QualityMedium:           10,
	}
}

func githubRegistrationBody(callbackURL, secret string) interface{} {
	return map[string]interface{}{
		"name":   "web",
		"active": true,
		"events": []string{"push", "public", "repository"},
		"config": map[string]string{
			"url":          callbackURL,
			"content_type": "json",
			"secret":       secret,
		},
	}
}

// GitHubExtractor derives coding-behavior signals from the GitHub REST API.
type GitHubExtractor struct {
	client *resty.Client
}

func NewGitHubExtractor(timeout time.Duration) *GitHubExtractor {
	return &GitHubExtractor{client: NewClient("https://api.github.com", timeout)}
}

func (e *GitHubExtractor) Platform() string { return "github" }

type githubUser struct {
	Login       string `json:"login"`
	PublicRepos int    `json:"public_repos"`
	Followers   int    `json:"followers"`
}

type githubRepo struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Fork     bool   `json:"fork"`
	Stars    int    `json:"stargazers_count"`
	PushedAt string `json:"pushed_at"`
}

type githubEvent struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *GitHubExtractor) Extract(ctx context.Context, accessToken string, prior *PriorState) ([]*model.SoulDataPoint, error) {
	desc := GitHubDescriptor()

	var user githubUser
	if err := getJSON(ctx, e.client, desc.Name, accessToken, "/user", nil, &user); err != nil {
		return nil, err
	}

	var repos []githubRepo
	if err := getJSON(ctx, e.client, desc.Name, accessToken, "/user/repos",
		map[string]string{"per_page": "100", "sort": "pushed"}, &repos); err != nil {
		return nil, err
	}

	var events []githubEvent
	if err := getJSON(ctx, e.client, desc.Name, accessToken, "/users/"+user.Login+"/events",
		map[string]string{"per_page": "100"}, &events); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var points []*model.SoulDataPoint

	langFreq := map[string]int{}
	owned := 0
	for _, repo := range repos {
		if repo.Fork {
			continue
		}
		owned++
		if repo.Language != "" {
			langFreq[repo.Language]++
		}
	}
	if owned > 0 {
		points = append(points, &model.SoulDataPoint{
			Platform: desc.Name,
			Category: desc.Category,
			DataType: "code_profile",
			RawData: map[string]interface{}{
				"login":       user.Login,
				"ownedRepos":  owned,
				"publicRepos": user.PublicRepos,
				"followers":   user.Followers,
			},
			ExtractedPatterns: map[string]interface{}{
				"languageDiversity": DiversityScore(langFreq),
				"languages":         histogramToPatterns(topN(langFreq, 10)),
			},
			Quality:   desc.QualityFor(owned),
			Timestamp: now,
		})
	}

	// Activity signals respect prior state so poll sweeps only count new events.
	recent := events
	if prior != nil && prior.LastSyncAt != nil {
		recent = recent[:0]
		for _, ev := range events {
			if ev.CreatedAt.After(*prior.LastSyncAt) {
				recent = append(recent, ev)
			}
		}
	}
	if len(recent) > 0 {
		timestamps := make([]time.Time, 0, len(recent))
		typeFreq := map[string]int{}
		for _, ev := range recent {
			timestamps = append(timestamps, ev.CreatedAt)
			typeFreq[ev.Type]++
		}
		mode, buckets := TemporalRhythm(timestamps)
		points = append(points, &model.SoulDataPoint{
			Platform: desc.Name,
			Category: desc.Category,
			DataType: "activity_rhythm",
			RawData: map[string]interface{}{
				"eventCount": len(recent),
			},
			ExtractedPatterns: map[string]interface{}{
				"dominantDayPart": mode,
				"dayParts":        histogramToPatterns(buckets),
				"eventTypes":      histogramToPatterns(typeFreq),
			},
			Quality:   desc.QualityFor(len(recent)),
			Timestamp: now,
		})
	}

	return points, nil
}
