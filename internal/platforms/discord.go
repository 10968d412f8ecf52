package platforms

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2/endpoints"

	"github.com/soulprint/soulprint-sync/internal/model"
)

// discordInterestBuckets maps community names onto coarse interest groups.
var discordInterestBuckets = map[string][]string{
	"gaming":     {"game", "gaming", "esport", "minecraft", "valorant", "league"},
	"technology": {"dev", "code", "coding", "program", "tech", "linux", "ai"},
	"music":      {"music", "band", "producer", "dj"},
	"art":        {"art", "design", "draw", "illustrat"},
	"anime":      {"anime", "manga", "weeb"},
	"study":      {"study", "school", "uni", "learn"},
}

// DiscordDescriptor describes the Discord capability record. The user-level
// REST surface has no push delivery, so the pair is poll-only.
func DiscordDescriptor() Descriptor {
	return Descriptor{
		Name:          "discord",
		Category:      "social",
		OAuth:         endpoints.Discord,
		Scopes:        []string{"identify", "guilds"},
		QualityHigh:   30,
		QualityMedium: 10,
	}
}

// DiscordExtractor derives community-membership signals from the Discord API.
type DiscordExtractor struct {
	client *resty.Client
}

func NewDiscordExtractor(timeout time.Duration) *DiscordExtractor {
	return &DiscordExtractor{client: NewClient("https://discord.com/api/v10", timeout)}
}

func (e *DiscordExtractor) Platform() string { return "discord" }

type discordUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type discordGuild struct {
	Name     string   `json:"name"`
	Owner    bool     `json:"owner"`
	Features []string `json:"features"`
}

func (e *DiscordExtractor) Extract(ctx context.Context, accessToken string, prior *PriorState) ([]*model.SoulDataPoint, error) {
	desc := DiscordDescriptor()

	var user discordUser
	if err := getJSON(ctx, e.client, desc.Name, accessToken, "/users/@me", nil, &user); err != nil {
		return nil, err
	}

	var guilds []discordGuild
	if err := getJSON(ctx, e.client, desc.Name, accessToken, "/users/@me/guilds", nil, &guilds); err != nil {
		return nil, err
	}

	if len(guilds) == 0 {
		// No communities, no signal. Absence surfaces as absence.
		return nil, nil
	}

	names := make([]string, 0, len(guilds))
	owned := 0
	for _, g := range guilds {
		names = append(names, g.Name)
		if g.Owner {
			owned++
		}
	}
	interests := CategoryHistogram(names, discordInterestBuckets)

	return []*model.SoulDataPoint{{
		Platform: desc.Name,
		Category: desc.Category,
		DataType: "community_profile",
		RawData: map[string]interface{}{
			"username":    user.Username,
			"guildCount":  len(guilds),
			"ownedGuilds": owned,
		},
		ExtractedPatterns: map[string]interface{}{
			"interestDiversity": DiversityScore(interests),
			"interests":         histogramToPatterns(interests),
		},
		Quality:   desc.QualityFor(len(guilds)),
		Timestamp: time.Now().UTC(),
	}}, nil
}
