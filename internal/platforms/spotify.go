package platforms

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2/endpoints"

	"github.com/soulprint/soulprint-sync/internal/model"
)

// SpotifyDescriptor describes the Spotify capability record. Spotify has no
// push API, so the pair is covered by polling sweeps.
func SpotifyDescriptor() Descriptor {
	return Descriptor{
		Name:          "spotify",
		Category:      "entertainment",
		OAuth:         endpoints.Spotify,
		Scopes:        []string{"user-read-recently-played", "user-top-read"},
		QualityHigh:   30,
		QualityMedium: 10,
	}
}

// SpotifyExtractor derives listening signals from the Spotify Web API.
type SpotifyExtractor struct {
	client *resty.Client
}

func NewSpotifyExtractor(timeout time.Duration) *SpotifyExtractor {
	return &SpotifyExtractor{client: NewClient("https://api.spotify.com", timeout)}
}

func (e *SpotifyExtractor) Platform() string { return "spotify" }

type spotifyTopArtists struct {
	Items []struct {
		Name       string   `json:"name"`
		Genres     []string `json:"genres"`
		Popularity int      `json:"popularity"`
	} `json:"items"`
}

type spotifyRecentlyPlayed struct {
	Items []struct {
		PlayedAt time.Time `json:"played_at"`
		Track    struct {
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"track"`
	} `json:"items"`
}

func (e *SpotifyExtractor) Extract(ctx context.Context, accessToken string, prior *PriorState) ([]*model.SoulDataPoint, error) {
	desc := SpotifyDescriptor()

	var top spotifyTopArtists
	if err := getJSON(ctx, e.client, desc.Name, accessToken, "/v1/me/top/artists",
		map[string]string{"limit": "50", "time_range": "medium_term"}, &top); err != nil {
		return nil, err
	}

	var recent spotifyRecentlyPlayed
	query := map[string]string{"limit": "50"}
	if prior != nil && prior.LastSyncAt != nil {
		query["after"] = itoa64(prior.LastSyncAt.UnixMilli())
	}
	if err := getJSON(ctx, e.client, desc.Name, accessToken, "/v1/me/player/recently-played", query, &recent); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var points []*model.SoulDataPoint

	genreFreq := map[string]int{}
	for _, artist := range top.Items {
		for _, g := range artist.Genres {
			genreFreq[g]++
		}
	}
	if len(top.Items) > 0 {
		points = append(points, &model.SoulDataPoint{
			Platform: desc.Name,
			Category: desc.Category,
			DataType: "music_profile",
			RawData: map[string]interface{}{
				"artistCount": len(top.Items),
				"topArtists":  artistNames(top, 10),
			},
			ExtractedPatterns: map[string]interface{}{
				"genreDiversity": DiversityScore(genreFreq),
				"genres":         histogramToPatterns(topN(genreFreq, 15)),
			},
			Quality:   desc.QualityFor(len(top.Items)),
			Timestamp: now,
		})
	}

	if len(recent.Items) > 0 {
		timestamps := make([]time.Time, 0, len(recent.Items))
		for _, it := range recent.Items {
			timestamps = append(timestamps, it.PlayedAt)
		}
		mode, buckets := TemporalRhythm(timestamps)
		points = append(points, &model.SoulDataPoint{
			Platform: desc.Name,
			Category: desc.Category,
			DataType: "listening_rhythm",
			RawData: map[string]interface{}{
				"playCount": len(recent.Items),
			},
			ExtractedPatterns: map[string]interface{}{
				"dominantDayPart": mode,
				"dayParts":        histogramToPatterns(buckets),
			},
			Quality:   desc.QualityFor(len(recent.Items)),
			Timestamp: now,
		})
	}

	return points, nil
}

func artistNames(top spotifyTopArtists, n int) []string {
	out := make([]string, 0, n)
	for i, a := range top.Items {
		if i >= n {
			break
		}
		out = append(out, a.Name)
	}
	return out
}
