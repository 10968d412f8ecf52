package platforms

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2/endpoints"

	"github.com/soulprint/soulprint-sync/internal/model"
)

var youtubeTopicBuckets = map[string][]string{
	"technology":    {"tech", "programming", "coding", "software", "computer"},
	"gaming":        {"game", "gaming", "playthrough", "speedrun"},
	"music":         {"music", "official", "vevo", "records"},
	"education":     {"learn", "course", "lecture", "explained", "science"},
	"entertainment": {"comedy", "vlog", "show", "funny"},
	"fitness":       {"fitness", "workout", "yoga", "gym"},
}

// YouTubeDescriptor describes the YouTube capability record (Google OAuth).
func YouTubeDescriptor() Descriptor {
	return Descriptor{
		Name:          "youtube",
		Category:      "entertainment",
		OAuth:         endpoints.Google,
		Scopes:        []string{"https://www.googleapis.com/auth/youtube.readonly"},
		QualityHigh:   30,
		QualityMedium: 10,
	}
}

// YouTubeExtractor derives viewing-interest signals from the YouTube Data API.
type YouTubeExtractor struct {
	client *resty.Client
}

func NewYouTubeExtractor(timeout time.Duration) *YouTubeExtractor {
	return &YouTubeExtractor{client: NewClient("https://www.googleapis.com/youtube/v3", timeout)}
}

func (e *YouTubeExtractor) Platform() string { return "youtube" }

type youtubeSubscriptions struct {
	Items []struct {
		Snippet struct {
			Title       string    `json:"title"`
			Description string    `json:"description"`
			PublishedAt time.Time `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
	PageInfo struct {
		TotalResults int `json:"totalResults"`
	} `json:"pageInfo"`
}

func (e *YouTubeExtractor) Extract(ctx context.Context, accessToken string, prior *PriorState) ([]*model.SoulDataPoint, error) {
	desc := YouTubeDescriptor()

	var subs youtubeSubscriptions
	if err := getJSON(ctx, e.client, desc.Name, accessToken, "/subscriptions",
		map[string]string{"part": "snippet", "mine": "true", "maxResults": "50"}, &subs); err != nil {
		return nil, err
	}

	if len(subs.Items) == 0 {
		return nil, nil
	}

	labels := make([]string, 0, len(subs.Items)*2)
	for _, it := range subs.Items {
		labels = append(labels, it.Snippet.Title, it.Snippet.Description)
	}
	topics := CategoryHistogram(labels, youtubeTopicBuckets)

	return []*model.SoulDataPoint{{
		Platform: desc.Name,
		Category: desc.Category,
		DataType: "viewing_profile",
		RawData: map[string]interface{}{
			"subscriptionCount": subs.PageInfo.TotalResults,
			"sampledCount":      len(subs.Items),
		},
		ExtractedPatterns: map[string]interface{}{
			"topicDiversity": DiversityScore(topics),
			"topics":         histogramToPatterns(topics),
		},
		Quality:   desc.QualityFor(len(subs.Items)),
		Timestamp: time.Now().UTC(),
	}}, nil
}
