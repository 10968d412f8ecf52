package platforms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(5 * time.Second)

	assert.ElementsMatch(t, []string{"spotify", "github", "discord", "youtube"}, r.Names())

	// GitHub is the only push-capable platform; the rest are polled.
	assert.ElementsMatch(t, []string{"spotify", "discord", "youtube"}, r.PollOnly())

	for _, name := range r.Names() {
		ext, ok := r.Extractor(name)
		require.True(t, ok, name)
		assert.Equal(t, name, ext.Platform())

		desc, ok := r.Descriptor(name)
		require.True(t, ok, name)
		assert.Equal(t, name, desc.Name)
		assert.NotEmpty(t, desc.OAuth.AuthURL, name)
		assert.NotEmpty(t, desc.OAuth.TokenURL, name)
		assert.NotEmpty(t, desc.Scopes, name)
		assert.Greater(t, desc.QualityHigh, desc.QualityMedium, name)
	}

	github, _ := r.Descriptor("github")
	assert.True(t, github.SupportsWebhooks)
	assert.Equal(t, "X-Hub-Signature-256", github.WebhookScheme.SignatureHeader)

	_, ok := r.Extractor("myspace")
	assert.False(t, ok)
}
