package platforms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herald/internal/config"
)

func TestNewBlueskyPlatform(t *testing.T) {
	p, err := NewBlueskyPlatform(&config.BlueskyPlatformSettings{
		Identifier: "herald.example.com",
		Password:   "app-password",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://bsky.social", p.host, "empty host defaults to the public PDS")

	_, err = NewBlueskyPlatform(&config.BlueskyPlatformSettings{Password: "x"})
	assert.Error(t, err)

	_, err = NewBlueskyPlatform(&config.BlueskyPlatformSettings{Identifier: "x"})
	assert.Error(t, err)
}

func TestBlueskyPublishRequiresInitialization(t *testing.T) {
	p, err := NewBlueskyPlatform(&config.BlueskyPlatformSettings{
		Identifier: "herald.example.com",
		Password:   "app-password",
	})
	require.NoError(t, err)

	_, err = p.Publish(context.Background(), "hello")
	assert.ErrorContains(t, err, "not initialized")
}

func TestPostURL(t *testing.T) {
	got := PostURL("herald.example.com", "at://did:plc:abc123/app.bsky.feed.post/3kxyz")
	assert.Equal(t, "https://bsky.app/profile/herald.example.com/post/3kxyz", got)
}
