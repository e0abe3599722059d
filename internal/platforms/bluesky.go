package platforms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	lexutil "github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"

	"herald/internal/config"
)

// BlueskyPlatform is the publish collaborator: it turns announcement text
// into a feed post and returns the post's public URL.
type BlueskyPlatform struct {
	host       string
	identifier string
	password   string
	client     *xrpc.Client
}

func NewBlueskyPlatform(settings *config.BlueskyPlatformSettings) (*BlueskyPlatform, error) {
	if settings.Identifier == "" {
		return nil, fmt.Errorf("bluesky platform: identifier is required")
	}
	if settings.Password == "" {
		return nil, fmt.Errorf("bluesky platform: password is required")
	}

	host := settings.Host
	if host == "" {
		host = "https://bsky.social"
	}

	return &BlueskyPlatform{
		host:       host,
		identifier: settings.Identifier,
		password:   settings.Password,
	}, nil
}

func (p *BlueskyPlatform) Initialize(ctx context.Context) error {
	client := &xrpc.Client{
		Host: p.host,
	}

	auth, err := atproto.ServerCreateSession(ctx, client, &atproto.ServerCreateSession_Input{
		Identifier: p.identifier,
		Password:   p.password,
	})
	if err != nil {
		return fmt.Errorf("failed to authenticate with bluesky: %w", err)
	}

	client.Auth = &xrpc.AuthInfo{
		AccessJwt:  auth.AccessJwt,
		RefreshJwt: auth.RefreshJwt,
		Handle:     auth.Handle,
		Did:        auth.Did,
	}

	p.client = client

	return nil
}

// Publish creates one plain-text feed post. Truncation has already been
// applied by the pipeline; text arrives ready to send.
func (p *BlueskyPlatform) Publish(ctx context.Context, text string) (string, error) {
	if p.client == nil || p.client.Auth == nil {
		return "", fmt.Errorf("bluesky platform: not initialized")
	}

	post := &bsky.FeedPost{
		CreatedAt: time.Now().Format(time.RFC3339),
		Text:      text,
	}

	resp, err := atproto.RepoCreateRecord(ctx, p.client, &atproto.RepoCreateRecord_Input{
		Collection: "app.bsky.feed.post",
		Repo:       p.client.Auth.Did,
		Record:     &lexutil.LexiconTypeDecoder{Val: post},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create post: %w", err)
	}

	return PostURL(p.client.Auth.Handle, resp.Uri), nil
}

// PostURL converts an at:// record URI into the public web URL for the
// post.
func PostURL(handle, uri string) string {
	parts := strings.Split(uri, "/")
	rkey := parts[len(parts)-1]
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, rkey)
}

func (p *BlueskyPlatform) Close(ctx context.Context) error {
	// Stateless HTTP client, nothing to release.
	return nil
}
