// Package publish turns enriched change events into Facebook page posts.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// FacebookConfig holds Graph API credentials.
type FacebookConfig struct {
	PageID      string
	AccessToken string
	GraphVer    string
}

// FacebookClient talks to the Facebook Graph API for one page.
type FacebookClient struct {
	cfg    FacebookConfig
	client *http.Client
}

// NewFacebookClient creates a FacebookClient. The Graph version defaults to
// v24.0 when unset.
func NewFacebookClient(cfg FacebookConfig) *FacebookClient {
	if cfg.GraphVer == "" {
		cfg.GraphVer = "v24.0"
	}
	return &FacebookClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (f *FacebookClient) graphURL(path string) string {
	return fmt.Sprintf("https://graph.facebook.com/%s/%s", f.cfg.GraphVer, strings.TrimPrefix(path, "/"))
}

// post sends a form-encoded POST to the Graph API and decodes the JSON
// response into a generic map.
func (f *FacebookClient) post(ctx context.Context, path string, form url.Values) (map[string]any, error) {
	form.Set("access_token", f.cfg.AccessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.graphURL(path),
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("facebook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("facebook: send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	payload := map[string]any{}
	if err := json.Unmarshal(body, &payload); err != nil {
		payload = map[string]any{"raw": string(body)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("facebook: %s returned status %d: %v", path, resp.StatusCode, payload)
	}
	return payload, nil
}

// UploadUnpublishedPhoto uploads one photo by URL as unpublished media and
// returns its media id for later attachment to a feed post.
func (f *FacebookClient) UploadUnpublishedPhoto(ctx context.Context, photoURL string) (string, error) {
	form := url.Values{}
	form.Set("url", photoURL)
	form.Set("published", "false")

	payload, err := f.post(ctx, f.cfg.PageID+"/photos", form)
	if err != nil {
		return "", err
	}
	id, _ := payload["id"].(string)
	if id == "" {
		return "", fmt.Errorf("facebook: photo upload response missing id: %v", payload)
	}
	return id, nil
}

// CreatePost creates a page feed post with the given message and attached
// media ids, returning the new post id.
func (f *FacebookClient) CreatePost(ctx context.Context, message string, mediaIDs []string) (string, error) {
	form := url.Values{}
	form.Set("message", message)
	for i, mid := range mediaIDs {
		attach, err := json.Marshal(map[string]string{"media_fbid": mid})
		if err != nil {
			return "", fmt.Errorf("facebook: marshal attached media: %w", err)
		}
		form.Set(fmt.Sprintf("attached_media[%d]", i), string(attach))
	}

	payload, err := f.post(ctx, f.cfg.PageID+"/feed", form)
	if err != nil {
		return "", err
	}
	id, _ := payload["id"].(string)
	if id == "" {
		return "", fmt.Errorf("facebook: create post response missing id: %v", payload)
	}
	return id, nil
}

// UpdatePostText replaces an existing post's message.
func (f *FacebookClient) UpdatePostText(ctx context.Context, postID, message string) error {
	form := url.Values{}
	form.Set("message", message)

	_, err := f.post(ctx, postID, form)
	return err
}

// AttachPhotoComment adds one photo as a comment under an existing post.
// Used for the best-effort extra photo batch.
func (f *FacebookClient) AttachPhotoComment(ctx context.Context, postID, photoURL string) error {
	form := url.Values{}
	form.Set("attachment_url", photoURL)

	_, err := f.post(ctx, postID+"/comments", form)
	return err
}
