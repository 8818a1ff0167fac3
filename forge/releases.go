package forge

import (
	"context"
	"net/http"
	"net/url"
)

// Release is a release object as returned by the API.
type Release struct {
	ID         int64  `json:"id"`
	TagName    string `json:"tag_name"`
	Name       string `json:"name"`
	Body       string `json:"body"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
	HTMLURL    string `json:"html_url"`
}

// ReleaseRequest describes a release to create. The pipeline always creates
// published releases: draft=false, prerelease=false.
type ReleaseRequest struct {
	TagName         string `json:"tag_name"`
	TargetCommitish string `json:"target_commitish,omitempty"`
	Name            string `json:"name"`
	Body            string `json:"body"`
	Draft           bool   `json:"draft"`
	Prerelease      bool   `json:"prerelease"`
}

// CreateRelease creates a release bound to req.TagName. The release is
// immutable in this workflow: there is no update path.
func (c *Client) CreateRelease(ctx context.Context, req ReleaseRequest) (*Release, error) {
	var release Release
	if err := c.do(ctx, http.MethodPost, c.repoPath("/releases"), req, &release); err != nil {
		return nil, err
	}
	if c.logger != nil {
		c.logger.Infow("Created release",
			"tag", release.TagName,
			"name", release.Name,
			"url", release.HTMLURL)
	}
	return &release, nil
}

// GetReleaseByTag fetches the release for a tag. Returns (nil, nil) when no
// release exists, so callers can implement release-create-if-absent.
func (c *Client) GetReleaseByTag(ctx context.Context, tag string) (*Release, error) {
	var release Release
	err := c.do(ctx, http.MethodGet, c.repoPath("/releases/tags/%s", url.PathEscape(tag)), nil, &release)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &release, nil
}
