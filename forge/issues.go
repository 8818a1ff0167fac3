package forge

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const perPage = 100

// Label is an issue label.
type Label struct {
	Name string `json:"name"`
}

// Item is an entry from the issues listing. GitHub's issues endpoint returns
// both issues and pull requests; pull requests carry a pull_request block.
type Item struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	HTMLURL     string     `json:"html_url"`
	Labels      []Label    `json:"labels"`
	ClosedAt    *time.Time `json:"closed_at"`
	PullRequest *PullRef   `json:"pull_request,omitempty"`
}

// PullRef marks an issues-listing entry as a pull request.
type PullRef struct {
	MergedAt *time.Time `json:"merged_at"`
}

// IsPull reports whether the item is a pull request.
func (i Item) IsPull() bool {
	return i.PullRequest != nil
}

// IsMergedPull reports whether the item is a pull request that was merged
// (closed-unmerged PRs do not belong in a changelog).
func (i Item) IsMergedPull() bool {
	return i.PullRequest != nil && i.PullRequest.MergedAt != nil
}

// HasLabel reports whether the item carries the named label.
func (i Item) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// Pull is a pull request fetched directly.
type Pull struct {
	Number   int        `json:"number"`
	Title    string     `json:"title"`
	Body     string     `json:"body"`
	HTMLURL  string     `json:"html_url"`
	MergedAt *time.Time `json:"merged_at"`
	Base     struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

// GetPull fetches a single pull request.
func (c *Client) GetPull(ctx context.Context, number int) (*Pull, error) {
	var pull Pull
	if err := c.do(ctx, http.MethodGet, c.repoPath("/pulls/%d", number), nil, &pull); err != nil {
		return nil, err
	}
	return &pull, nil
}

// AddLabels adds labels to an issue. Existing labels are preserved; the API
// call is additive.
func (c *Client) AddLabels(ctx context.Context, number int, labels []string) error {
	body := struct {
		Labels []string `json:"labels"`
	}{Labels: labels}
	err := c.do(ctx, http.MethodPost, c.repoPath("/issues/%d/labels", number), body, nil)
	if err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.Infow("Labeled issue", "issue", number, "labels", labels)
	}
	return nil
}

// ListClosedSince lists all closed issues and pull requests updated since the
// given time, following pagination to exhaustion. Results come back in the
// API's deterministic ordering (most recently updated first).
func (c *Client) ListClosedSince(ctx context.Context, since time.Time) ([]Item, error) {
	var all []Item
	for page := 1; ; page++ {
		path := c.repoPath("/issues?state=closed&per_page=%d&page=%d", perPage, page)
		if !since.IsZero() {
			path += fmt.Sprintf("&since=%s", since.UTC().Format(time.RFC3339))
		}
		var items []Item
		if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
			return nil, err
		}
		all = append(all, items...)
		if len(items) < perPage {
			return all, nil
		}
	}
}
