// Package changelog derives a Markdown changelog from closed issues and
// merged pull requests, bucketed into sections by label.
//
// Generation is total, not incremental: every run recomputes the full
// document, so the output is a deterministic function of (items, mapping).
// Re-running against unchanged inputs produces a byte-identical document.
package changelog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teranos/relcut/forge"
)

// Entry is one changelog line.
type Entry struct {
	Title  string
	Number int
	URL    string
}

// Section is an ordered bucket of entries.
type Section struct {
	Title   string
	Entries []Entry
}

// SectionSpec maps a label set to a section title. Specs are evaluated in
// order; an item lands in the first section whose label set it matches.
type SectionSpec struct {
	Title  string
	Labels []string
}

// Default catch-all section titles. Items with no matching labeled section
// fall through here (merged PRs and plain issues separately) when
// IncludeUnlabeled is set.
const (
	SectionMergedPulls  = "Merged Pull Requests"
	SectionClosedIssues = "Closed Issues"
)

// DefaultSections is the fixed label-to-section mapping used when the
// configuration does not override it.
func DefaultSections() []SectionSpec {
	return []SectionSpec{
		{Title: "Breaking Changes", Labels: []string{"breaking", "breaking-change"}},
		{Title: "Security Fixes", Labels: []string{"security"}},
		{Title: "Bug Fixes", Labels: []string{"bug", "bugfix", "fix"}},
		{Title: "Enhancements", Labels: []string{"enhancement", "feature"}},
	}
}

// Options configures generation.
type Options struct {
	Sections         []SectionSpec // ordered label buckets; DefaultSections() when empty
	IncludeUnlabeled bool          // route unmatched items into the catch-all sections
	ExcludeLabels    []string      // items carrying any of these labels are dropped
	Since            time.Time     // only items closed/merged after this instant are included
}

// Document is a fully generated changelog for one release.
type Document struct {
	Version     string
	Tag         string
	PreviousTag string
	Date        time.Time
	CompareURL  string
	Sections    []Section
}

// Generate buckets items into sections. repoURL is the web URL of the
// repository (for the comparison link), e.g. https://github.com/acme/widgets.
func Generate(items []forge.Item, version, tag, previousTag, repoURL string, date time.Time, opts Options) *Document {
	specs := opts.Sections
	if len(specs) == 0 {
		specs = DefaultSections()
	}

	doc := &Document{
		Version:     version,
		Tag:         tag,
		PreviousTag: previousTag,
		Date:        date.UTC(),
	}
	if previousTag != "" && repoURL != "" {
		doc.CompareURL = fmt.Sprintf("%s/compare/%s...%s", strings.TrimRight(repoURL, "/"), previousTag, tag)
	}

	labeled := make([][]Entry, len(specs))
	var mergedPulls, closedIssues []Entry

	for _, item := range items {
		if !inRange(item, opts.Since) {
			continue
		}
		if hasAnyLabel(item, opts.ExcludeLabels) {
			continue
		}
		// Closed-but-unmerged PRs do not belong in a changelog.
		if item.IsPull() && !item.IsMergedPull() {
			continue
		}

		entry := Entry{Title: item.Title, Number: item.Number, URL: item.HTMLURL}

		matched := false
		for i, spec := range specs {
			if hasAnyLabel(item, spec.Labels) {
				labeled[i] = append(labeled[i], entry)
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if !opts.IncludeUnlabeled {
			continue
		}
		if item.IsPull() {
			mergedPulls = append(mergedPulls, entry)
		} else {
			closedIssues = append(closedIssues, entry)
		}
	}

	for i, spec := range specs {
		if len(labeled[i]) > 0 {
			doc.Sections = append(doc.Sections, Section{Title: spec.Title, Entries: sortEntries(labeled[i])})
		}
	}
	if len(mergedPulls) > 0 {
		doc.Sections = append(doc.Sections, Section{Title: SectionMergedPulls, Entries: sortEntries(mergedPulls)})
	}
	if len(closedIssues) > 0 {
		doc.Sections = append(doc.Sections, Section{Title: SectionClosedIssues, Entries: sortEntries(closedIssues)})
	}

	return doc
}

// inRange reports whether the item closed (or merged, for PRs) after since.
func inRange(item forge.Item, since time.Time) bool {
	when := item.ClosedAt
	if item.IsPull() {
		when = item.PullRequest.MergedAt
	}
	if when == nil {
		return false
	}
	if since.IsZero() {
		return true
	}
	return when.After(since)
}

func hasAnyLabel(item forge.Item, labels []string) bool {
	for _, l := range labels {
		if item.HasLabel(l) {
			return true
		}
	}
	return false
}

// sortEntries orders entries by number descending: newest work first, and a
// stable order independent of API response ordering.
func sortEntries(entries []Entry) []Entry {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Number > entries[j].Number
	})
	return entries
}

// Render serializes the document to Markdown. The output fully replaces any
// previous changelog file.
func (d *Document) Render() string {
	var b strings.Builder

	b.WriteString("# Changelog\n\n")
	fmt.Fprintf(&b, "## [%s] - %s\n\n", d.Version, d.Date.Format("2006-01-02"))

	if d.CompareURL != "" {
		fmt.Fprintf(&b, "[Full Changelog](%s)\n\n", d.CompareURL)
	}

	if len(d.Sections) == 0 {
		b.WriteString("No noteworthy changes.\n")
		return b.String()
	}

	for _, section := range d.Sections {
		fmt.Fprintf(&b, "### %s\n\n", section.Title)
		for _, entry := range section.Entries {
			fmt.Fprintf(&b, "- %s [\\#%d](%s)\n", entry.Title, entry.Number, entry.URL)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
