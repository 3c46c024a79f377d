// Package filter decides which corpus documents are eligible for indexing.
//
// Inclusion and exclusion settings are comma-separated lists. Each entry is
// one of:
//
//	#tag        documents carrying the tag or one of its nested children
//	[[Title]]   documents whose base name (without extension) equals Title
//	glob        gitignore-style pattern, e.g. "*.excalidraw.md"
//	path        a folder or file relative to the corpus root
//
// A non-empty inclusion list takes precedence: exclusions are then ignored.
package filter

import (
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/nickcecere/vaultidx/internal/corpus"
)

// Policy is a compiled inclusion/exclusion filter. The zero value allows
// everything.
type Policy struct {
	include *ruleSet
	exclude *ruleSet
}

type ruleSet struct {
	paths  *gitignore.GitIgnore
	tags   []string
	titles map[string]bool
	count  int
}

// Parse compiles inclusion and exclusion settings into a Policy.
func Parse(inclusions, exclusions string) *Policy {
	return &Policy{
		include: compile(inclusions),
		exclude: compile(exclusions),
	}
}

func compile(setting string) *ruleSet {
	rs := &ruleSet{titles: make(map[string]bool)}
	var lines []string

	for _, raw := range strings.Split(setting, ",") {
		entry := strings.TrimSpace(raw)
		switch {
		case entry == "":
			continue
		case strings.HasPrefix(entry, "#"):
			tag := strings.ToLower(strings.TrimPrefix(entry, "#"))
			if tag == "" {
				continue
			}
			rs.tags = append(rs.tags, strings.TrimSuffix(tag, "/"))
		case strings.HasPrefix(entry, "[[") && strings.HasSuffix(entry, "]]"):
			title := strings.TrimSpace(entry[2 : len(entry)-2])
			if title == "" {
				continue
			}
			rs.titles[strings.ToLower(title)] = true
		case strings.ContainsAny(entry, "*?["):
			lines = append(lines, entry)
		default:
			p := strings.Trim(strings.ReplaceAll(entry, "\\", "/"), "/")
			if p == "" {
				continue
			}
			lines = append(lines, "/"+p)
		}
		rs.count++
	}

	if len(lines) > 0 {
		rs.paths = gitignore.CompileIgnoreLines(lines...)
	}
	return rs
}

func (rs *ruleSet) empty() bool {
	return rs == nil || rs.count == 0
}

func (rs *ruleSet) matches(path string, tags func() []string) bool {
	path = corpus.Clean(path)

	if rs.paths != nil && rs.paths.MatchesPath(path) {
		return true
	}
	if len(rs.titles) > 0 && rs.titles[strings.ToLower(corpus.TitleOf(path))] {
		return true
	}
	if len(rs.tags) > 0 && tags != nil {
		for _, tag := range tags() {
			tag = strings.ToLower(strings.TrimPrefix(tag, "#"))
			for _, want := range rs.tags {
				if tag == want || strings.HasPrefix(tag, want+"/") {
					return true
				}
			}
		}
	}
	return false
}

// Empty reports whether the policy has no rules at all.
func (p *Policy) Empty() bool {
	return p == nil || (p.include.empty() && p.exclude.empty())
}

// NeedsTags reports whether evaluating the policy may consult document tags.
func (p *Policy) NeedsTags() bool {
	if p == nil {
		return false
	}
	if !p.include.empty() {
		return len(p.include.tags) > 0
	}
	return !p.exclude.empty() && len(p.exclude.tags) > 0
}

// Allows reports whether the document at path may be indexed. tags is called
// lazily, only when a tag rule has to be evaluated; it may be nil.
func (p *Policy) Allows(path string, tags func() []string) bool {
	if p == nil {
		return true
	}
	if !p.include.empty() {
		return p.include.matches(path, tags)
	}
	if !p.exclude.empty() {
		return !p.exclude.matches(path, tags)
	}
	return true
}
