package corpus

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// inlineTagPattern matches #tags in body text. Nested tags use '/'.
var inlineTagPattern = regexp.MustCompile(`(?:^|[\s(\[,])#([\p{L}\p{N}_\-/]+)`)

// ParseMetadata extracts frontmatter and tags from document text.
// Frontmatter that fails to parse is reported as an error; tags found in the
// body are still collected by callers that ignore it.
func ParseMetadata(content string) (Metadata, error) {
	var meta Metadata

	front, body, ok := SplitFrontmatter(content)
	if ok {
		var raw any
		if err := yaml.Unmarshal([]byte(front), &raw); err != nil {
			meta.Tags = inlineTags(body)
			return meta, fmt.Errorf("failed to parse frontmatter: %w", err)
		}
		if fm, ok := normalizeValue(raw).(map[string]any); ok && len(fm) > 0 {
			meta.Frontmatter = fm
		}
	}

	seen := make(map[string]bool)
	add := func(tag string) {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		if tag == "" || !validTag(tag) {
			return
		}
		key := strings.ToLower(tag)
		if seen[key] {
			return
		}
		seen[key] = true
		meta.Tags = append(meta.Tags, tag)
	}

	for _, key := range []string{"tags", "tag"} {
		for _, tag := range stringList(meta.Frontmatter[key]) {
			add(tag)
		}
	}
	for _, tag := range inlineTags(body) {
		add(tag)
	}

	return meta, nil
}

// SplitFrontmatter separates a leading YAML block delimited by "---" lines.
func SplitFrontmatter(content string) (front, body string, ok bool) {
	content = strings.TrimPrefix(content, "\ufeff")
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return "", content, false
	}

	rest := content[strings.Index(content, "\n")+1:]
	offset := 0
	for {
		end := strings.Index(rest[offset:], "\n")
		line := rest[offset:]
		if end >= 0 {
			line = rest[offset : offset+end]
		}
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "---" || trimmed == "..." {
			front = rest[:offset]
			if end >= 0 {
				body = rest[offset+end+1:]
			}
			return front, body, true
		}
		if end < 0 {
			return "", content, false
		}
		offset += end + 1
	}
}

// CreatedAt returns the creation time declared in frontmatter, if any.
func (m Metadata) CreatedAt() (time.Time, bool) {
	for _, key := range []string{"created", "date"} {
		switch v := m.Frontmatter[key].(type) {
		case time.Time:
			return v, true
		case string:
			for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
				if t, err := time.ParseInLocation(layout, strings.TrimSpace(v), time.Local); err == nil {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}

// normalizeValue converts YAML mappings with non-string keys into
// map[string]any so frontmatter can be encoded as JSON.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = normalizeValue(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = normalizeValue(item)
		}
		return t
	}
	return v
}

func inlineTags(body string) []string {
	var tags []string
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		for _, m := range inlineTagPattern.FindAllStringSubmatch(line, -1) {
			tags = append(tags, strings.TrimRight(m[1], "/"))
		}
	}
	return tags
}

// validTag rejects purely numeric tags such as issue references.
func validTag(tag string) bool {
	for _, r := range tag {
		if r < '0' || r > '9' {
			return true
		}
	}
	return false
}

func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		return strings.FieldsFunc(t, func(r rune) bool { return r == ',' || r == ' ' })
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	}
	return nil
}
