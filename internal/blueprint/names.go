package blueprint

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxForumTags is the platform limit on tags per forum channel.
	MaxForumTags = 20
	// MaxForumTagLength is the platform limit on a forum tag name, in runes.
	MaxForumTagLength = 20
)

// NormalizeName folds a role, category or channel name into the key used
// when matching blueprint entries against state and live guild content.
// Case is ignored and runs of whitespace, '-' and '_' collapse to one '-'.
func NormalizeName(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('-')
		}
		pendingSep = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// SanitizeTags trims, truncates and de-duplicates forum tags, keeping at
// most MaxForumTags in their original order.
func SanitizeTags(tags []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.Join(strings.Fields(tag), " ")
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxForumTagLength {
			tag = strings.TrimSpace(string([]rune(tag)[:MaxForumTagLength]))
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
		if len(out) == MaxForumTags {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
