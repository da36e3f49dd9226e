// Package classifier maps page URLs to known platforms and extracts
// platform-specific metadata from URLs and window titles.
package classifier

import (
	"net/url"
	"regexp"
	"strings"
)

// Platform is the result of a successful classification.
type Platform struct {
	Name                string  `json:"name"`
	Category            string  `json:"category"`
	DefaultProductivity float64 `json:"defaultProductivity"`
	CanBeProductive     bool    `json:"canBeProductive"`
}

// Rule matches the normalized "domain/path" form of a URL.
type Rule struct {
	Name            string  `yaml:"name"`
	Pattern         string  `yaml:"pattern"`
	Category        string  `yaml:"category"`
	Productivity    float64 `yaml:"productivity"`
	CanBeProductive bool    `yaml:"can_be_productive"`

	re *regexp.Regexp
}

func rule(name, pattern, category string, productivity float64, canBeProductive bool) Rule {
	return Rule{
		Name:            name,
		Pattern:         pattern,
		Category:        category,
		Productivity:    productivity,
		CanBeProductive: canBeProductive,
		re:              regexp.MustCompile(pattern),
	}
}

// DefaultRules is the built-in table. Order matters: the first matching rule
// wins, so narrower rules come before the broad ones they overlap with.
var DefaultRules = []Rule{
	rule("linkedin-learning", `^linkedin\.com/learning(/|$)`, "education", 0.85, true),
	rule("youtube", `^((m|music)\.)?youtube\.com/|^youtu\.be/`, "entertainment", 0.35, true),
	rule("github", `^(gist\.)?github\.com/`, "development", 0.9, true),
	rule("gitlab", `^gitlab\.com/`, "development", 0.9, true),
	rule("stackoverflow", `^stackoverflow\.com/|^[a-z0-9-]+\.stackexchange\.com/`, "development", 0.85, true),
	rule("udemy", `^udemy\.com/`, "education", 0.8, true),
	rule("coursera", `^coursera\.org/`, "education", 0.85, true),
	rule("khan-academy", `^khanacademy\.org/`, "education", 0.85, true),
	rule("pluralsight", `^(app\.)?pluralsight\.com/`, "education", 0.85, true),
	rule("skillshare", `^skillshare\.com/`, "education", 0.75, true),
	rule("edx", `^edx\.org/`, "education", 0.85, true),
	rule("google-docs", `^docs\.google\.com/`, "productivity", 0.8, true),
	rule("google-drive", `^drive\.google\.com/`, "productivity", 0.8, true),
	rule("notion", `^notion\.(so|site)/`, "productivity", 0.8, true),
	rule("figma", `^figma\.com/`, "design", 0.8, true),
	rule("gmail", `^mail\.google\.com/`, "email", 0.6, true),
	rule("outlook", `^outlook\.(live|office|office365)\.com/`, "email", 0.6, true),
	rule("slack", `^([a-z0-9-]+\.)?slack\.com/`, "communication", 0.5, true),
	rule("discord", `^discord\.com/`, "communication", 0.4, true),
	rule("google-meet", `^meet\.google\.com/`, "meeting", 0.5, true),
	rule("zoom", `^([a-z0-9-]+\.)?zoom\.us/`, "meeting", 0.5, true),
	rule("teams", `^teams\.microsoft\.com/`, "meeting", 0.5, true),
	rule("wikipedia", `^[a-z-]+\.wikipedia\.org/`, "research", 0.7, true),
	rule("netflix", `^netflix\.com/`, "entertainment", 0.1, false),
	rule("prime-video", `^primevideo\.com/|^amazon\.[a-z.]+/gp/video/`, "entertainment", 0.1, false),
	rule("disney-plus", `^disneyplus\.com/`, "entertainment", 0.1, false),
	rule("hulu", `^hulu\.com/`, "entertainment", 0.1, false),
	rule("twitch", `^twitch\.tv/`, "entertainment", 0.15, false),
	rule("vimeo", `^vimeo\.com/`, "entertainment", 0.3, true),
	rule("spotify", `^open\.spotify\.com/`, "music", 0.5, false),
	rule("tiktok", `^tiktok\.com/`, "entertainment", 0.1, false),
	rule("reddit", `^(old\.)?reddit\.com/`, "social_media", 0.2, false),
	rule("twitter", `^(twitter|x)\.com/`, "social_media", 0.2, false),
	rule("facebook", `^facebook\.com/`, "social_media", 0.2, false),
	rule("instagram", `^instagram\.com/`, "social_media", 0.2, false),
	rule("linkedin", `^linkedin\.com/`, "social_media", 0.4, true),
}

// Classifier holds an ordered rule table.
type Classifier struct {
	rules []Rule
}

// New returns a Classifier that consults custom rules first and then the
// built-in table. Custom rules must already be compiled (see LoadRules).
func New(custom ...Rule) *Classifier {
	rules := make([]Rule, 0, len(custom)+len(DefaultRules))
	for _, r := range custom {
		if r.re != nil {
			rules = append(rules, r)
		}
	}
	rules = append(rules, DefaultRules...)
	return &Classifier{rules: rules}
}

// Classify returns the first platform whose rule matches raw, or nil when
// nothing matches or raw is not a usable http(s) URL.
func (c *Classifier) Classify(raw string) *Platform {
	key, ok := matchKey(raw)
	if !ok {
		return nil
	}
	for _, r := range c.rules {
		if r.re.MatchString(key) {
			return &Platform{
				Name:                r.Name,
				Category:            r.Category,
				DefaultProductivity: r.Productivity,
				CanBeProductive:     r.CanBeProductive,
			}
		}
	}
	return nil
}

// Rules returns a copy of the effective rule table.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Trackable reports whether raw is a web page whose dwell time is recorded.
// Browser-internal schemes (chrome://, about:, extension pages) are not.
func Trackable(raw string) bool {
	u, ok := parseWeb(raw)
	return ok && u.Hostname() != ""
}

// Domain returns the lowercased host of raw without a leading "www.", or ""
// if raw cannot be parsed.
func Domain(raw string) string {
	u, ok := parseWeb(raw)
	if !ok {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func parseWeb(raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u, true
	}
	return nil, false
}

func matchKey(raw string) (string, bool) {
	u, ok := parseWeb(raw)
	if !ok {
		return "", false
	}
	domain := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if domain == "" {
		return "", false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return domain + path, true
}
