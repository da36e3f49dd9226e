package classifier

import (
	"regexp"
	"strconv"
	"strings"
)

// TitleRule pulls structured fields out of a platform's window title.
type TitleRule struct {
	Platform string
	Pattern  *regexp.Regexp
	Extract  func(m []string) map[string]any
}

// URLRule pulls structured fields out of a platform's URL.
type URLRule struct {
	Platform string
	Pattern  *regexp.Regexp
	Extract  func(m []string) map[string]any
}

func field(key string) func(m []string) map[string]any {
	return func(m []string) map[string]any {
		return map[string]any{key: strings.TrimSpace(m[1])}
	}
}

// TitleRules are tried in order; every rule for the matched platform that
// matches contributes its fields.
var TitleRules = []TitleRule{
	{"youtube", regexp.MustCompile(`^(?:\(\d+\)\s*)?(.+?) - YouTube$`), field("video_title")},
	{"udemy", regexp.MustCompile(`^(.+?) \| Udemy$`), field("course_title")},
	{"coursera", regexp.MustCompile(`^(.+?) \| Coursera$`), field("course_title")},
	{"netflix", regexp.MustCompile(`^(.+?) - Netflix$`), field("show_title")},
	{"twitch", regexp.MustCompile(`^(.+?) - Twitch$`), func(m []string) map[string]any {
		parts := strings.SplitN(m[1], " - ", 2)
		out := map[string]any{"channel": strings.TrimSpace(parts[0])}
		if len(parts) == 2 {
			out["stream_title"] = strings.TrimSpace(parts[1])
		}
		return out
	}},
	{"vimeo", regexp.MustCompile(`^(.+?) on Vimeo$`), field("video_title")},
	{"khan-academy", regexp.MustCompile(`^(.+?) \| Khan Academy$`), field("lesson_title")},
	{"pluralsight", regexp.MustCompile(`^(.+?) \| Pluralsight$`), field("course_title")},
	{"skillshare", regexp.MustCompile(`^(.+?) \| Skillshare$`), field("course_title")},
	{"linkedin-learning", regexp.MustCompile(`^(.+?) \| LinkedIn Learning`), field("course_title")},
	{"prime-video", regexp.MustCompile(`^Prime Video: (.+)$`), field("show_title")},
	{"disney-plus", regexp.MustCompile(`^(?:Watch )?(.+?) \| Disney\+$`), field("show_title")},
	{"hulu", regexp.MustCompile(`^Watch (.+?) Online \| Hulu$`), field("show_title")},
}

// URLRules are applied like TitleRules, against the full URL.
var URLRules = []URLRule{
	{"youtube", regexp.MustCompile(`[?&]v=([A-Za-z0-9_-]+)`), field("video_id")},
	{"youtube", regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]+)`), field("video_id")},
	{"github", regexp.MustCompile(`github\.com/([^/?#]+)/([^/?#]+)`), func(m []string) map[string]any {
		return map[string]any{"github_owner": m[1], "github_repo": m[2]}
	}},
	{"github", regexp.MustCompile(`/issues/(\d+)`), number("issue")},
	{"github", regexp.MustCompile(`/pull/(\d+)`), number("pr")},
	{"udemy", regexp.MustCompile(`udemy\.com/course/([^/?#]+)`), field("course_slug")},
	{"udemy", regexp.MustCompile(`/learn/lecture/(\d+)`), field("lecture_id")},
	{"netflix", regexp.MustCompile(`/watch/(\d+)`), field("title_id")},
	{"twitch", regexp.MustCompile(`twitch\.tv/([^/?#]+)`), field("channel")},
	{"vimeo", regexp.MustCompile(`vimeo\.com/(\d+)`), field("video_id")},
}

func number(kind string) func(m []string) map[string]any {
	return func(m []string) map[string]any {
		out := map[string]any{"github_type": kind}
		if n, err := strconv.Atoi(m[1]); err == nil {
			out["github_number"] = n
		}
		return out
	}
}

// Metadata collects the fields the URL and title rules for platform yield.
// It returns nil when platform is empty or nothing matched.
func Metadata(platform, rawURL, title string) map[string]any {
	if platform == "" {
		return nil
	}
	var out map[string]any
	merge := func(fields map[string]any) {
		if out == nil {
			out = make(map[string]any, len(fields))
		}
		for k, v := range fields {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
	for _, r := range URLRules {
		if r.Platform != platform {
			continue
		}
		if m := r.Pattern.FindStringSubmatch(rawURL); m != nil {
			merge(r.Extract(m))
		}
	}
	title = strings.TrimSpace(title)
	for _, r := range TitleRules {
		if r.Platform != platform {
			continue
		}
		if m := r.Pattern.FindStringSubmatch(title); m != nil {
			merge(r.Extract(m))
		}
	}
	return out
}
