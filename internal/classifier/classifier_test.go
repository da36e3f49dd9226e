package classifier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	c := New()
	tests := []struct {
		url      string
		name     string
		category string
	}{
		{"https://youtube.com/watch?v=abc", "youtube", "entertainment"},
		{"https://www.youtube.com/watch?v=abc", "youtube", "entertainment"},
		{"https://youtu.be/abc", "youtube", "entertainment"},
		{"https://github.com/golang/go/issues/1", "github", "development"},
		{"https://www.udemy.com/course/go/learn/lecture/12", "udemy", "education"},
		{"https://www.linkedin.com/learning/go-essentials", "linkedin-learning", "education"},
		{"https://www.linkedin.com/feed/", "linkedin", "social_media"},
		{"https://en.wikipedia.org/wiki/Go", "wikipedia", "research"},
		{"https://acme.slack.com/archives/C1", "slack", "communication"},
		{"https://x.com/golang", "twitter", "social_media"},
		{"https://WWW.NETFLIX.COM/watch/80100172", "netflix", "entertainment"},
	}
	for _, tt := range tests {
		p := c.Classify(tt.url)
		if p == nil {
			t.Errorf("Classify(%q) = nil, want %s", tt.url, tt.name)
			continue
		}
		if p.Name != tt.name || p.Category != tt.category {
			t.Errorf("Classify(%q) = %s/%s, want %s/%s", tt.url, p.Name, p.Category, tt.name, tt.category)
		}
	}
}

func TestClassifyYouTubeCanBeProductive(t *testing.T) {
	p := New().Classify("https://youtube.com/watch?v=abc")
	require.NotNil(t, p)
	require.Equal(t, Platform{
		Name:                "youtube",
		Category:            "entertainment",
		DefaultProductivity: 0.35,
		CanBeProductive:     true,
	}, *p)
}

func TestClassifyNoMatchOrMalformed(t *testing.T) {
	c := New()
	for _, in := range []string{
		"https://example.com/",
		"",
		"not a url",
		"://missing-scheme",
		"http://[::1",
		"chrome://extensions",
		"about:blank",
		"file:///etc/hosts",
		"https://",
		"https://notyoutube.com/watch?v=abc",
	} {
		if p := c.Classify(in); p != nil {
			t.Errorf("Classify(%q) = %+v, want nil", in, p)
		}
	}
}

func TestCustomRulesWinOverDefaults(t *testing.T) {
	custom, err := ParseRules([]byte(`
rules:
  - name: go-talks
    pattern: '^youtube\.com/watch'
    category: education
    productivity: 0.8
    can_be_productive: true
`))
	require.NoError(t, err)

	c := New(custom...)
	p := c.Classify("https://www.youtube.com/watch?v=abc")
	require.NotNil(t, p)
	require.Equal(t, "go-talks", p.Name)
	require.Equal(t, "education", p.Category)

	p = c.Classify("https://www.youtube.com/feed/subscriptions")
	require.NotNil(t, p)
	require.Equal(t, "youtube", p.Name)
}

func TestParseRulesErrors(t *testing.T) {
	tests := []string{
		"rules: [{name: x}]",
		"rules: [{name: x, pattern: '(', category: y}]",
		"rules: [{name: x, pattern: 'a', category: y, productivity: 2}]",
		"rules: {",
	}
	for _, in := range tests {
		if _, err := ParseRules([]byte(in)); err == nil {
			t.Errorf("ParseRules(%q) = nil error, want error", in)
		}
	}
}

func TestTrackable(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://github.com", true},
		{"http://localhost:3000/x", true},
		{"chrome://newtab", false},
		{"chrome-extension://abc/popup.html", false},
		{"edge://settings", false},
		{"about:blank", false},
		{"", false},
		{"https://", false},
	}
	for _, tt := range tests {
		if got := Trackable(tt.url); got != tt.want {
			t.Errorf("Trackable(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=abc", "youtube.com"},
		{"https://Docs.Google.com/document/d/1", "docs.google.com"},
		{"http://localhost:8080/", "localhost"},
		{"chrome://newtab", ""},
	}
	for _, tt := range tests {
		if got := Domain(tt.url); got != tt.want {
			t.Errorf("Domain(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
