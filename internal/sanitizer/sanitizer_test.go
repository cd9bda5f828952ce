package sanitizer

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		contains []string
		excludes []string
	}{
		{
			name:     "strips script",
			input:    `<p>hello</p><script>alert(1)</script>`,
			contains: []string{"<p>hello</p>"},
			excludes: []string{"<script>", "alert"},
		},
		{
			name:     "strips event handlers",
			input:    `<a href="https://example.com" onclick="steal()">link</a>`,
			contains: []string{"link"},
			excludes: []string{"onclick", "steal"},
		},
		{
			name:     "keeps tables and images",
			input:    `<table><tr><td><img src="https://example.com/x.png" alt="x"></td></tr></table>`,
			contains: []string{"<table>", "<img", "x.png"},
		},
		{
			name:     "keeps inline style",
			input:    `<p style="color: red">warn</p>`,
			contains: []string{"style=", "warn"},
		},
		{
			name:     "strips iframe",
			input:    `<iframe src="https://evil.test"></iframe><b>ok</b>`,
			contains: []string{"<b>ok</b>"},
			excludes: []string{"iframe", "evil.test"},
		},
		{
			name:  "empty input",
			input: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Sanitize(tc.input)
			for _, want := range tc.contains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, want it to contain %q", tc.input, got, want)
				}
			}
			for _, bad := range tc.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("Sanitize(%q) = %q, must not contain %q", tc.input, got, bad)
				}
			}
		})
	}
}
