// Package sanitizer strips active content from stored HTML bodies before
// they are handed to browser clients.
package sanitizer

import "github.com/microcosm-cc/bluemonday"

var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowImages()
	p.AllowLists()
	p.AllowTables()
	p.AllowAttrs("style").Globally()
	return p
}

// Sanitize returns the HTML with scripts, event handlers and other active
// content removed. Empty input stays empty.
func Sanitize(html string) string {
	if html == "" {
		return ""
	}
	return policy.Sanitize(html)
}
