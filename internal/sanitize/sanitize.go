package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	// strictPolicy removes all HTML tags and attributes. Used for single-line
	// fields (titles, locations, usernames).
	strictPolicy = bluemonday.StrictPolicy()

	// ugcPolicy allows safe user-generated content with basic formatting.
	// Used for event descriptions rendered as HTML.
	ugcPolicy = bluemonday.UGCPolicy()
)

// Text strips all HTML and trims surrounding whitespace.
func Text(input string) string {
	return strings.TrimSpace(strictPolicy.Sanitize(input))
}

// Description sanitizes an event description, allowing basic formatting tags
// while removing scripts, iframes and event handlers.
func Description(input string) string {
	return strings.TrimSpace(ugcPolicy.Sanitize(input))
}
