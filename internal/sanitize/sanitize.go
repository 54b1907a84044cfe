package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer strips or restricts markup in user-supplied text before it is stored.
type Sanitizer struct {
	strict  *bluemonday.Policy
	message *bluemonday.Policy
}

// New builds the two policies used by the ticket workflow.
func New() *Sanitizer {
	message := bluemonday.NewPolicy()
	message.AllowElements("b", "i", "em", "strong", "br", "p")
	message.AllowAttrs("href").OnElements("a")
	message.AllowAttrs("target").Matching(bluemonday.Paragraph).OnElements("a")
	message.AllowStandardURLs()
	message.RequireNoFollowOnLinks(false)

	return &Sanitizer{
		strict:  bluemonday.StrictPolicy(),
		message: message,
	}
}

// Plain removes all markup. The result stays entity-escaped; decoding it would let encoded
// tags such as &lt;script&gt; come back as live markup.
func (s *Sanitizer) Plain(input string) string {
	return strings.TrimSpace(s.strict.Sanitize(input))
}

// Message keeps the limited formatting subset allowed in ticket responses.
func (s *Sanitizer) Message(input string) string {
	return strings.TrimSpace(s.message.Sanitize(input))
}
