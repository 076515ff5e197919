package browser

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// csrfPattern finds the page-embedded token in inline script text.
var csrfPattern = regexp.MustCompile(`SNlM0e":"([^"]+)`)

const csrfScript = `() => {
	const scripts = document.querySelectorAll('script');
	for (const script of scripts) {
		const match = script.textContent && script.textContent.match(/SNlM0e":"([^"]+)/);
		if (match) return match[1];
	}
	return null;
}`

// extractCSRF reads the token from the live page, falling back to parsing the
// serialized document. An empty result means the page carries no token.
func extractCSRF(page Page) (string, error) {
	v, evalErr := page.Evaluate(csrfScript)
	if evalErr == nil {
		if token, ok := v.(string); ok && token != "" {
			return token, nil
		}
	}

	content, err := page.Content()
	if err != nil {
		if evalErr != nil {
			return "", evalErr
		}
		return "", err
	}
	return csrfFromHTML(content), nil
}

// csrfFromHTML scans the text of every <script> element in doc.
func csrfFromHTML(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	inScript := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return ""
		case html.StartTagToken:
			name, _ := z.TagName()
			inScript = string(name) == "script"
		case html.EndTagToken:
			inScript = false
		case html.TextToken:
			if !inScript {
				continue
			}
			if m := csrfPattern.FindSubmatch(z.Text()); m != nil {
				return string(m[1])
			}
		}
	}
}
