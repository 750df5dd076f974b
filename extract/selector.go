package extract

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// ApplyCSSSelector narrows rawHTML to the elements matching selector, which
// may be a comma-separated group. A match nested inside another match is
// rendered once, as part of the outer one. When nothing matches the page
// is returned whole.
func ApplyCSSSelector(rawHTML, selector string) (string, error) {
	group, err := cascadia.ParseGroup(selector)
	if err != nil {
		return "", fmt.Errorf("css selector %q: %w", selector, err)
	}

	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("css selector: parse html: %w", err)
	}

	matched := cascadia.QueryAll(root, group)
	if len(matched) == 0 {
		return rawHTML, nil
	}

	isMatch := make(map[*html.Node]bool, len(matched))
	for _, n := range matched {
		isMatch[n] = true
	}

	var sb strings.Builder
	for _, n := range matched {
		if insideMatch(n, isMatch) {
			continue
		}
		if err := html.Render(&sb, n); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func insideMatch(n *html.Node, isMatch map[*html.Node]bool) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if isMatch[p] {
			return true
		}
	}
	return false
}
