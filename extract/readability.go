package extract

import (
	"log/slog"
	nurl "net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// Readability output with less text than this missed the article.
const minArticleText = 50

// mainContent keeps the readable article of a settled page, returning its
// HTML and title. Pages readability cannot handle come back whole with no
// title.
func mainContent(logger *slog.Logger, rawHTML, pageURL string) (string, string) {
	if logger == nil {
		logger = slog.Default()
	}

	base, err := nurl.Parse(pageURL)
	if err != nil {
		logger.Debug("readability skipped, bad page url", "error", err)
		return rawHTML, ""
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), base)
	switch {
	case err != nil:
		logger.Warn("readability failed, keeping whole page", "error", err)
		return rawHTML, ""
	case len(strings.TrimSpace(article.TextContent)) < minArticleText:
		logger.Debug("readability found no article, keeping whole page",
			"text_len", len(article.TextContent),
		)
		return rawHTML, ""
	}
	return article.Content, article.Title
}
