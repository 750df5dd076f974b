// Package extract turns the HTML of a settled page into the response
// content: an optional CSS selector filter, optional selector-driven
// records, and conversion to html, markdown or text.
package extract

import (
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/quietpage/models"
)

// Options selects what to extract.
type Options struct {
	CSSSelector  string
	Records      *models.RecordSpec
	OutputFormat string // "html" (default), "markdown", "text"
	ExtractMode  string // "raw" (default), "readability"

	// Logger receives extraction warnings; nil means slog.Default().
	Logger *slog.Logger
}

// Output is the extraction result.
type Output struct {
	Content string
	Title   string // readability title, empty in raw mode
	Records []models.Record
}

// Extractor holds the reusable Markdown converter. It is safe for
// concurrent use.
type Extractor struct {
	mdConverter *converter.Converter
}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{mdConverter: newMarkdownConverter()}
}

// Extract runs the pipeline on rawHTML:
//
//  1. Records are taken from the full page, before any filtering.
//  2. The CSS selector narrows the HTML.
//  3. Readability (if requested) keeps the main content.
//  4. The result is converted to the output format.
func (e *Extractor) Extract(rawHTML, sourceURL string, opts Options) (*Output, error) {
	out := &Output{}

	if opts.Records != nil {
		records, err := Records(rawHTML, *opts.Records)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), err)
		}
		out.Records = records
	}

	content := rawHTML
	if opts.CSSSelector != "" {
		filtered, err := ApplyCSSSelector(content, opts.CSSSelector)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeInvalidInput, "invalid css_selector", err)
		}
		content = filtered
	}

	if opts.ExtractMode == "readability" {
		content, out.Title = mainContent(opts.Logger, content, sourceURL)
	}

	switch opts.OutputFormat {
	case "markdown":
		md, err := e.markdown(content, sourceURL)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrCodeExtraction, "markdown conversion failed", err)
		}
		out.Content = md
	case "text":
		out.Content = plainText(content)
	default:
		out.Content = content
	}
	return out, nil
}

// plainText extracts the visible text of an HTML fragment.
func plainText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, noscript, template").Remove()
	return strings.TrimSpace(doc.Text())
}
