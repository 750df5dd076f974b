package extract

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/use-agent/quietpage/models"
)

// Records extracts one record per element matching spec.Item. Each field is
// the trimmed text of the first element matching its selector inside the
// item, or nil when nothing matches or the text is empty.
func Records(rawHTML string, spec models.RecordSpec) ([]models.Record, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("records: parse html: %w", err)
	}

	idFields := spec.IDFields
	if len(idFields) == 0 {
		idFields = make([]string, 0, len(spec.Fields))
		for name := range spec.Fields {
			idFields = append(idFields, name)
		}
		sort.Strings(idFields)
	}

	records := []models.Record{}
	doc.Find(spec.Item).Each(func(_ int, item *goquery.Selection) {
		fields := make(map[string]*string, len(spec.Fields))
		for name, sel := range spec.Fields {
			text := strings.TrimSpace(item.Find(sel).First().Text())
			if text == "" {
				fields[name] = nil
				continue
			}
			fields[name] = &text
		}
		records = append(records, models.Record{
			ID:     recordID(fields, idFields),
			Fields: fields,
		})
	})
	return records, nil
}

func validateSpec(spec models.RecordSpec) error {
	if strings.TrimSpace(spec.Item) == "" {
		return fmt.Errorf("records: item selector is required")
	}
	if _, err := cascadia.Compile(spec.Item); err != nil {
		return fmt.Errorf("records: item selector %q: %w", spec.Item, err)
	}
	for name, sel := range spec.Fields {
		if _, err := cascadia.Compile(sel); err != nil {
			return fmt.Errorf("records: field %q selector %q: %w", name, sel, err)
		}
	}
	for _, name := range spec.IDFields {
		if _, ok := spec.Fields[name]; !ok {
			return fmt.Errorf("records: id field %q is not a declared field", name)
		}
	}
	return nil
}

// recordID is the base64 of the JSON string formed by concatenating the id
// fields, so the same item gets the same id across loads. A missing field
// contributes the text "null" and HTML characters are not escaped, matching
// what browser-side extractors produce for the same item.
func recordID(fields map[string]*string, idFields []string) string {
	var sb strings.Builder
	for _, name := range idFields {
		if v := fields[name]; v != nil {
			sb.WriteString(*v)
		} else {
			sb.WriteString("null")
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(sb.String())
	return base64.StdEncoding.EncodeToString(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}
