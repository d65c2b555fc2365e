package lexical

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"unicode"
)

// Tokenize splits text into lowercase terms of letters and digits.
// Content that is a JSON value is analyzed by its decoded keys and string values,
// so escaped characters (é) match their literal form in queries.
func Tokenize(text string) []string {
	return splitTerms(analyzable(text))
}

func splitTerms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func analyzable(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return text
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return text
	}
	var buf bytes.Buffer
	collectStrings(&buf, v)
	return buf.String()
}

func collectStrings(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case string:
		buf.WriteString(t)
		buf.WriteByte(' ')
	case json.Number:
		buf.WriteString(t.String())
		buf.WriteByte(' ')
	case []any:
		for _, e := range t {
			collectStrings(buf, e)
		}
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(t)) {
			buf.WriteString(k)
			buf.WriteByte(' ')
			collectStrings(buf, t[k])
		}
	}
}
