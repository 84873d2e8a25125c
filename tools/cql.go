package tools

import "strings"

// ContentTypeAll disables the type filter in search_content.
const ContentTypeAll = "all"

var cqlEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// quoteCQL renders s as a double-quoted CQL string literal.
func quoteCQL(s string) string {
	return `"` + cqlEscaper.Replace(s) + `"`
}

// BuildSearchCQL builds the conjunctive query used by search_content: a text
// match on query, narrowed by space and content type when given.
func BuildSearchCQL(query, spaceKey, contentType string) string {
	parts := []string{"text ~ " + quoteCQL(query)}
	if spaceKey != "" {
		parts = append(parts, "space = "+quoteCQL(spaceKey))
	}
	if contentType != "" && contentType != ContentTypeAll {
		parts = append(parts, "type = "+quoteCQL(contentType))
	}
	return strings.Join(parts, " AND ")
}
