package search

import (
	"fmt"
	"strings"
)

// BuildPrompt renders the grounding block prepended to the user query.
// With no results it returns the query unchanged.
func BuildPrompt(query string, results []Result) string {
	if len(results) == 0 {
		return query
	}

	var b strings.Builder
	b.WriteString("Use the following web results as context when helpful.\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n%s\n%s\n\n", i+1, r.Title, r.Snippet, r.Link)
	}
	b.WriteString("Question: ")
	b.WriteString(query)
	return b.String()
}
