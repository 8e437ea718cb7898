package main

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/ecmalinks/pkg/semantics"
	"github.com/jmylchreest/ecmalinks/pkg/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ============================================================================
// MCP result helpers
// ============================================================================

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: "Error: " + message},
		},
		IsError: true,
	}
}

// ============================================================================
// Document formatting
// ============================================================================

func formatDocumentsMarkdown(docs []*store.DocumentInfo) string {
	if len(docs) == 0 {
		return "No documents indexed. Use document_index to add one."
	}
	var sb strings.Builder
	sb.WriteString("# Indexed documents\n\n")
	for _, d := range docs {
		fmt.Fprintf(&sb, "- `%s`: %d functions, %d sites (indexed %s)\n",
			d.Source, d.Functions, d.Sites, d.IndexedAt.Format("2006-01-02 15:04:05"))
	}
	return sb.String()
}

func formatIndexOutcomesMarkdown(outcomes []indexOutcome) string {
	var sb strings.Builder
	for _, o := range outcomes {
		switch o.Status {
		case "indexed":
			fmt.Fprintf(&sb, "Indexed `%s`: %d functions, %d sites\n", o.Source, o.Functions, o.Sites)
		case "skipped":
			fmt.Fprintf(&sb, "Skipped `%s`: page title does not match the configured guard\n", o.Source)
		default:
			fmt.Fprintf(&sb, "Unchanged `%s`\n", o.Source)
		}
	}
	return sb.String()
}

// ============================================================================
// Function formatting
// ============================================================================

func formatFunctionsMarkdown(doc string, fns []*store.FunctionInfo) string {
	if len(fns) == 0 {
		return "No matching functions."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Semantic functions in %s\n\n", doc)
	sb.WriteString("| Function | Kind | Sites |\n|---|---|---|\n")
	for _, fn := range fns {
		fmt.Fprintf(&sb, "| %s | %s | %d |\n", fn.Name, fn.Kind, fn.Sites)
	}
	return sb.String()
}

// formatGroupsMarkdown lists one bullet per overload group, with numbered
// extra sites in parentheses like the popup.
func formatGroupsMarkdown(name string, groups []semantics.OverloadGroup) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", name)
	for _, g := range groups {
		p := g.Primary()
		fmt.Fprintf(&sb, "- [%s](%s)", p.Label, p.Href())
		if over := g.Overflow(); len(over) > 0 {
			links := make([]string, 0, len(over))
			for _, o := range over {
				links = append(links, fmt.Sprintf("[%s](%s)", o.Label, o.Href()))
			}
			fmt.Fprintf(&sb, " (%s)", strings.Join(links, ", "))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatSearchMarkdown(query string, results []*store.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No definition sites match %q.", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Search: %s\n\n", query)
	for _, r := range results {
		fmt.Fprintf(&sb, "- **%s** (%s) over `%s`, #%s in `%s`\n",
			r.Site.Function, r.Site.Kind, r.Site.Nonterminal, r.Site.SectionID, r.Site.Document)
	}
	return sb.String()
}
