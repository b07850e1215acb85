package render

import (
	"fmt"
	"strings"

	"foliate/api/internal/session"
)

// renderMarkdown composes the document as GitHub-flavored Markdown. Images
// always reference their original URL here; a data URI in Markdown would be
// unreadable in any editor the output is pasted into.
func renderMarkdown(in Input) string {
	var sb strings.Builder

	if title := stringParam(in.Globals, "title"); title != "" {
		fmt.Fprintf(&sb, "# %s\n\n", title)
	}
	if subtitle := stringParam(in.Globals, "subtitle"); subtitle != "" {
		fmt.Fprintf(&sb, "*%s*\n\n", subtitle)
	}
	meta := make([]string, 0, 2)
	if author := stringParam(in.Globals, "author"); author != "" {
		meta = append(meta, author)
	}
	if date := stringParam(in.Globals, "date"); date != "" {
		meta = append(meta, date)
	}
	if len(meta) > 0 {
		fmt.Fprintf(&sb, "%s\n\n", strings.Join(meta, " | "))
	}

	for _, frag := range in.Fragments {
		block := fragmentMarkdown(frag)
		if block == "" {
			continue
		}
		sb.WriteString(block)
		if !strings.HasSuffix(block, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func fragmentMarkdown(frag session.Fragment) string {
	params := frag.Parameters
	switch frag.FragmentID {
	case "heading":
		level, ok := intParam(params, "level")
		if !ok || level < 1 || level > 6 {
			level = 2
		}
		return strings.Repeat("#", level) + " " + stringParam(params, "text")
	case "paragraph":
		return stringParam(params, "text")
	case "list":
		return listMarkdown(params)
	case "table":
		return tableMarkdown(params)
	case "image":
		line := fmt.Sprintf("![%s](%s)", stringParam(params, "alt"), imageSource(frag, FormatMarkdown))
		if caption := stringParam(params, "caption"); caption != "" {
			line += "\n*" + caption + "*"
		}
		return line
	default:
		return ""
	}
}

func listMarkdown(params map[string]any) string {
	items, ok := params["items"].([]any)
	if !ok {
		return ""
	}
	ordered, _ := params["ordered"].(bool)
	var sb strings.Builder
	for i, item := range items {
		text, ok := item.(string)
		if !ok {
			continue
		}
		if ordered {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, text)
		} else {
			fmt.Fprintf(&sb, "- %s\n", text)
		}
	}
	return sb.String()
}

func tableMarkdown(params map[string]any) string {
	columns, ok := params["columns"].([]any)
	if !ok || len(columns) == 0 {
		return ""
	}
	var sb strings.Builder

	header := make([]string, 0, len(columns))
	for _, col := range columns {
		header = append(header, escapePipes(cellText(col)))
	}
	fmt.Fprintf(&sb, "| %s |\n", strings.Join(header, " | "))
	separators := make([]string, len(columns))
	for i := range separators {
		separators[i] = "---"
	}
	fmt.Fprintf(&sb, "| %s |\n", strings.Join(separators, " | "))

	if rows, ok := params["rows"].([]any); ok {
		for _, row := range rows {
			cells, ok := row.([]any)
			if !ok {
				continue
			}
			rendered := make([]string, 0, len(cells))
			for _, cell := range cells {
				rendered = append(rendered, escapePipes(cellText(cell)))
			}
			fmt.Fprintf(&sb, "| %s |\n", strings.Join(rendered, " | "))
		}
	}

	if caption := stringParam(params, "caption"); caption != "" {
		fmt.Fprintf(&sb, "\n*%s*\n", caption)
	}
	return sb.String()
}

func escapePipes(text string) string {
	return strings.ReplaceAll(text, "|", "\\|")
}
