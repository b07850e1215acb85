package render

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"maps"
	"strings"

	"foliate/api/internal/session"
)

//go:embed templates/document.html
var templateFS embed.FS

var documentShell *template.Template

func init() {
	raw, err := templateFS.ReadFile("templates/document.html")
	if err != nil {
		panic(err)
	}
	documentShell = template.Must(template.New("document").Parse(string(raw)))
}

// renderHTML assembles the template context and executes the document shell.
// Flattened globals go in first; the computed fragments and css keys are
// written after them, so a global parameter that happens to share a name
// never shadows the computed value.
func renderHTML(in Input) (string, error) {
	shell := documentShell
	if in.Template.ShellHTML != "" {
		parsed, err := template.New(in.Template.ID).Parse(in.Template.ShellHTML)
		if err != nil {
			return "", fmt.Errorf("template shell: %w", err)
		}
		shell = parsed
	}

	fragments := make([]template.HTML, 0, len(in.Fragments))
	for _, frag := range in.Fragments {
		fragments = append(fragments, template.HTML(fragmentHTML(frag)))
	}

	context := make(map[string]any, len(in.Globals)+2)
	maps.Copy(context, in.Globals)
	context["fragments"] = fragments
	context["css"] = template.CSS(in.CSS)

	var buf bytes.Buffer
	if err := shell.Execute(&buf, context); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fragmentHTML renders one fragment to its HTML representation.
func fragmentHTML(frag session.Fragment) string {
	params := frag.Parameters
	switch frag.FragmentID {
	case "heading":
		level, ok := intParam(params, "level")
		if !ok || level < 1 || level > 6 {
			level = 2
		}
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, html.EscapeString(stringParam(params, "text")), level)
	case "paragraph":
		return fmt.Sprintf("<p>%s</p>\n", html.EscapeString(stringParam(params, "text")))
	case "list":
		return listHTML(params)
	case "table":
		return tableHTML(params)
	case "image":
		return imageHTML(frag)
	default:
		// Unknown kinds render as an inert comment rather than breaking the
		// whole document; the catalog should have rejected them at add time.
		return fmt.Sprintf("<!-- unrenderable fragment kind %s -->\n", html.EscapeString(frag.FragmentID))
	}
}

func listHTML(params map[string]any) string {
	tag := "ul"
	if ordered, _ := params["ordered"].(bool); ordered {
		tag = "ol"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "<%s>\n", tag)
	if items, ok := params["items"].([]any); ok {
		for _, item := range items {
			if text, ok := item.(string); ok {
				fmt.Fprintf(&sb, "<li>%s</li>\n", html.EscapeString(text))
			}
		}
	}
	fmt.Fprintf(&sb, "</%s>\n", tag)
	return sb.String()
}

func tableHTML(params map[string]any) string {
	var sb strings.Builder
	sb.WriteString("<table>\n")
	if caption := stringParam(params, "caption"); caption != "" {
		fmt.Fprintf(&sb, "<caption>%s</caption>\n", html.EscapeString(caption))
	}
	if columns, ok := params["columns"].([]any); ok {
		sb.WriteString("<thead><tr>")
		for _, col := range columns {
			fmt.Fprintf(&sb, "<th>%s</th>", html.EscapeString(cellText(col)))
		}
		sb.WriteString("</tr></thead>\n")
	}
	if rows, ok := params["rows"].([]any); ok {
		sb.WriteString("<tbody>\n")
		for _, row := range rows {
			cells, ok := row.([]any)
			if !ok {
				continue
			}
			sb.WriteString("<tr>")
			for _, cell := range cells {
				fmt.Fprintf(&sb, "<td>%s</td>", html.EscapeString(cellText(cell)))
			}
			sb.WriteString("</tr>\n")
		}
		sb.WriteString("</tbody>\n")
	}
	sb.WriteString("</table>\n")
	return sb.String()
}

func imageHTML(frag session.Fragment) string {
	params := frag.Parameters
	var attrs strings.Builder
	fmt.Fprintf(&attrs, ` src="%s"`, html.EscapeString(imageSource(frag, FormatHTML)))
	fmt.Fprintf(&attrs, ` alt="%s"`, html.EscapeString(stringParam(params, "alt")))
	if width, ok := intParam(params, "width"); ok {
		fmt.Fprintf(&attrs, ` width="%d"`, width)
	}
	if height, ok := intParam(params, "height"); ok {
		fmt.Fprintf(&attrs, ` height="%d"`, height)
	}

	var sb strings.Builder
	sb.WriteString("<figure>\n")
	fmt.Fprintf(&sb, "<img%s>\n", attrs.String())
	if caption := stringParam(params, "caption"); caption != "" {
		fmt.Fprintf(&sb, "<figcaption>%s</figcaption>\n", html.EscapeString(caption))
	}
	sb.WriteString("</figure>\n")
	return sb.String()
}

// cellText renders a table cell value of any scalar JSON type.
func cellText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		// Trim the decimal point for whole numbers so 3.0 prints as 3.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
