package code

import (
	"fmt"
	"strings"
)

// explain produces a short plain-text synopsis of a source file. It is a
// static description — nothing gets executed.
func explain(source, language string) string {
	lines := strings.Split(source, "\n")
	total := len(lines)
	if total > 0 && lines[total-1] == "" {
		total--
	}

	var functions, imports, comments int
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch language {
		case "python":
			if strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "async def ") {
				functions++
			}
			if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from ") {
				imports++
			}
			if strings.HasPrefix(trimmed, "#") {
				comments++
			}
		case "bash":
			if strings.Contains(trimmed, "()") && strings.HasSuffix(trimmed, "{") {
				functions++
			}
			if strings.HasPrefix(trimmed, "source ") || strings.HasPrefix(trimmed, ". ") {
				imports++
			}
			if strings.HasPrefix(trimmed, "#") {
				comments++
			}
		case "node":
			if strings.HasPrefix(trimmed, "function ") || strings.Contains(trimmed, "=>") {
				functions++
			}
			if strings.HasPrefix(trimmed, "import ") || strings.Contains(trimmed, "require(") {
				imports++
			}
			if strings.HasPrefix(trimmed, "//") {
				comments++
			}
		}
	}

	title := language
	if title != "" {
		title = strings.ToUpper(title[:1]) + title[1:]
	}
	parts := []string{fmt.Sprintf("%s source with %d line(s)", title, total)}
	if functions > 0 {
		parts = append(parts, fmt.Sprintf("%d function definition(s)", functions))
	}
	if imports > 0 {
		parts = append(parts, fmt.Sprintf("%d import(s)", imports))
	}
	if comments > 0 {
		parts = append(parts, fmt.Sprintf("%d comment line(s)", comments))
	}
	summary := strings.Join(parts, ", ") + "."
	if functions == 0 {
		summary += " Statements run at the top level when executed."
	}
	return summary
}
