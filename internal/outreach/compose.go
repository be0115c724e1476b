package outreach

import (
	"strings"
)

// Composer rotates round-robin through the configured templates and renders
// {name} placeholders.
type Composer struct {
	templates []string
}

func NewComposer(templates []string) *Composer {
	return &Composer{templates: templates}
}

// Compose picks template globalIdx mod len(templates) and renders it.
//
// The rotation index is global across the whole run, not per recipient.
// An empty template list yields an empty message rather than an error.
// Placeholders with no matching context key are left verbatim and reported
// in missing so callers can surface a warning (fail-open rendering).
func (c *Composer) Compose(globalIdx int, vars map[string]string) (usedIdx int, text string, missing []string) {
	if len(c.templates) == 0 {
		return 0, "", nil
	}
	usedIdx = globalIdx % len(c.templates)
	text, missing = render(c.templates[usedIdx], vars)
	return usedIdx, text, missing
}

// render substitutes {key} occurrences from vars. Unmatched braces and
// unknown keys pass through untouched.
func render(tpl string, vars map[string]string) (string, []string) {
	var (
		b       strings.Builder
		missing []string
	)
	b.Grow(len(tpl))

	for i := 0; i < len(tpl); {
		open := strings.IndexByte(tpl[i:], '{')
		if open < 0 {
			b.WriteString(tpl[i:])
			break
		}
		open += i
		b.WriteString(tpl[i:open])

		close := strings.IndexByte(tpl[open:], '}')
		if close < 0 {
			b.WriteString(tpl[open:])
			break
		}
		close += open

		key := tpl[open+1 : close]
		if v, ok := vars[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(tpl[open : close+1])
			missing = append(missing, key)
		}
		i = close + 1
	}
	return b.String(), missing
}
