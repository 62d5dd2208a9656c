package dispatcher

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/osteele/liquid"
)

// {$First Name!"there"} with an optional default.
var mergeVariablePattern = regexp.MustCompile(`\{\$([^!}]+)(?:!"([^"]*)")*\}`)

var whitespaceRun = regexp.MustCompile(`\s\s+`)

// Legacy lowercase labels still found in older templates.
var legacyMergeLabels = map[string]string{
	"firstname":    "First Name",
	"emailaddress": "Email",
	"lastname":     "Last Name",
	"companyname":  "Company Name",
}

func newMergeEngine() *liquid.Engine {
	engine := liquid.NewEngine()
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
	return engine
}

// renderMerge replaces merge variables in text with the lead's values.
// Unknown variables are left as written.
func (d *Dispatcher) renderMerge(ctx context.Context, companyID, leadID int64, text string) (string, error) {
	content := html.UnescapeString(text)
	matches := mergeVariablePattern.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(content), nil
	}

	fields, err := d.store.MergeFields(ctx, companyID)
	if err != nil {
		return "", transient(err, "load merge fields")
	}
	globals, err := d.store.EmailVariables(ctx, companyID)
	if err != nil {
		return "", transient(err, "load email variables")
	}
	bySystemName := make(map[string]int, len(fields))
	byLabel := make(map[string]int, len(fields))
	for i, f := range fields {
		if f.SystemName != "" {
			bySystemName[f.SystemName] = i
		}
		if f.Label != "" {
			byLabel[whitespaceRun.ReplaceAllString(f.Label, " ")] = i
		}
	}
	for legacy, label := range legacyMergeLabels {
		if i, ok := byLabel[label]; ok {
			byLabel[legacy] = i
		}
	}

	defaults := make(map[string]string)
	for _, m := range matches {
		if m[4] >= 0 && m[5] > m[4] {
			label := content[m[2]:m[3]]
			if _, ok := defaults[label]; !ok {
				defaults[label] = content[m[4]:m[5]]
			}
		}
	}

	var tpl strings.Builder
	bindings := make(map[string]interface{})
	values := make(map[string]string)
	last := 0
	for i, m := range matches {
		tpl.WriteString(literal(content[last:m[0]]))
		last = m[1]
		label := content[m[2]:m[3]]
		if strings.HasPrefix(label, "dynamicBackground") {
			tpl.WriteString(literal(content[m[0]:m[1]]))
			continue
		}

		value, seen := values[label]
		if !seen {
			if v, ok := globals[label]; ok {
				value = v
			} else {
				idx, ok := bySystemName[label]
				if !ok {
					idx, ok = byLabel[label]
				}
				if !ok {
					tpl.WriteString(literal(content[m[0]:m[1]]))
					continue
				}
				v, err := d.store.FieldValue(ctx, companyID, fields[idx], leadID)
				if err != nil && !isNotFound(err) {
					return "", transient(err, "load merge value %s", label)
				}
				value = v
			}
			values[label] = value
		}

		name := fmt.Sprintf("v%d", i)
		bindings[name] = value
		if fallback := defaults[label]; fallback != "" {
			fmt.Fprintf(&tpl, `{{ %s | default: "%s" }}`, name, fallback)
		} else {
			fmt.Fprintf(&tpl, `{{ %s }}`, name)
		}
	}
	tpl.WriteString(literal(content[last:]))

	out, renderErr := d.merge.ParseAndRenderString(tpl.String(), bindings)
	if renderErr != nil {
		return "", malformed("render merge variables: %v", renderErr)
	}
	return strings.TrimSpace(out), nil
}

// literal keeps user text out of the template language.
func literal(s string) string {
	if !strings.Contains(s, "{{") && !strings.Contains(s, "{%") {
		return s
	}
	return "{% raw %}" + s + "{% endraw %}"
}
