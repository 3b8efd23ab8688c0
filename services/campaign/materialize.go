package campaign

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PersonalizationContext is the per-client data an enrollment is created
// with. Threshold sources and label placeholders resolve against it.
type PersonalizationContext struct {
	AuditData       map[string]any    `json:"audit_data,omitempty"`
	ValueEvidence   map[string]any    `json:"value_evidence,omitempty"`
	ChatInsights    map[string]any    `json:"chat_insights,omitempty"`
	CustomOverrides map[string]string `json:"custom_overrides,omitempty"`
}

func (p PersonalizationContext) root(name string) (map[string]any, bool) {
	switch name {
	case "audit":
		return p.AuditData, true
	case "evidence":
		return p.ValueEvidence, true
	case "chat":
		return p.ChatInsights, true
	case "custom":
		out := make(map[string]any, len(p.CustomOverrides))
		for k, v := range p.CustomOverrides {
			out[k] = v
		}
		return out, true
	}
	return nil, false
}

// ExtractThreshold walks a dot path such as "audit.monthly_leads" through the
// context and returns the value as a string, or def when anything along the
// path is missing.
func ExtractThreshold(pc PersonalizationContext, path string, def *string) *string {
	parts := strings.Split(strings.TrimSpace(path), ".")
	if len(parts) < 2 {
		return def
	}
	cur, ok := pc.root(parts[0])
	if !ok || cur == nil {
		return def
	}

	for i, key := range parts[1:] {
		v, ok := cur[key]
		if !ok || v == nil {
			return def
		}
		if i == len(parts)-2 {
			s := stringify(v)
			return &s
		}
		next, ok := v.(map[string]any)
		if !ok {
			return def
		}
		cur = next
	}
	return def
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// ResolveTemplate substitutes {{name}} placeholders. Unknown names are left in
// place.
func ResolveTemplate(tmpl string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

type materialized struct {
	Label       string
	Description *string
	TargetValue *string
}

// materialize resolves one criterion template against a client's context.
// The threshold is exposed to the templates under the last segment of its
// source path and as "target"; custom overrides win over both.
func materialize(c CriteriaTemplate, pc PersonalizationContext) materialized {
	var target *string
	if c.ThresholdSource != nil && *c.ThresholdSource != "" {
		target = ExtractThreshold(pc, *c.ThresholdSource, c.ThresholdDefault)
	} else {
		target = c.ThresholdDefault
	}

	vars := map[string]string{}
	if target != nil {
		vars["target"] = *target
		if c.ThresholdSource != nil {
			parts := strings.Split(*c.ThresholdSource, ".")
			vars[parts[len(parts)-1]] = *target
		}
	}
	for k, v := range pc.CustomOverrides {
		vars[k] = v
	}

	out := materialized{
		Label:       ResolveTemplate(c.LabelTemplate, vars),
		TargetValue: target,
	}
	if c.DescriptionTemplate != nil {
		d := ResolveTemplate(*c.DescriptionTemplate, vars)
		out.Description = &d
	}
	return out
}
