// Package template renders node params against the context of a running workflow.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"time"
)

// Renderer parses and caches text/template programs. A reference to a
// missing key is an error rather than "<no value>".
type Renderer struct {
	now func() time.Time

	mu    sync.RWMutex
	cache map[string]*template.Template
}

func NewRenderer(now func() time.Time) *Renderer {
	if now == nil {
		now = time.Now
	}

	return &Renderer{now: now, cache: make(map[string]*template.Template)}
}

// IsTemplate reports whether s contains template actions.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

// RenderString executes templateStr against data. Strings without actions
// are returned unchanged.
func (r *Renderer) RenderString(templateStr string, data any) (string, error) {
	if !IsTemplate(templateStr) {
		return templateStr, nil
	}

	tmpl, err := r.parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return buf.String(), nil
}

// Render is RenderString followed by coercion: output that looks like a JSON
// object or array is decoded, then numbers and booleans are recognised.
func (r *Renderer) Render(templateStr string, data any) (any, error) {
	out, err := r.RenderString(templateStr, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(out)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return out, nil
}

func (r *Renderer) parse(templateStr string) (*template.Template, error) {
	r.mu.RLock()
	tmpl, ok := r.cache[templateStr]
	r.mu.RUnlock()

	if ok {
		return tmpl, nil
	}

	tmpl, err := template.
		New("param").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"now": func() string {
				return r.now().UTC().Format(time.RFC3339)
			},
			"default": func(fallback, v any) any {
				if v == nil || v == "" {
					return fallback
				}

				return v
			},
			"json": func(v any) (string, error) {
				data, err := json.Marshal(v)

				return string(data), err
			},
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	r.mu.Lock()
	r.cache[templateStr] = tmpl
	r.mu.Unlock()

	return tmpl, nil
}
