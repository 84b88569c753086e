// Package render produces personalized outreach content from message
// templates and restaurant data.
package render

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/tablelift/cadence/internal/models"
)

// Renderer renders template text against a restaurant record. Failures
// must never block task creation; callers fall back to the raw text.
type Renderer interface {
	Render(templateText string, restaurant *models.Restaurant) (string, error)
}

// TemplateRenderer renders with text/template. Unknown variables
// resolve to the empty string rather than failing.
type TemplateRenderer struct{}

// New creates a TemplateRenderer.
func New() *TemplateRenderer {
	return &TemplateRenderer{}
}

// Render executes templateText with the restaurant's fields. Available
// variables: Name, ContactName, Email, Phone, Cuisine, City, Notes,
// and Painpoint (first painpoint value) / Painpoints (all values).
func (r *TemplateRenderer) Render(templateText string, restaurant *models.Restaurant) (string, error) {
	if templateText == "" {
		return "", nil
	}
	if restaurant == nil {
		return "", fmt.Errorf("restaurant is required")
	}

	parsed, err := template.New("message").
		Funcs(template.FuncMap{"default": defaultValue}).
		Option("missingkey=zero").
		Parse(templateText)
	if err != nil {
		return "", fmt.Errorf("parse message template: %w", err)
	}

	var out strings.Builder
	if err := parsed.Execute(&out, buildData(restaurant)); err != nil {
		return "", fmt.Errorf("render message template: %w", err)
	}
	return out.String(), nil
}

func buildData(restaurant *models.Restaurant) map[string]any {
	painpoints := make([]string, 0, len(restaurant.Painpoints))
	for _, p := range restaurant.Painpoints {
		painpoints = append(painpoints, p.Value)
	}
	first := ""
	if len(painpoints) > 0 {
		first = painpoints[0]
	}

	return map[string]any{
		"Name":        restaurant.Name,
		"ContactName": restaurant.ContactName,
		"Email":       restaurant.Email,
		"Phone":       restaurant.Phone,
		"Cuisine":     restaurant.Cuisine,
		"City":        restaurant.City,
		"Notes":       restaurant.Notes,
		"Painpoint":   first,
		"Painpoints":  painpoints,
	}
}

func defaultValue(def string, value any) string {
	if value == nil {
		return def
	}

	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	default:
		text := strings.TrimSpace(fmt.Sprint(v))
		if text == "" {
			return def
		}
		return text
	}
}
