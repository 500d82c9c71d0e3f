// Package content renders per-stage message subject and body from
// Liquid templates on disk.
package content

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/outreach-dispatcher/internal/domain"
)

// Message is a rendered email ready for a delivery transport.
type Message struct {
	Subject string
	Body    string
}

// Renderer produces the message for a contact at a sequence stage.
// A render error abandons the slot; the claim stays for the retry path.
type Renderer interface {
	Render(contact *domain.Contact, stage int) (Message, error)
}

// TemplateRenderer loads stage templates from a directory laid out as
//
//	<dir>/stage_<n>_subject.liquid
//	<dir>/stage_<n>_body.liquid
//
// Parsed templates are cached; files are read once per process.
type TemplateRenderer struct {
	engine *liquid.Engine
	dir    string
	cache  sync.Map // map[string]*liquid.Template
}

// NewTemplateRenderer creates a renderer over the given template
// directory and registers the custom filters templates rely on.
func NewTemplateRenderer(dir string) *TemplateRenderer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ organization | capitalize }}
	engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + s[1:]
	})

	return &TemplateRenderer{engine: engine, dir: dir}
}

// Render renders the subject and body for the contact at the stage.
func (r *TemplateRenderer) Render(contact *domain.Contact, stage int) (Message, error) {
	bindings := contactBindings(contact)

	subject, err := r.renderFile(fmt.Sprintf("stage_%d_subject.liquid", stage), bindings)
	if err != nil {
		return Message{}, fmt.Errorf("render stage %d subject: %w", stage, err)
	}
	body, err := r.renderFile(fmt.Sprintf("stage_%d_body.liquid", stage), bindings)
	if err != nil {
		return Message{}, fmt.Errorf("render stage %d body: %w", stage, err)
	}
	return Message{Subject: strings.TrimSpace(subject), Body: body}, nil
}

func (r *TemplateRenderer) renderFile(name string, bindings map[string]interface{}) (string, error) {
	tpl, err := r.template(name)
	if err != nil {
		return "", err
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}

func (r *TemplateRenderer) template(name string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(name); ok {
		return cached.(*liquid.Template), nil
	}
	raw, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", name, err)
	}
	tpl, err := r.engine.ParseTemplate(raw)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	r.cache.Store(name, tpl)
	return tpl, nil
}

func contactBindings(c *domain.Contact) map[string]interface{} {
	return map[string]interface{}{
		"email":        c.Email,
		"first_name":   c.FirstName,
		"last_name":    c.LastName,
		"organization": c.Organization,
		"role":         c.Role,
		"locale":       c.Locale,
	}
}
