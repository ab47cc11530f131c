package runner

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"text/template"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// TemplateEngine renders request paths, query values, headers and bodies.
// Files read by randomLine are loaded once per engine.
type TemplateEngine struct {
	funcs template.FuncMap

	lines  sync.Map // filename -> []string
	loader singleflight.Group
}

// TemplateData is what {{...}} actions see for one iteration.
type TemplateData struct {
	VU       int
	Iter     uint64
	Scenario string
	UUID     string
	Vars     map[string]string
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{}
	e.funcs = template.FuncMap{
		"randomInt":    e.randomInt,
		"randomChoice": e.randomChoice,
		"randomLine":   e.randomLine,
		"randomUUID":   uuid.NewString,
		"uuid":         uuid.NewString,
	}
	return e
}

var shorthands = strings.NewReplacer(
	"{{vu}}", "{{.VU}}",
	"{{iter}}", "{{.Iter}}",
	"{{scenario}}", "{{.Scenario}}",
	"{{uuid}}", "{{.UUID}}",
	"{{requestID}}", "{{.UUID}}",
)

// Preprocess rewrites the {{vu}}-style shorthands into field actions.
func (e *TemplateEngine) Preprocess(input string) string {
	return shorthands.Replace(input)
}

// Parse fails on unknown functions; unknown Vars keys fail at execution.
func (e *TemplateEngine) Parse(name, src string) (*template.Template, error) {
	return template.New(name).
		Funcs(e.funcs).
		Option("missingkey=error").
		Parse(e.Preprocess(src))
}

func (e *TemplateEngine) Execute(t *template.Template, data TemplateData) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// text is a template that skips execution when it has no actions.
type text struct {
	literal string
	tmpl    *template.Template
}

func (e *TemplateEngine) compile(name, src string) (text, error) {
	if !strings.Contains(src, "{{") {
		return text{literal: src}, nil
	}
	t, err := e.Parse(name, src)
	if err != nil {
		return text{}, fmt.Errorf("template %s: %w", name, err)
	}
	return text{tmpl: t}, nil
}

func (t text) dynamic() bool { return t.tmpl != nil }

func (t text) render(e *TemplateEngine, data TemplateData) (string, error) {
	if t.tmpl == nil {
		return t.literal, nil
	}
	return e.Execute(t.tmpl, data)
}

func (e *TemplateEngine) randomInt(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.Intn(hi-lo)
}

func (e *TemplateEngine) randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.Intn(len(choices))]
}

// randomLine picks a non-blank line of filename.
func (e *TemplateEngine) randomLine(filename string) (string, error) {
	lines, err := e.fileLines(filename)
	if err != nil || len(lines) == 0 {
		return "", err
	}
	return lines[rand.Intn(len(lines))], nil
}

func (e *TemplateEngine) fileLines(filename string) ([]string, error) {
	if v, ok := e.lines.Load(filename); ok {
		return v.([]string), nil
	}
	v, err, _ := e.loader.Do(filename, func() (any, error) {
		raw, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("randomLine %q: %w", filename, err)
		}
		var lines []string
		for _, l := range strings.Split(string(raw), "\n") {
			if l = strings.TrimSpace(l); l != "" {
				lines = append(lines, l)
			}
		}
		e.lines.Store(filename, lines)
		return lines, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}
