package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"prodbench/internal/config"
)

type param struct {
	key   string
	value text
}

// requestTemplate is a RequestSpec with every field parsed once up front.
type requestTemplate struct {
	method  string
	base    string
	path    text
	query   []param
	headers []param
	body    text
	dynamic bool
}

func compileRequest(e *TemplateEngine, base string, spec config.RequestSpec) (*requestTemplate, error) {
	rt := &requestTemplate{
		method: strings.ToUpper(spec.Method),
		base:   strings.TrimRight(base, "/"),
	}
	if rt.method == "" {
		rt.method = http.MethodGet
	}

	var err error
	if rt.path, err = e.compile("path", spec.Path); err != nil {
		return nil, err
	}
	if rt.body, err = e.compile("body", spec.Body); err != nil {
		return nil, err
	}
	if rt.query, err = compileParams(e, "query", spec.Query); err != nil {
		return nil, err
	}
	if rt.headers, err = compileParams(e, "header", spec.Headers); err != nil {
		return nil, err
	}

	rt.dynamic = rt.path.dynamic() || rt.body.dynamic()
	for _, p := range append(append([]param{}, rt.query...), rt.headers...) {
		rt.dynamic = rt.dynamic || p.value.dynamic()
	}
	return rt, nil
}

func compileParams(e *TemplateEngine, kind string, in map[string]string) ([]param, error) {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]param, 0, len(keys))
	for _, k := range keys {
		t, err := e.compile(kind+" "+k, in[k])
		if err != nil {
			return nil, err
		}
		out = append(out, param{key: k, value: t})
	}
	return out, nil
}

// URL renders base + path + encoded query.
func (rt *requestTemplate) URL(e *TemplateEngine, data TemplateData) (string, error) {
	path, err := rt.path.render(e, data)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := rt.base + path
	if len(rt.query) == 0 {
		return u, nil
	}

	vals := url.Values{}
	for _, p := range rt.query {
		v, err := p.value.render(e, data)
		if err != nil {
			return "", err
		}
		vals.Set(p.key, v)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return u + sep + vals.Encode(), nil
}

func (rt *requestTemplate) Build(ctx context.Context, e *TemplateEngine, data TemplateData) (*http.Request, error) {
	u, err := rt.URL(e, data)
	if err != nil {
		return nil, fmt.Errorf("render url: %w", err)
	}

	var body io.Reader
	if b, err := rt.body.render(e, data); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	} else if b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, rt.method, u, body)
	if err != nil {
		return nil, err
	}
	for _, h := range rt.headers {
		v, err := h.value.render(e, data)
		if err != nil {
			return nil, fmt.Errorf("render header %s: %w", h.key, err)
		}
		req.Header.Set(h.key, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
