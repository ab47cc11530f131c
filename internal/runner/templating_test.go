package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodbench/internal/config"
)

func TestRequestURLRendersTemplates(t *testing.T) {
	e := NewTemplateEngine()
	rt, err := compileRequest(e, "http://127.0.0.1:8000/api/v1/", config.RequestSpec{
		Path:  "/products/{{vu}}",
		Query: map[string]string{"limit": "{{.Vars.limit}}", "cursor": "{{iter}}"},
	})
	require.NoError(t, err)
	assert.True(t, rt.dynamic)

	u, err := rt.URL(e, TemplateData{VU: 3, Iter: 7, Vars: map[string]string{"limit": "20"}})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8000/api/v1/products/3?cursor=7&limit=20", u)
}

func TestStaticRequestSkipsTemplating(t *testing.T) {
	e := NewTemplateEngine()
	rt, err := compileRequest(e, "http://h/api/v1", config.RequestSpec{
		Path:  "products/without_cache/",
		Query: map[string]string{"limit": "20"},
	})
	require.NoError(t, err)
	assert.False(t, rt.dynamic)

	u, err := rt.URL(e, TemplateData{})
	require.NoError(t, err)
	assert.Equal(t, "http://h/api/v1/products/without_cache/?limit=20", u)
}

func TestMissingVarFailsRender(t *testing.T) {
	e := NewTemplateEngine()
	rt, err := compileRequest(e, "http://h", config.RequestSpec{
		Path:  "/products",
		Query: map[string]string{"limit": "{{.Vars.nope}}"},
	})
	require.NoError(t, err)

	_, err = rt.URL(e, TemplateData{Vars: map[string]string{}})
	assert.Error(t, err)
}

func TestBuildSetsHeadersAndBody(t *testing.T) {
	e := NewTemplateEngine()
	rt, err := compileRequest(e, "http://h", config.RequestSpec{
		Method:  "post",
		Path:    "/products",
		Headers: map[string]string{"X-Request-ID": "{{uuid}}"},
		Body:    `{"vu":{{vu}}}`,
	})
	require.NoError(t, err)

	id := uuid.NewString()
	req, err := rt.Build(context.Background(), e, TemplateData{VU: 4, UUID: id})
	require.NoError(t, err)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, id, req.Header.Get("X-Request-ID"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, int64(len(`{"vu":4}`)), req.ContentLength)
}

func TestTemplateFunctions(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "cursors.txt")
	require.NoError(t, os.WriteFile(file, []byte("abc\n\n  def  \n"), 0o644))

	e := NewTemplateEngine()
	tmpl, err := e.Parse("t", `{{randomInt 5 6}}|{{randomChoice "a"}}|{{randomLine "`+file+`"}}`)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		out, err := e.Execute(tmpl, TemplateData{})
		require.NoError(t, err)
		assert.Contains(t, []string{"5|a|abc", "5|a|def"}, out)
	}

	assert.Equal(t, 9, e.randomInt(9, 9))

	_, err = e.randomLine(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}
