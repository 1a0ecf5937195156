package compiler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dalton/internal/ir"
)

func TestCompileModelsBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		models: note: {
			namespace: "notes"
			partition: "scratch"
			attributes: {
				text: {type: "string", doc: "Body text"}
				pinned: {type: "boolean", default: false}
				score: {type: "double", default: 1.5}
				kind: {type: "keyword", default: ":notes.kind/plain"}
				links: {type: "set", of: "ref", model: "note", ident: "notes/links"}
			}
		}
	`)
	require.NoError(t, v.Err())

	specs, err := CompileModels(v)
	require.NoError(t, err)
	require.Len(t, specs, 1)

	spec := specs[0]
	assert.Equal(t, "note", spec.Name)
	assert.Equal(t, "notes", spec.Namespace)
	assert.Equal(t, "scratch", spec.Partition)

	var names []string
	for _, a := range spec.Attributes {
		names = append(names, a.Name)
	}
	assert.Equal(t, []string{"text", "pinned", "score", "kind", "links"}, names)

	assert.Equal(t, "Body text", spec.Attributes[0].Doc)
	assert.Equal(t, false, spec.Attributes[1].Default)
	assert.Equal(t, 1.5, spec.Attributes[2].Default)
	assert.Equal(t, ":notes.kind/plain", spec.Attributes[3].Default)
	assert.Equal(t, ir.AttributeSpec{Name: "links", Type: "set", Of: "ref", Model: "note", Ident: "notes/links"}, spec.Attributes[4])
}

func TestCompileModelsIntegerDefault(t *testing.T) {
	v := cuecontext.New().CompileString(`models: post: {namespace: "blog", attributes: views: {type: "long", default: 3}}`)
	specs, err := CompileModels(v)
	require.NoError(t, err)
	assert.Equal(t, int64(3), specs[0].Attributes[0].Default)
}

func TestCompileModelsErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "no models",
			src:     `other: 1`,
			wantErr: "no models declared",
		},
		{
			name:    "missing namespace",
			src:     `models: post: attributes: title: type: "string"`,
			wantErr: "namespace is required",
		},
		{
			name:    "missing type",
			src:     `models: post: {namespace: "blog", attributes: title: doc: "x"}`,
			wantErr: "attributes.title.type: type is required",
		},
		{
			name:    "typed inverse",
			src:     `models: author: {namespace: "blog", attributes: posts: {type: "ref", inverse: {model: "post", from: "author"}}}`,
			wantErr: "inverse attributes cannot declare a type",
		},
		{
			name:    "inverse without from",
			src:     `models: author: {namespace: "blog", attributes: posts: inverse: model: "post"}`,
			wantErr: "from is required",
		},
		{
			name:    "unknown field",
			src:     `models: post: {namespace: "blog", attributes: title: {type: "string", requried: true}}`,
			wantErr: "attributes.title.requried: unknown attribute field",
		},
		{
			name:    "structured default",
			src:     `models: post: {namespace: "blog", attributes: title: {type: "string", default: {a: 1}}}`,
			wantErr: "default must be a concrete scalar",
		},
		{
			name:    "non-string type",
			src:     `models: post: {namespace: "blog", attributes: title: type: 3}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := cuecontext.New().CompileString(tt.src)
			require.NoError(t, v.Err())
			_, err := CompileModels(v)
			require.Error(t, err)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCompileErrorCarriesPosition(t *testing.T) {
	v := cuecontext.New().CompileString("models: post: {\n\tattributes: {}\n}\n", cue.Filename("post.cue"))
	_, err := CompileModels(v)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "namespace", ce.Field)
	assert.True(t, ce.Pos.IsValid())
	assert.Contains(t, err.Error(), "post.cue:")
}

func TestCompileFilesGolden(t *testing.T) {
	specs, err := CompileFiles(filepath.Join("testdata", "models", "blog.cue"))
	require.NoError(t, err)

	out, err := json.MarshalIndent(specs, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "blog_models", append(out, '\n'))
}

func TestCompileFilesUnifiesInOrder(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.cue")
	b := filepath.Join(dir, "b.cue")
	require.NoError(t, os.WriteFile(a, []byte(`models: author: {namespace: "blog", attributes: name: type: "string"}`), 0o644))
	require.NoError(t, os.WriteFile(b, []byte(`models: post: {namespace: "blog", attributes: author: {type: "ref", model: "author"}}`), 0o644))

	specs, err := CompileFiles(a, b)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, "author", specs[0].Name)
	assert.Equal(t, "post", specs[1].Name)
	assert.Empty(t, Validate(specs))
}

func TestCompileFilesErrors(t *testing.T) {
	_, err := CompileFiles()
	assert.Error(t, err)

	_, err = CompileFiles(filepath.Join(t.TempDir(), "missing.cue"))
	assert.ErrorContains(t, err, "missing.cue")

	bad := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(bad, []byte("models: {"), 0o644))
	_, err = CompileFiles(bad)
	var ce *CompileError
	assert.ErrorAs(t, err, &ce)
}
