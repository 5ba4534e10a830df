package srcbook

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `<!-- srcbook:{"language":"typescript"} -->

# Fetching data

###### package.json

` + "```json" + `
{
  "type": "module"
}
` + "```" + `

This notebook shows how to fetch JSON.

` + "```bash" + `
###### not-a-file
` + "```" + `

###### fetch.ts

` + "```typescript" + `
const res = await fetch('https://example.com');
console.log(res.status);
` + "```" + `

That's it.
`

func TestDecode(t *testing.T) {
	sb, err := Decode(sample)
	require.NoError(t, err)

	assert.Equal(t, "typescript", sb.Language)
	assert.Equal(t, "Fetching data", sb.Title())
	require.Len(t, sb.Cells, 5)

	assert.Equal(t, CellPackage, sb.Cells[1].Type)
	assert.Equal(t, "{\n  \"type\": \"module\"\n}", sb.Cells[1].Source)

	assert.Equal(t, CellMarkdown, sb.Cells[2].Type)
	assert.Contains(t, sb.Cells[2].Text, "###### not-a-file", "headings inside fences stay markdown")

	code := sb.Cells[3]
	assert.Equal(t, CellCode, code.Type)
	assert.Equal(t, "fetch.ts", code.Filename)
	assert.Equal(t, "typescript", code.Language)
	assert.Contains(t, code.Source, "console.log(res.status);")

	assert.Equal(t, "That's it.", sb.Cells[4].Text)
}

func TestEncodeRoundTrip(t *testing.T) {
	sb, err := Decode(sample)
	require.NoError(t, err)

	again, err := Decode(Encode(sb))
	require.NoError(t, err)
	assert.Equal(t, sb.Cells, again.Cells)
	assert.Equal(t, sb.Language, again.Language)
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]string{
		"no title":      "just text",
		"bad metadata":  "<!-- srcbook:{oops} -->\n# T",
		"missing block": "# T\n\n###### a.ts\n\ntext",
		"unterminated":  "# T\n\n###### a.ts\n\n```ts\ncode",
	}
	for name, in := range tests {
		_, err := Decode(in)
		assert.True(t, errors.Is(err, ErrInvalid), "%s: err = %v", name, err)
	}
}

func TestDecodeDefaultsLanguage(t *testing.T) {
	sb, err := Decode("# Untitled\n")
	require.NoError(t, err)
	assert.Equal(t, "typescript", sb.Language)
}

func TestStoreLifecycle(t *testing.T) {
	s := NewStore(t.TempDir())

	created, err := s.Create("Scratch", "javascript")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	imported, err := s.Import(sample)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(s.root, imported.ID, "src", "fetch.ts"))
	assert.NoError(t, err, "code cells written to src/")
	_, err = os.Stat(filepath.Join(s.root, imported.ID, "package.json"))
	assert.NoError(t, err)

	list, err := s.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)

	got, err := s.Get(imported.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fetching data", got.Title())

	text, err := s.Export(imported.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "###### fetch.ts")

	require.NoError(t, s.Delete(imported.ID))
	_, err = s.Get(imported.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(imported.ID), ErrNotFound)

	_, err = s.Get("../etc")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Create("Bad", "rust")
	assert.ErrorIs(t, err, ErrInvalid)
}
