package ai

import (
	"fmt"
	"strings"

	"github.com/zpdzap/codelive/internal/workspace"
)

const planFormat = `Answer with a single XML document and nothing else:

<plan>
  <planDescription>One sentence summary of the change.</planDescription>
  <action type="file">
    <description>What this file change does.</description>
    <file filename="src/App.tsx"><![CDATA[
full new contents of the file
]]></file>
  </action>
  <action type="command">
    <description>Why these packages are needed.</description>
    <commandType>npm install</commandType>
    <package>react-router-dom</package>
  </action>
</plan>

Always write complete file contents. Paths are relative to the project root.`

var generateAppSystem = `You are an expert React and TypeScript engineer. The user describes a web
application; turn the Vite starter project below into that application.

` + planFormat

var editAppSystem = `You are an expert React and TypeScript engineer working on an existing Vite
project. Apply the user's request with the smallest set of file changes.

` + planFormat

const srcbookSystem = `You write Srcbooks: runnable notebooks in markdown. Output only the notebook.

Format:
<!-- srcbook:{"language":"typescript"} -->

# Title

Markdown explanation.

###### package.json

` + "```json" + `
{"type": "module", "dependencies": {}}
` + "```" + `

###### example.ts

` + "```typescript" + `
console.log("hello");
` + "```"

// userPrompt puts the project files in front of the request.
func userPrompt(files []workspace.File, prompt string) string {
	var b strings.Builder
	b.WriteString("<context>\n")
	for _, f := range files {
		content := strings.ReplaceAll(f.Content, "]]>", "]]]]><![CDATA[>")
		fmt.Fprintf(&b, "<file filename=%q><![CDATA[\n%s\n]]></file>\n", f.Path, content)
	}
	b.WriteString("</context>\n\n<request>\n")
	b.WriteString(strings.TrimSpace(prompt))
	b.WriteString("\n</request>\n")
	return b.String()
}
