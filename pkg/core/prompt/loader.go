package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"text/template"
)

//go:embed resources/prompts
var embedded embed.FS

// LoadDefaults returns a registry holding the prompts shipped with the binary.
func LoadDefaults() (*Registry, error) {
	r := NewRegistry()
	if err := LoadFromFS(r, embedded, "resources/prompts"); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFromDirectory loads prompts from dir on disk into r, overriding
// prompts with the same ID. Expected structure:
//
//	dir/
//	  analysis/
//	    stock.json
//	  market/
//	    recommendations.json
func LoadFromDirectory(r *Registry, dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("prompts directory not found: %s", dir)
	}
	return LoadFromFS(r, os.DirFS(dir), ".")
}

// LoadFromFS walks root inside fsys and registers every .json prompt file.
func LoadFromFS(r *Registry, fsys fs.FS, root string) error {
	return fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Skip directories and non-JSON files
		if d.IsDir() || path.Ext(p) != ".json" {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}

		var pt PromptTemplate
		if err := json.Unmarshal(data, &pt); err != nil {
			return fmt.Errorf("failed to parse %s: %w", p, err)
		}

		rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")

		// Auto-generate ID from path if not specified
		if pt.ID == "" {
			pt.ID = generateIDFromPath(rel)
		}

		// Auto-detect category from folder name if not specified
		if pt.Category == "" {
			pt.Category = detectCategory(rel)
		}

		// Fail at load time rather than on the first request.
		if _, err := parseTemplate(&pt); err != nil {
			return fmt.Errorf("invalid template in %s: %w", p, err)
		}

		if err := r.Register(&pt); err != nil {
			return fmt.Errorf("failed to register %s: %w", pt.ID, err)
		}
		return nil
	})
}

// generateIDFromPath creates a prompt ID from the file path
// e.g., "analysis/stock.json" -> "analysis.stock"
func generateIDFromPath(rel string) string {
	rel = strings.TrimSuffix(rel, ".json")
	return strings.ReplaceAll(rel, "/", ".")
}

// detectCategory extracts the category from the folder structure
func detectCategory(rel string) string {
	parts := strings.Split(rel, "/")
	if len(parts) > 1 {
		return parts[0]
	}
	return "default"
}

var templateFuncs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

func parseTemplate(pt *PromptTemplate) (*template.Template, error) {
	return template.New(pt.ID).Funcs(templateFuncs).Option("missingkey=error").Parse(pt.UserPromptTmpl)
}

// RenderUserPrompt executes the user prompt template with the given context
func RenderUserPrompt(pt *PromptTemplate, ctx *PromptExecutionContext) (string, error) {
	if pt.UserPromptTmpl == "" {
		return "", nil
	}

	tmpl, err := parseTemplate(pt)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	for _, v := range pt.Variables {
		if _, ok := ctx.Variables[v.Name]; ok {
			continue
		}
		if v.Required && v.Default == "" {
			return "", fmt.Errorf("missing required variable %s for prompt %s", v.Name, pt.ID)
		}
		ctx.Set(v.Name, v.Default)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx.Variables); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}
