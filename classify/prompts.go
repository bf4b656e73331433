package classify

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the YAML header of the agent prompt file.
type Frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Model       string `yaml:"model"`
}

// Prompts holds the system instruction and the support guideline sent with
// every request.
type Prompts struct {
	System    string
	Guideline string
	Meta      Frontmatter
}

// LoadPrompts reads the prompt template and the guideline. Both files must
// exist and be non-empty.
func LoadPrompts(templatePath, guidelinePath string) (Prompts, error) {
	template, err := readRequired(templatePath, "prompt template")
	if err != nil {
		return Prompts{}, err
	}
	guideline, err := readRequired(guidelinePath, "support guideline")
	if err != nil {
		return Prompts{}, err
	}

	meta, system, err := splitFrontmatter(template)
	if err != nil {
		return Prompts{}, fmt.Errorf("prompt template %s: %w", templatePath, err)
	}
	if system == "" {
		return Prompts{}, fmt.Errorf("prompt template %s has no instructions", templatePath)
	}

	return Prompts{System: system, Guideline: guideline, Meta: meta}, nil
}

func readRequired(path, what string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%s path is empty", what)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%s not found: %s", what, path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", what, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("%s is empty: %s", what, path)
	}
	return string(data), nil
}

// splitFrontmatter removes a leading "---" delimited YAML block. Text without
// a closed block is returned unchanged apart from trimming.
func splitFrontmatter(text string) (Frontmatter, string, error) {
	var meta Frontmatter

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return meta, strings.TrimSpace(text), nil
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "---" {
			continue
		}
		if err := yaml.Unmarshal([]byte(strings.Join(lines[1:i], "\n")), &meta); err != nil {
			return Frontmatter{}, "", fmt.Errorf("parse frontmatter: %w", err)
		}
		return meta, strings.TrimSpace(strings.Join(lines[i+1:], "\n")), nil
	}

	return meta, strings.TrimSpace(text), nil
}
