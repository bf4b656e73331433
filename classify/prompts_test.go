package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPrompts(t *testing.T) {
	dir := t.TempDir()
	template := writeFile(t, dir, "agent.md", "---\nname: email-support-agent\ndescription: Answers support mail\nmodel: gemini-2.5-flash\n---\n\nYou are a support agent.\n")
	guideline := writeFile(t, dir, "guideline.md", "# Refunds\nWithin 30 days.\n")

	prompts, err := LoadPrompts(template, guideline)
	require.NoError(t, err)

	assert.Equal(t, "You are a support agent.", prompts.System)
	assert.Equal(t, "# Refunds\nWithin 30 days.\n", prompts.Guideline)
	assert.Equal(t, Frontmatter{Name: "email-support-agent", Description: "Answers support mail", Model: "gemini-2.5-flash"}, prompts.Meta)
}

func TestLoadPrompts_NoFrontmatter(t *testing.T) {
	dir := t.TempDir()
	template := writeFile(t, dir, "agent.md", "\nPlain instructions.\n")
	guideline := writeFile(t, dir, "guideline.md", "rules")

	prompts, err := LoadPrompts(template, guideline)
	require.NoError(t, err)
	assert.Equal(t, "Plain instructions.", prompts.System)
	assert.Empty(t, prompts.Meta.Model)
}

func TestLoadPrompts_UnclosedFrontmatterKept(t *testing.T) {
	dir := t.TempDir()
	template := writeFile(t, dir, "agent.md", "---\nname: x\nstill instructions")
	guideline := writeFile(t, dir, "guideline.md", "rules")

	prompts, err := LoadPrompts(template, guideline)
	require.NoError(t, err)
	assert.Equal(t, "---\nname: x\nstill instructions", prompts.System)
}

func TestLoadPrompts_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	template := writeFile(t, dir, "agent.md", "instructions")
	guideline := writeFile(t, dir, "guideline.md", "rules")
	empty := writeFile(t, dir, "empty.md", "  \n")

	_, err := LoadPrompts(filepath.Join(dir, "missing.md"), guideline)
	assert.ErrorContains(t, err, "prompt template not found")

	_, err = LoadPrompts(template, filepath.Join(dir, "missing.md"))
	assert.ErrorContains(t, err, "support guideline not found")

	_, err = LoadPrompts(template, empty)
	assert.ErrorContains(t, err, "support guideline is empty")

	_, err = LoadPrompts(writeFile(t, dir, "only-meta.md", "---\nname: x\n---\n"), guideline)
	assert.ErrorContains(t, err, "has no instructions")
}
