package registry

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentkernel/kernel/pkg/models"
)

// FrontmatterDelimiter marks the beginning and end of an agent file's YAML
// frontmatter block.
const FrontmatterDelimiter = "---"

// frontmatter mirrors the YAML keys an agent file may declare; it is
// unmarshalled directly into models.AgentProfile's yaml-tagged fields,
// except Policy/Autonomous/CustomTools which need their own container
// because models.AgentProfile also carries derived fields (Path, ID,
// ContentHash) that never appear in the file itself.
type frontmatter struct {
	Name       string                  `yaml:"name"`
	Model      string                  `yaml:"model"`
	Policy     models.Policy           `yaml:"policy"`
	Tools      []models.CustomTool     `yaml:"tools"`
	Autonomous models.AutonomousConfig `yaml:"autonomous"`
}

// ParseAgentFile parses one agent Markdown+YAML-frontmatter file. path is
// the VFS path the bytes were read from; it becomes AgentProfile.Path and
// seeds AgentProfile.ID (path with the extension stripped).
func ParseAgentFile(path string, data []byte) (*models.AgentProfile, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var parsed frontmatter
	if err := yaml.Unmarshal(fm, &parsed); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}

	if parsed.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if parsed.Model == "" {
		return nil, fmt.Errorf("agent model is required")
	}
	if parsed.Policy.Mode == "" {
		parsed.Policy.Mode = models.ModeSafe
	}

	sum := sha256.Sum256(data)

	return &models.AgentProfile{
		Path:         path,
		ID:           agentID(path),
		Name:         parsed.Name,
		Model:        parsed.Model,
		SystemPrompt: strings.TrimSpace(string(body)),
		ContentHash:  hex.EncodeToString(sum[:]),
		Policy:       parsed.Policy,
		CustomTools:  parsed.Tools,
		Autonomous:   parsed.Autonomous,
	}, nil
}

// agentID derives a stable agent id from its VFS path: the base filename
// with its extension removed, e.g. "agents/researcher.md" -> "researcher".
func agentID(path string) string {
	name := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		name = path[idx+1:]
	}
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		name = name[:idx]
	}
	return name
}

// splitFrontmatter separates the leading YAML frontmatter block (delimited
// by lines containing only "---") from the markdown body that follows it
// and becomes the agent's system prompt.
func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != FrontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var fmLines []string
	closed := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == FrontmatterDelimiter {
			closed = true
			break
		}
		fmLines = append(fmLines, line)
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scanner error: %w", err)
	}

	return []byte(strings.Join(fmLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}
