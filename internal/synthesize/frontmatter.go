package synthesize

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrMissingHeader indicates a summary did not start with a YAML fence.
var ErrMissingHeader = errors.New("summary: missing header")

// Header is the provenance block at the top of every summary artifact.
type Header struct {
	Title     string `yaml:"title"`
	URL       string `yaml:"url"`
	Author    string `yaml:"author"`
	Published string `yaml:"published"`
	Feed      string `yaml:"feed"`
}

// RenderSummary writes header and body with YAML fences.
func RenderSummary(h Header, body string) ([]byte, error) {
	data, err := yaml.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("summary: encode header: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.WriteString(body)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// ParseSummary splits a summary artifact into its header and body.
func ParseSummary(content []byte) (Header, string, error) {
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Header{}, string(normalized), ErrMissingHeader
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Header{}, string(normalized), ErrMissingHeader
	}
	var h Header
	if err := yaml.Unmarshal(parts[0], &h); err != nil {
		return Header{}, "", fmt.Errorf("summary: parse header: %w", err)
	}
	return h, string(bytes.TrimLeft(parts[1], "\n")), nil
}
