// Package frontmatter reads and writes markdown files with a YAML
// header block delimited by "---" lines.
package frontmatter

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Delimiter separates the YAML header block from the markdown body.
const Delimiter = "---"

// Sentinel errors for callers that branch on failure kind.
var (
	ErrNotFound = errors.New("file not found")
	ErrParse    = errors.New("frontmatter parse error")
)

// Split separates raw file content into the YAML header bytes and the
// markdown body. The file must start with a delimiter line.
func Split(data []byte) (header []byte, body string, err error) {
	text := string(data)
	if !strings.HasPrefix(text, Delimiter+"\n") && text != Delimiter {
		return nil, "", fmt.Errorf("%w: missing opening delimiter", ErrParse)
	}
	rest := strings.TrimPrefix(text, Delimiter+"\n")
	if text != rest && (rest == Delimiter || strings.HasPrefix(rest, Delimiter+"\n")) {
		// Empty header block: the closing delimiter follows immediately.
		body = strings.TrimPrefix(rest[len(Delimiter):], "\n")
		body = strings.TrimPrefix(body, "\n")
		return nil, body, nil
	}
	idx := strings.Index(rest, "\n"+Delimiter)
	if idx < 0 {
		return nil, "", fmt.Errorf("%w: missing closing delimiter", ErrParse)
	}
	header = []byte(rest[:idx+1])
	body = rest[idx+1+len(Delimiter):]
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")
	return header, body, nil
}

// Decode parses raw file content, unmarshalling the header into out and
// returning the body.
func Decode(data []byte, out any) (body string, err error) {
	header, body, err := Split(data)
	if err != nil {
		return "", err
	}
	if err := yaml.Unmarshal(header, out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	return body, nil
}

// Encode renders a header value and body into file content. The header
// is marshalled with 2-space indent, matching hand-edited files.
func Encode(header any, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(Delimiter + "\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(header); err != nil {
		return nil, fmt.Errorf("encoding frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding frontmatter: %w", err)
	}

	buf.WriteString(Delimiter + "\n")
	if body != "" {
		buf.WriteString("\n")
		buf.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}
