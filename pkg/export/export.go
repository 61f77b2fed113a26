package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/tinystate/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Format selects the snapshot encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat maps a user supplied name to a Format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want json or yaml)", s)
	}
}

// ContentType returns the MIME type for HTTP responses.
func (f Format) ContentType() string {
	if f == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Encode serializes g in the given format.
func Encode(g domain.Graph, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, g, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write serializes g to w.
func Write(w io.Writer, g domain.Graph, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(g); err != nil {
			return fmt.Errorf("failed to encode graph as json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(g); err != nil {
			return fmt.Errorf("failed to encode graph as yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// Decode parses a snapshot previously produced by Encode.
func Decode(data []byte, format Format) (domain.Graph, error) {
	var g domain.Graph
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &g)
	case FormatYAML:
		err = yaml.Unmarshal(data, &g)
	default:
		return g, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return g, fmt.Errorf("failed to decode graph: %w", err)
	}
	return g, nil
}
