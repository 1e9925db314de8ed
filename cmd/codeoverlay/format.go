package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"codeoverlay/internal/annotations"
	"codeoverlay/internal/version"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
	FormatHuman OutputFormat = "human"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp interface{}, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatYAML:
		return formatYAML(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatJSON formats the response as JSON
func formatJSON(resp interface{}) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// formatYAML formats the response as YAML. The value goes through JSON
// first so keys match the JSON output and the wire protocol.
func formatYAML(resp interface{}) (string, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to convert to YAML: %w", err)
	}
	blockStyle(&doc)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// blockStyle drops the flow and quoting styles inherited from JSON.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// formatHuman formats the response in human-readable format
func formatHuman(resp interface{}) (string, error) {
	switch v := resp.(type) {
	case *AnalyzeResponseCLI:
		return formatAnalyzeHuman(v)
	case *ConfigShowResponseCLI:
		return formatConfigHuman(v)
	case *version.BuildInfo:
		return formatVersionHuman(v)
	default:
		// For unknown types, fall back to JSON
		return formatJSON(resp)
	}
}

// formatAnalyzeHuman formats an AnalyzeResponseCLI in human-readable format
func formatAnalyzeHuman(resp *AnalyzeResponseCLI) (string, error) {
	var b strings.Builder
	doc := resp.Document

	b.WriteString(fmt.Sprintf("Overlay for %s\n", resp.File))
	b.WriteString(strings.Repeat("=", 60) + "\n\n")

	state := "enabled"
	switch {
	case doc.Disabled:
		state = "disabled (document too large)"
	case !doc.Enabled:
		state = "features off"
	}
	b.WriteString(fmt.Sprintf("Length: %d UTF-16 units, generation %d, %s\n", doc.Length, doc.Generation, state))
	b.WriteString(fmt.Sprintf("Messages sent: %d\n\n", resp.Messages))

	b.WriteString(fmt.Sprintf("Annotations (%d):\n", len(doc.Annotations)))
	anns := append([]annotations.Annotation(nil), doc.Annotations...)
	sort.SliceStable(anns, func(i, j int) bool {
		if anns[i].Anchor.Range.Start != anns[j].Anchor.Range.Start {
			return anns[i].Anchor.Range.Start < anns[j].Anchor.Range.Start
		}
		return anns[i].Kind < anns[j].Kind
	})
	for _, a := range anns {
		b.WriteString(fmt.Sprintf("  %-14s %-10s %s\n", a.Kind, a.State, a.Anchor))
		if a.Error != "" {
			b.WriteString(fmt.Sprintf("    ! %s\n", a.Error))
		} else if a.Payload != nil {
			b.WriteString(fmt.Sprintf("    %s\n", summarizePayload(a.Payload)))
		}
	}
	b.WriteString("\n")

	b.WriteString(fmt.Sprintf("Suggestions (%d):\n", len(doc.Suggestions)))
	for i, s := range doc.Suggestions {
		b.WriteString(fmt.Sprintf("  %d. %s\n", i+1, s.Operation.Title))
		b.WriteString(fmt.Sprintf("     %s at [%d,%d) %s\n", s.Kind, s.Target.Start, s.Target.End(), s.State))
		if s.Failed {
			b.WriteString(fmt.Sprintf("     ! %s\n", s.Reason))
		}
	}

	if len(resp.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		for _, e := range resp.Errors {
			b.WriteString(fmt.Sprintf("  ! %s\n", e))
		}
	}

	return b.String(), nil
}

// summarizePayload renders a payload on one line.
func summarizePayload(p any) string {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%v", p)
	}
	s := string(data)
	if len(s) > 100 {
		s = s[:97] + "..."
	}
	return s
}

// formatConfigHuman prints the effective configuration as TOML
func formatConfigHuman(resp *ConfigShowResponseCLI) (string, error) {
	var b strings.Builder

	switch {
	case resp.ConfigPath != "":
		b.WriteString(fmt.Sprintf("# Config: %s\n", resp.ConfigPath))
	case resp.UsedDefaults:
		b.WriteString("# Config: defaults (no config file found)\n")
	}
	if len(resp.EnvOverrides) > 0 {
		b.WriteString(fmt.Sprintf("# Env overrides: %s\n", strings.Join(resp.EnvOverrides, ", ")))
	}
	b.WriteString("\n")

	if err := toml.NewEncoder(&b).Encode(resp.Config); err != nil {
		return "", fmt.Errorf("failed to marshal TOML: %w", err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// formatVersionHuman formats build info in human-readable format
func formatVersionHuman(info *version.BuildInfo) (string, error) {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("codeoverlay version %s\n", info.Version))
	b.WriteString(fmt.Sprintf("Commit: %s\n", info.Commit))
	b.WriteString(fmt.Sprintf("Built: %s\n", info.BuildDate))
	b.WriteString(fmt.Sprintf("Protocol: %d\n", info.ProtocolVersion))
	b.WriteString(fmt.Sprintf("Go: %s", info.GoVersion))
	return b.String(), nil
}
