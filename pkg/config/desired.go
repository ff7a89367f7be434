package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/dbfleet/pkg/types"
)

// APIVersion is the current desired-state document version
const APIVersion = "dbfleet.io/v1"

// KindCluster is the only document kind
const KindCluster = "Cluster"

// Format is the encoding of a desired-state document
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatTOML  Format = "toml"
	FormatJSONC Format = "jsonc"
)

// FormatFromPath picks a format from a file extension. JSON files are
// read as JSONC; unknown extensions are read as YAML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".json", ".jsonc":
		return FormatJSONC
	default:
		return FormatYAML
	}
}

// Document is a desired-state document for one cluster
type Document struct {
	APIVersion string      `json:"apiVersion" yaml:"apiVersion" toml:"apiVersion"`
	Kind       string      `json:"kind" yaml:"kind" toml:"kind"`
	Metadata   Metadata    `json:"metadata" yaml:"metadata" toml:"metadata"`
	Spec       ClusterSpec `json:"spec" yaml:"spec" toml:"spec"`
}

// Metadata names a cluster
type Metadata struct {
	Name   string            `json:"name" yaml:"name" toml:"name"`
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty" toml:"labels,omitempty"`
}

// ClusterSpec is the desired topology of a cluster
type ClusterSpec struct {
	Platform    string                     `json:"platform" yaml:"platform" toml:"platform"`
	Image       string                     `json:"image" yaml:"image" toml:"image"`
	Secondaries int                        `json:"secondaries" yaml:"secondaries" toml:"secondaries"`
	Groups      map[string]types.GroupSpec `json:"groups,omitempty" yaml:"groups,omitempty" toml:"groups,omitempty"`
	Agents      []string                   `json:"agents,omitempty" yaml:"agents,omitempty" toml:"agents,omitempty"`
	Policy      PolicySpec                 `json:"policy" yaml:"policy" toml:"policy"`
}

// PolicySpec toggles remediation
type PolicySpec struct {
	RestartUnhealthy bool `json:"restartUnhealthy" yaml:"restartUnhealthy" toml:"restartUnhealthy"`
	ReplaceStale     bool `json:"replaceStale" yaml:"replaceStale" toml:"replaceStale"`
	RemoveExcess     bool `json:"removeExcess" yaml:"removeExcess" toml:"removeExcess"`
}

// ParseDocument decodes and validates a desired-state document
func ParseDocument(data []byte, format Format) (*Document, error) {
	var doc Document
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	case FormatJSONC:
		err = json.Unmarshal(jsonc.ToJSON(data), &doc)
	default:
		return nil, fmt.Errorf("unknown document format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s document: %w", format, err)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadDocument reads a desired-state document from disk
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := ParseDocument(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Validate checks the document
func (d *Document) Validate() error {
	var problems []string
	if d.Kind != KindCluster {
		problems = append(problems, fmt.Sprintf("unsupported kind %q", d.Kind))
	}
	if d.APIVersion != "" && d.APIVersion != APIVersion {
		problems = append(problems, fmt.Sprintf("unsupported apiVersion %q", d.APIVersion))
	}
	if d.Metadata.Name == "" {
		problems = append(problems, "metadata.name is required")
	}
	if d.Spec.Platform == "" {
		problems = append(problems, "spec.platform is required")
	}
	if d.Spec.Secondaries < 0 {
		problems = append(problems, "spec.secondaries must not be negative")
	}

	groups := make([]string, 0, len(d.Spec.Groups))
	for name := range d.Spec.Groups {
		groups = append(groups, name)
	}
	sort.Strings(groups)
	for _, name := range groups {
		if name == "" {
			problems = append(problems, "spec.groups has an empty group name")
		}
		if d.Spec.Groups[name].Secondaries < 0 {
			problems = append(problems, fmt.Sprintf("spec.groups.%s.secondaries must not be negative", name))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Cluster returns the cluster record described by the document. The
// cluster ID is the document name.
func (d *Document) Cluster(now time.Time) *types.Cluster {
	return &types.Cluster{
		ID:          d.Metadata.Name,
		Name:        d.Metadata.Name,
		PlatformRef: d.Spec.Platform,
		Agents:      append([]string(nil), d.Spec.Agents...),
		Labels:      d.Metadata.Labels,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// DesiredConfig returns the desired configuration described by the document
func (d *Document) DesiredConfig(now time.Time) *types.DesiredConfig {
	var groups map[string]types.GroupSpec
	if len(d.Spec.Groups) > 0 {
		groups = make(map[string]types.GroupSpec, len(d.Spec.Groups))
		for name, spec := range d.Spec.Groups {
			groups[name] = spec
		}
	}
	return &types.DesiredConfig{
		ClusterID:   d.Metadata.Name,
		PlatformRef: d.Spec.Platform,
		Image:       d.Spec.Image,
		Secondaries: d.Spec.Secondaries,
		Groups:      groups,
		Policy: types.Policy{
			RestartUnhealthy: d.Spec.Policy.RestartUnhealthy,
			ReplaceStale:     d.Spec.Policy.ReplaceStale,
			RemoveExcess:     d.Spec.Policy.RemoveExcess,
		},
		UpdatedAt: now,
	}
}
