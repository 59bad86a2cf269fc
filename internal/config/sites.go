// File: internal/config/sites.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// sitesDocument is the mapping form of a sites file.
type sitesDocument struct {
	Sites []string `yaml:"sites"`
}

// LoadSites reads a YAML sites file. Both a bare sequence of URLs and a
// mapping with a `sites` key are accepted.
func LoadSites(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read sites file: %w", err)
	}
	return ParseSites(data)
}

// ParseSites decodes the contents of a sites file.
func ParseSites(data []byte) ([]string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("could not parse sites file: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	doc := root.Content[0]
	var sites []string
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&sites); err != nil {
			return nil, fmt.Errorf("could not decode site list: %w", err)
		}
	case yaml.MappingNode:
		var m sitesDocument
		if err := doc.Decode(&m); err != nil {
			return nil, fmt.Errorf("could not decode sites mapping: %w", err)
		}
		sites = m.Sites
	default:
		return nil, fmt.Errorf("sites file must hold a list or a mapping, line %d", doc.Line)
	}

	out := sites[:0]
	for _, s := range sites {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// ValidateSites requires at least one absolute http(s) URL and rejects anything else.
func ValidateSites(sites []string) error {
	if len(sites) == 0 {
		return errors.New("no sites to visit")
	}
	for _, s := range sites {
		u, err := url.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid site %q: %w", s, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("site %q must be an absolute http or https URL", s)
		}
	}
	return nil
}

// MergeSites appends sites that are not already present, keeping first-seen order.
func MergeSites(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, s := range list {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
