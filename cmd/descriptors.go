package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hexalayer/bundle/internal/component"
)

// descriptorFile pairs a parsed FactoryDescriptor with the file it was
// read from, for commands that need to report where a bad descriptor came
// from (spec §6's decorator/metadata surface, expressed here as one YAML
// document per bundle rather than per class).
type descriptorFile struct {
	path string
	fd   component.FactoryDescriptor
}

// loadDescriptors reads every *.yaml/*.yml file directly under dir (no
// recursion — one bundle per file, mirroring a bundle's one-jar-one-unit
// identity) and parses it as a FactoryDescriptor, in deterministic
// (lexical) filename order so bundlectl's install order is reproducible.
func loadDescriptors(dir string) ([]descriptorFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("cmd: reading descriptor directory %q: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]descriptorFile, 0, len(names))
	for _, name := range names {
		full := filepath.Join(dir, name)
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("cmd: reading %q: %w", full, err)
		}
		fd, err := component.ParseFactoryDescriptor(data)
		if err != nil {
			return nil, fmt.Errorf("cmd: parsing %q: %w", full, err)
		}
		out = append(out, descriptorFile{path: full, fd: fd})
	}
	return out, nil
}

// requirementSummary renders one requirement declaration as a compact
// "field:kind(specification)" token for table display.
func requirementSummary(d component.RequirementDecl) string {
	token := fmt.Sprintf("%s:%s(%s)", d.Field, d.Kind, d.Specification)
	if d.Optional {
		token += "?"
	}
	return token
}

// providesSummary renders a ProvidesDecl's specification list, joined with
// a trailing controller name when one gates it.
func providesSummary(d component.ProvidesDecl) string {
	s := strings.Join(d.Specifications, ",")
	if d.Controller != "" {
		s += " [" + d.Controller + "]"
	}
	return s
}
