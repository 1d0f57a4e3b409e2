// Package varattrs looks up static variable metadata (long names, units,
// standard names) from a YAML table keyed by realm then variable name:
//
//	atmos:
//	  tas:
//	    long_name: Near-Surface Air Temperature
//	    units: K
package varattrs

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"cmipcat/internal/domain"
)

// Attrs are the attributes of one variable.
type Attrs map[string]any

type realmTable struct {
	name string
	vars map[string]Attrs
}

// Table is a parsed variable table. Realms keep their file order.
type Table struct {
	realms []realmTable
}

// Load reads and parses the table at path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read variable table: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse variable table %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a table from YAML.
func Parse(data []byte) (*Table, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	t := &Table{}
	if len(root.Content) == 0 {
		return t, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must map realms to variables", doc.Line)
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		var vars map[string]Attrs
		if err := doc.Content[i+1].Decode(&vars); err != nil {
			return nil, fmt.Errorf("realm %q: %w", doc.Content[i].Value, err)
		}
		t.realms = append(t.realms, realmTable{name: doc.Content[i].Value, vars: vars})
	}
	return t, nil
}

// Realms lists the realms in file order.
func (t *Table) Realms() []string {
	out := make([]string, len(t.realms))
	for i, r := range t.realms {
		out[i] = r.name
	}
	return out
}

// Lookup returns the attributes of varname. With a realm the lookup is
// confined to it; without one every realm is searched and the last realm in
// file order that defines the variable wins.
func (t *Table) Lookup(varname string, realm *string) (Attrs, error) {
	if strings.TrimSpace(varname) == "" {
		return nil, domain.ErrValidation("varname required")
	}

	var attrs Attrs
	if realm != nil {
		found := false
		for _, r := range t.realms {
			if r.name == *realm {
				attrs, found = r.vars[varname], true
				break
			}
		}
		if !found {
			return nil, domain.ErrNotFound("realm %q not found in variable table", *realm)
		}
	} else {
		for _, r := range t.realms {
			if a, ok := r.vars[varname]; ok {
				attrs = a
			}
		}
	}

	if len(attrs) == 0 {
		return nil, domain.ErrNotFound("%q variable not found", varname)
	}
	return attrs, nil
}

// Lookup reads the table at path and looks up varname. The file is read on
// every call so edits are picked up without a restart.
func Lookup(path, varname string, realm *string) (Attrs, error) {
	if strings.TrimSpace(varname) == "" {
		return nil, domain.ErrValidation("varname required")
	}
	t, err := Load(path)
	if err != nil {
		return nil, err
	}
	return t.Lookup(varname, realm)
}
