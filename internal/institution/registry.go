// Package institution classifies raw statement text against a table of
// known institution signatures and derives the document-level context
// (institution, document type, expected total, base currency, report date).
//
// The signature table is data, not code: adding an institution is a
// registry entry, never a new code path.
package institution

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"
)

//go:embed institutions.yml
var defaultRegistryYAML []byte

// Signature is one institution's registry row.
type Signature struct {
	ID string `yaml:"id"`
	// Patterns are literal substrings matched case-insensitively against
	// the document text: name variants, address fragments, routing codes.
	Patterns []string `yaml:"patterns"`
	// TotalPatterns are regular expressions whose first capture group is
	// the document-stated portfolio total. Tried in order before the
	// generic fallback.
	TotalPatterns []string `yaml:"total_patterns"`
	// ColumnKeywords maps semantic fields (identifier, name, value,
	// quantity, price, currency) to header-cell keywords, multi-language.
	ColumnKeywords map[string][]string `yaml:"column_keywords"`
	// BaseCurrency is the institution's usual reporting currency, used
	// when the text itself is inconclusive.
	BaseCurrency string `yaml:"base_currency"`

	compiledTotals []*regexp.Regexp
	loweredPattern []string
}

// Registry is the process-wide institution signature table. It is loaded
// once at startup and read-only afterwards, so concurrent readers need no
// locking.
type Registry struct {
	Signatures []Signature `yaml:"institutions"`
	// GenericColumnKeywords back the universal strategy when no
	// institution matched.
	GenericColumnKeywords map[string][]string `yaml:"generic_column_keywords"`
	// GenericTotalPatterns are the fallback total expressions.
	GenericTotalPatterns []string `yaml:"generic_total_patterns"`

	compiledGenericTotals []*regexp.Regexp
}

// LoadRegistry reads a signature table from a YAML file. An empty path
// loads the embedded default table.
func LoadRegistry(path string) (*Registry, error) {
	data := defaultRegistryYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read institution registry: %w", err)
		}
		data = b
	}
	return ParseRegistry(data)
}

// ParseRegistry parses and compiles a signature table from YAML bytes.
func ParseRegistry(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse institution registry: %w", err)
	}
	if err := reg.compile(); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *Registry) compile() error {
	for i := range r.Signatures {
		sig := &r.Signatures[i]
		if sig.ID == "" {
			return fmt.Errorf("institution registry entry %d has no id", i)
		}
		sig.loweredPattern = make([]string, len(sig.Patterns))
		for j, p := range sig.Patterns {
			sig.loweredPattern[j] = strings.ToLower(p)
		}
		for _, expr := range sig.TotalPatterns {
			re, err := regexp.Compile(expr)
			if err != nil {
				return fmt.Errorf("institution %s: bad total pattern %q: %w", sig.ID, expr, err)
			}
			if re.NumSubexp() < 1 {
				return fmt.Errorf("institution %s: total pattern %q has no capture group", sig.ID, expr)
			}
			sig.compiledTotals = append(sig.compiledTotals, re)
		}
	}
	for _, expr := range r.GenericTotalPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("bad generic total pattern %q: %w", expr, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("generic total pattern %q has no capture group", expr)
		}
		r.compiledGenericTotals = append(r.compiledGenericTotals, re)
	}
	return nil
}

// Lookup returns the signature row for an institution id, or nil.
func (r *Registry) Lookup(id string) *Signature {
	for i := range r.Signatures {
		if r.Signatures[i].ID == id {
			return &r.Signatures[i]
		}
	}
	return nil
}

// ColumnKeywordsFor returns the column keyword map for an institution,
// falling back to the generic map for unknown institutions or rows
// without their own keywords.
func (r *Registry) ColumnKeywordsFor(id string) map[string][]string {
	if sig := r.Lookup(id); sig != nil && len(sig.ColumnKeywords) > 0 {
		return sig.ColumnKeywords
	}
	return r.GenericColumnKeywords
}
