package classifier

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads custom rules from a YAML file of the form
//
//	rules:
//	  - name: company-wiki
//	    pattern: '^wiki\.example\.com/'
//	    category: documentation
//	    productivity: 0.8
//	    can_be_productive: true
//
// Patterns are matched against "domain/path" with the domain lowercased and a
// leading "www." removed.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file %s: %w", path, err)
	}
	return ParseRules(data)
}

// ParseRules parses and compiles a YAML rule document.
func ParseRules(data []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rules: %w", err)
	}
	for i := range f.Rules {
		r := &f.Rules[i]
		if r.Name == "" || r.Pattern == "" || r.Category == "" {
			return nil, fmt.Errorf("rule %d: name, pattern and category are required", i+1)
		}
		if r.Productivity < 0 || r.Productivity > 1 {
			return nil, fmt.Errorf("rule %q: productivity %.2f out of range [0,1]", r.Name, r.Productivity)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		r.re = re
	}
	return f.Rules, nil
}
