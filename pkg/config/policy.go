package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds per-namespace overrides of the healing policy, loaded from a
// YAML file:
//
//	defaults:
//	  threshold: 3
//	  cooldown: 10m
//	namespaces:
//	  payments:
//	    threshold: 5
//	    cooldown: 30m
//	  hrt-sre:
//	    disabled: true
type Policy struct {
	defaults   policyRule
	namespaces map[string]policyRule
}

type policyFile struct {
	Defaults   policyRule            `yaml:"defaults"`
	Namespaces map[string]policyRule `yaml:"namespaces"`
}

// policyRule uses pointers so an omitted field inherits rather than zeroes.
type policyRule struct {
	Threshold *int32  `yaml:"threshold"`
	Cooldown  *string `yaml:"cooldown"`
	Disabled  *bool   `yaml:"disabled"`
}

// LoadPolicy reads and validates a policy file
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}

	if err := file.Defaults.validate("defaults"); err != nil {
		return nil, err
	}
	for ns, rule := range file.Namespaces {
		if err := rule.validate("namespace " + ns); err != nil {
			return nil, err
		}
	}

	return &Policy{
		defaults:   file.Defaults,
		namespaces: file.Namespaces,
	}, nil
}

func (r policyRule) validate(where string) error {
	if r.Threshold != nil && *r.Threshold < 1 {
		return fmt.Errorf("%s: threshold must be at least 1", where)
	}
	if r.Cooldown != nil {
		d, err := time.ParseDuration(*r.Cooldown)
		if err != nil {
			return fmt.Errorf("%s: invalid cooldown: %w", where, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s: cooldown must be positive", where)
		}
	}
	return nil
}

// Apply layers the policy's defaults and the namespace's overrides onto base
func (p *Policy) Apply(namespace string, base Rule) Rule {
	rule := base
	rule = p.defaults.apply(rule)
	if override, ok := p.namespaces[namespace]; ok {
		rule = override.apply(rule)
	}
	return rule
}

func (r policyRule) apply(rule Rule) Rule {
	if r.Threshold != nil {
		rule.Threshold = *r.Threshold
	}
	if r.Cooldown != nil {
		// validated at load time
		d, err := time.ParseDuration(*r.Cooldown)
		if err == nil {
			rule.Cooldown = d
		}
	}
	if r.Disabled != nil {
		rule.Disabled = *r.Disabled
	}
	return rule
}
