package classify

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

var (
	ErrNoBuckets   = errors.New("classifier rules define no buckets")
	ErrEmptyPhrase = errors.New("classifier rules contain an empty phrase")
)

// Rules is the data half of the classifier. Bucket order is priority order.
type Rules struct {
	ShortTextRunes int          `yaml:"short_text_runes"`
	Crisis         CrisisRules  `yaml:"crisis"`
	Negations      []string     `yaml:"negations"`
	Buckets        []BucketRule `yaml:"buckets"`
}

type CrisisRules struct {
	Phrases []string    `yaml:"phrases"`
	Pairs   [][]string `yaml:"pairs"`
}

type BucketRule struct {
	Label        Label    `yaml:"label"`
	Confidence   float64  `yaml:"confidence"`
	Suppressible bool     `yaml:"suppressible"`
	Phrases      []string `yaml:"phrases"`
}

// DefaultRules returns the rules compiled into the binary.
func DefaultRules() Rules {
	rules, err := ParseRules(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded classifier rules: %v", err))
	}
	return rules
}

// LoadRules reads rules from path. An empty path yields DefaultRules.
func LoadRules(path string) (Rules, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultRules(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read classifier rules: %w", err)
	}
	return ParseRules(raw)
}

func ParseRules(raw []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, fmt.Errorf("parse classifier rules: %w", err)
	}
	if err := rules.validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

func (r *Rules) validate() error {
	if len(r.Buckets) == 0 {
		return ErrNoBuckets
	}
	if r.ShortTextRunes < 0 {
		return fmt.Errorf("short_text_runes must be >= 0, got %d", r.ShortTextRunes)
	}
	check := func(phrases []string) error {
		for _, p := range phrases {
			if normalize(p) == "" {
				return ErrEmptyPhrase
			}
		}
		return nil
	}
	if err := check(r.Crisis.Phrases); err != nil {
		return err
	}
	for _, pair := range r.Crisis.Pairs {
		if len(pair) != 2 {
			return fmt.Errorf("crisis pair must have two phrases, got %d", len(pair))
		}
		if err := check(pair); err != nil {
			return err
		}
	}
	if err := check(r.Negations); err != nil {
		return err
	}
	for i := range r.Buckets {
		b := &r.Buckets[i]
		if strings.TrimSpace(string(b.Label)) == "" {
			return fmt.Errorf("bucket %d has no label", i)
		}
		if b.Confidence <= 0 || b.Confidence > 1 {
			b.Confidence = 0.8
		}
		if err := check(b.Phrases); err != nil {
			return fmt.Errorf("bucket %s: %w", b.Label, err)
		}
	}
	return nil
}
