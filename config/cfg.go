package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	TemplateFieldName string

	PublicationConfig struct {
		CSSDir          string   `yaml:"css_dir" validate:"required"`
		TextDir         string   `yaml:"text_dir" validate:"required"`
		TOCPath         string   `yaml:"toc_path" validate:"required"`
		LocalStylesheet string   `yaml:"local_stylesheet" validate:"required"`
		ExcludedFiles   []string `yaml:"excluded_files" validate:"dive,required"`
	}

	CompatConfig struct {
		ElementSubstitutions map[string]string `yaml:"element_substitutions" validate:"dive,required"`
		ShorthandProperties  []string          `yaml:"shorthand_properties" validate:"dive,oneof=margin padding"`
		FirstChildClass      string            `yaml:"first_child_class" validate:"required"`
		Workers              int               `yaml:"workers" validate:"gte=0"`
	}

	ContainerConfig struct {
		FixZip             bool   `yaml:"fix_zip"`
		OutputNameTemplate string `yaml:"output_name_template"`
	}

	Config struct {
		Version     int               `yaml:"version" validate:"eq=1"`
		Publication PublicationConfig `yaml:"publication"`
		Compat      CompatConfig      `yaml:"compat"`
		Container   ContainerConfig   `yaml:"container"`
		Logging     LoggingConfig     `yaml:"logging"`
		Reporting   ReporterConfig    `yaml:"reporting"`
	}
)

const (
	// NOTE: must match yaml field name above, alternative is to use struct
	// field name and reflection which I want to avoid for now
	OutputNameTemplateFieldName TemplateFieldName = "output_name_template"
)

var requiredOptions = append([]func(*gencfg.ProcessingOptions){},
	gencfg.WithDoNotExpandField(string(OutputNameTemplateFieldName)),
)

// unmarshalConfig decodes yaml strictly, fields we do not know are an error.
// With process set the result is also sanitized and validated.
func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if !process {
		return cfg, nil
	}
	if err := gencfg.Sanitize(cfg); err != nil {
		return nil, err
	}
	if err := gencfg.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfiguration expands the embedded template into a fully defaulted
// configuration and, when a path is given, overlays values from that file on
// top. Sanitation and validation run on the final result only.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, append(requiredOptions, options...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration defaults: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, true)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare expands the embedded configuration template.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl, requiredOptions...)
}

// Dump serializes active configuration back to yaml.
func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %w", err)
	}
	return data, nil
}
