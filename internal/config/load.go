package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	cmerrors "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/errors"
)

// SupportedSchemaVersionConstraint is the configuration major version this
// build understands.
const SupportedSchemaVersionConstraint = "v1"

// Load parses and validates configuration YAML. Checks run in order: JSON
// schema, strict decoding, schemaVersion compatibility, logical validation.
// Defaults are applied to the returned value.
func Load(configYAML []byte, filePathHint string) (*Config, error) {
	if len(bytes.TrimSpace(configYAML)) == 0 {
		return nil, cmerrors.NewConfigError("configuration content cannot be empty", nil)
	}

	if err := ValidateWithSchema(configYAML); err != nil {
		return nil, cmerrors.NewConfigError(fmt.Sprintf("configuration '%s' failed schema validation", filePathHint), err)
	}

	var cfg Config
	if err := yamlUnmarshalStrict(configYAML, &cfg); err != nil {
		return nil, cmerrors.NewConfigError(fmt.Sprintf("failed to parse configuration YAML '%s'", filePathHint), err)
	}
	cfg.FilePath = filePathHint

	if err := checkSchemaVersion(cfg.SchemaVersion); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if errs := Validate(&cfg); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		combined := fmt.Sprintf("configuration '%s' has %d validation error(s):\n- %s",
			filePathHint, len(msgs), strings.Join(msgs, "\n- "))
		return nil, cmerrors.NewValidationError("", combined, errs[0])
	}
	return &cfg, nil
}

// LoadFromFile reads and loads the configuration at filePath.
func LoadFromFile(filePath string) (*Config, error) {
	if filePath == "" {
		return nil, cmerrors.NewConfigError("configuration file path cannot be empty", nil)
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, cmerrors.NewConfigError(fmt.Sprintf("failed to get absolute path for '%s'", filePath), err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, cmerrors.NewConfigError(fmt.Sprintf("failed to read configuration file '%s'", absPath), err)
	}
	return Load(data, absPath)
}

func checkSchemaVersion(version string) error {
	if version == "" {
		return cmerrors.NewValidationError("schemaVersion", "required field is missing", nil)
	}
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return cmerrors.NewValidationError("schemaVersion", fmt.Sprintf("invalid format '%s'", version), nil)
	}
	if semver.Major(v) != SupportedSchemaVersionConstraint {
		return cmerrors.NewValidationError("schemaVersion",
			fmt.Sprintf("'%s' is not compatible with required '%s'", version, SupportedSchemaVersionConstraint), nil)
	}
	return nil
}

// yamlUnmarshalStrict rejects fields that Config does not declare.
func yamlUnmarshalStrict(in []byte, out interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(in))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("YAML parsing error: %w", err)
	}
	return nil
}
