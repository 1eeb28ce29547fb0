package config

import (
	"fmt"
	"regexp"
	"strings"

	cmerrors "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/errors"
)

// namespaceRegex follows the Prometheus metric name grammar.
var namespaceRegex = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

var validLogLevels = map[string]struct{}{"debug": {}, "info": {}, "warn": {}, "error": {}}

// Validate performs the logical checks that the JSON schema cannot express.
// It also runs on configurations assembled from command-line flags, so it
// re-checks ranges the schema already covers for files. All errors found are
// returned.
func Validate(c *Config) []error {
	var errs []error

	if c.ListenAddress == "" {
		errs = append(errs, cmerrors.NewValidationError("listen_address", "cannot be empty", nil))
	}
	if !strings.HasPrefix(c.MetricsPath, "/") {
		errs = append(errs, cmerrors.NewValidationError("metrics_path", fmt.Sprintf("'%s' must start with '/'", c.MetricsPath), nil))
	}
	if !strings.HasPrefix(c.ReportsPath, "/") {
		errs = append(errs, cmerrors.NewValidationError("reports_path", fmt.Sprintf("'%s' must start with '/'", c.ReportsPath), nil))
	} else if c.ReportsPath == c.MetricsPath {
		errs = append(errs, cmerrors.NewValidationError("reports_path", fmt.Sprintf("'%s' is already the metrics path", c.ReportsPath), nil))
	}
	if c.Namespace != "" && !namespaceRegex.MatchString(c.Namespace) {
		errs = append(errs, cmerrors.NewValidationError("namespace", fmt.Sprintf("'%s' is not a valid metric name prefix", c.Namespace), nil))
	}
	if _, ok := validLogLevels[strings.ToLower(c.LogLevel)]; !ok {
		errs = append(errs, cmerrors.NewValidationError("log_level", fmt.Sprintf("unknown level '%s'", c.LogLevel), nil))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, cmerrors.NewValidationError("log_format", fmt.Sprintf("must be 'text' or 'json', got '%s'", c.LogFormat), nil))
	}
	if c.GetEventBufferSize() <= 0 {
		errs = append(errs, cmerrors.NewValidationError("event_buffer_size", "must be positive", nil))
	}

	seen := make(map[string]struct{}, len(c.Workers))
	for i, w := range c.Workers {
		if w == "" {
			errs = append(errs, cmerrors.NewValidationError("workers", fmt.Sprintf("entry %d is empty", i), nil))
			continue
		}
		if _, dup := seen[w]; dup {
			errs = append(errs, cmerrors.NewValidationError("workers", fmt.Sprintf("duplicate worker '%s'", w), nil))
		}
		seen[w] = struct{}{}
	}
	return errs
}
