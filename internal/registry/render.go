package registry

import (
	"fmt"
	"strings"

	"github.com/prometheus/common/expfmt"

	cmerrors "github.com/gxo-labs/cumetrics/pkg/cumetrics/v1/errors"
)

// Render returns every metric family in the backing Prometheus registry in
// the Prometheus text exposition format (version 0.0.4). Records for
// different label sets are independent; consumers should treat the output
// as an unordered set keyed by name and labels.
//
// The only failure is an *errors.EncodingError, returned when a family
// cannot be gathered or written. Nothing is retried here.
func (r *Registry) Render() (string, error) {
	families, err := r.prom.Gather()
	if err != nil {
		return "", cmerrors.NewEncodingError("failed to gather metric families", err)
	}

	var sb strings.Builder
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&sb, mf); err != nil {
			return "", cmerrors.NewEncodingError(fmt.Sprintf("failed to encode metric family '%s'", mf.GetName()), err)
		}
	}
	return sb.String(), nil
}
