package prometheus

import (
	"github.com/iotaledger/hive.go/app"
)

// ParametersPrometheus contains the definition of the parameters used by Prometheus.
type ParametersPrometheus struct {
	// Enabled defines whether the prometheus plugin is enabled.
	Enabled bool `default:"true" usage:"whether the prometheus plugin is enabled"`
	// BindAddress defines the bind address on which the Prometheus exporter listens on.
	BindAddress string `default:"localhost:9311" usage:"the bind address on which the Prometheus exporter listens on"`

	// GoMetrics defines whether to include go metrics.
	GoMetrics bool `default:"false" usage:"include go metrics"`
	// ProcessMetrics defines whether to include process metrics.
	ProcessMetrics bool `default:"false" usage:"include process metrics"`
	// PromhttpMetrics defines whether to include promhttp metrics.
	PromhttpMetrics bool `default:"false" usage:"include promhttp metrics"`
}

var ParamsPrometheus = &ParametersPrometheus{}

var params = &app.ComponentParams{
	Params: map[string]any{
		"prometheus": ParamsPrometheus,
	},
	Masked: nil,
}
