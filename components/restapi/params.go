package restapi

import (
	"github.com/iotaledger/hive.go/app"
)

// ParametersRestAPI contains the definition of the parameters used by REST API.
type ParametersRestAPI struct {
	// Enabled defines whether the REST API plugin is enabled.
	Enabled bool `default:"true" usage:"whether the REST API plugin is enabled"`
	// the bind address on which the REST API listens on
	BindAddress string `default:"127.0.0.1:14265" usage:"the bind address on which the REST API listens on"`
	// UseGZIP defines whether to use the gzip middleware to compress HTTP responses
	UseGZIP bool `default:"true" usage:"use the gzip middleware to compress HTTP responses"`
	// whether the debug logging for requests should be enabled
	DebugRequestLoggerEnabled bool `default:"false" usage:"whether the debug logging for requests should be enabled"`

	Limits struct {
		// the maximum number of characters that the body of an API call may contain
		MaxBodyLength string `default:"1M" usage:"the maximum number of characters that the body of an API call may contain"`
		// the maximum number of results that may be returned by an endpoint
		MaxResults int `default:"1000" usage:"the maximum number of results that may be returned by an endpoint"`
	}

	RateLimiting struct {
		// Enabled defines whether rate limiting is enabled
		Enabled bool `default:"true" usage:"whether rate limiting is enabled"`
		// MaxRequestsPerSecond defines the maximum requests per second from a single IP
		MaxRequestsPerSecond float64 `default:"10" usage:"maximum requests per second from a single IP"`
		// Burst defines the maximum burst size for rate limiting
		Burst int `default:"20" usage:"maximum burst size for rate limiting"`
	} `name:"rateLimiting"`
}

var ParamsRestAPI = &ParametersRestAPI{}

var params = &app.ComponentParams{
	Params: map[string]any{
		"restAPI": ParamsRestAPI,
	},
	Masked: nil,
}
