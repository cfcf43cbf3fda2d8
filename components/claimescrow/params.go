package claimescrow

import (
	"time"

	"github.com/iotaledger/hive.go/app"
)

type ParametersClaimEscrow struct {
	Enabled        bool          `default:"true" usage:"whether the claim escrow service is enabled"`
	DataDir        string        `default:"claimescrow_data" usage:"directory holding the claim hashing master key"`
	NetworkPrefix  string        `default:"iota" usage:"bech32 human readable part of caller identities"`
	TicketLifetime time.Duration `default:"10m" usage:"how long a claim ticket stays redeemable"`
	SweepInterval  time.Duration `default:"1m" usage:"interval at which elapsed escrows are expired and stale tickets purged"`

	GRPC struct {
		BindAddress   string `default:"0.0.0.0:9060" usage:"bind address for the claim escrow gRPC API"`
		TLSEnabled    bool   `default:"true" usage:"enable TLS for gRPC"`
		TLSCertPath   string `default:"" usage:"path to TLS certificate"`
		TLSKeyPath    string `default:"" usage:"path to TLS key"`
		TLSCACertPath string `default:"" usage:"path to the CA certificate used to verify client certificates, whose common name is the caller identity"`
		DevMode       bool   `default:"false" usage:"allow serving without TLS and trust the x-claim-caller header, for local development only"`
	} `name:"grpc"`

	RateLimit struct {
		Burst  int           `default:"10" usage:"claim calls a caller may make at once"`
		Window time.Duration `default:"1m" usage:"time after which a drained caller bucket is full again"`
	} `name:"rateLimit"`

	Alerts struct {
		GuessThreshold   int           `default:"20" usage:"wrong claim codes within the guess window that raise an alert"`
		GuessWindow      time.Duration `default:"5m" usage:"window for counting wrong claim codes"`
		PendingThreshold float64       `default:"0" usage:"pending escrows after a sweep that raise a backlog alert (0 disables)"`
		Cooldown         time.Duration `default:"5m" usage:"minimum time between two alerts of the same rule"`
	} `name:"alerts"`

	Audit struct {
		Enabled       bool          `default:"true" usage:"whether operations are recorded in the audit trail"`
		BufferSize    int           `default:"256" usage:"number of audit entries written per batch"`
		FlushInterval time.Duration `default:"5s" usage:"interval at which queued audit entries are written"`
	} `name:"audit"`
}

var ParamsClaimEscrow = &ParametersClaimEscrow{}

var params = &app.ComponentParams{
	Params: map[string]any{
		"claimEscrow": ParamsClaimEscrow,
	},
	Masked: []string{},
}
