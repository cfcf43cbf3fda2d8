package app

import (
	"github.com/iotaledger/hive.go/app"

	"github.com/dueldanov/claimescrow/components/claimescrow"
	"github.com/dueldanov/claimescrow/components/database"
	"github.com/dueldanov/claimescrow/components/prometheus"
	"github.com/dueldanov/claimescrow/components/restapi"
)

var (
	// Name of the app.
	Name = "claimescrow"

	// Version of the app.
	Version = "0.1.0"
)

func App() *app.App {
	return app.New(Name, Version,
		app.WithInitComponent(InitComponent),
		app.WithComponents(
			database.Component,
			prometheus.Component,
			claimescrow.Component,
			restapi.Component,
		),
	)
}

var (
	InitComponent *app.InitComponent
)

func init() {
	InitComponent = &app.InitComponent{
		Component: &app.Component{
			Name: "App",
		},
		NonHiddenFlags: []string{
			"config",
			"help",
			"version",
		},
	}
}
