package database

import (
	"github.com/iotaledger/hive.go/app"
)

// ParametersDatabase contains the definition of the parameters used by the database.
type ParametersDatabase struct {
	// Engine defines the used database engine (pebble/mapdb).
	Engine string `default:"pebble" usage:"the used database engine (pebble/mapdb)"`
	// Path defines the path to the database folder.
	Path string `default:"claimescrowdb" usage:"the path to the database folder"`
}

var ParamsDatabase = &ParametersDatabase{}

var params = &app.ComponentParams{
	Params: map[string]any{
		"db": ParamsDatabase,
	},
	Masked: nil,
}
