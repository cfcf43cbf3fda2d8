package database

import (
	"context"
	"fmt"

	"github.com/iotaledger/hive.go/app"
	"github.com/iotaledger/hive.go/kvstore"
	hivedb "github.com/iotaledger/hive.go/kvstore/database"
	"github.com/iotaledger/hive.go/kvstore/mapdb"
	pebbledb "github.com/iotaledger/hive.go/kvstore/pebble"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	"github.com/dueldanov/claimescrow/pkg/daemon"
)

func init() {
	Component = &app.Component{
		Name:     "Database",
		DepsFunc: func(cDeps dependencies) { deps = cDeps },
		Params:   params,
		Provide:  provide,
		Run:      run,
	}
}

var (
	Component *app.Component
	deps      dependencies

	// AllowedEngines are the database engines the store can run on. mapdb
	// keeps nothing across restarts.
	AllowedEngines = []hivedb.Engine{
		hivedb.EnginePebble,
		hivedb.EngineMapDB,
	}
)

type dependencies struct {
	dig.In

	Store kvstore.KVStore
}

func provide(c *dig.Container) error {
	if err := c.Provide(func() kvstore.KVStore {
		store, engine, err := OpenStore(ParamsDatabase.Engine, ParamsDatabase.Path)
		if err != nil {
			Component.LogPanicf("failed to open database: %s", err)
		}

		if engine == hivedb.EngineMapDB {
			Component.LogWarn("Using in-memory mapdb store, escrows are lost on shutdown")
		} else {
			Component.LogInfof("Using %s store at %s", engine, ParamsDatabase.Path)
		}

		return store
	}); err != nil {
		Component.LogPanic(err)
	}

	return nil
}

// OpenStore opens the store shared by the ledger, custody table and audit
// trail. Each of them works in its own realm. The engine a database folder
// was created with is recorded in it and must match on later starts.
func OpenStore(engineName, path string) (kvstore.KVStore, hivedb.Engine, error) {
	engine, err := hivedb.EngineFromStringAllowed(engineName, AllowedEngines)
	if err != nil {
		return nil, hivedb.EngineUnknown, err
	}

	engine, err = hivedb.CheckEngine(path, true, engine, AllowedEngines)
	if err != nil {
		return nil, hivedb.EngineUnknown, err
	}

	switch engine {
	case hivedb.EnginePebble:
		db, err := pebbledb.CreateDB(path)
		if err != nil {
			return nil, engine, errors.Wrapf(err, "opening pebble database at %s", path)
		}

		return pebbledb.New(db), engine, nil

	case hivedb.EngineMapDB:
		return mapdb.NewMapDB(), engine, nil

	default:
		return nil, engine, fmt.Errorf("unknown database engine: %s, supported engines: pebble/mapdb", engine)
	}
}

func run() error {
	if err := Component.Daemon().BackgroundWorker("Close database", func(ctx context.Context) {
		<-ctx.Done()

		Component.LogInfo("Closing database ...")
		if err := deps.Store.Flush(); err != nil {
			Component.LogErrorf("Failed to flush database: %s", err)
		}
		if err := deps.Store.Close(); err != nil {
			Component.LogErrorf("Failed to close database: %s", err)
		}
		Component.LogInfo("Closing database ... done")
	}, daemon.PriorityCloseDatabase); err != nil {
		Component.LogPanicf("failed to start worker: %s", err)
	}

	return nil
}
