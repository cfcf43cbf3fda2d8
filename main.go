package main

import (
	"github.com/dueldanov/claimescrow/core/app"
)

func main() {
	app.App().Run()
}
