package main

import (
	"os"

	"github.com/roach88/garland/internal/cli"
)

// version is stamped at build time:
//
//	go build -ldflags "-X main.version=v0.3.0" ./cmd/garland
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
