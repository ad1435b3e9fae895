package main

import (
	"os"

	"github.com/darshan-rambhia/hublens/internal/cli"
)

// @title hublens API
// @version 1.0
// @description Cached dashboards, pinned charts and alert history for monitoring hubs
// @host localhost:3810
// @BasePath /

// Set via ldflags at build time.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, buildTime)
	os.Exit(cli.Execute())
}
