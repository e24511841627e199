package main

import (
	"os"

	"github.com/joho/godotenv"

	"routeperf/internal/cli"
	"routeperf/internal/config"
	perrors "routeperf/internal/errors"
	"routeperf/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		cli.PrintError(os.Stderr, err)
		os.Exit(perrors.ExitCode(err))
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	app := cli.NewApp(cfg, os.Stdout)
	err = cli.NewRootCmd(app).Execute()
	app.Close()
	if err != nil {
		cli.PrintError(os.Stderr, err)
		os.Exit(perrors.ExitCode(err))
	}
}
