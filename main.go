package main

import (
	"context"
	"flag"
	"log"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/traceroute-graph/config"
	"github.com/m-lab/traceroute-graph/pipeline"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	configPath = flag.String("config", "Config.toml", "Path to the pipeline's TOML configuration file.")
	promPort   = flag.String("prom", ":9090", "Prometheus metrics export address and port.")

	ctx, cancel = context.WithCancel(context.Background())
)

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	// Expose prometheus metrics on a separate port.
	promSrv := prometheusx.MustStartPrometheus(*promPort)
	defer promSrv.Shutdown(ctx)
	defer cancel()

	cfg, err := config.Load(*configPath)
	rtx.Must(err, "Could not load config from %s", *configPath)

	rtx.Must(pipeline.Run(ctx, cfg), "Pipeline run failed")
}
