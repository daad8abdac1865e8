package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/logs"
	"github.com/pyjam-as/tunnel/pkg/caddy"
	"github.com/pyjam-as/tunnel/pkg/wg"
	"github.com/pyjam-as/tunnel/tunnel"
)

func main() {
	parser := argparse.NewParser("tunnel", "Ephemeral HTTPS tunnels over WireGuard")
	confDir := parser.String("", "confdir", &argparse.Options{Help: "Directory for the WireGuard interface config (overrides TUNNEL_CONF_DIR)", Default: ""})
	httpAddr := parser.String("", "listen", &argparse.Options{Help: "HTTP listen address of the provisioning API (overrides TUNNEL_HTTP_ADDR)", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := tunnel.ConfigFromEnv()
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *confDir != "" {
		cfg.ConfDir = *confDir
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}

	svc, err := tunnel.StartService(logger, cfg, wg.NewExecKeySource(), wg.NewExecCommander(), caddy.NewClient(logger, cfg.CaddyHostname))
	if err != nil {
		logger.Errorf("Failed to start tunnel service: %v", err)
		os.Exit(1)
	}

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	err = svc.ListenHTTP(cfg.HTTPAddr)
	logger.Errorf("HTTP server exited: %v", err)
	logger.Close()
	os.Exit(1)
}
