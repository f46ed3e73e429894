package main

import (
	"context"
	"flag"
	"log"
	"os"

	"mcbridged/internal/engine"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "/etc/mcbridged/relay.yaml", "path to the relay configuration document")
	markerPath := flag.String("restart-marker", "", "override the restart-request marker path")
	ruleFile := flag.String("rule-file", "", "override the forwarding rule file path")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		log.Printf("mcbridged %s", version)
		return
	}

	e := engine.New(engine.Options{
		ConfigPath: *configPath,
		MarkerPath: *markerPath,
		RuleFile:   *ruleFile,
	})
	os.Exit(e.Run(context.Background()))
}
