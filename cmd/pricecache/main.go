package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path"

	_ "time/tzdata"

	"github.com/google/subcommands"
)

var configPath = flag.String("config", defaultConfigPath(), "path to the YAML config file")

func defaultConfigPath() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return "configs/config.yaml"
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&serveCmd{}, "")
	commander.Register(&refreshCmd{}, "admin")
	commander.Register(&staleCmd{}, "admin")
	commander.Register(&usageCmd{}, "admin")
	commander.Register(&correctCmd{}, "admin")
	commander.Register(&priceCmd{}, "query")
	commander.Register(&historyCmd{}, "query")
	commander.ImportantFlag("config")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
