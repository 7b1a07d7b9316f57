package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/juju/errors"
	"github.com/temoto/trackrelay/cmd/trackrelay/mockserver"
	"github.com/temoto/trackrelay/cmd/trackrelay/run"
	"github.com/temoto/trackrelay/cmd/trackrelay/subcmd"
	"github.com/temoto/trackrelay/cmd/trackrelay/workercmd"
	"github.com/temoto/trackrelay/internal/state"
	"github.com/temoto/trackrelay/log2"
)

var BuildVersion string = "unknown" // set by ldflags -X

var log = log2.NewStderr(log2.LInfo)

var modules = []subcmd.Mod{
	run.Mod,
	workercmd.Mod,
	mockserver.Mod,
}

func main() {
	flagConfig := flag.String("config", "trackrelay.hcl", "")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [option] command\n\nCommands:\n", os.Args[0])
		for _, m := range modules {
			fmt.Fprintf(flag.CommandLine.Output(), "  %-12s %s\n", m.Name, m.Usage)
		}
		fmt.Fprintf(flag.CommandLine.Output(), "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if subcmd.SdNotify("start") {
		// under systemd, journal adds timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	command := flag.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	c := &config.Tracker
	if c.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	log.SetPrefix(fmt.Sprintf("[%d] ", c.SourceID))
	log.Debugf("config=%+v", *c)

	g := state.NewGlobal(log, config)
	g.BuildVersion = BuildVersion
	if g.ConfigPath, err = filepath.Abs(*flagConfig); err != nil {
		g.ConfigPath = *flagConfig
	}
	log.Infof("trackrelay version=%s command=%s", BuildVersion, mod.Name)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = state.ContextWithGlobal(ctx, g)
	err = mod.Main(ctx, config)
	// wait for background tasks like metrics server
	g.Alive.Stop()
	g.Alive.Wait()
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}
