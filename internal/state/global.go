package state

import (
	"context"
	"fmt"

	"github.com/temoto/alive/v2"
	"github.com/temoto/trackrelay/log2"
	"github.com/temoto/trackrelay/tracker"
)

// Global is process-wide state shared by subcommands.
type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	ConfigPath   string
	Log          *log2.Log
	Stat         *tracker.Stat
}

type contextKey struct{}

func NewGlobal(log *log2.Log, config *Config) *Global {
	return &Global{
		Alive:        alive.NewAlive(),
		BuildVersion: "unknown",
		Config:       config,
		Log:          log,
		Stat:         &tracker.Stat{},
	}
}

func ContextWithGlobal(ctx context.Context, g *Global) context.Context {
	return context.WithValue(ctx, contextKey{}, g)
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(contextKey{})
	if v == nil {
		panic("context global is nil")
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context global expected type *Global actual=%#v", v))
}
