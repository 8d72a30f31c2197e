package main

import (
	"github.com/alecthomas/kong"
	"github.com/block/histclean/pkg/buildinfo"
	"github.com/block/histclean/pkg/dedup"
)

// Set with -ldflags by the release build.
var (
	version string
	commit  string
	date    string
)

var cli struct {
	dedup.Dedup

	Version kong.VersionFlag `name:"version" help:"Print version information and quit."`
}

func main() {
	buildinfo.Set(version, commit, date)
	ctx := kong.Parse(&cli,
		kong.Name("histclean"),
		kong.Description("Find, back up and delete duplicate latest rows in append-only history tables."),
		kong.UsageOnError(),
		kong.Vars{"version": buildinfo.Get().String()},
	)
	ctx.FatalIfErrorf(ctx.Run())
}
