// Command tilepipe is a thin CLI over the tile-pipeline core: it opens
// a source (a container path/URL or a VPL pipeline string) via package
// registry and writes it out through the matching container writer,
// reporting progress through package runtime. Flag style follows the
// teacher's cmd/geotiff2pmtiles, generalized from one conversion (GeoTIFF
// -> PMTiles) to any reader -> any writer pair this module supports.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	runtimepkg "runtime"

	"github.com/pspoerri/tilepipe/containers/directory"
	"github.com/pspoerri/tilepipe/containers/mbtiles"
	"github.com/pspoerri/tilepipe/containers/pmtiles"
	"github.com/pspoerri/tilepipe/containers/tar"
	"github.com/pspoerri/tilepipe/containers/versatiles"
	"github.com/pspoerri/tilepipe/registry"
	"github.com/pspoerri/tilepipe/runtime"
	"github.com/pspoerri/tilepipe/tilesource"
	"github.com/pspoerri/tilepipe/vpl"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		showVersion bool
		concurrency int
		verbose     bool
		pipeline    bool
	)

	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.IntVar(&concurrency, "concurrency", runtimepkg.NumCPU(), "Number of parallel I/O-bound workers")
	flag.BoolVar(&verbose, "verbose", false, "Log step/warning events to stderr")
	flag.BoolVar(&pipeline, "pipeline", false, "Treat <input> as a VPL pipeline string instead of a container path/URL")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tilepipe [flags] <input> <output>\n\n")
		fmt.Fprintf(os.Stderr, "Convert between tile containers (mbtiles/pmtiles/versatiles/tar/directory).\n")
		fmt.Fprintf(os.Stderr, "With -pipeline, <input> is parsed as a VPL pipeline string instead of a\n")
		fmt.Fprintf(os.Stderr, "container path, e.g. 'from_container filename=\"a.pmtiles\" | filter zoom_max=10'.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("tilepipe %s (commit %s, built %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) != 2 {
		flag.Usage()
		os.Exit(2)
	}
	input, output := args[0], args[1]

	rt := runtime.New(registry.New(), runtime.CacheMemory, 0, runtime.ConcurrencyLimits{IOBound: concurrency, CPUBound: concurrency})
	if verbose {
		rt.Events.Subscribe(func(e runtime.Event) {
			switch e.Kind {
			case runtime.EventStep:
				fmt.Fprintf(os.Stderr, "step: %s\n", e.Message)
			case runtime.EventWarning:
				fmt.Fprintf(os.Stderr, "warning: %s\n", e.Message)
			case runtime.EventError:
				fmt.Fprintf(os.Stderr, "error: %s\n", e.Message)
			case runtime.EventLog:
				fmt.Fprintf(os.Stderr, "%s: %s\n", e.Level, e.Message)
			}
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Hour)
	defer cancel()

	if err := run(ctx, rt, input, output, pipeline, rt.Concurrency.IOBound); err != nil {
		fmt.Fprintf(os.Stderr, "tilepipe: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, rt *runtime.Runtime, input, output string, asPipeline bool, ioConcurrency int) error {
	src, err := openSource(ctx, rt.Sources, input, asPipeline)
	if err != nil {
		return err
	}
	rt.Events.Step(fmt.Sprintf("opened %s", src.SourceType()))

	progressHandle := rt.NewProgress(fmt.Sprintf("writing %s", output), true)
	progress := func(read, written uint64) { progressHandle.SetPosition((read + written) / 2) }

	if err := writeSource(ctx, src, output, ioConcurrency, progress); err != nil {
		return err
	}
	progressHandle.Finish()
	rt.Events.Step(fmt.Sprintf("wrote %s", output))
	return nil
}

func openSource(ctx context.Context, reg runtime.ContainerRegistry, input string, asPipeline bool) (tilesource.Source, error) {
	if !asPipeline {
		return reg.Open(ctx, input)
	}
	src, err := vpl.NewCompiler(reg).BuildString(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("building pipeline: %w", err)
	}
	return src, nil
}

func writeSource(ctx context.Context, src tilesource.Source, output string, ioConcurrency int, progress tilesource.Progress) error {
	switch containerExtension(output) {
	case "mbtiles":
		return mbtiles.WriteFromSource(ctx, output, src, ioConcurrency, progress)
	case "pmtiles":
		return pmtiles.WriteFromSource(ctx, output, src, pmtiles.WriterOptions{IOConcurrency: ioConcurrency, Progress: progress})
	case "versatiles":
		return versatiles.WriteFromSource(ctx, output, src, versatiles.WriterOptions{IOConcurrency: ioConcurrency, Progress: progress})
	case "tar":
		return tar.WriteFromSource(ctx, output, src, ioConcurrency, progress)
	case "":
		return directory.WriteFromSource(ctx, output, src, ioConcurrency, progress)
	default:
		return fmt.Errorf("no writer registered for output %q", output)
	}
}

func containerExtension(name string) string {
	ext := filepath.Ext(name)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
