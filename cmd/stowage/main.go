package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"
	"gopkg.in/alecthomas/kingpin.v2"

	"go.stowage.net/stowage/api"
	"go.stowage.net/stowage/api/stowage"
	"go.stowage.net/stowage/load"
)

/*
	Output serialization formats
*/
const (
	FmtJson = "json"
	FmtDumb = "dumb"
)

type baseCLI struct {
	Format         string        // Output api format, eg. json
	Timeout        time.Duration // Timeout duration eg. "60s"
	ProgressEnable bool          // Emit progress notification yes/no
	LoadCLI        struct {
		Origin string // Origin to visit
		Target string // Warehouse address to transmit into
		Tuning stowage.LoadTuning
	}
	ScanCLI struct {
		Origin string
		Tuning stowage.LoadTuning
	}
}

func configureTuning(cmd *kingpin.CmdClause, tuning *stowage.LoadTuning) {
	cmd.Flag("content-packet-size", "Max items per content packet").
		IntVar(&tuning.ContentPacketSize)
	cmd.Flag("content-packet-bytes", "Max cumulative bytes per content packet").
		Int64Var(&tuning.ContentPacketSizeBytes)
	cmd.Flag("directory-packet-size", "Max items per directory packet").
		IntVar(&tuning.DirectoryPacketSize)
	cmd.Flag("revision-packet-size", "Max items per revision packet").
		IntVar(&tuning.RevisionPacketSize)
	cmd.Flag("release-packet-size", "Max items per release packet").
		IntVar(&tuning.ReleasePacketSize)
	cmd.Flag("occurrence-packet-size", "Max items per occurrence packet").
		IntVar(&tuning.OccurrencePacketSize)
	cmd.Flag("max-content-size", "Contents over this many bytes ship as absent back-references").
		Int64Var(&tuning.MaxContentSize)
	cmd.Flag("retries", "How many times a rejected packet is re-offered").
		IntVar(&tuning.SendRetries)
	cmd.Flag("strict", "Fail the load on a malformed tree instead of skipping its revisions").
		BoolVar(&tuning.StrictConversion)
	cmd.Flag("skip-contents", "Convert but do not transmit contents").
		BoolVar(&tuning.SkipContents)
	cmd.Flag("skip-directories", "Convert but do not transmit directories").
		BoolVar(&tuning.SkipDirectories)
	cmd.Flag("skip-revisions", "Convert but do not transmit revisions").
		BoolVar(&tuning.SkipRevisions)
	cmd.Flag("skip-releases", "Convert but do not transmit releases").
		BoolVar(&tuning.SkipReleases)
	cmd.Flag("skip-occurrences", "Convert but do not transmit occurrences").
		BoolVar(&tuning.SkipOccurrences)
}

func configureLoad(cli *baseCLI, cmd *kingpin.CmdClause) {
	cmd.Arg("origin", "Origin to visit: clone URL, local path, or archive path").
		Required().
		StringVar(&cli.LoadCLI.Origin)
	cmd.Arg("target", "Warehouse to transmit the derived objects into").
		Required().
		StringVar(&cli.LoadCLI.Target)
	configureTuning(cmd, &cli.LoadCLI.Tuning)
}

func configureScan(cli *baseCLI, cmd *kingpin.CmdClause) {
	cmd.Arg("origin", "Origin to visit: clone URL, local path, or archive path").
		Required().
		StringVar(&cli.ScanCLI.Origin)
	configureTuning(cmd, &cli.ScanCLI.Tuning)
}

/*
	Blocks until a sigint is received, then calls cancel.
*/
func CancelOnInterrupt(cancel context.CancelFunc) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt)
	<-signalChan
	cancel()
	close(signalChan)
}

func main() {
	ctx := context.Background()
	exitCode := Main(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	os.Exit(int(exitCode))
}

func Main(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) stowage.ExitCode {
	ctx, cancel := context.WithCancel(ctx)
	go CancelOnInterrupt(cancel)

	cli := baseCLI{}

	app := kingpin.New("stowage", "Repository history, content-addressed and shipped")
	app.HelpFlag.Short('h')

	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)

	app.Flag("timeout", "Timeout for command").
		DurationVar(&cli.Timeout)
	app.Flag("format", "Output api format").
		Default(FmtDumb).
		EnumVar(&cli.Format, FmtJson, FmtDumb)
	app.Flag("progress", "Emit progress notification").
		BoolVar(&cli.ProgressEnable)

	appLoad := app.Command("load", "derive objects from an origin's history and transmit them")
	configureLoad(&cli, appLoad)

	appScan := app.Command("scan", "derive and count objects without durable storage")
	configureScan(&cli, appScan)

	var termErr error
	app.Terminate(func(status int) {
		termErr = fmt.Errorf("parsing error: %d\n", status)
	})
	cmd, err := app.Parse(args[1:])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return stowage.ExitUsage
	}
	if termErr != nil {
		fmt.Fprintln(stderr, termErr)
		return stowage.ExitUsage
	}

	if cli.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, cli.Timeout)
		defer cancelTimeout()
	}

	var visit api.Visit
	switch cmd {
	case appLoad.FullCommand():
		visit, err = executeLoad(ctx, cli, cli.LoadCLI.Origin, cli.LoadCLI.Target, cli.LoadCLI.Tuning, stdout, stderr)
	case appScan.FullCommand():
		visit, err = executeLoad(ctx, cli, cli.ScanCLI.Origin, "memory://", cli.ScanCLI.Tuning, stdout, stderr)
	}
	SerializeResult(cli.Format, visit, err, stdout, stderr)
	return exitCodeForError(err)
}

func executeLoad(ctx context.Context, cli baseCLI, origin string, target string, tuning stowage.LoadTuning, stdout, stderr io.Writer) (api.Visit, error) {
	evCh := make(chan stowage.Event, 64)
	rendererDone := make(chan struct{})
	go renderEvents(cli, evCh, stdout, stderr, rendererDone)
	visit, err := load.Load(ctx,
		api.OriginAddr(origin),
		api.WarehouseAddr(target),
		tuning,
		stowage.Monitor{Chan: evCh},
	)
	<-rendererDone
	return visit, err
}

/*
	Drains the monitor channel until the load closes it.

	In dumb mode events render as human logs on stderr; in json mode each
	event lands on stdout as one json document per line, ready for a
	supervising process to consume.
*/
func renderEvents(cli baseCLI, evCh <-chan stowage.Event, stdout, stderr io.Writer, done chan<- struct{}) {
	defer close(done)
	log := logrus.New()
	log.SetOutput(stderr)
	marshaller := refmt.NewMarshallerAtlased(json.EncodeOptions{}, stdout, stowage.Atlas)
	for ev := range evCh {
		switch cli.Format {
		case FmtJson:
			if err := marshaller.Marshal(&ev); err != nil {
				panic(err)
			}
			fmt.Fprintln(stdout)
		case FmtDumb:
			switch {
			case ev.Phase != nil && !ev.Phase.Done:
				log.WithField("kind", ev.Phase.Kind).Info("phase started")
			case ev.Phase != nil:
				log.WithField("kind", ev.Phase.Kind).Info("phase completed")
			case ev.Progress != nil && cli.ProgressEnable:
				log.WithFields(logrus.Fields{
					"kind":    ev.Progress.Kind,
					"packets": ev.Progress.Packets,
					"objects": ev.Progress.Objects,
				}).Info("progress")
			case ev.Skipped != nil:
				log.WithFields(logrus.Fields{
					"revision": ev.Skipped.Revision,
					"reason":   ev.Skipped.Reason,
				}).Warn("revision skipped")
			}
		}
	}
}

func SerializeResult(format string, visit api.Visit, resultErr error, stdout io.Writer, stderr io.Writer) {
	result := &stowage.Event_Result{
		Visit: visit,
	}
	result.SetError(resultErr)
	ev := stowage.Event{Result: result}
	switch format {
	case FmtJson:
		marshaller := refmt.NewMarshallerAtlased(json.EncodeOptions{}, stdout, stowage.Atlas)
		err := marshaller.Marshal(&ev)
		if err != nil {
			panic(err)
		}
		fmt.Fprintln(stdout)
	case FmtDumb:
		if resultErr != nil {
			fmt.Fprintln(stderr, resultErr)
		}
		fmt.Fprintf(stdout, "visit %s: %s", visit.ID, visit.Status)
		for _, kind := range api.KindsInPhaseOrder {
			fmt.Fprintf(stdout, " %s=%d", kind, visit.Counts[kind])
		}
		fmt.Fprintln(stdout)
	default:
		panic(fmt.Errorf("stowage: invalid format %s", format))
	}
}

func exitCodeForError(err error) stowage.ExitCode {
	if err == nil {
		return stowage.ExitSuccess
	}
	switch Category(err) {
	case stowage.ErrUsage:
		return stowage.ExitUsage
	case stowage.ErrSourceUnavailable:
		return stowage.ExitSourceUnavailable
	case stowage.ErrSourceRead:
		return stowage.ExitSourceRead
	case stowage.ErrConversion:
		return stowage.ExitConversion
	case stowage.ErrWarehouseUnavailable:
		return stowage.ExitWarehouseUnavailable
	case stowage.ErrTransmission:
		return stowage.ExitTransmission
	case stowage.ErrCancelled:
		return stowage.ExitCancelled
	case stowage.ErrNotImplemented:
		return stowage.ExitNotImplemented
	case stowage.ErrLocalScratchProblem:
		return stowage.ExitLocalScratchProblem
	default:
		return stowage.ExitTODO
	}
}
