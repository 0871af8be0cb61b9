package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/zeozeozeo/gpfifo/emulator"
	"github.com/zeozeozeo/gpfifo/trace"
	"github.com/zeozeozeo/gpfifo/viewer"
)

// Width of one "index name value" cell of a register dump, separator included
const dumpCellWidth = 37

// A channel being replayed
type channel struct {
	id      int
	gpfifo  *emulator.GPFIFO
	host    *emulator.QueueHost
	entries []trace.Entry
}

func main() {
	if err := run(); err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// parse arguments
	tracePath := flag.String("trace", "", "method trace to replay (.csv or .parquet)")
	exportPath := flag.String("export", "", "write the loaded trace to this Parquet file and exit")
	syncpointCount := flag.Int("syncpoints", emulator.MAX_SYNCPOINTS, "number of syncpoints shared by the channels")
	timeout := flag.Duration("timeout", 0, "bound on semaphore, syncpoint and idle waits (0 waits forever)")
	pollInterval := flag.Duration("poll", emulator.DEFAULT_POLL_INTERVAL, "semaphore acquire poll interval")
	watch := flag.String("watch", "", "comma separated method indices to watch")
	verbose := flag.Bool("v", false, "trace every method write")
	view := flag.Bool("view", false, "show the register viewer while replaying")
	flag.Parse()

	if *tracePath == "" {
		flag.Usage()
		return errors.New("missing -trace")
	}

	// load trace
	log.Printf("loading trace \"%s\"", *tracePath)
	start := time.Now()
	entries, err := trace.Load(*tracePath)
	if err != nil {
		return err
	}
	log.Printf("loaded %d methods in %s", len(entries), time.Since(start))

	if *exportPath != "" {
		return trace.WriteParquet(*exportPath, entries)
	}

	watched, err := parseMethods(*watch)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// build the channels, they share memory and syncpoints
	ram := emulator.NewRAM()
	syncpoints := emulator.NewSyncpointSet(*syncpointCount)
	groups := trace.Group(entries)

	var channels []*channel
	for _, id := range trace.Channels(entries) {
		host := emulator.NewQueueHost()
		var debugger *emulator.Debugger
		if len(watched) > 0 {
			debugger = emulator.NewDebugger()
			for _, method := range watched {
				debugger.AddMethodWatchpoint(method)
			}
		}

		channels = append(channels, &channel{
			id:   id,
			host: host,
			gpfifo: emulator.NewGPFIFO(emulator.Config{
				Memory:       ram,
				Syncpoints:   syncpoints,
				Host:         host,
				Logger:       logger.With("channel", id),
				Debugger:     debugger,
				WaitTimeout:  *timeout,
				PollInterval: *pollInterval,
			}),
			entries: groups[id],
		})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			return replay(gctx, ch, logger)
		})
	}

	if *view {
		shown := make([]viewer.Channel, len(channels))
		for i, ch := range channels {
			shown[i] = viewer.Channel{ID: ch.id, GPFIFO: ch.gpfifo, Host: ch.host}
		}
		if err := viewer.Run(viewer.New(syncpoints, shown...)); err != nil {
			return err
		}
		// closing the window tears the channels down
		for _, ch := range channels {
			ch.gpfifo.Close()
		}
	}

	err = g.Wait()
	for _, ch := range channels {
		fmt.Printf("channel %d:\n%s\n", ch.id, ch.gpfifo.Dump(dumpColumns()))
	}
	return err
}

// Writes every method of a channel in order, logging host events in between
func replay(ctx context.Context, ch *channel, logger *slog.Logger) error {
	start := time.Now()
	for idx, entry := range ch.entries {
		if entry.Method >= emulator.GPFIFO_REGISTER_COUNT {
			return fmt.Errorf("channel %d: entry %d: method 0x%x out of range", ch.id, idx, entry.Method)
		}
		if err := ch.gpfifo.Write(ctx, entry.Method, entry.Argument); err != nil {
			return fmt.Errorf("channel %d: entry %d: %w", ch.id, idx, err)
		}

		for _, ev := range ch.host.Drain() {
			if ev.Kind == emulator.EVENT_FAULT {
				logger.Warn("fault", "channel", ch.id, "entry", idx, "error", ev.Fault.Error())
				continue
			}
			logger.Debug("event", "channel", ch.id, "entry", idx, "kind", ev.Kind.String(), "value", ev.Value)
		}
	}

	log.Printf("channel %d: replayed %d methods in %s", ch.id, len(ch.entries), time.Since(start))
	return nil
}

// Parses a list like "0x07,29"
func parseMethods(list string) ([]uint32, error) {
	if list == "" {
		return nil, nil
	}

	var methods []uint32
	for _, field := range strings.Split(list, ",") {
		method, err := strconv.ParseUint(strings.TrimSpace(field), 0, 32)
		if err != nil || method >= emulator.GPFIFO_REGISTER_COUNT {
			return nil, fmt.Errorf("invalid method %q", field)
		}
		methods = append(methods, uint32(method))
	}
	return methods, nil
}

// Number of register dump columns that fit in the terminal
func dumpColumns() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 2
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width < dumpCellWidth {
		return 1
	}
	return width / dumpCellWidth
}
