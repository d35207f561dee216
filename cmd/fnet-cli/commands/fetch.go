package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"fnet-dataget/internal/components/chrono"
	"fnet-dataget/internal/components/telemetry"
	"fnet-dataget/internal/history"
	"fnet-dataget/internal/scrapers/fnet"
	"fnet-dataget/internal/serviceutil"

	"github.com/spf13/cobra"
)

var (
	fetchStart     *string
	fetchEnd       *string
	fetchDuration  *int
	fetchFormat    *string
	fetchStation   *string
	fetchComponent *string
	fetchTimeRef   *string
	fetchOut       *string
	fetchProxies   *map[string]string
	fetchDumpHttp  *string
)

func init() {
	defaults := fnet.DefaultFilters()

	fetchStart = fetchCmd.Flags().String("start", "", "Start of the window (RFC3339, or YYYY-MM-DD HH:MM:SS in the --time reference).")
	fetchEnd = fetchCmd.Flags().String("end", "", "End of the window, defaults to now.")
	fetchDuration = fetchCmd.Flags().Int("duration", 0, "Length of the window in seconds, instead of --end.")
	fetchFormat = fetchCmd.Flags().String("format", string(defaults.Format), "Output format (SAC or SEED).")
	fetchStation = fetchCmd.Flags().String("station", defaults.Station, "Station code or ALL.")
	fetchComponent = fetchCmd.Flags().String("component", defaults.Component, "Component code, '?' is a wildcard in the last position.")
	fetchTimeRef = fetchCmd.Flags().String("time", string(defaults.TimeReference), "Time reference of the window (UT or JST).")
	fetchOut = fetchCmd.Flags().String("out", ".", "Existing directory the archive is saved to.")
	fetchProxies = fetchCmd.Flags().StringToString("proxy", nil, "Proxy per scheme, ex. --proxy http=http://127.0.0.1:1080.")
	fetchDumpHttp = fetchCmd.Flags().String("dump-http", "", "Directory to dump every HTTP exchange to.")

	fetchCmd.MarkFlagRequired("start")
	fetchCmd.MarkFlagsMutuallyExclusive("end", "duration")
	rootCmd.AddCommand(fetchCmd)
}

// fetchArgs holds the window and filter flags of the fetch command.
type fetchArgs struct {
	start     string
	end       string
	duration  int
	format    string
	station   string
	component string
	timeRef   string
	out       string
}

func fetchArgsFromFlags() fetchArgs {
	return fetchArgs{
		start:     *fetchStart,
		end:       *fetchEnd,
		duration:  *fetchDuration,
		format:    *fetchFormat,
		station:   *fetchStation,
		component: *fetchComponent,
		timeRef:   *fetchTimeRef,
		out:       *fetchOut,
	}
}

// buildRequest turns the flags into a FetchRequest, a missing end leaves the
// end zero so the client fills in its own clock.
func buildRequest(args fetchArgs) (fnet.FetchRequest, error) {
	filters := fnet.Filters{
		Format:        fnet.Format(args.format),
		Station:       args.station,
		Component:     args.component,
		TimeReference: fnet.TimeReference(args.timeRef),
	}
	loc, ok := filters.TimeReference.Location()
	if !ok {
		return fnet.FetchRequest{}, fmt.Errorf("unknown time reference %q", args.timeRef)
	}

	start, err := parseTime(args.start, loc)
	if err != nil {
		return fnet.FetchRequest{}, err
	}

	window := fnet.UntilTime(start, time.Time{})
	switch {
	case args.duration != 0:
		window = fnet.ForDuration(start, args.duration)
	case args.end != "":
		end, err := parseTime(args.end, loc)
		if err != nil {
			return fnet.FetchRequest{}, err
		}
		window = fnet.UntilTime(start, end)
	}

	return fnet.FetchRequest{
		Window:  window,
		Filters: filters,
		SaveDir: args.out,
	}, nil
}

// historyEntry summarizes one fetch, `now` is only used when the client
// never got far enough to stamp the result.
func historyEntry(req fnet.FetchRequest, result fnet.Result, fetchErr error, now time.Time) history.Entry {
	outcome := "downloaded"
	message := result.Message
	switch {
	case fetchErr != nil:
		outcome = "error"
		message = fetchErr.Error()
	case !result.Downloaded():
		outcome = result.NoData.String()
	}

	fetchedAt := result.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = now
	}

	return history.Entry{
		FetchedAt: fetchedAt,
		Handle:    string(result.Handle),
		Outcome:   outcome,
		Path:      result.Path,
		Message:   message,
		Station:   req.Filters.Station,
		Component: fnet.NormalizeComponent(req.Filters.Component),
		Start:     req.Window.Start(),
	}
}

// logParseFailure logs the raw submit response behind a ResponseParseError,
// the error message itself only carries its size.
func logParseFailure(logger *slog.Logger, err error) {
	var parseErr *fnet.ResponseParseError
	if errors.As(err, &parseErr) {
		logger.Warn("unrecognized submit response", "body", parseErr.Body)
	}
}

func recordHistory(ctx context.Context, path string, entry history.Entry) {
	store, err := history.Open(path)
	if err != nil {
		slog.Warn("failed to open history", "path", path, "err", err)
		return
	}
	defer store.Close()

	err = store.Record(ctx, entry)
	if err != nil {
		slog.Warn("failed to record history", "path", path, "err", err)
	}
}

var fetchCmd = &cobra.Command{
	Use:   "fetch --start <time> [--end <time> | --duration <seconds>]",
	Short: "Requests a waveform archive and saves it to --out.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := readConfig()
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if cfg.Username == "" {
			serviceutil.Fatal("missing credentials", fmt.Errorf("username is not set in %s", *configPath))
		}

		clock := chrono.NewStandardTime()
		req, err := buildRequest(fetchArgsFromFlags())
		if err != nil {
			serviceutil.Fatal("invalid arguments", err)
		}
		req.Proxies = cfg.Proxies
		if len(*fetchProxies) > 0 {
			req.Proxies = *fetchProxies
		}

		opts := fnet.ClientOptions{
			BaseUrl:     cfg.BaseUrl,
			Username:    cfg.Username,
			Password:    cfg.Password,
			Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
			Diagnostics: os.Stderr,
		}
		if *fetchDumpHttp != "" {
			output, err := telemetry.NewFilesystemOutput(*fetchDumpHttp)
			if err != nil {
				serviceutil.Fatal("failed to prepare http dump directory", err)
			}
			opts.MessageOutput = output
		}

		client, err := fnet.NewClient(opts, telemetry.NewSlogAPI(), clock)
		if err != nil {
			serviceutil.Fatal("failed to initialize client", err)
		}

		slog.Info("requesting waveform", "username", cfg.Username, "station", req.Filters.Station, "component", req.Filters.Component)
		result, err := client.FetchWaveform(cmd.Context(), req)
		if cfg.HistoryDb != "" {
			recordHistory(cmd.Context(), cfg.HistoryDb, historyEntry(req, result, err, clock.Now()))
		}

		logParseFailure(slog.Default(), err)

		if errors.Is(err, fnet.ErrAuthentication) {
			serviceutil.Fatal("unauthorized, please check your username and password", err)
		}
		if err != nil {
			serviceutil.Fatal("failed to fetch waveform", err)
		}
		if !result.Downloaded() {
			slog.Warn("no archive produced", "reason", result.NoData.String(), "handle", result.Handle)
			return
		}

		fmt.Println(result.Path)
	},
}
