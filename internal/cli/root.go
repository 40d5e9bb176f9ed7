// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/cyberdrop-dl-go/cyberdrop/internal/tui"
	"github.com/cyberdrop-dl-go/cyberdrop/pkg/cyberdrop"
)

// RootOpts holds global CLI options shared across subcommands.
type RootOpts struct {
	JSONOut bool
	Quiet   bool
	Verbose bool
	Config  string
	LogFile string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "cyberdrop-dl",
		Short:         "Concurrent bulk media downloader with dedup and resume",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (minimal logs)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose flag (accepted; adds no extra log output)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&ro.LogFile, "log-file", "", "Write logs to file (in addition to stderr)")

	runCmd := newRunCmd(ctx, ro)
	root.AddCommand(runCmd)
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newConfigCmd())
	root.AddCommand(newHashCmd(ro))

	root.RunE = runCmd.RunE
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newRunCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	cfg := cyberdrop.DefaultSettings()
	var flares bool
	var cookieFiles []string

	cmd := &cobra.Command{
		Use:   "run [URL...]",
		Short: "Scrape and download every file reachable from the given URLs",
		Args:  cobra.MinimumNArgs(0),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applySettingsDefaults(cmd, ro, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("no URLs given; pass one or more seed URLs")
			}
			cfg.FlaresolverrEnabled = flares
			cfg.CookieFiles = cookieFiles

			logger := buildLogger(ro)
			engine, err := cyberdrop.NewEngine(cfg, logger)
			if err != nil {
				return err
			}
			defer engine.Close(ctx)

			var progress cyberdrop.ProgressFunc
			switch {
			case ro.JSONOut:
				progress = jsonProgress(os.Stdout)
			case ro.Quiet:
				progress = cliProgress()
			case term.IsTerminal(int(os.Stdout.Fd())):
				ui := tui.NewLiveRenderer()
				defer ui.Close()
				progress = ui.Handler()
			default:
				bar := pbProgress()
				defer bar.finish()
				progress = bar.handler()
			}

			return engine.Run(ctx, args, progress)
		},
	}

	cmd.Flags().StringVarP(&cfg.OutputDir, "output", "o", cfg.OutputDir, "Destination base directory")
	cmd.Flags().IntVar(&cfg.MaxSimultaneousDownloads, "max-downloads", cfg.MaxSimultaneousDownloads, "Global concurrent download limit")
	cmd.Flags().IntVar(&cfg.MaxSimultaneousScrapes, "max-scrapes", cfg.MaxSimultaneousScrapes, "Global concurrent scrape limit")
	cmd.Flags().IntVar(&cfg.MaxRetries, "retries", cfg.MaxRetries, "Max retry attempts per download")
	cmd.Flags().DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "Initial retry backoff duration")
	cmd.Flags().DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Maximum retry backoff duration")
	cmd.Flags().StringVar(&cfg.HashMode, "hash-mode", cfg.HashMode, "Hashing mode: off|post|in_place")
	cmd.Flags().BoolVar(&cfg.AutoDedupe, "auto-dedupe", cfg.AutoDedupe, "Remove duplicate downloads after the run")
	cmd.Flags().BoolVar(&cfg.SendDeletedToTrash, "send-to-trash", cfg.SendDeletedToTrash, "Send deduped files to the OS trash instead of deleting permanently")
	cmd.Flags().Int64Var(&cfg.MinFreeBytes, "min-free-space", cfg.MinFreeBytes, "Pause downloads when free space drops below this many bytes")
	cmd.Flags().StringVar(&cfg.FlaresolverrURL, "flaresolverr-url", cfg.FlaresolverrURL, "Flaresolverr instance base URL")
	cmd.Flags().BoolVar(&flares, "flaresolverr", false, "Enable Flaresolverr escalation for anti-bot challenges")
	cmd.Flags().StringSliceVar(&cookieFiles, "cookie-file", nil, "Netscape-format cookie file to import (repeatable)")
	cmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path for history/hash tables")
	cmd.Flags().BoolVar(&cfg.IgnoreHistory, "ignore-history", false, "Ignore download history; re-download everything")
	cmd.Flags().StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent header sent with every request")

	return cmd
}

func newHashCmd(ro *RootOpts) *cobra.Command {
	var dbPath string
	var dedupe bool
	var addMD5, addSHA256 bool

	cmd := &cobra.Command{
		Use:   "hash [PATH]",
		Short: "Hash every file under PATH into the dedup database without downloading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cyberdrop.DefaultSettings()
			cfg.DBPath = dbPath
			cfg.AutoDedupe = dedupe
			cfg.AddMD5 = addMD5
			cfg.AddSHA256 = addSHA256

			logger := buildLogger(ro)
			removed, err := cyberdrop.HashDirectory(args[0], cfg, logger)
			if err != nil {
				return err
			}
			if dedupe {
				fmt.Printf("hashed %s, removed %d duplicate file(s)\n", args[0], removed)
			} else {
				fmt.Printf("hashed %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", cyberdrop.DefaultSettings().DBPath, "SQLite database path for the hash table")
	cmd.Flags().BoolVar(&dedupe, "auto-dedupe", false, "Remove duplicate files found during the scan")
	cmd.Flags().BoolVar(&addMD5, "add-md5", false, "Also compute and store MD5 digests")
	cmd.Flags().BoolVar(&addSHA256, "add-sha256", false, "Also compute and store SHA256 digests")
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func buildLogger(ro *RootOpts) *log.Logger {
	var w io.Writer = os.Stderr
	if ro.LogFile != "" {
		if f, err := os.OpenFile(ro.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			w = io.MultiWriter(os.Stderr, f)
		}
	}
	if ro.Quiet {
		w = io.Discard
	}
	return log.New(w, "", log.LstdFlags)
}

func applySettingsDefaults(cmd *cobra.Command, ro *RootOpts, dst *cyberdrop.Settings) error {
	path := ro.Config
	if path == "" {
		home, _ := os.UserHomeDir()
		for _, candidate := range []string{
			filepath.Join(home, ".config", "cyberdrop-dl.json"),
			filepath.Join(home, ".config", "cyberdrop-dl.yaml"),
			filepath.Join(home, ".config", "cyberdrop-dl.yml"),
		} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fileCfg map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fileCfg); err != nil {
			return fmt.Errorf("invalid YAML config file: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &fileCfg); err != nil {
			return fmt.Errorf("invalid JSON config file: %w", err)
		}
	}

	setStr := func(flagName string, set func(string)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := fileCfg[flagName]; ok && v != nil {
			set(fmt.Sprint(v))
		}
	}
	setInt := func(flagName string, set func(int)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := fileCfg[flagName]; ok && v != nil {
			var x int
			fmt.Sscan(fmt.Sprint(v), &x)
			set(x)
		}
	}
	setDuration := func(flagName string, set func(time.Duration)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := fileCfg[flagName]; ok && v != nil {
			if d, err := time.ParseDuration(fmt.Sprint(v)); err == nil {
				set(d)
			}
		}
	}

	setStr("output", func(v string) { dst.OutputDir = v })
	setInt("max-downloads", func(v int) { dst.MaxSimultaneousDownloads = v })
	setInt("max-scrapes", func(v int) { dst.MaxSimultaneousScrapes = v })
	setInt("retries", func(v int) { dst.MaxRetries = v })
	setDuration("backoff-initial", func(v time.Duration) { dst.BackoffInitial = v })
	setDuration("backoff-max", func(v time.Duration) { dst.BackoffMax = v })
	setStr("hash-mode", func(v string) { dst.HashMode = v })
	setStr("flaresolverr-url", func(v string) { dst.FlaresolverrURL = v })
	setStr("db", func(v string) { dst.DBPath = v })

	return nil
}

// cliProgress returns a simple text-based progress handler for quiet mode.
func cliProgress() cyberdrop.ProgressFunc {
	return func(ev cyberdrop.ProgressEvent) {
		switch ev.Event {
		case "retry":
			fmt.Printf("retry %s (attempt %d): %s\n", ev.URL, ev.Attempt, ev.Message)
		case "file_done":
			fmt.Printf("done: %s\n", ev.Path)
		case "paused":
			fmt.Printf("paused: %s\n", ev.Message)
		case "resumed":
			fmt.Println("resumed")
		case "error":
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
		case "done":
			fmt.Println(ev.Message)
		}
	}
}

// pbBarProgress drives a single aggregate cheggaaa/pb/v3 bar, used as the
// non-interactive fallback when stdout isn't a terminal (piped output, CI
// logs) but the caller didn't ask for --quiet or --json.
type pbBarProgress struct {
	mu       sync.Mutex
	bar      *pb.ProgressBar
	lastSeen map[string]int64 // path -> last reported cumulative bytes
}

func pbProgress() *pbBarProgress {
	bar := pb.New64(0)
	bar.Set(pb.Bytes, true)
	bar.SetTemplateString(`{{string . "domain"}} {{counters . }} {{bar . }} {{percent . }} {{speed . }}`)
	bar.Start()
	return &pbBarProgress{bar: bar, lastSeen: map[string]int64{}}
}

func (p *pbBarProgress) handler() cyberdrop.ProgressFunc {
	return func(ev cyberdrop.ProgressEvent) {
		p.mu.Lock()
		defer p.mu.Unlock()
		switch ev.Event {
		case "file_start":
			p.bar.Set("domain", ev.Domain)
			if ev.Total > 0 {
				p.bar.SetTotal(p.bar.Total() + ev.Total)
			}
		case "file_progress", "file_done":
			if ev.Bytes > 0 {
				delta := ev.Bytes - p.lastSeen[ev.Path]
				if delta > 0 {
					p.bar.Add64(delta)
					p.lastSeen[ev.Path] = ev.Bytes
				}
			}
		case "error":
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
		case "done":
			p.bar.Set("domain", "done")
		}
	}
}

func (p *pbBarProgress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bar.Finish()
}

// jsonProgress returns a JSON-lines progress handler, one ProgressEvent per
// line.
func jsonProgress(w io.Writer) cyberdrop.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev cyberdrop.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
