package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"agendasync/internal/cache"
	"agendasync/internal/config"
	"agendasync/internal/google"
	"agendasync/internal/ics"
	"agendasync/internal/mirror"
	"agendasync/internal/models"
	"agendasync/internal/mutation"
	"agendasync/internal/notify"
	"agendasync/internal/remote"
	"agendasync/internal/store"
	"agendasync/internal/syncer"
	"agendasync/internal/visibility"
	"agendasync/internal/window"
)

func main() {
	app := &cli.App{
		Name:  "agendasync",
		Usage: "Keep a cached, always-available view of the shared events calendar.",
		Commands: []*cli.Command{
			authCommand(),
			eventsCommand(),
			createCommand(),
			editCommand(),
			deleteCommand(),
			watchCommand(),
			exportCommand(),
			mirrorCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			cfg := config.LoadAuth()
			logger := setupLogger(cfg.LogLevel)
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			accountName := cfg.Google.Account
			if accountName == "" {
				fmt.Print("Enter a name for this account (e.g., 'personal', 'work'): ")
				accountName, _ = reader.ReadString('\n')
				accountName = strings.TrimSpace(accountName)
			}
			tokenFile := google.TokenFile(cfg.Google.TokenDir, accountName)

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func windowFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "Single day, YYYY-MM-DD. Defaults to today."},
		&cli.StringFlag{Name: "from", Usage: "First day of a range, YYYY-MM-DD. Requires --to."},
		&cli.StringFlag{Name: "to", Usage: "Last day of a range, YYYY-MM-DD. Requires --from."},
	}
}

func formFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Required: required, Usage: "Day of the event, YYYY-MM-DD."},
		&cli.StringFlag{Name: "start", Required: required, Usage: "Start time, HH:MM."},
		&cli.StringFlag{Name: "end", Required: required, Usage: "End time, HH:MM."},
		&cli.StringFlag{Name: "summary", Aliases: []string{"s"}, Required: required, Usage: "Event title."},
		&cli.StringFlag{Name: "description", Usage: "Free text notes."},
		&cli.StringFlag{Name: "organizer", Usage: "Organizer email, added as attendee."},
		&cli.StringFlag{Name: "host", Usage: "Host name shown on the event."},
	}
}

func formFrom(c *cli.Context) models.EventFormData {
	return models.EventFormData{
		Date:           c.String("date"),
		StartTime:      c.String("start"),
		EndTime:        c.String("end"),
		Summary:        c.String("summary"),
		Description:    c.String("description"),
		OrganizerEmail: c.String("organizer"),
		HostName:       c.String("host"),
	}
}

func parseWindow(c *cli.Context, loc *time.Location) (window.Window, error) {
	from, to := c.String("from"), c.String("to")
	if from != "" || to != "" {
		if from == "" || to == "" {
			return window.Window{}, fmt.Errorf("--from and --to must be given together")
		}
		start, err := window.ParseDate(from, loc)
		if err != nil {
			return window.Window{}, err
		}
		end, err := window.ParseDate(to, loc)
		if err != nil {
			return window.Window{}, err
		}
		if end.Before(start) {
			return window.Window{}, fmt.Errorf("--to %s is before --from %s", to, from)
		}
		return window.Range(start, end), nil
	}
	if date := c.String("date"); date != "" {
		d, err := window.ParseDate(date, loc)
		if err != nil {
			return window.Window{}, err
		}
		return window.Day(d), nil
	}
	return window.Today(), nil
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List the events of a day or range, cached first and then refreshed.",
		Flags: windowFlags(),
		Action: func(c *cli.Context) error {
			a, err := newApp(c, os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := parseWindow(c, a.cfg.Location)
			if err != nil {
				return err
			}
			_, err = a.syncer.Refresh(c.Context, w)
			return err
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create an event.",
		Flags: formFlags(true),
		Action: func(c *cli.Context) error {
			a, err := newApp(c, os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.focus(c); err != nil {
				return err
			}
			return a.gateway.Create(c.Context, formFrom(c))
		},
	}
}

func editCommand() *cli.Command {
	return &cli.Command{
		Name:  "edit",
		Usage: "Replace the fields of an event.",
		Flags: append(formFlags(true), &cli.StringFlag{Name: "id", Required: true, Usage: "Event id."}),
		Action: func(c *cli.Context) error {
			a, err := newApp(c, os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.focus(c); err != nil {
				return err
			}
			return a.gateway.Edit(c.Context, c.String("id"), formFrom(c))
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete an event. --date must be the day the event is on.",
		Flags: append(windowFlags(), &cli.StringFlag{Name: "id", Required: true, Usage: "Event id."}),
		Action: func(c *cli.Context) error {
			a, err := newApp(c, os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.focus(c); err != nil {
				return err
			}
			return a.gateway.Delete(c.Context, c.String("id"))
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Keep a window synchronized until interrupted.",
		Flags: append(windowFlags(),
			&cli.DurationFlag{Name: "interval", Value: cache.FreshnessWindow, Usage: "Refresh the window this often."},
		),
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(c, os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := parseWindow(c, a.cfg.Location)
			if err != nil {
				return err
			}

			if a.cfg.MetricsAddr != "" {
				srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					a.logger.Info("Serving metrics", "addr", a.cfg.MetricsAddr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("Metrics server failed", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			stopWatching := a.syncer.WatchForeground(ctx, visibility.NewSignal())
			defer stopWatching()

			interval := c.Duration("interval")
			a.logger.Info("Starting watcher.", "window", w.Key(), "interval", interval)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			if _, err := a.syncer.Refresh(ctx, w); err != nil {
				a.logger.Warn("Initial refresh failed", "error", err)
			}
			for {
				select {
				case <-ctx.Done():
					a.logger.Info("Watcher stopped.")
					return nil
				case <-ticker.C:
					if _, err := a.syncer.RefreshActive(ctx); err != nil && ctx.Err() == nil {
						a.logger.Warn("Refresh cycle failed", "error", err)
					}
				}
			}
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the events of a window as an .ics calendar.",
		Flags: append(windowFlags(),
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file. Defaults to stdout."},
		),
		Action: func(c *cli.Context) error {
			a, err := newApp(c, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.view(c)
			if err != nil {
				return err
			}

			out := os.Stdout
			if path := c.String("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", path, err)
				}
				defer f.Close()
				out = f
			}
			if err := ics.Encode(out, view.Events, time.Now()); err != nil {
				return err
			}
			a.logger.Info("Exported events", "window", view.Key, "count", len(view.Events))
			return nil
		},
	}
}

func mirrorCommand() *cli.Command {
	return &cli.Command{
		Name:  "mirror",
		Usage: "Publish the events of a window to a CalDAV calendar.",
		Flags: append(windowFlags(),
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be mirrored without making changes."},
		),
		Action: func(c *cli.Context) error {
			a, err := newApp(c, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.cfg.ValidateCalDAV(); err != nil {
				return err
			}
			view, err := a.view(c)
			if err != nil {
				return err
			}

			if c.Bool("dry-run") {
				for _, e := range view.Events {
					a.logger.Info("Would mirror event", "id", e.ID, "summary", e.Summary, "start", e.Start)
				}
				return nil
			}

			m, err := mirror.Dial(c.Context, a.logger, mirror.Config{
				Endpoint:     a.cfg.CalDAV.URL,
				Username:     a.cfg.CalDAV.Username,
				Password:     a.cfg.CalDAV.Password,
				CalendarName: a.cfg.CalDAV.CalendarName,
				Timeout:      a.cfg.Timeout,
			})
			if err != nil {
				return fmt.Errorf("failed to create caldav client: %w", err)
			}
			n, err := m.Publish(c.Context, view.Events)
			a.logger.Info("Mirrored events", "window", view.Key, "written", n, "total", len(view.Events))
			return err
		},
	}
}

// app is the wiring shared by every synchronizing command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	syncer  *syncer.Syncer
	gateway *mutation.Gateway
	closers []func() error
}

// newApp wires cache, source, synchronizer and gateway. Views are printed to
// out; a nil out renders nothing.
func newApp(c *cli.Context, out *os.File) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateSource(); err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.LogLevel)
	a := &app{cfg: cfg, logger: logger}

	kv, err := a.openStore(c.Context)
	if err != nil {
		return nil, err
	}

	type source interface {
		syncer.Fetcher
		mutation.Remote
	}
	var src source
	switch cfg.Source {
	case config.SourceGoogle:
		gClient, err := google.NewClient(c.Context, logger, cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.TokenDir, cfg.Google.Account, cfg.Google.CalendarID, cfg.Timeout, cfg.Location)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create google client for account %s: %w", cfg.Google.Account, err)
		}
		src = gClient
	default:
		src = remote.NewClient(remote.Config{
			BaseURL:    cfg.Webhook.BaseURL,
			Token:      cfg.Webhook.Token,
			EventsPath: cfg.Webhook.EventsPath,
			AddPath:    cfg.Webhook.AddPath,
			UpdatePath: cfg.Webhook.UpdatePath,
			RemovePath: cfg.Webhook.RemovePath,
			Timeout:    cfg.Timeout,
			Location:   cfg.Location,
		}, nil, logger)
	}

	var renderer syncer.Renderer
	if out != nil {
		renderer = newTableRenderer(out, cfg.Location)
	}
	notifier := notify.NewLog(logger)
	a.syncer = syncer.NewSyncer(logger, src, cache.New(kv, nil, logger), renderer, notifier, nil)
	a.gateway = mutation.NewGateway(logger, src, a.syncer, notifier, cfg.Location)
	logger.Debug("Initialized event source", "source", cfg.Source, "cache", cfg.CacheBackend, "path", cfg.CachePath)
	return a, nil
}

func (a *app) openStore(ctx context.Context) (store.KV, error) {
	switch a.cfg.CacheBackend {
	case config.BackendMemory:
		return store.NewMemory(), nil
	case config.BackendSQLite:
		db, err := store.OpenSQLite(ctx, a.cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return db, nil
	default:
		return store.NewFile(a.cfg.CachePath, a.logger), nil
	}
}

// focus makes the window named by the flags active so the gateway resyncs it
// and can look up the events on it.
func (a *app) focus(c *cli.Context) error {
	w, err := parseWindow(c, a.cfg.Location)
	if err != nil {
		return err
	}
	if _, err := a.syncer.Refresh(c.Context, w); err != nil {
		a.logger.Warn("Continuing with the events on hand", "window", w.Key(), "error", err)
	}
	return nil
}

// view synchronizes the window named by the flags. Events still on hand after
// a failed refresh are returned without error.
func (a *app) view(c *cli.Context) (syncer.View, error) {
	w, err := parseWindow(c, a.cfg.Location)
	if err != nil {
		return syncer.View{}, err
	}
	v, err := a.syncer.Refresh(c.Context, w)
	if err != nil && len(v.Events) == 0 {
		return v, err
	}
	return v, nil
}

func (a *app) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("Failed to close resource", "error", err)
		}
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
