package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"

	"photocal/internal/auth"
	"photocal/internal/calendar"
	"photocal/internal/capture"
	"photocal/internal/config"
	"photocal/internal/display"
	"photocal/internal/events"
	"photocal/internal/holiday"
	"photocal/internal/ics"
	"photocal/internal/imagecache"
	"photocal/internal/jobs"
	appLog "photocal/internal/log"
	"photocal/internal/objects"
	"photocal/internal/photos"
	"photocal/internal/power"
	"photocal/internal/slideshow"
	"photocal/internal/store"
	"photocal/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath   string
	listen       string
	debug        bool
	once         bool
	hashPassword bool
}

func main() {
	flags := parseFlags()

	if flags.hashPassword {
		if err := printHash(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		cfg.Listen = flags.listen
	}
	level := appLog.ParseLevel(cfg.Log.Level)
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.Init(appLog.Options{Level: level, JSON: cfg.Log.JSON, SentryDSN: cfg.Log.SentryDSN})
	defer appLog.Flush()

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		appLog.Flush()
		os.Exit(1)
	}

	appLog.Info("photocal starting",
		"version", version,
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"store", cfg.Store.Driver,
		"objects", cfg.Objects.Driver,
		"cache", cfg.Cache.Driver,
		"feeds", len(cfg.Feeds),
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flags.once); err != nil {
		appLog.Error("photocal exited with error", err)
		appLog.Flush()
		os.Exit(1)
	}
	appLog.Info("photocal exiting")
}

func run(ctx context.Context, cfg *config.Config, once bool) error {
	loc := cfg.Location()

	st, err := openStore(ctx, cfg, loc)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	obj, closeObj, err := openObjects(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open object storage: %w", err)
	}
	defer closeObj()

	imgStore, closeImg, err := openImageStore(cfg)
	if err != nil {
		return fmt.Errorf("open image cache: %w", err)
	}
	defer closeImg()

	cache := imagecache.New(imgStore, cfg.Cache.Origin)
	worker := imagecache.NewWorker(cache)
	go worker.Run(ctx)

	var gate *auth.Gate
	if len(cfg.Auth.Allowed) > 0 {
		gate, err = auth.New(auth.Options{
			Allowed: cfg.Auth.Allowed,
			Users:   cfg.Auth.Users,
			Secret:  cfg.Auth.SessionSecret,
			TTL:     cfg.Auth.SessionTTL,
			Secure:  !isLoopback(cfg.Listen),
		})
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	} else {
		appLog.Warn("auth.allowed is empty; API is open to anyone who can reach it")
	}

	var preview jobs.PreviewFunc
	if cfg.Preview.Enabled {
		preview = previewFunc(cfg.Preview, gate, cfg.Auth.Allowed)
	}
	sched := jobs.New(loc, st, cache, preview)

	if once {
		return sched.RunOnce(ctx)
	}

	gen := holiday.New(holiday.Options{Location: loc, Denylist: cfg.Holidays.Denylist})
	view := calendar.NewView(gen)
	show := slideshow.New(cfg.Slideshow.Interval)

	session, err := display.Start(ctx, st, show, view, worker)
	if err != nil {
		return fmt.Errorf("start display: %w", err)
	}
	defer session.Close()

	feeds := make([]ics.Feed, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		feeds = append(feeds, ics.Feed{Name: f.Name, URL: f.URL})
	}
	fetcher := ics.NewFetcher(filepath.Join(cfg.Cache.Dir, "feeds"), &http.Client{Timeout: 30 * time.Second})

	srv := web.NewServer(web.Deps{
		Store:         st,
		Events:        events.New(st, loc),
		Photos:        photos.New(st, obj, photos.WithRawPrefix(cfg.Objects.RawPrefix)),
		Session:       session,
		Cache:         cache,
		Worker:        worker,
		Gate:          gate,
		Power:         power.Detect(ctx, cfg.Power.Bus, cfg.Power.Addr),
		Feeds:         fetcher,
		FeedList:      feeds,
		CalendarName:  "photocal",
		WeekStart:     cfg.WeekStart,
		PreviewPath:   cfg.Preview.Path,
		CallbackToken: cfg.Auth.CallbackToken,
	})

	if _, err := sched.ScheduleRefresh(cfg.Refresh); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	return web.Run(ctx, cfg.Listen, srv.Handler())
}

// previewFunc captures the kiosk page. With sign-in enabled the headless
// browser carries a session for the first allowed account.
func previewFunc(pc config.PreviewConfig, gate *auth.Gate, allowed []string) jobs.PreviewFunc {
	return func(ctx context.Context) error {
		opts := capture.Options{URL: pc.URL}
		if gate != nil && len(allowed) > 0 {
			token, _, err := gate.Issue(allowed[0])
			if err != nil {
				return fmt.Errorf("preview session: %w", err)
			}
			opts.Headers = map[string]string{"Cookie": auth.CookieName + "=" + token}
		}
		return capture.WritePreview(ctx, opts, pc.Path)
	}
}

func openStore(ctx context.Context, cfg *config.Config, loc *time.Location) (store.Store, error) {
	switch cfg.Store.Driver {
	case "firestore":
		client, err := firestore.NewClient(ctx, cfg.Store.GCPProject)
		if err != nil {
			return nil, err
		}
		return store.NewFirestore(client, loc), nil
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o755); err != nil {
			return nil, err
		}
		return store.OpenSQL(cfg.Store.SQLitePath, loc)
	}
}

func openObjects(ctx context.Context, cfg *config.Config) (objects.Storage, func(), error) {
	noop := func() {}
	switch cfg.Objects.Driver {
	case "s3":
		s, err := objects.NewS3(ctx, objects.S3Config{
			Region:        cfg.Objects.Region,
			Bucket:        cfg.Objects.Bucket,
			AccessKey:     cfg.Objects.AccessKey,
			SecretKey:     cfg.Objects.SecretKey,
			Endpoint:      cfg.Objects.Endpoint,
			PresignExpiry: cfg.Objects.SignedURLExpiry,
		})
		return s, noop, err
	case "memory":
		appLog.Warn("using in-memory object storage; uploads are lost on restart")
		return objects.NewMemory("http://" + cfg.Cache.Origin), noop, nil
	default:
		g, err := objects.NewGCS(ctx, cfg.Objects.Bucket)
		if err != nil {
			return nil, noop, err
		}
		return g, func() { _ = g.Close() }, nil
	}
}

func openImageStore(cfg *config.Config) (imagecache.Store, func(), error) {
	if cfg.Cache.Driver == "badger" {
		b, err := imagecache.NewBadgerStore(cfg.Cache.Dir)
		if err != nil {
			return nil, func() {}, err
		}
		return b, func() {
			if err := b.Close(); err != nil {
				appLog.Error("close image cache failed", err)
			}
		}, nil
	}
	d, err := imagecache.NewDiskStore(cfg.Cache.Dir)
	return d, func() {}, err
}

func isLoopback(addr string) bool {
	return strings.HasPrefix(addr, "127.") || strings.HasPrefix(addr, "localhost:") || strings.HasPrefix(addr, "[::1]:")
}

// printHash reads a password line and prints its bcrypt hash for auth.users.
func printHash(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return errors.New("empty password")
	}
	h, err := auth.HashPassword(pw)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, h)
	return err
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", config.DefaultPath, "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&cfg.once, "once", false, "Run one cache refresh (and preview) and exit")
	flag.BoolVar(&cfg.hashPassword, "hash-password", false, "Read a password from stdin and print its bcrypt hash")

	flag.Parse()

	return cfg
}
