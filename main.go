package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rankpool/alert"
	"rankpool/config"
	"rankpool/httputil"
	"rankpool/logging"
	"rankpool/models"
	"rankpool/scheduler"
	"rankpool/scraper"
	"rankpool/services"
	"rankpool/storage"
	"rankpool/translate"
	"rankpool/workers"
)

var (
	scrapeNow  = flag.Bool("scrape", false, "Run every source once and exit")
	sourceOnly = flag.String("source", "", "Run one source once and exit")
	dryRun     = flag.Bool("dry-run", false, "Write to an in-memory store instead of the database")
	migrate    = flag.Bool("migrate", false, "Apply the Postgres schema, seed categories and exit")
	listOnly   = flag.Bool("list", false, "Print configured sources and categories and exit")
)

const brandCacheTTL = 90 * 24 * time.Hour

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup("daemon.log", cfg.LogMaxBytes)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}
	logging.SetLevel(models.LogLevel(cfg.LogLevel))

	log.Println("Starting rankpool...")

	if *listOnly {
		var ops opsHistory
		if st, err := storage.NewSQLiteStore(cfg.DBPath); err != nil {
			log.Printf("Warning: no run history, SQLite unavailable: %v", err)
		} else {
			defer st.Close()
			ops = st
		}
		printSources(os.Stdout, cfg, loadHistory(context.Background(), cfg, ops))
		return
	}

	log.Printf("Loaded %d source configs", len(cfg.SourceIDs()))
	for _, id := range cfg.SourceIDs() {
		src := cfg.Sources[id]
		log.Printf("  - %s (%s, %s, %d categories)", src.Name, id, src.Handler, len(src.Categories))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *migrate {
		if err := runMigrate(ctx, cfg); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migration complete!")
		return
	}

	clients := httputil.NewClients(&cfg.Proxy)
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}

	backend := cfg.Store.Backend
	if *dryRun {
		backend = config.BackendMemory
	}
	store, brandStore, closeStore, err := openStore(ctx, cfg, backend, clients)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", backend, err)
	}
	defer closeStore()

	// SQLite keeps operator commands, a job-run mirror and category stats
	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	brands := translate.NewBrandTranslator(newTranslator(cfg, clients), newBrandCache(cfg))

	ingest := services.NewIngestService(store, cfg.Scraper.PersistTimeout)
	ingest.SetBrandNamer(brands)

	var archiver storage.Archiver
	if cfg.Archive.Dir != "" {
		archiver = storage.NewDirArchiver(cfg.Archive.Dir)
	}
	if cfg.Archive.Bucket != "" || cfg.Enrichment.QueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Archive.Region))
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		if cfg.Archive.Bucket != "" {
			archiver = storage.NewS3Archiver(awsCfg, storage.S3Config{
				Bucket:   cfg.Archive.Bucket,
				Prefix:   cfg.Archive.Prefix,
				Endpoint: cfg.Archive.Endpoint,
			})
			log.Printf("Raw page archive: s3://%s/%s", cfg.Archive.Bucket, cfg.Archive.Prefix)
		}
		if cfg.Enrichment.QueueURL != "" {
			ingest.SetQueue(storage.NewSQSQueue(awsCfg, cfg.Enrichment.QueueURL))
			log.Printf("Enrichment queue: %s", cfg.Enrichment.QueueURL)
		}
	}

	adapters := make(map[string]scraper.Adapter)
	for _, id := range cfg.SourceIDs() {
		a, err := scraper.NewAdapter(cfg.Sources[id], clients, cfg.Proxy)
		if err != nil {
			log.Fatalf("Failed to build adapter: %v", err)
		}
		adapters[id] = a
	}

	notifier := alert.NewNotifier(cfg.SMTP)
	runLog := storage.MultiRunLog{store, sqliteStore}
	orchestrator, err := scraper.NewOrchestrator(cfg, adapters, ingest, runLog, notifier)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}
	defer orchestrator.Close()
	orchestrator.SetStatsStore(sqliteStore)
	if archiver != nil {
		orchestrator.SetArchiver(archiver)
	}
	metrics := scraper.NewMetrics()
	orchestrator.SetMetrics(metrics)

	// Handle one-shot commands
	if *scrapeNow || *sourceOnly != "" {
		go cancelOnSignal(cancel)

		if *sourceOnly != "" {
			log.Printf("Running source %s...", *sourceOnly)
			err = orchestrator.RunSource(ctx, *sourceOnly)
		} else {
			log.Println("Running scrape...")
			err = orchestrator.RunAll(ctx)
		}
		if err != nil {
			log.Fatalf("Scrape failed: %v", err)
		}
		log.Println("Scrape complete!")
		return
	}

	// Daemon mode
	if cfg.MetricsAddr != "" {
		srv := newMetricsServer(cfg, metrics, orchestrator, sqliteStore)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("Metrics on %s/metrics", cfg.MetricsAddr)
	}

	sched := scheduler.New(cfg, orchestrator, sqliteStore)

	backfillWorker := workers.NewBrandBackfillWorker(brandStore, brands)
	backfillWorker.SetLogger(func(level models.LogLevel, source, message string) {
		logging.Logf(level, source, "%s", message)
	})
	sched.SetWorkers(backfillWorker)

	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go backfillWorker.Run(ctx, 50, 30*time.Minute) // batch of 50 every 30 min
	log.Println("Brand backfill worker started")

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	cancel()
	sched.Stop()
	log.Println("Goodbye!")
}

// opsHistory is the slice of the SQLite store that -list and /status read.
type opsHistory interface {
	LastJobRun(ctx context.Context, jobName string) (*models.JobRun, error)
	GetCategoryStats(ctx context.Context, source string) ([]models.CategoryStats, error)
}

type sourceHistory struct {
	Source     string                          `json:"source"`
	LastRun    *models.JobRun                  `json:"last_run,omitempty"`
	Categories map[string]models.CategoryStats `json:"categories,omitempty"`
}

// loadHistory reads the newest job run and per-category outcome of every
// source. A nil ops yields empty history.
func loadHistory(ctx context.Context, cfg *config.Config, ops opsHistory) []sourceHistory {
	out := make([]sourceHistory, 0, len(cfg.Sources))
	for _, id := range cfg.SourceIDs() {
		h := sourceHistory{Source: id}
		if ops != nil {
			run, err := ops.LastJobRun(ctx, cfg.Sources[id].JobName)
			if err != nil {
				logging.Logf(models.LogLevelWarn, id, "reading last job run: %v", err)
			}
			h.LastRun = run

			stats, err := ops.GetCategoryStats(ctx, id)
			if err != nil {
				logging.Logf(models.LogLevelWarn, id, "reading category stats: %v", err)
			}
			if len(stats) > 0 {
				h.Categories = make(map[string]models.CategoryStats, len(stats))
				for _, st := range stats {
					h.Categories[st.CategoryCode] = st
				}
			}
		}
		out = append(out, h)
	}
	return out
}

func printSources(w io.Writer, cfg *config.Config, history []sourceHistory) {
	byID := make(map[string]sourceHistory, len(history))
	for _, h := range history {
		byID[h.Source] = h
	}

	for _, id := range cfg.SourceIDs() {
		src := cfg.Sources[id]
		h := byID[id]
		fmt.Fprintf(w, "%s\t%s\t%s\ttop %d\n", id, src.Name, src.Handler, src.EffectiveTopN(cfg.Scraper.TopN))
		if run := h.LastRun; run != nil {
			when := "-"
			if run.FinishedAt != nil {
				when = run.FinishedAt.Format("2006-01-02 15:04")
			} else if run.StartedAt != nil {
				when = run.StartedAt.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "    last run: %s %s saved=%v\n", run.Status, when, run.Metadata["saved"])
		}
		for _, cat := range src.Categories {
			target := cat.URL
			if cat.Navigate != "" {
				target = "tab " + cat.Navigate
			}
			line := fmt.Sprintf("    %-14s %-12s %s", cat.Code, cat.Name, target)
			if st, ok := h.Categories[cat.Code]; ok {
				line += fmt.Sprintf("  [%s %s saved=%d errors=%d]", st.RunDate, st.Outcome, st.Saved, st.Errors)
			}
			fmt.Fprintln(w, line)
		}
	}
}

func runMigrate(ctx context.Context, cfg *config.Config) error {
	if cfg.Supabase.DBURL == "" {
		return errors.New("DATABASE_URL is required for -migrate")
	}
	pg, err := storage.NewPostgresStore(ctx, cfg.Supabase.DBURL)
	if err != nil {
		return err
	}
	defer pg.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Supabase.DBURL))

	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	for _, id := range cfg.SourceIDs() {
		if err := pg.SeedCategories(ctx, id, cfg.Sources[id].Categories); err != nil {
			return fmt.Errorf("seed %s: %w", id, err)
		}
	}
	return nil
}

// openStore returns the ranking gateway for backend, the store the
// backfill worker reads from, and a close func.
func openStore(ctx context.Context, cfg *config.Config, backend string, clients *httputil.Clients) (storage.Store, storage.BrandStore, func(), error) {
	switch backend {
	case config.BackendPostgres:
		pg, err := storage.NewPostgresStore(ctx, cfg.Supabase.DBURL)
		if err != nil {
			return nil, nil, nil, err
		}
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Supabase.DBURL))
		return pg, pg, pg.Close, nil
	case config.BackendREST:
		sb := storage.NewSupabaseStore(&cfg.Supabase, clients.API)
		log.Printf("Using REST store: %s", cfg.Supabase.URL)
		return sb, sb, func() {}, nil
	default:
		log.Println("Using in-memory store (dry run)")
		mem := storage.NewMemoryStore()
		return mem, mem, func() {
			log.Printf("Dry run kept %d products, %d rank entries", mem.ProductCount(), len(mem.Ranks()))
		}, nil
	}
}

func newTranslator(cfg *config.Config, clients *httputil.Clients) translate.Translator {
	if cfg.Translate.APIKey == "" {
		log.Println("No TRANSLATE_API_KEY, brand_en is filled for Latin brands only")
		return nil
	}
	return translate.NewGoogleTranslator(cfg.Translate, clients.API)
}

func newBrandCache(cfg *config.Config) *translate.Cache {
	if cfg.Redis.Addr == "" {
		return translate.NewCache(nil, brandCacheTTL)
	}
	log.Printf("Brand cache: redis %s", cfg.Redis.Addr)
	return translate.NewCache(translate.NewRedisClient(cfg.Redis), brandCacheTTL)
}

func newMetricsServer(cfg *config.Config, metrics *scraper.Metrics, orchestrator *scraper.Orchestrator, ops opsHistory) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", statusHandler(cfg, orchestrator.Status, ops))
	return &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func statusHandler(cfg *config.Config, base func() map[string]interface{}, ops opsHistory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := base()
		status["history"] = loadHistory(r.Context(), cfg, ops)
		data, err := json.Marshal(status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func cancelOnSignal(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Interrupted, stopping after the current category...")
	cancel()
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
