// Command registryd serves a private Cargo package registry: the sparse
// and git-smart index protocols, the publish/yank/download/search/owners
// Cargo API, the worker-channel doc-gen dispatcher and its admin surface,
// and the OAuth login flow, grounded throughout on the teacher's own
// three-subcommand, three-listener main.go.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cratehost/cratehost/internal/api"
	"github.com/cratehost/cratehost/internal/auth"
	"github.com/cratehost/cratehost/internal/blobstore"
	"github.com/cratehost/cratehost/internal/config"
	"github.com/cratehost/cratehost/internal/db"
	"github.com/cratehost/cratehost/internal/depanalyzer"
	"github.com/cratehost/cratehost/internal/docjob"
	"github.com/cratehost/cratehost/internal/index"
	"github.com/cratehost/cratehost/internal/metrics"
	"github.com/cratehost/cratehost/internal/notifier"
	"github.com/cratehost/cratehost/internal/pipeline"
	"github.com/cratehost/cratehost/internal/sse"
	"github.com/cratehost/cratehost/internal/worker"
)

var version = "dev"

var configFile string

func main() {
	log.SetFlags(0)
	flag.Usage = func() {
		log.Println("usage: registryd serve")
		log.Println("       registryd describe >registryd.conf")
		log.Println("       registryd testconfig registryd.conf")
		log.Println("       registryd version")
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.StringVar(&configFile, "config", "registryd.conf", "path to configuration file")
	flag.BoolVar(&metrics.Debug, "debug", false, "enable debug logging, e.g. printing HTTP requests and responses")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "serve":
		if len(args) != 0 {
			flag.Usage()
		}
		serve(xparseConfig())
	case "describe":
		if len(args) != 0 {
			flag.Usage()
		}
		if err := config.Describe(os.Stdout, config.Default()); err != nil {
			log.Fatalf("describing config: %v", err)
		}
	case "testconfig":
		if len(args) != 1 {
			flag.Usage()
		}
		configFile = args[0]
		xparseConfig()
	case "version":
		if len(args) != 0 {
			flag.Usage()
		}
		fmt.Println(version)
	default:
		flag.Usage()
	}
}

func xparseConfig() config.Config {
	c := config.Default()
	if err := config.ParseFile(configFile, &c); err != nil {
		log.Fatalf("%v", err)
	}
	return c
}

func serve(cfg config.Config) {
	ctx := context.Background()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("creating data directory: %v", err)
	}
	d, err := db.Open(ctx, filepath.Join(cfg.DataDir, "registry.db"))
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}

	blobs, err := blobstore.Open(ctx, cfg.DataDir, cfg)
	if err != nil {
		log.Fatalf("opening blob store: %v", err)
	}
	blobs = blobstore.WithTimeout(blobs, cfg.Storage.Timeout)

	publicConfigJSON := []byte(fmt.Sprintf(
		`{"dl":%q,"api":%q}`,
		cfg.Web.PublicURI+"/api/v1/crates/{crate}/{version}/download",
		cfg.Web.PublicURI,
	))
	idx, err := index.Open(ctx, index.Config{
		Location:          filepath.Join(cfg.DataDir, "index"),
		PublicConfigJSON:  publicConfigJSON,
		UserName:          cfg.Index.GitUserName,
		UserEmail:         cfg.Index.GitUserEmail,
		RemoteURL:         cfg.Index.GitRemote,
		RemoteSSHKeyFile:  cfg.Index.GitRemoteSSHKeyFile,
		RemotePushChanges: cfg.Index.GitRemotePushChanges,
	})
	if err != nil {
		log.Fatalf("opening index: %v", err)
	}

	cookieSecret, err := base64.StdEncoding.DecodeString(cfg.Web.CookieSecret)
	if err != nil || len(cookieSecret) < 32 {
		cookieSecret = make([]byte, 32)
		if _, err := rand.Read(cookieSecret); err != nil {
			log.Fatalf("generating ephemeral cookie secret: %v", err)
		}
		log.Printf("warning: Web.CookieSecret not configured or too short, sessions will not survive a restart")
	}
	sessions, err := auth.NewSessions(cookieSecret)
	if err != nil {
		log.Fatalf("initializing sessions: %v", err)
	}
	tokens := auth.NewTokens(d.Tokens(), d.Users())
	kernel := &auth.Kernel{Sessions: sessions, Tokens: tokens, Users: d.Users()}
	oauth := auth.New(cfg, cookieSecret, sessions, d.Users())

	hub := sse.NewHub()
	sink := &docjob.Service{DB: d, Blobs: blobs, SSE: hub}
	workers := worker.NewRegistry(d, sink, cfg.Workers.HighWaterMark)

	knownRegistries := map[string]bool{"local": true}
	for _, ext := range cfg.External {
		knownRegistries[ext.Name] = true
	}

	publisher := &pipeline.Publisher{
		DB:              d,
		Blobs:           blobs,
		Index:           idx,
		BodyLimit:       cfg.Web.BodyLimit,
		KnownRegistries: knownRegistries,
		NotifyJobQueued: func(jobID int64) {
			job, err := d.Jobs().Get(ctx, jobID)
			if err != nil {
				log.Printf("registryd: loading queued job %d: %v", jobID, err)
				return
			}
			if err := workers.Enqueue(ctx, job, false); err != nil {
				log.Printf("registryd: enqueueing job %d: %v", jobID, err)
			}
		},
	}

	mailCfg := notifier.Config{
		SMTPHost: cfg.Email.SMTPHost,
		SMTPPort: cfg.Email.SMTPPort,
		SMTPUser: cfg.Email.SMTPUser,
		SMTPPass: cfg.Email.SMTPPass,
		Sender:   cfg.Email.Sender,
		CC:       cfg.Email.CC,
	}
	notify := notifier.NewQueue(ctx, mailCfg, d)

	external := map[string]config.ExternalRegistry{}
	for _, ext := range cfg.External {
		external[ext.Name] = ext
	}
	analyzer := &depanalyzer.Analyzer{
		DB:             d,
		Index:          idx,
		LocalName:      cfg.SelfLocalName,
		External:       external,
		VulnFeedURL:    cfg.Deps.VulnFeedURL,
		CheckPeriod:    cfg.Deps.CheckPeriod,
		StaleRegistry:  cfg.Deps.StaleRegistry,
		StaleAnalysis:  cfg.Deps.StaleAnalysis,
		NotifyOutdated: cfg.Deps.NotifyOutdated,
		NotifyCVEs:     cfg.Deps.NotifyCVEs,
		Notifier:       notify,
	}

	if err := workers.Start(ctx); err != nil {
		log.Fatalf("starting worker dispatch: %v", err)
	}
	go func() {
		if err := analyzer.Run(ctx); err != nil {
			log.Printf("dependency analyzer stopped: %v", err)
		}
	}()

	server := &api.Server{
		DB:        d,
		Index:     idx,
		Publisher: publisher,
		Auth:      kernel,
		OAuth:     oauth,
		Workers:   workers,
		Analyzer:  analyzer,
		SSE:       hub,
		PublicURI: cfg.Web.PublicURI,
	}

	log.Printf("registryd %s, serving public %s, authenticated/writable %s, admin %s",
		version, cfg.Web.PublicAddr, cfg.Web.AuthAddr, cfg.Web.AdminAddr)

	go func() {
		log.Fatalln(listenAndServe(cfg.Web.PublicAddr, server.PublicMux()))
	}()
	go func() {
		log.Fatalln(listenAndServe(cfg.Web.AuthAddr, server.AuthMux()))
	}()
	log.Fatalln(listenAndServe(cfg.Web.AdminAddr, adminMux(server)))
}

func listenAndServe(addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}

func adminMux(s *api.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.MetricsHandler())
	return mux
}
