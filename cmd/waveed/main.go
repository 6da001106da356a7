package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/christosk92/wavee-go/internal/cache"
	"github.com/christosk92/wavee-go/internal/config"
	"github.com/christosk92/wavee-go/internal/db"
	"github.com/christosk92/wavee-go/internal/pipeline"
	"github.com/christosk92/wavee-go/internal/player"
	"github.com/christosk92/wavee-go/internal/queue"
	"github.com/christosk92/wavee-go/internal/remote"
	"github.com/christosk92/wavee-go/internal/reporting"
	"github.com/christosk92/wavee-go/internal/resolver"
	"github.com/christosk92/wavee-go/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	addr := cfg.Host + ":" + cfg.Port

	var cold cache.ColdStore
	var reporterSinks []reporting.Sink
	var dbPair *db.DBPair
	if cfg.EnableCaching {
		dbPair, err = db.Init(cfg.SQLiteDBPath)
		if err != nil {
			log.Fatalf("db init error: %v", err)
		}
		defer dbPair.Close()
		cold = cache.NewSQLiteStore(dbPair)
		reporterSinks = append(reporterSinks, reporting.NewSQLiteRecorder(dbPair, nil))
	}

	metadataCache := cache.New(cold, cache.Options{
		MaxHotTracks: cfg.HotTrackSize,
		MaxAux:       cfg.AuxCacheSize,
		MaxContexts:  cfg.ContextCacheSize,
	}, nil)

	janitor, err := cache.NewJanitor(metadataCache, cfg.CleanupSchedule, nil)
	if err != nil {
		log.Fatalf("janitor schedule error: %v", err)
	}
	janitor.Start()
	defer janitor.Stop()

	sources := pipeline.NewSourceRegistry()
	if cfg.EnableLocalFiles {
		sources.Register(pipeline.NewLocalFileSource())
	}
	if cfg.EnableHTTPStreams {
		sources.Register(pipeline.NewHTTPStreamSource())
	}
	decoders := pipeline.NewDecoderRegistry()

	reporter := reporting.New(cfg.EventReporting, cfg.DeviceID, nil, reporterSinks...)
	playQueue := queue.New(nil)

	contextSvc := resolver.NewHTTPContextService(cfg.ContextServiceURL, nil)
	metadataSvc := resolver.NewHTTPMetadataService(cfg.MetadataServiceURL, nil)
	contentResolver := resolver.New(contextSvc, metadataSvc, metadataCache, nil)

	engine := player.New(player.Params{
		Config:   cfg,
		Queue:    playQueue,
		Resolver: contentResolver,
		Sources:  sources,
		Decoders: decoders,
		Sink:     &nullSink{},
		Reporter: reporter,
	})

	stream := remote.NewStream(engine, nil)
	stream.Start()
	defer stream.Stop()
	connections := remote.NewConnectionManager(stream, nil)

	handler := server.NewHandler(server.Options{
		Engine:      engine,
		Cache:       metadataCache,
		Connections: connections,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("waveed listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
