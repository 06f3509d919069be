package main

import (
	"context"
	"os"
	"strconv"

	"github.com/foliobooks/folio/pkg/config"
	"github.com/foliobooks/folio/pkg/convertcache"
	"github.com/foliobooks/folio/pkg/converter"
	"github.com/foliobooks/folio/pkg/database"
	"github.com/foliobooks/folio/pkg/delivery"
	"github.com/foliobooks/folio/pkg/discovery"
	"github.com/foliobooks/folio/pkg/events"
	"github.com/foliobooks/folio/pkg/library"
	"github.com/foliobooks/folio/pkg/migrations"
	"github.com/foliobooks/folio/pkg/secrets"
	"github.com/foliobooks/folio/pkg/transfer"
	"github.com/foliobooks/folio/pkg/version"
	"github.com/foliobooks/folio/pkg/worker"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
)

func main() {
	ctx := context.Background()
	log := logger.New()

	log.Info("starting folio", logger.Data{"version": version.Version})

	cfg, err := config.New()
	if err != nil {
		log.Err(err).Fatal("config error")
	}

	if err := initDirs(cfg); err != nil {
		log.Err(err).Fatal("directory error")
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Err(err).Fatal("database error")
	}

	group, err := migrations.BringUpToDate(ctx, db)
	if err != nil {
		log.Err(err).Fatal("migrations error")
	}
	if group.ID == 0 {
		log.Info("no new migrations to run")
	} else {
		log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
	}

	settings := config.NewUserSettings(cfg.ConfigDir)
	secretStore := secrets.NewFileStore(cfg.ConfigDir)
	hub := events.NewHub()

	conv := converter.New(hub)
	if conv.IsAvailable() {
		log.Info("converter found", logger.Data{"path": conv.BinaryPath()})
	} else {
		log.Warn("converter not found; kindle downloads disabled")
	}

	cache, err := convertcache.New(cfg.CacheDir)
	if err != nil {
		log.Err(err).Fatal("conversion cache error")
	}

	libraryService := library.NewService(db)
	scanner := library.NewScanner(libraryService, cfg.LibraryDir, conv)
	deliveryService := delivery.NewService(settings, secretStore, db, hub)

	wrkr := worker.New(cfg, scanner)

	srv, err := transfer.New(cfg, libraryService, conv, cache, deliveryService, hub)
	if err != nil {
		log.Err(err).Fatal("server error")
	}

	graceful := signals.Setup()

	if err := srv.Start(ctx); err != nil {
		log.Err(err).Fatal("failed to bind port")
	}

	disco := discovery.NewService(cfg.ServiceName, hub)
	bookCount, err := libraryService.CountBooks(ctx)
	if err != nil {
		log.Err(err).Error("book count error")
	}
	err = disco.Advertise(srv.Port(), map[string]string{"books": strconv.Itoa(bookCount)})
	if err != nil {
		log.Err(err).Error("mdns advertise error")
	}

	browseCtx, stopBrowse := context.WithCancel(ctx)
	go srv.TrackPeers(browseCtx, disco.Browse(browseCtx))

	wrkr.Start()
	wrkr.RequestScan()
	log.Info("worker started")

	<-graceful
	log.Info("starting graceful shutdown")

	stopBrowse()
	disco.Stop()
	log.Info("discovery stopped")

	err = srv.Shutdown(ctx)
	if err != nil {
		log.Err(err).Error("server shutdown error")
	}
	log.Info("server shutdown")

	wrkr.Shutdown()
	log.Info("worker shutdown")

	err = db.Close()
	if err != nil {
		log.Err(err).Error("database close error")
	}
	log.Info("database closed")
}

// initDirs creates the config and cache directories and verifies the cache
// is writable.
func initDirs(cfg *config.Config) error {
	for _, dir := range []string{cfg.ConfigDir, cfg.CacheDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create directory: %s", dir)
		}
	}

	testFile := cfg.CacheDir + "/.write_test"
	f, err := os.Create(testFile)
	if err != nil {
		return errors.Wrapf(err, "cache directory is not writable: %s", cfg.CacheDir)
	}
	f.Close()

	if err := os.Remove(testFile); err != nil {
		return errors.Wrapf(err, "failed to clean up write test file: %s", testFile)
	}

	return nil
}
