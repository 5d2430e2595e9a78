package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/flowkernel/kernel/internal/channel"
	"github.com/flowkernel/kernel/internal/config"
	"github.com/flowkernel/kernel/internal/consent"
	"github.com/flowkernel/kernel/internal/directory"
	"github.com/flowkernel/kernel/internal/events"
	"github.com/flowkernel/kernel/internal/httpapi"
	"github.com/flowkernel/kernel/internal/intent"
	"github.com/flowkernel/kernel/internal/mesh"
	"github.com/flowkernel/kernel/internal/obs"
	"github.com/flowkernel/kernel/internal/policy"
	"github.com/flowkernel/kernel/internal/router"
	"github.com/flowkernel/kernel/internal/sig"
	"github.com/flowkernel/kernel/internal/store/pg"
	"github.com/flowkernel/kernel/internal/tokenledger"
)

var version = "0.1.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("FLOWKERNEL_COMMIT"))

	cfg := config.FromEnv()

	var db *sql.DB
	var store *pg.Store
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = pg.NewStoreFromDB(db)
	}

	controller := common.HexToAddress(cfg.ControllerAddress)
	self := common.HexToAddress(cfg.SelfAddress)

	bus := events.NewBus()
	ledger := tokenledger.NewInMemory()
	domain := sig.Domain{Name: "flowkernel", Version: "1", HostID: cfg.HostID, VerifyingContract: self}

	consentRegistry := consent.New(controller, bus)
	directoryReg := directory.New(controller, bus)
	policyEnforcer := policy.New(cfg.Clock, bus)
	intentRegistry := intent.New(domain, controller, sig.NewVerifier(), bus)
	channelRegistry := channel.New(self, ledger, policyEnforcer, bus)
	routerComp := router.New(controller, self, channelRegistry, bus)
	meshComp := mesh.New(controller, routerComp, bus)

	journalCtx, cancelJournal := context.WithCancel(context.Background())
	defer cancelJournal()
	if store != nil {
		journal := pg.NewEventStore(store)
		go journal.Listen(journalCtx, bus, nil)

		snapshots := pg.NewSnapshotStore(store)
		go snapshots.Listen(journalCtx, bus, pg.Sources{
			Consent:   consentRegistry,
			Channels:  channelRegistry,
			Policies:  policyEnforcer,
			Intents:   intentRegistry,
			Directory: directoryReg,
		}, nil)
	}

	api := httpapi.New(httpapi.Kernel{
		Consent:   consentRegistry,
		Channels:  channelRegistry,
		Policies:  policyEnforcer,
		Intents:   intentRegistry,
		Directory: directoryReg,
		Router:    routerComp,
		Mesh:      meshComp,
		Bus:       bus,
	}, httpapi.ReadyProbe{DB: db}, version, httpapi.OperatorCredential{
		User:            cfg.OperatorUser,
		PasswordHash:    cfg.OperatorPasswordHash,
		Address:         controller,
		TokenTTLSeconds: 3600,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("starting flowkernel-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("stopped")
}
