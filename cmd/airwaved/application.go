package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tryffel.net/go/airwave/internal/config"
	"tryffel.net/go/airwave/internal/downloader"
	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/httpapi"
	"tryffel.net/go/airwave/internal/ingress/wsrelay"
	"tryffel.net/go/airwave/internal/instancelock"
	"tryffel.net/go/airwave/internal/orchestrator"
	"tryffel.net/go/airwave/internal/playerctl"
	"tryffel.net/go/airwave/internal/playerctl/ipc"
	"tryffel.net/go/airwave/internal/playerctl/restart"
	"tryffel.net/go/airwave/internal/queue"
	"tryffel.net/go/airwave/internal/repository"
	"tryffel.net/go/airwave/internal/resolver"
	"tryffel.net/go/airwave/internal/resolver/exectool"
	"tryffel.net/go/airwave/internal/resolver/localfile"
	"tryffel.net/go/airwave/internal/sse"
)

// Application is the composition root: it owns every component and hands
// each one, through its constructor, explicit references to the
// collaborators it calls directly (the orchestrator, for example, receives
// the queue, repository, downloader and adapter). Events between
// components travel over the shared event bus.
type Application struct {
	lock *instancelock.Lock

	bus             *eventbus.Bus
	repo            repository.Repository
	q               *queue.Manager
	dl              *downloader.Pipeline
	adapter         playerctl.Adapter
	adapterFallback bool
	orch            *orchestrator.Orchestrator
	bcast           *sse.Broadcaster
	api             *httpapi.Server

	httpServer *http.Server
	relay      *wsrelay.Relay
}

// NewApplication builds every component per SPEC_FULL's wiring rules and
// selects the player backend, treating "no backend available" as a fatal
// startup error.
func NewApplication(addrOverride string) (*Application, error) {
	lockDir := filepath.Join(os.TempDir(), config.AppNameLower)
	lock, err := instancelock.Acquire(lockDir)
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}

	a := &Application{lock: lock}
	a.bus = eventbus.New()

	repo, err := repository.Open(config.AppConfig.Queue.DatabasePath)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("open repository: %w", err)
	}
	a.repo = repo

	a.q = queue.NewManager(a.bus, a.repo)
	if err := a.q.LoadQueue(); err != nil {
		logrus.Warnf("application: load persisted queue: %v", err)
	}

	res := buildResolver()
	a.dl = downloader.New(res, a.bus, downloader.Config{
		LookAhead:     config.AppConfig.Downloader.LookAhead,
		MaxConcurrent: config.AppConfig.Downloader.MaxConcurrent,
	})
	a.bus.Subscribe(func(e eventbus.Event) {
		if id, state, ok := downloader.IDAndState(e.Payload); ok {
			a.q.UpdateDownloadState(id, state)
		}
	}, eventbus.QueueUpdated)
	a.bus.Subscribe(func(eventbus.Event) {
		a.dl.PrefetchAhead(a.q.Snapshot())
	}, eventbus.QueueItemAdded, eventbus.QueueReordered, eventbus.QueueItemRemoved)

	adapter, isFallback, err := selectAdapter(a.bus)
	if err != nil {
		_ = repo.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("select player backend: %w", err)
	}
	a.adapter = adapter
	a.adapterFallback = isFallback
	_ = a.adapter.SetVolume(config.AppConfig.Player.DefaultVolume)

	a.orch = orchestrator.New(a.bus, a.q, a.repo, a.dl, a.adapter, a.adapterFallback)
	if err := a.orch.LoadSnapshot(); err != nil {
		logrus.Warnf("application: load playback snapshot: %v", err)
	}

	a.bcast = sse.New(a.bus, a.statusDoc, a.isPlaying)

	a.api = httpapi.New(a.q, a.orch, res, a.dl, a.adapter, a.bus, a.bcast)

	addr := config.AppConfig.Server.Addr
	if addrOverride != "" {
		addr = addrOverride
	}
	a.httpServer = &http.Server{Addr: addr, Handler: a.api.Engine()}

	if config.AppConfig.Ingress.Enabled {
		a.relay = wsrelay.New(a.q, a.bus, res)
	}

	return a, nil
}

func buildResolver() resolver.Resolver {
	cacheDir := config.AppConfig.Downloader.CacheDir
	_ = os.MkdirAll(cacheDir, 0o755)

	binary := config.AppConfig.Downloader.ResolverBinary
	if binary == "" {
		binary = "yt-dlp"
	}
	remote := exectool.New(binary, cacheDir, 60*time.Second)
	local := localfile.New()
	return resolver.NewComposite(local, remote)
}

func selectAdapter(bus *eventbus.Bus) (playerctl.Adapter, bool, error) {
	candidates := []playerctl.Candidate{
		{Name: "primary", Probe: playerctl.ExecutableProbe(ipc.BinaryName), Factory: func() playerctl.Adapter { return ipc.New(bus) }},
		{Name: "fallback", Probe: playerctl.ExecutableProbe(restart.BinaryName), Factory: func() playerctl.Adapter { return restart.New(bus) }},
	}
	if config.AppConfig.Player.PreferFallback {
		candidates[0], candidates[1] = candidates[1], candidates[0]
	}
	adapter, err := playerctl.Select(candidates)
	if err != nil {
		return nil, false, err
	}
	return adapter, adapter.Name() == "fallback", nil
}

func (a *Application) statusDoc() interface{} {
	phase, current, songsPlayed, elapsedMs := a.orch.Snapshot()
	doc := map[string]interface{}{
		"phase":       phase,
		"songsPlayed": songsPlayed,
		"elapsedMs":   elapsedMs,
		"queue":       a.q.Snapshot(),
	}
	if current != nil {
		doc["current"] = current.Item
	}
	return doc
}

func (a *Application) isPlaying() bool {
	phase, _, _, _ := a.orch.Snapshot()
	return phase == orchestrator.PhasePlaying
}

// Run starts every component, blocks until a termination signal arrives,
// then stops everything in reverse order.
func (a *Application) Run() error {
	if err := a.orch.Start(); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	if err := a.bcast.Start(); err != nil {
		return fmt.Errorf("start broadcaster: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("############# %s ############", config.AppNameLower)
		logrus.Infof("application: listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if a.relay != nil {
		relayAddr := config.AppConfig.Ingress.Addr
		if relayAddr == "" {
			relayAddr = ":8081"
		}
		go func() {
			logrus.Infof("application: ingress relay listening on %s", relayAddr)
			if err := http.ListenAndServe(relayAddr, a.relay); err != nil {
				logrus.Errorf("application: ingress relay stopped: %v", err)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logrus.Infof("application: received signal %s, shutting down", s)
	case err := <-errCh:
		logrus.Errorf("application: http server error: %v", err)
	}

	return a.Stop()
}

// Stop shuts every component down in reverse dependency order and
// releases the instance lock last.
func (a *Application) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(a.httpServer.Shutdown(ctx))
	record(a.orch.Stop())
	record(a.q.PersistNow())
	record(a.repo.Close())
	record(a.lock.Release())

	if firstErr != nil {
		logrus.Errorf("application: stop completed with errors: %v", firstErr)
	} else {
		logrus.Info("application: stopped cleanly")
	}
	return firstErr
}
