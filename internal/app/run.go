package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/petervdpas/goopforum/internal/broadcast"
	"github.com/petervdpas/goopforum/internal/bus"
	"github.com/petervdpas/goopforum/internal/config"
	"github.com/petervdpas/goopforum/internal/forum"
	"github.com/petervdpas/goopforum/internal/identity"
	"github.com/petervdpas/goopforum/internal/logging"
	"github.com/petervdpas/goopforum/internal/roomcrypto"
	"github.com/petervdpas/goopforum/internal/storage"
	"github.com/petervdpas/goopforum/internal/syncer"
	"github.com/petervdpas/goopforum/internal/util"
	"github.com/petervdpas/goopforum/internal/viewer"
)

type Options struct {
	Dir     string // instance directory
	CfgPath string
	Cfg     config.Config

	// Memory is the hub used by the memory driver. Nil creates a private
	// one, which only makes sense for a single instance.
	Memory *bus.MemoryHub

	LogOutput io.Writer // defaults to stdout
}

// Run starts one forum instance and blocks until ctx is done. Everything
// started here is closed before it returns.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	out := opt.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logBuf := viewer.NewLogBuffer(800)
	log := logging.NewWithWriter(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Tap:    logBuf,
	}, out)

	self := identity.New(cfg.Instance.Name)
	logBanner(log, opt.Dir, opt.CfgPath, self)

	dataDir := util.ResolvePath(opt.Dir, cfg.Paths.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	log.Info().Str("path", db.Path()).Msg("database open")

	sealer, err := roomcrypto.NewSealer(cfg.Crypto.DeploymentIdentity)
	if err != nil {
		return err
	}
	if !sealer.Enabled() {
		log.Warn().Msg("no deployment identity configured: siblings will receive encrypt-only rooms")
	}

	tr, err := openTransport(ctx, cfg, self, opt.Memory, log)
	if err != nil {
		return err
	}
	defer tr.Close()
	log.Info().Str("driver", cfg.Bus.Driver).Str("channel", cfg.Bus.Channel).Msg("bus connected")

	hub := broadcast.NewHub(cfg.Viewer.HistorySize, log)
	pub := bus.NewPublisher(tr, self.ID, time.Duration(cfg.Bus.PublishTimeoutMs)*time.Millisecond, log)
	svc := forum.New(forum.Deps{
		DB:     db,
		Hub:    hub,
		Pub:    pub,
		Keys:   roomcrypto.NewKeyManager(cfg.Crypto.RoomKeyBits),
		Sealer: sealer,
		Self:   self,
		Log:    log,
	})

	local, err := svc.EnsureLocalUser(ctx, cfg.Profile.Username, cfg.Profile.Email, cfg.Profile.Password)
	if err != nil {
		return fmt.Errorf("ensure local user: %w", err)
	}
	log.Info().Str("user", local.Username).Str("id", local.ID).Msg("acting as local user")

	// ── Sync loop
	loop := syncer.New(tr, db, hub, self, sealer, log)
	syncDone := make(chan error, 1)
	go func() { syncDone <- loop.Run(ctx) }()

	// ── Config hot reload
	if opt.CfgPath != "" {
		go func() {
			err := config.Watch(ctx, opt.CfgPath, log, func(c config.Config) {
				lvl := logging.SetLevel(c.Log.Level)
				log.Info().Str("level", lvl.String()).Msg("config reloaded")
			})
			if err != nil {
				log.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	// ── Viewer
	var httpErr error
	if cfg.Viewer.HTTPAddr != "" {
		addr, url := NormalizeLocalViewer(cfg.Viewer.HTTPAddr)
		log.Info().Str("url", url).Msg("viewer")
		h := viewer.Handler(viewer.Viewer{
			Forum: svc,
			Hub:   hub,
			Self:  self,
			User:  local,
			Bus:   cfg.Bus.Driver,
			Logs:  logBuf,
			Log:   log,
		})
		httpErr = viewer.Serve(ctx, addr, h, log)
	} else {
		<-ctx.Done()
	}

	// Close the transport first so a loop blocked in Next returns.
	_ = tr.Close()
	if err := <-syncDone; err != nil {
		log.Warn().Err(err).Msg("sync loop stopped")
	}
	log.Info().Msg("instance stopped")
	return httpErr
}

func openTransport(ctx context.Context, cfg config.Config, self identity.Instance, mem *bus.MemoryHub, log zerolog.Logger) (bus.Transport, error) {
	b := cfg.Bus
	switch b.Driver {
	case config.DriverRedis:
		dctx, cancel := context.WithTimeout(ctx, util.DefaultConnectTimeout)
		defer cancel()
		return bus.NewRedisTransport(dctx, b.RedisURL, b.Channel)
	case config.DriverKafka:
		// One consumer group per process so every instance sees every event.
		return bus.NewKafkaTransport(b.KafkaBrokers, b.Channel, "goopforum-"+self.ID)
	case config.DriverGossip:
		g, err := bus.NewGossipTransport(ctx, bus.GossipConfig{
			ListenPort: b.GossipListenPort,
			Bootstrap:  b.GossipBootstrap,
			MDNS:       b.GossipMDNS,
		}, log)
		if err != nil {
			return nil, err
		}
		log.Info().Str("peer", g.PeerID()).Msg("gossip node up")
		return g, nil
	case config.DriverMemory:
		if mem == nil {
			mem = bus.NewMemoryHub()
		}
		return mem.Connect(), nil
	default:
		return nil, errors.New("unknown bus driver " + b.Driver)
	}
}
