package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/linkctl/internal/admin"
	"github.com/danmuck/linkctl/internal/config"
	"github.com/danmuck/linkctl/internal/controller"
	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/observability"
	"github.com/danmuck/linkctl/internal/protocol"
	"github.com/danmuck/linkctl/internal/transport"
)

func main() {
	observability.InitLogger("controllerd")
	configPath := flag.String("config", "cmd/controllerd/config.toml", "path to controller config")
	flag.Parse()

	cfg, err := config.LoadControllerConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load controller config")
	}
	log.Info().Str("path", *configPath).Msg("loaded controller config")

	tr := transport.New(transport.Options{
		Node:              cfg.Name,
		LocalAddr:         cfg.ListenAddr,
		RemoteAddr:        cfg.RemoteAddr,
		SendQueueCapacity: cfg.SendQueueCapacity,
		Sink:              logging.NewZerologSink(log.Logger, logging.SinkLevel()),
	})

	opts := controller.DefaultOptions()
	opts.PeerTimeout = config.Interval(cfg.PeerTimeoutMS, controller.DefaultPeerTimeout)
	opts.SweepInterval = config.Interval(cfg.SweepIntervalMS, controller.DefaultSweepInterval)

	ctl := controller.New(tr, opts)
	ctl.OnStateChange(func(ev controller.StateChange) {
		log.Info().
			Str("state", ev.State.String()).
			Uint16("peer_id", ev.PeerID).
			Uint16("session_id", ev.SessionID).
			Stringer("endpoint", ev.Endpoint).
			Msg("peer state")
	})
	ctl.OnSample(func(m *protocol.SampleUp, from *net.UDPAddr) {
		log.Info().
			Str("command", m.Command.String()).
			Uint16("session_id", m.SessionID).
			Uint16("peer_id", m.PeerID).
			Int16("level", m.Level).
			Float64("value", m.Value).
			Stringer("from", from).
			Msg("sample received")
	})

	if err := ctl.Start(); err != nil {
		log.Fatal().Err(err).Msg("controller failed to start")
	}
	log.Info().Str("listen", cfg.ListenAddr).Msg("controller started")

	adm := admin.New(cfg.Name, "controller", cfg.AdminAddr, cfg.CorsOrigins)
	adm.HTTPRouter().GET("/peers", func(c *gin.Context) {
		peers := ctl.Peers()
		sort.Slice(peers, func(i, j int) bool { return peers[i].SessionID < peers[j].SessionID })
		c.JSON(http.StatusOK, gin.H{"peers": peers})
	})
	adm.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = adm.Shutdown(ctx)
	ctl.Stop()
}
