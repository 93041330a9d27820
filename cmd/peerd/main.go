package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/linkctl/internal/admin"
	"github.com/danmuck/linkctl/internal/config"
	"github.com/danmuck/linkctl/internal/logging"
	"github.com/danmuck/linkctl/internal/observability"
	"github.com/danmuck/linkctl/internal/peer"
	"github.com/danmuck/linkctl/internal/protocol"
	"github.com/danmuck/linkctl/internal/transport"
)

func main() {
	observability.InitLogger("peerd")
	configPath := flag.String("config", "cmd/peerd/config.toml", "path to peer config")
	flag.Parse()

	cfg, err := config.LoadPeerConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load peer config")
	}
	log.Info().Str("path", *configPath).Msg("loaded peer config")

	tr := transport.New(transport.Options{
		Node:              cfg.Name,
		LocalAddr:         cfg.ListenAddr,
		RemoteAddr:        cfg.RemoteAddr,
		SendQueueCapacity: cfg.SendQueueCapacity,
		Sink:              logging.NewZerologSink(log.Logger, logging.SinkLevel()),
	})

	opts := peer.DefaultOptions(cfg.PeerID)
	opts.DisconnectedInterval = config.Interval(cfg.DisconnectedIntervalMS, peer.DefaultDisconnectedInterval)
	opts.ConnectedInterval = config.Interval(cfg.ConnectedIntervalMS, peer.DefaultConnectedInterval)

	p := peer.New(tr, opts)
	p.OnStateChange(func(ev peer.StateChange) {
		log.Info().
			Str("state", ev.State.String()).
			Uint16("peer_id", ev.PeerID).
			Uint16("session_id", ev.SessionID).
			Int("miss_count", ev.MissCount).
			Msg("negotiation state")
	})
	p.OnSample(func(m *protocol.SampleDown) {
		log.Info().
			Str("status", m.Status.String()).
			Int16("level", m.Level).
			Uint16("timestamp", m.Timestamp).
			Float64("value", m.Value).
			Msg("sample received")
	})

	if err := p.Start(); err != nil {
		log.Fatal().Err(err).Msg("peer failed to start")
	}
	log.Info().
		Uint16("peer_id", cfg.PeerID).
		Str("listen", cfg.ListenAddr).
		Str("remote", cfg.RemoteAddr).
		Msg("peer started")

	adm := admin.New(cfg.Name, "peer", cfg.AdminAddr, cfg.CorsOrigins)
	adm.HTTPRouter().GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"peer_id":    p.PeerID(),
			"session_id": p.SessionID(),
			"connected":  p.IsConnected(),
		})
	})
	adm.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = adm.Shutdown(ctx)
	p.Stop()
}
