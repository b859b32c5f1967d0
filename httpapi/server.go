// Package httpapi serves the control-plane resources other nodes consume:
// GET /status, GET /seed_peers, and the prometheus /metrics endpoint.
// Anchors must expose it; leaves serve it too for diagnostics.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/oneepicnight/vision-node/backbone"
	"github.com/oneepicnight/vision-node/config"
	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/log"
	"github.com/oneepicnight/vision-node/p2p"
)

// Server is the node's HTTP surface.
type Server struct {
	cfg     *config.Config
	params  core.Params
	chain   *core.Chain
	peers   *p2p.Store
	tracker *backbone.Tracker
	logger  *zap.SugaredLogger

	srv *http.Server
	ln  net.Listener
}

// NewServer creates the HTTP server on cfg.HTTPListen.
func NewServer(cfg *config.Config, params core.Params, chain *core.Chain, peers *p2p.Store, tracker *backbone.Tracker) *Server {
	s := &Server{
		cfg:     cfg,
		params:  params,
		chain:   chain,
		peers:   peers,
		tracker: tracker,
		logger:  log.New("httpapi"),
	}
	router := httprouter.New()
	router.GET("/status", s.handleStatus)
	router.GET("/seed_peers", s.handleSeedPeers)
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	handler := cors.Default().Handler(router)
	s.srv = &http.Server{
		Addr:              cfg.HTTPListen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start binds the port synchronously (so callers know immediately if binding
// fails) then serves requests in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.HTTPListen)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Errorw("server error", "err", err)
		}
	}()
	return nil
}

// Addr returns the listener's address. Useful when started on ":0".
func (s *Server) Addr() net.Addr {
	if s.ln != nil {
		return s.ln.Addr()
	}
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting up to 5 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	tip := s.chain.Tip()
	resp := backbone.StatusResponse{
		TipHeight:   tip.Header.Height,
		TipHash:     tip.Hash,
		PeerCount:   uint32(len(s.peers.ActiveSnapshot())),
		NodeVersion: s.params.NodeVersion,
	}
	writeJSON(w, s.logger, resp)
}

func (s *Server) handleSeedPeers(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	active := s.peers.ActiveSnapshot()
	seeds := make([]backbone.SeedPeer, 0, len(active)+1)
	// Advertise ourselves first when configured to be reachable.
	if s.cfg.AdvertisedP2PAddress != "" {
		seeds = append(seeds, backbone.SeedPeer{
			Address:  s.cfg.AdvertisedP2PAddress,
			IsAnchor: s.cfg.Role == config.RoleAnchor,
		})
	}
	for _, p := range active {
		if p.Direction == p2p.DirInbound {
			continue // inbound addresses are not dialable
		}
		seeds = append(seeds, backbone.SeedPeer{
			Address:     p.Address,
			HTTPAddress: p.HTTPEndpoint,
			IsAnchor:    p.Role == p2p.RoleAnchor,
		})
	}
	writeJSON(w, s.logger, seeds)
}

func writeJSON(w http.ResponseWriter, logger *zap.SugaredLogger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnw("write response", "err", err)
	}
}
