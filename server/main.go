// Command nhp-server answers knocks from agents.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ogier/pflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malcolmseyd/nhp-go/config"
	"github.com/malcolmseyd/nhp-go/crypto"
	"github.com/malcolmseyd/nhp-go/server/auth"
	"github.com/malcolmseyd/nhp-go/util"
)

func main() {
	cfgFile := pflag.StringP("config", "f", "server.toml", "server configuration file")
	genKey := pflag.BoolP("genkey", "g", false, "print a new key pair and exit")
	scheme := pflag.StringP("scheme", "s", "curve25519", "cipher scheme of the generated key pair")
	pflag.Parse()

	if *genKey {
		s, err := crypto.ParseScheme(*scheme)
		if err != nil {
			util.Fatalln(err)
		}
		suite, _ := crypto.NewSuite(s)
		if err := util.PrintKeyPair(suite); err != nil {
			util.Fatalln("Error generating key pair:", err)
		}
		return
	}

	cfg, err := config.LoadServerFile(*cfgFile)
	if err != nil {
		util.Fatalln("Error loading config:", err)
	}
	backend, err := cfg.Logging.NewBackend()
	if err != nil {
		util.Fatalln("Error opening log:", err)
	}
	log := backend.GetLogger("server")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r, err := auth.New(cfg, backend, reg)
	if err != nil {
		util.Fatalln(err)
	}

	conn, err := net.ListenPacket("udp", cfg.Server.Listen)
	if err != nil {
		util.Fatalln("Error listening:", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := backend.Rotate(); err != nil {
				util.Eprintln("Error rotating log:", err)
			}
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Server.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics: %v", err)
			}
		}()
		defer srv.Close()
	}

	go r.PruneEvery(ctx, cfg.Server.MaxSkew())

	log.Noticef("Serving %v knocks on %v with %d workers", cfg.Server.Suite().Scheme(), conn.LocalAddr(), cfg.Server.Workers)
	log.Noticef("Public key: %s", util.EncodeKey(r.PublicKey()))
	if err := r.Serve(ctx, conn, cfg.Server.Workers); err != nil {
		log.Errorf("serve: %v", err)
		os.Exit(1)
	}
	log.Notice("Shutting down")
}
