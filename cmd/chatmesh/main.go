// Command chatmesh is the reference process wrapping the replication
// core: CLI argument parsing, log-file configuration, and the plain
// terminal UI. None of this is part of the core's contract (SPEC_FULL.md
// §10) — it exists because every complete repository needs a runnable
// entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"

	"github.com/oklog/run"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/jabolina/chatmesh/internal/ui"
	"github.com/jabolina/chatmesh/pkg/chatmesh"
	"github.com/jabolina/chatmesh/pkg/chatmesh/definition"
)

func main() {
	app := kingpin.New("chatmesh", "Decentralized peer-to-peer chat over a replicated commit log.")

	bootstrap := app.Arg("bootstrap", "hostname:port of a node already in the mesh").
		Default(fmt.Sprintf("startup_server:%d", definition.DefaultPort)).String()
	nick := app.Flag("nick", "display name for this node").Default(randomNick()).String()
	port := app.Flag("port", "TCP port to listen on").Default(fmt.Sprintf("%d", definition.DefaultPort)).Int()
	metricsAddr := app.Flag("metrics-addr", "bind address for the Prometheus /metrics endpoint, empty to disable").
		Default("").String()

	startup := app.Command("startup", "start a bootstrap node with no initial peers")
	startupNick := startup.Flag("nick", "display name for this node").Default("startup").String()
	startupPort := startup.Flag("port", "TCP port to listen on").Default(fmt.Sprintf("%d", definition.DefaultPort)).Int()
	startupMetricsAddr := startup.Flag("metrics-addr", "bind address for the Prometheus /metrics endpoint, empty to disable").
		Default("").String()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger := newLogger()

	var cfg chatmesh.Config
	var metricsListenAddr string
	switch cmd {
	case startup.FullCommand():
		cfg = chatmesh.Config{
			Nickname:   *startupNick,
			ListenAddr: fmt.Sprintf("0.0.0.0:%d", *startupPort),
			Join:       false,
		}
		metricsListenAddr = *startupMetricsAddr
	default:
		advertise, err := chatmesh.LocalAdvertiseAddress(*port)
		if err != nil {
			logger.Errorf("failed to discover local advertise address: %v", err)
			os.Exit(1)
		}
		bootAddr, err := chatmesh.CanonicalAddress(*bootstrap)
		if err != nil {
			logger.Errorf("failed to resolve bootstrap address %q: %v", *bootstrap, err)
			os.Exit(1)
		}
		cfg = chatmesh.Config{
			Nickname:      *nick,
			ListenAddr:    fmt.Sprintf("0.0.0.0:%d", *port),
			AdvertiseAddr: advertise,
			Bootstrap:     []chatmesh.Peer{{Address: bootAddr, Nickname: "bootstrap"}},
			Join:          true,
		}
		metricsListenAddr = *metricsAddr
	}

	metrics := chatmesh.NewMetrics()
	node := chatmesh.NewNode(cfg, logger, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group

	g.Add(func() error {
		<-ctx.Done()
		return nil
	}, func(error) {
		node.Stop()
		cancel()
	})

	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	stop := make(chan struct{})
	g.Add(func() error {
		ui.Plain(os.Stdin, node, stop)
		return nil
	}, func(error) { close(stop) })

	renderStop := make(chan struct{})
	g.Add(func() error {
		ui.RenderEvents(os.Stdout, node.Events(), renderStop)
		return nil
	}, func(error) { close(renderStop) })

	if metricsListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: metricsListenAddr, Handler: mux}
		g.Add(func() error {
			return srv.ListenAndServe()
		}, func(error) {
			_ = srv.Close()
		})
	}

	if err := node.Start(ctx); err != nil {
		logger.Errorf("failed to start node: %v", err)
		os.Exit(1)
	}

	if err := g.Run(); err != nil {
		logger.Errorf("server thread error: %v", err)
	}
}

func newLogger() *definition.DefaultLogger {
	path := os.Getenv("LOG_FILE")
	if path == "" {
		path = "chat.log"
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return definition.NewStderrLogger(false)
	}
	return definition.NewDefaultLogger(f, false)
}

func randomNick() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "anon"
	}
	return host
}
