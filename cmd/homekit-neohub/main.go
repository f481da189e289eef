package main

import (
	"context"
	_ "embed"
	"errors"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/env/v11"
	client "github.com/caarlos0/homekit-neohub"
	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed index.html
var index []byte

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "homekit",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const manufacturer = "DSC"

func main() {
	log.Info(
		"homekit-neohub",
		"version", version,
		"commit", commit,
		"date", date,
		"info", "Homekit bridge for DSC Neo alarm systems behind a NeoHub",
	)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(
			"could not parse env",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}

	cli := client.New(cfg.Host, cfg.Port, cfg.SSL, cfg.AccessToken)

	synced := make(chan client.State, 1)
	unregister := cli.OnFullState(func(s client.State) {
		select {
		case synced <- s:
		default:
		}
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Second * 30
	bo.MaxElapsedTime = time.Minute * 5
	if err := backoff.RetryNotify(func() error {
		if err := cli.Connect(context.Background()); err != nil {
			if errors.Is(err, client.ErrInvalidToken) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, bo, func(err error, d time.Duration) {
		log.Error("could not connect to the hub", "err", err, "retry-in", d)
	}); err != nil {
		log.Fatal("could not connect to the hub", "err", err)
	}

	var state client.State
	select {
	case state = <-synced:
	case <-time.After(time.Second * 30):
		log.Fatal("hub never sent the full state")
	}
	unregister()

	macAddr, err := client.MacAddress(cfg.Host)
	if err != nil {
		log.Warn(
			"could not get the mac address, needs 'cap_net_raw+ep' capabilities",
			"err", err,
		)
	}
	log.Info(
		"got hub state",
		"sessions", len(state),
		"mac", macAddr,
	)

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "Alarm Bridge",
		SerialNumber: macAddr,
		Manufacturer: manufacturer,
		Firmware:     version,
	})

	acc, all := buildAccessories(cli, cfg, state)

	connectedGauge.Set(1)
	cli.OnConnect(func() { connectedGauge.Set(1) })
	cli.OnDisconnect(func() { connectedGauge.Set(0) })
	cli.OnFullState(acc.UpdateAll)
	cli.OnPartitionUpdate(acc.UpdatePartition)
	cli.OnZoneUpdate(acc.UpdateZone)
	cli.OnError(func(msg string) {
		hubErrorCounter.Inc()
		log.Error("hub reported an error", "message", msg)
	})

	fs := hap.NewFsStore("./db")

	server, err := hap.NewServer(fs, bridge.A, all...)
	if err != nil {
		log.Fatal("fail to create server", "error", err)
	}
	server.Addr = cfg.Address
	server.ServeMux().Handle("/metrics", promhttp.Handler())
	server.ServeMux().Handle("/", statusPage(cli))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-c
		log.Info("stopping server")
		signal.Stop(c)
		cancel()
	}()

	log.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to close server", "err", err)
	}
	if err := cli.Disconnect(); err != nil {
		log.Error("could not disconnect from the hub", "err", err)
	}
}

type PageSession struct {
	ID         string
	Name       string
	Partitions []PagePartition
	Zones      []PageZone
}

type PagePartition struct {
	Number int
	Name   string
	Status string
}

type PageZone struct {
	Number int
	Name   string
	Class  string
	Open   bool
}

func statusPage(cli *client.Client) http.Handler {
	tpl := template.Must(template.New("index").Parse(string(index)))
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var sessions []PageSession
		for id, sess := range cli.State() {
			page := PageSession{ID: id, Name: sess.Name}
			for _, part := range sess.Partitions {
				page.Partitions = append(page.Partitions, PagePartition{
					Number: part.Number,
					Name:   part.Name,
					Status: part.Status.String(),
				})
			}
			for _, zone := range sess.Zones {
				page.Zones = append(page.Zones, PageZone{
					Number: zone.Number,
					Name:   zone.Name,
					Class:  zone.DeviceClass.String(),
					Open:   zone.Open,
				})
			}
			sessions = append(sessions, page)
		}

		_ = tpl.Execute(w, struct {
			Connected bool
			Sessions  []PageSession
		}{
			Connected: cli.Connected(),
			Sessions:  sessions,
		})
	})
}
