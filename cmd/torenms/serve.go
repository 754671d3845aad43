package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/torantis/torenms/api"
	"github.com/torantis/torenms/auth"
	"github.com/torantis/torenms/cfg"
	"github.com/torantis/torenms/event/pub"
	"github.com/torantis/torenms/log"
	"github.com/torantis/torenms/metric"
	"github.com/torantis/torenms/store"
	"github.com/torantis/torenms/store/memory"
	"github.com/torantis/torenms/store/redis"
	"github.com/torantis/torenms/svc"
)

func newServeCmd() *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the api, the device mirror and the optional integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if backend != "" {
				if err := os.Setenv("STORE_BACKEND", backend); err != nil {
					return err
				}
			}
			conf, err := cfg.NewConfig()
			if err != nil {
				return fmt.Errorf("NewConfig(): %s", err)
			}
			return serve(conf)
		},
	}
	cmd.Flags().StringVar(&backend, "store", "", "store backend: redis or memory (overrides STORE_BACKEND)")
	return cmd
}

func serve(conf *cfg.Config) error {
	l := log.New(conf.Service.AppID, conf.Service.LogLevel)
	defer l.Flush() // nolint

	m := metric.New(conf.Service.AppID)
	ctrl := svc.NewCtrl()
	ctx := context.Background()

	g, check, closeStore, err := newStore(conf, l)
	if err != nil {
		l.With("func", "serve", "event", log.EventStoreInit).Errorf("newStore(): %s", err)
		return err
	}
	defer closeStore()
	g = store.Instrument(g, m, l)

	identity := auth.NewProvider(g)
	tokens := auth.NewTokens(conf.Token.Secret, conf.Token.TTL)
	v, err := tokens.Validator()
	if err != nil {
		return err
	}

	sessions := svc.NewSessionStore(svc.Session{})
	boot := svc.NewBootstrap(&svc.BootstrapCfg{
		Log:      l,
		Store:    g,
		Sessions: sessions,
	})
	if _, err := boot.Run(ctx, ""); err != nil {
		return fmt.Errorf("bootstrap: %s", err)
	}

	mirror := svc.NewMirror(&svc.MirrorCfg{
		Log:      l,
		Metric:   m,
		Store:    g,
		DeviceID: conf.Service.DeviceID,
	})
	if err := mirror.Start(ctx); err != nil {
		return fmt.Errorf("Start(): %s", err)
	}
	defer mirror.Close() // nolint

	var notifier svc.Notifier
	if conf.NATS.Enabled() {
		p, err := pub.New(&pub.Cfg{
			Addr:          conf.NATS.Addr,
			Topic:         conf.NATS.NotificationTopic,
			Log:           l,
			RetryTimeout:  conf.Service.RetryTimeout,
			RetryAttempts: conf.Service.RetryAttempts,
		})
		if err != nil {
			return fmt.Errorf("pub.New(): %s", err)
		}
		defer p.Close()
		notifier = p
	}

	if conf.Influx.Enabled() {
		client, w := svc.NewInfluxWriter(conf.Influx.URL, conf.Influx.Token, conf.Influx.Org, conf.Influx.Bucket)
		defer client.Close()
		go svc.NewTelemetry(&svc.TelemetryCfg{
			Log:      l,
			Ctrl:     ctrl,
			Metric:   m,
			Source:   mirror,
			Writer:   w,
			DeviceID: conf.Service.DeviceID,
			Timeout:  conf.Service.RetryTimeout,
		}).Run()
	}

	if conf.Consul.Enabled {
		agent, err := svc.NewConsulAgent()
		if err != nil {
			return fmt.Errorf("NewConsulAgent(): %s", err)
		}
		mesh := svc.NewMeshAgent(&svc.MeshAgentCfg{
			Name:  conf.Service.AppID,
			Port:  int(conf.Service.PortREST),
			Agent: agent,
			Ctrl:  ctrl,
			TTL:   conf.Consul.TTL,
			Check: check,
			Log:   l,
		})
		if err := mesh.Run(); err != nil {
			return fmt.Errorf("mesh.Run(): %s", err)
		}
	}

	a := api.New(&api.Cfg{
		Log:      l,
		Ctrl:     ctrl,
		Metric:   m,
		PortRPC:  conf.Service.PortRPC,
		PortREST: conf.Service.PortREST,
		Retry:    conf.Service.RetryTimeout,
		Store:    g,
		State:    mirror,
		Sessions: sessions,
		Accounts: svc.NewAccount(&svc.AccountCfg{
			Log:      l,
			Store:    g,
			Identity: identity,
			Tokens:   tokens,
			DeviceID: conf.Service.DeviceID,
		}),
		Feeds: svc.NewFeed(&svc.FeedCfg{Log: l, Store: g}),
		Dispatcher: svc.NewDispatcher(&svc.DispatcherCfg{
			Log:      l,
			Metric:   m,
			Store:    g,
			State:    mirror,
			Identity: identity,
			Notifier: notifier,
			DeviceID: conf.Service.DeviceID,
		}),
		Validate: v.ValidateToken,
		Check:    check,
		DeviceID: conf.Service.DeviceID,
	})
	go a.Run()

	ctrl.Wait(conf.Service.TerminationTimeout)
	l.With("event", log.EventMSShutdown).Info()
	return nil
}

// newStore opens the configured backend and returns it with its liveness check and release func.
func newStore(conf *cfg.Config, l log.Logger) (store.Gateway, func() error, func(), error) {
	if conf.Store.Backend == cfg.BackendMemory {
		return memory.New(), func() error { return nil }, func() {}, nil
	}

	r, err := redis.New(&redis.Cfg{
		Addr:             cfg.Addr{Host: conf.Store.Host, Port: conf.Store.Port},
		Password:         conf.Store.Password,
		MaxIdlePoolConns: conf.Store.MaxIdlePoolConns,
		IdleTimeout:      conf.Store.IdleTimeout,
		RetryTimeout:     conf.Service.RetryTimeout,
		RetryAttempts:    conf.Service.RetryAttempts,
		Log:              l,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	release := func() {
		if err := r.Close(); err != nil {
			l.Errorf("Close(): %s", err)
		}
	}
	return r, r.Check, release, nil
}
