package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sebas/agentphone/internal/banner"
	"github.com/sebas/agentphone/internal/logger"
	"github.com/sebas/agentphone/internal/softphone/api"
	"github.com/sebas/agentphone/internal/softphone/config"
	"github.com/sebas/agentphone/internal/softphone/credential"
	"github.com/sebas/agentphone/internal/softphone/events"
	"github.com/sebas/agentphone/internal/softphone/health"
	"github.com/sebas/agentphone/internal/softphone/history"
	"github.com/sebas/agentphone/internal/softphone/metrics"
	"github.com/sebas/agentphone/internal/softphone/phone"
	"github.com/sebas/agentphone/internal/softphone/session"
	"github.com/sebas/agentphone/internal/softphone/sipua"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentphone: %v\n", err)
		os.Exit(2)
	}

	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	lines := make([]banner.ConfigLine, 0, len(cfg.Summary()))
	for _, kv := range cfg.Summary() {
		lines = append(lines, banner.ConfigLine{Label: kv[0], Value: kv[1]})
	}
	banner.Print(os.Stdout, "AGENT SOFTPHONE", lines)

	if err := run(cfg); err != nil {
		slog.Error("Softphone stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("open call history: %w", err)
	}
	defer store.Close()

	pub, err := newPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	factory := sipua.Factory(sipua.Config{
		Username:      cfg.SIP.Username,
		DisplayName:   cfg.SIP.DisplayName,
		Domain:        cfg.SIP.Domain,
		Registrar:     cfg.SIP.Registrar,
		BindAddr:      cfg.SIP.BindAddr,
		AdvertiseAddr: cfg.SIP.AdvertiseAddr,
		Port:          cfg.SIP.Port,
		Expires:       cfg.SIP.Expires,
		RTPPortMin:    cfg.SIP.RTPPortMin,
		RTPPortMax:    cfg.SIP.RTPPortMax,
	})
	provider := credential.NewHTTPProvider(cfg.Token.URL, cfg.Token.Username, cfg.Token.Password)

	coord := session.New(provider, factory,
		session.WithRingTimeout(cfg.Calls.RingTimeout),
		session.WithAutoAnswer(cfg.Calls.AutoAnswer),
		session.WithCallerID(cfg.SIP.CallerID),
	)

	collector := metrics.New()
	healthSrv := health.New()
	coord.Subscribe(history.NewRecorder(store))
	coord.Subscribe(events.NewBridge(pub, events.NewBuilder(cfg.SIP.Username).WithPrefix(cfg.MQTT.TopicPrefix)))
	coord.Subscribe(collector)
	coord.Subscribe(healthSrv)
	if cfg.Calls.Notifications {
		coord.Subscribe(notifier())
	}

	apiSrv := api.NewServer(cfg.API.Addr, coord, store, collector.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(apiSrv.Start)
	g.Go(func() error {
		return healthSrv.Serve(gctx, cfg.API.HealthAddr)
	})
	g.Go(func() error {
		// A failed Init leaves the device in its error state; the API
		// stays up so the dashboard can show why.
		if err := coord.Init(gctx); err != nil {
			slog.Error("[Phone] Device initialization failed", "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down")

		if err := coord.Destroy(); err != nil && !errors.Is(err, session.ErrDestroyed) {
			slog.Warn("[Phone] Destroy failed", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return apiSrv.Stop(shutdownCtx)
	})

	return g.Wait()
}

func newPublisher(cfg *config.Config) (events.Publisher, error) {
	if cfg.MQTT.Broker == "" {
		return events.NoopPublisher{}, nil
	}
	pub, err := events.NewMQTTPublisher(events.MQTTOptions{
		Broker:   cfg.MQTT.Broker,
		ClientID: cfg.MQTT.ClientID,
		QoS:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("connect MQTT broker: %w", err)
	}
	return pub, nil
}

func notifier() session.Observer {
	return session.ObserverFuncs{
		IncomingCall: func(n session.IncomingCallNotice) {
			slog.Info("[Phone] Incoming call", "from", phone.FormatUS(n.From), "call_id", n.CallID)
		},
		CallEnded: func(c session.EndedCall) {
			if c.Direction == session.DirectionInbound && !c.Answered() {
				slog.Info("[Phone] Missed call", "from", phone.FormatUS(c.From), "reason", c.Reason)
			}
		},
	}
}
