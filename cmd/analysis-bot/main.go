package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/gammon-analysis-bot/internal/admission"
	"github.com/park285/gammon-analysis-bot/internal/bot"
	appcfg "github.com/park285/gammon-analysis-bot/internal/config"
	"github.com/park285/gammon-analysis-bot/internal/irisfast"
	"github.com/park285/gammon-analysis-bot/internal/jobqueue"
	"github.com/park285/gammon-analysis-bot/internal/ledger"
	"github.com/park285/gammon-analysis-bot/internal/msgcat"
	"github.com/park285/gammon-analysis-bot/internal/notify"
	"github.com/park285/gammon-analysis-bot/internal/obslog"
	"github.com/park285/gammon-analysis-bot/internal/submit"
)

func main() {
	if err := run(); err != nil {
		obslog.L().Error("analysis_bot_exit", zap.Error(err))
		_ = obslog.L().Sync()
		os.Exit(1)
	}
}

func run() error {
	logger, err := obslog.InitFromEnv("analysis-bot")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return err
	}

	rdb, err := jobqueue.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer rdb.Close()
	store := jobqueue.NewStore(rdb, jobqueue.Options{ResultTTL: cfg.ResultTTL}, logger.Named("jobqueue"))
	gate := admission.NewGate(rdb, cfg.AdmissionTTL, logger.Named("admission"))

	var bal ledger.Ledger = ledger.Noop{}
	if cfg.DatabaseURL != "" {
		pg, err := ledger.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		bal = pg
	}

	client := irisfast.NewClient(cfg.IrisBaseURL,
		irisfast.WithHeaderProvider(cfg.IrisHeaders),
		irisfast.WithLogger(logger.Named("iris")),
	)
	ws := irisfast.NewWebSocket(cfg.IrisWSURL, 5, time.Second)
	ws.SetHeaderProvider(cfg.IrisHeaders)
	ws.SetLogger(logger.Named("ws"))
	ws.OnStateChange(func(state irisfast.WebSocketState) {
		logger.Info("ws_state", zap.Stringer("state", state))
	})
	out := notify.NewPresenter(irisfast.NewEgress(cfg.IrisEgress, cfg.EgressDry, client, ws, logger.Named("egress")))

	poller := notify.NewPoller(notify.Config{Interval: cfg.PollInterval, MaxImages: cfg.MaxImages},
		store, gate, out, cat, logger.Named("notify"))
	svc := submit.New(ctx, gate, store, poller, logger.Named("submit"))
	handler := bot.NewHandler(bot.Config{Prefix: cfg.BotPrefix, AllowedRooms: cfg.AllowedRooms, InputRoot: cfg.InputRoot},
		svc, gate, store, bal, out, cat, logger.Named("bot"))

	ws.OnMessage(func(msg *irisfast.Message) {
		if msg == nil || msg.Msg == "" {
			return
		}
		in := bot.Incoming{Room: msg.Room, UserID: msg.UserID(), Text: msg.Msg}
		if !handler.Accepts(in) {
			return
		}
		// WS 수신 루프를 막지 않는다
		go func() {
			hctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			handler.Handle(hctx, in)
		}()
	})

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = ws.Connect(cctx)
	cancel()
	if err != nil {
		return err
	}
	if _, err := svc.Resume(ctx, gate, store); err != nil {
		logger.Warn("resume_watchers_failed", zap.Error(err))
	}
	logger.Info("analysis_bot_started", zap.String("prefix", cfg.BotPrefix), zap.Strings("rooms", cfg.AllowedRooms))

	<-ctx.Done()
	logger.Info("analysis_bot_stopping")

	closeCtx, cancelClose := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelClose()
	if err := ws.Close(closeCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("ws_close_failed", zap.Error(err))
	}
	// watchers stop with ctx; unfinished jobs keep their slots for the next start
	svc.Wait()
	return nil
}
