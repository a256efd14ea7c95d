package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"wordchat/internal/channel"
	"wordchat/internal/domain"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat in the terminal",
		RunE:  runChat,
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web, WebSocket and Telegram channels",
		Long:  "Starts every enabled channel, the agent loop and the reminder scheduler. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, logClose, err := loadConfig()
	if err != nil {
		return err
	}
	defer logClose.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	cli := channel.NewCLI(channel.CLIConfig{Logger: logger, Render: cfg.Channels.CLI.Render})

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		a.loop.Run(runCtx)
		return nil
	})
	if a.scheduler != nil {
		g.Go(func() error {
			a.scheduler.Start(runCtx)
			return nil
		})
	}
	g.Go(func() error {
		// The REPL ending (EOF or /quit) ends the session.
		defer cancel()
		return cli.Start(runCtx, a.bus)
	})
	return g.Wait()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logClose, err := loadConfig()
	if err != nil {
		return err
	}
	defer logClose.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var channels []domain.Channel
	if cfg.Channels.Web.Enabled {
		mounts := map[string]http.Handler{}
		if cfg.Channels.WebSocket.Enabled {
			ws := channel.NewWebSocketChannel(channel.WSConfig{Path: cfg.Channels.WebSocket.Path, Logger: logger})
			mounts[ws.Path()] = ws.Handler()
			channels = append(channels, ws)
		}
		webCfg := channel.WebConfig{
			Host:       cfg.Channels.Web.Host,
			Port:       cfg.Channels.Web.Port,
			Memory:     a.memory,
			Config:     cfg,
			ConfigPath: resolveConfigPath(),
			Mounts:     mounts,
			Logger:     logger,
			Version:    version,
		}
		if cfg.Metrics.Enabled {
			webCfg.Metrics = a.metrics
			webCfg.MetricsPath = cfg.Metrics.Endpoint
		}
		channels = append(channels, channel.NewWeb(webCfg))
	} else if cfg.Channels.WebSocket.Enabled {
		logger.Warn("websocket channel is served by the web channel, which is disabled")
	}
	if cfg.Channels.Telegram.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		}))
	}
	if len(channels) == 0 {
		return fmt.Errorf("no channel enabled (see channels.* in %s)", resolveConfigPath())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.loop.Run(gctx)
		return nil
	})
	if a.scheduler != nil {
		g.Go(func() error {
			a.scheduler.Start(gctx)
			return nil
		})
	}
	for _, ch := range channels {
		g.Go(func() error {
			logger.Info("channel starting", "channel", ch.Name())
			if err := ch.Start(gctx, a.bus); err != nil {
				return fmt.Errorf("%s channel: %w", ch.Name(), err)
			}
			return nil
		})
	}

	logger.Info("wordchat started. Press Ctrl+C to stop.", "channels", len(channels))
	err = g.Wait()
	for _, ch := range channels {
		_ = ch.Stop()
	}
	logger.Info("shutdown complete")
	return err
}
