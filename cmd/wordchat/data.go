package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"wordchat/internal/config"
	"wordchat/internal/memory"
	"wordchat/internal/provider"
)

const defaultExportFile = "pli7data_backup.json"

func exportCmd() *cobra.Command {
	var session, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every conversation of a session to a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logClose, err := loadConfig()
			if err != nil {
				return err
			}
			defer logClose.Close()

			ctx := cmd.Context()
			blobs, mgr, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer blobs.Close()

			store, err := mgr.For(ctx, session)
			if err != nil {
				return err
			}
			data, err := store.Export(ctx)
			if err != nil {
				return err
			}
			if output == "-" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			logger.Info("conversations exported", "session", session, "key", store.Key(), "file", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", memory.DefaultSession, "session to export, e.g. web:<cookie> or telegram:<chat id>")
	cmd.Flags().StringVarP(&output, "output", "o", defaultExportFile, "output file, - for stdout")
	return cmd
}

func importCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the conversations of a session with an exported JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logClose, err := loadConfig()
			if err != nil {
				return err
			}
			defer logClose.Close()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			blobs, mgr, err := openStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer blobs.Close()

			store, err := mgr.For(ctx, session)
			if err != nil {
				return err
			}
			if err := store.Import(ctx, data); err != nil {
				return err
			}
			list, err := store.List(ctx)
			if err != nil {
				return err
			}
			logger.Info("conversations imported", "session", session, "file", filepath.Base(args[0]), "conversations", len(list))
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", memory.DefaultSession, "session to import into")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, storage and provider status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wordchat v%s\n", version)
			fmt.Fprintf(out, "config:    %s\n", cfgPath)

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			blobs, mgr, err := openStorage(ctx, cfg)
			if err != nil {
				fmt.Fprintf(out, "storage:   %s FAILED (%v)\n", cfg.Storage.Backend, err)
			} else {
				defer blobs.Close()
				fmt.Fprintf(out, "storage:   %s ok (namespace %s)\n", cfg.Storage.Backend, mgr.KeyFor(memory.DefaultSession))
				if lister, ok := blobs.(interface {
					Keys(context.Context, string) ([]string, error)
				}); ok {
					if keys, err := lister.Keys(ctx, cfg.Storage.Namespace); err == nil {
						fmt.Fprintf(out, "sessions:  %d stored\n", len(keys))
					}
				}
			}

			factory := provider.NewFactory(cfg.Providers, logger)
			for _, role := range factory.Roles() {
				c, err := factory.Get(ctx, role)
				if err != nil {
					fmt.Fprintf(out, "%-10s unavailable (%v)\n", role+":", err)
					continue
				}
				fmt.Fprintf(out, "%-10s %s\n", role+":", c.Name())
			}

			weatherState := "disabled (no API key)"
			if cfg.Commands.Weather.APIKey != "" {
				weatherState = "configured"
			}
			fmt.Fprintf(out, "weather:   %s\n", weatherState)
			fmt.Fprintf(out, "reminders: enabled=%t key=%s\n", cfg.Reminders.Enabled, cfg.Reminders.Key)
			return nil
		},
	}
}
