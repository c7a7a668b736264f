package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/api"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/kit"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/scheduler"
	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/storage"
)

// serveCmd runs the HTTP API
func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the progress websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.Close()

			if cmd.Flags().Changed("host") {
				e.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				e.cfg.Server.Port = port
			}

			loc, err := e.cfg.Location()
			if err != nil {
				return err
			}

			hub := api.NewWebSocketHub()
			k, err := e.newKit(kit.WithObserver(hub))
			if err != nil {
				return err
			}

			if e.cfg.Refresh.Enabled() {
				sched, err := startRefresh(e, k, loc)
				if err != nil {
					return err
				}
				defer sched.Stop()
			}

			server := api.New(api.Config{
				Host:        e.cfg.Server.Host,
				Port:        e.cfg.Server.Port,
				Kit:         k,
				DB:          e.db,
				LedgerStore: e.ledger,
				Hub:         hub,
				Location:    loc,
				Logger:      e.logger,
			})

			errc := make(chan error, 1)
			go func() {
				errc <- server.Start()
			}()

			fmt.Printf("🚀 Serving on http://%s:%d (Ctrl+C to stop)\n", e.cfg.Server.Host, e.cfg.Server.Port)

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
			}

			fmt.Println("\n🛑 Shutting down...")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Stop(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "localhost", "listen host")
	cmd.Flags().IntVar(&port, "port", 8080, "listen port")
	return cmd
}

// startRefresh schedules the periodic replay of the stored orders
func startRefresh(e *env, k *kit.Kit, loc *time.Location) (*scheduler.Scheduler, error) {
	schedule, err := e.cfg.Refresh.Schedule()
	if err != nil {
		return nil, err
	}
	agentType, err := core.ParseAgentType(e.cfg.Refresh.Type)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(loc, e.logger)
	task := scheduler.RefreshTask(schedule, agentType, k, storage.NewOrderStore(e.db))
	if err := sched.Register(task); err != nil {
		return nil, err
	}
	if err := sched.Start(); err != nil {
		return nil, err
	}

	if t, ok := sched.GetTask(task.ID); ok {
		fmt.Printf("🔁 %s, next run %s\n", t.Name, t.NextRun.Format("2006-01-02 15:04 MST"))
	}
	return sched, nil
}
