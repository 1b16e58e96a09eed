package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/taskgraph/internal/webui"
)

var uiPort int

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Serve the read-only dashboard without the MCP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if uiPort != 0 {
			cfg.UIPort = uiPort
		}
		eng, cleanup, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		dash := webui.New(eng, cfg.UIPort, newStderrLogger(cfg))
		fmt.Fprintf(os.Stderr, "dashboard: http://%s\n", dash.Addr())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			dash.Shutdown(shutdownCtx)
		}()
		return dash.ListenAndServe()
	},
}

func init() {
	uiCmd.Flags().IntVar(&uiPort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(uiCmd)
}
