package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clipforge/warden/internal/bridge"
	"github.com/clipforge/warden/internal/monitor"
	"github.com/clipforge/warden/internal/probe"
	"github.com/clipforge/warden/internal/supervisor"
	"github.com/clipforge/warden/internal/tui"
	"github.com/clipforge/warden/pkg/consts"
	"github.com/clipforge/warden/pkg/logger"
	"github.com/clipforge/warden/pkg/protocol"
)

var (
	cfgFile    string
	bridgeAddr string
)

const defaultCfgFile = "warden.yaml"

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden: backend launch supervisor for the ClipForge studio",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor and the UI bridge",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			fmt.Printf("Error reading config: %v\n", err)
			os.Exit(1)
		}

		logger.InitLogger(cfg.Observability.LogLevel)
		if cfg.Observability.MetricsAddr != "" {
			monitor.InitMetrics(cfg.Observability.MetricsAddr)
		}

		env := probe.Detect(cfg)
		backendURL := resolveBackendURL(cfg)
		logger.Log.Info("Booting warden", "backend", backendURL, "platform", env.Platform)

		sup := supervisor.New(cfg, env, backendURL)

		srv, err := bridge.New(sup, backendURL)
		if err != nil {
			logger.Log.Error("Bridge setup failed", "err", err)
			os.Exit(1)
		}

		if err := srv.Start(cfg.Bridge.ListenAddr); err != nil {
			logger.Log.Error("Bridge bind failed", "err", err)
			os.Exit(1)
		}

		// Health polling starts before any launch attempt: a backend from
		// a previous session is picked up as-is.
		sup.Start()

		if res := sup.EnsureBackendRunning(); !res.Success {
			// Not fatal: the UI can retry through the bridge once the
			// user fixes the install.
			logger.Log.Error("Initial backend launch failed", "error", res.Error, "detail", res.Detail)
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Log.Info("Signal received, shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		sup.Stop()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the supervisor status once",
	Run: func(cmd *cobra.Command, args []string) {
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(bridgeURL() + "/api/state")
		if err != nil {
			fmt.Printf("Bridge unreachable at %s: %v\n", bridgeURL(), err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		var state bridge.StateResponse
		if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
			fmt.Printf("Bad bridge response: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("supervisor:   %s\n", state.State)
		fmt.Printf("connectivity: %s\n", state.Connectivity)
		if state.Mode != "" {
			fmt.Printf("mode:         %s\n", state.Mode)
		}
		if state.PID != 0 {
			fmt.Printf("pid:          %d\n", state.PID)
		}
		if state.HealthError != "" {
			fmt.Printf("health:       %s\n", state.HealthError)
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live terminal view of the supervisor",
	Run: func(cmd *cobra.Command, args []string) {
		if err := tui.Run(bridgeURL(), 2*time.Second); err != nil {
			fmt.Printf("Watch failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultCfgFile, "config file path")
	rootCmd.PersistentFlags().StringVar(&bridgeAddr, "bridge", "", "bridge address for status/watch")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
}

// loadConfig reads the YAML config and normalizes it. An absent default
// file means "all defaults", an explicitly named missing file is an error.
func loadConfig(path string) (*protocol.Config, error) {
	var cfg protocol.Config
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) || path != defaultCfgFile {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return &cfg, nil
}

func resolveBackendURL(cfg *protocol.Config) string {
	if cfg.Backend.BaseURL != "" {
		return cfg.Backend.BaseURL
	}
	if v := os.Getenv(consts.EnvBackendURL); v != "" {
		return v
	}
	return consts.DefaultBackendURL
}

func bridgeURL() string {
	addr := bridgeAddr
	if addr == "" {
		addr = consts.DefaultBridgeAddr
	}
	return "http://" + addr
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
