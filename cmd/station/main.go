package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"infothon/internal/scanclient"
	"infothon/internal/scanner"
	"infothon/internal/station"
)

var (
	apiURL  string
	device  string
	logPath string
	timeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "station",
	Short: "Infothon check-in desk",
	Long: `Terminal check-in station for the Infothon desk.

Codes are read line by line from --device (a keyboard-wedge or serial scanner).
Without a device, ticket ids are typed in by hand.`,
	RunE: runStation,
}

func init() {
	_ = godotenv.Load(".env")

	rootCmd.Flags().StringVar(&apiURL, "api", envOr("INFOTHON_API", "http://localhost:8080"), "backend base URL")
	rootCmd.Flags().StringVar(&device, "device", os.Getenv("INFOTHON_SCANNER"), "scanner device path")
	rootCmd.Flags().StringVar(&logPath, "log", "station.log", "log file")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "backend request timeout")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runStation(cmd *cobra.Command, args []string) error {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	log := zerolog.New(f).With().Timestamp().Str("component", "station").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var camera scanner.Camera = station.ManualCamera{}
	if device != "" {
		camera = scanner.LineCamera{Path: device}
	}

	client := scanclient.NewClient(apiURL, timeout)
	machine := scanner.NewMachine(client, client, camera, &log)
	log.Info().Str("api", apiURL).Str("device", device).Msg("station started")

	_, err = tea.NewProgram(station.NewApp(ctx, machine), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	machine.Logout()
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
