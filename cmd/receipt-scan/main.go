package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"receipt-scan-service/internal/client"
	"receipt-scan-service/internal/logging"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "receipt-scan",
		Short: "Scan receipt images through the receipt scan service",
		Long: `receipt-scan uploads a receipt photo to the scan service, follows the
background job and prints the extracted store, date and line items as JSON.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.config/receipt-scan/config.yaml)")
	flags.String("server", "http://localhost:8080", "scan service base url")
	flags.String("user", "", "user id sent as X-User-ID")
	flags.Duration("interval", client.DefaultInterval, "status poll interval")
	flags.Duration("timeout", client.DefaultTimeout, "give up waiting after this long")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")

	_ = viper.BindPFlag("server", flags.Lookup("server"))
	_ = viper.BindPFlag("user", flags.Lookup("user"))
	_ = viper.BindPFlag("interval", flags.Lookup("interval"))
	_ = viper.BindPFlag("timeout", flags.Lookup("timeout"))
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))

	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(statusCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig(_ *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "receipt-scan"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("RECEIPTS")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	log, err := logging.New(os.Stderr, viper.GetString("log_level"), "text")
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	if viper.GetString("user") == "" {
		return fmt.Errorf("a user id is required: pass --user or set RECEIPTS_USER")
	}
	return nil
}

func newAPI() *client.HTTPAPI {
	return client.NewHTTPAPI(viper.GetString("server"), viper.GetString("user"), 30*time.Second)
}

func newPoller(api client.API, opts ...client.Option) *client.Poller {
	base := []client.Option{
		client.WithInterval(viper.GetDuration("interval")),
		client.WithTimeout(viper.GetDuration("timeout")),
	}
	return client.NewPoller(api, append(base, opts...)...)
}
