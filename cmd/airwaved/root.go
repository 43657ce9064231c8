package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"tryffel.net/go/airwave/internal/config"
)

var (
	cfgFile string
	addr    string
)

var rootCmd = &cobra.Command{
	Use:   "airwaved",
	Short: "airwaved is a single-host music playback server",
	Long: `airwaved ingests track requests from chat, web, and mobile clients,
resolves and downloads them, and drives a local audio-player subprocess
while exposing a real-time HTTP/SSE control plane.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		initConfig()
		initLogging()

		app, err := NewApplication(addr)
		if err != nil {
			return err
		}
		return app.Run()
	},
}

// Execute runs the root command; errors are returned to main for a clean
// non-zero exit, per the "0 normal, non-zero reserved for unrecoverable
// startup failures" exit code contract.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file")
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := os.UserConfigDir()
		if err != nil {
			logrus.Errorf("cannot determine config directory: %v", err)
			configDir = "."
		} else {
			configDir = filepath.Join(configDir, config.AppNameLower)
		}
		viper.AddConfigPath(configDir)
		viper.SetConfigName(config.AppNameLower)
		viper.SetConfigType("yaml")
		_ = os.MkdirAll(configDir, 0o755)
	}

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logrus.Fatalf("read config file: %v", err)
		}
	}

	if err := config.FromViper(); err != nil {
		logrus.Fatalf("build config: %v", err)
	}
}

func initLogging() {
	level, err := logrus.ParseLevel(config.AppConfig.Server.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&prefixed.TextFormatter{
		ForceFormatting: true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
		QuoteCharacter:  "'",
		Once:            sync.Once{},
	})
	logrus.SetOutput(os.Stderr)
}
