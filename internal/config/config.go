// Package config holds airwave's application-wide configuration: the
// user-editable, per-instance settings persisted to a YAML file, with
// environment variable overrides, in the same viper-based convention the
// teacher uses for its own config package.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/crypto/ssh/terminal"
)

const (
	AppName      = "airwave"
	AppNameLower = "airwave"
	EnvPrefix    = "AIRWAVE"
)

// AppConfig is the configuration loaded during startup. It is nil until
// FromViper populates it.
var AppConfig *Config

var configIsEmpty bool

// Config is the top-level, per-instance configuration, persisted as
// YAML under the OS user config directory.
type Config struct {
	Server     Server     `yaml:"server"`
	Queue      Queue      `yaml:"queue"`
	Downloader Downloader `yaml:"downloader"`
	Player     Player     `yaml:"player"`
	SSE        SSE        `yaml:"sse"`
	Ingress    Ingress    `yaml:"ingress"`
	ClientID   string     `yaml:"client_id"`
}

// Server configures the HTTP control surface.
type Server struct {
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`
}

// Queue configures the queue manager's storage location. It has no
// dedup setting.
type Queue struct {
	DatabasePath string `yaml:"database_path"`
}

// Downloader configures the download/prefetch pipeline.
type Downloader struct {
	LookAhead      int    `yaml:"look_ahead"`
	MaxConcurrent  int64  `yaml:"max_concurrent"`
	CacheDir       string `yaml:"cache_dir"`
	ResolverBinary string `yaml:"resolver_binary"`
}

// Player configures the playback adapter selection.
type Player struct {
	PreferFallback bool `yaml:"prefer_fallback"`
	DefaultVolume  int  `yaml:"default_volume"`
}

// SSE holds a debounce setting for the status broadcaster. DebounceMs is
// loaded and saved with the rest of the config, but the broadcaster does
// not read it: its debounce window, startup grace and tick interval are
// fixed constants.
type SSE struct {
	DebounceMs int `yaml:"debounce_ms"`
}

// Ingress configures the chat-adapter websocket relay.
type Ingress struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Token   string `yaml:"token"`
}

func (p *Player) sanitize() {
	if p.DefaultVolume == 0 {
		p.DefaultVolume = 100
	}
}

func (d *Downloader) sanitize() {
	if d.LookAhead == 0 {
		d.LookAhead = 1
	}
	if d.MaxConcurrent == 0 {
		d.MaxConcurrent = 2
	}
	if d.CacheDir == "" {
		baseCacheDir, err := os.UserCacheDir()
		if err != nil {
			logrus.Fatalf("cannot set cache directory, please set manually: config.downloader.cache_dir")
		}
		d.CacheDir = filepath.Join(baseCacheDir, AppNameLower)
	}
}

func (s *Server) sanitize() {
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.LogLevel == "" {
		s.LogLevel = logrus.InfoLevel.String()
	}
}

func (c *Config) sanitize() {
	c.Server.sanitize()
	c.Downloader.sanitize()
	c.Player.sanitize()
}

// initNewConfig seeds sensible defaults for a first-run config file.
func (c *Config) initNewConfig() {
	c.sanitize()
	c.Queue.DatabasePath = filepath.Join(os.TempDir(), AppNameLower+".db")
}

func (c *Config) isEmptyConfig() bool {
	return c.Server.Addr == "" && c.Queue.DatabasePath == ""
}

// ReadUserInput reads a line from stdin, masking the input if mask is
// true (used for the ingress token on first run).
func ReadUserInput(name string, mask bool) (string, error) {
	fmt.Print("Enter ", name, ": ")
	var val string
	var err error
	if mask {
		raw, err := terminal.ReadPassword(int(syscall.Stdin))
		if err != nil {
			return "", fmt.Errorf("failed to read user input: %v", err)
		}
		val = string(raw)
		fmt.Println()
	} else {
		reader := bufio.NewReader(os.Stdin)
		val, err = reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read user input: %v", err)
		}
	}
	val = strings.Trim(val, "\n\r")
	return val, nil
}

// FromViper reads full application configuration from viper, applying
// defaults when the file was empty.
func FromViper() error {
	AppConfig = &Config{
		Server: Server{
			Addr:     viper.GetString("server.addr"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Queue: Queue{
			DatabasePath: viper.GetString("queue.database_path"),
		},
		Downloader: Downloader{
			LookAhead:      viper.GetInt("downloader.look_ahead"),
			MaxConcurrent:  viper.GetInt64("downloader.max_concurrent"),
			CacheDir:       viper.GetString("downloader.cache_dir"),
			ResolverBinary: viper.GetString("downloader.resolver_binary"),
		},
		Player: Player{
			PreferFallback: viper.GetBool("player.prefer_fallback"),
			DefaultVolume:  viper.GetInt("player.default_volume"),
		},
		SSE: SSE{
			DebounceMs: viper.GetInt("sse.debounce_ms"),
		},
		Ingress: Ingress{
			Enabled: viper.GetBool("ingress.enabled"),
			Addr:    viper.GetString("ingress.addr"),
			Token:   viper.GetString("ingress.token"),
		},
		ClientID: viper.GetString("client_id"),
	}

	if AppConfig.isEmptyConfig() {
		configIsEmpty = true
		setDefaults()
	} else {
		AppConfig.sanitize()
	}

	logrus.Debugf("effective config: server.addr=%s downloader.look_ahead=%d", AppConfig.Server.Addr, AppConfig.Downloader.LookAhead)
	return nil
}

// SaveConfig writes the in-memory config back to viper's config file.
func SaveConfig() error {
	updateViper()
	if err := viper.WriteConfig(); err != nil {
		return fmt.Errorf("save config file: %v", err)
	}
	return nil
}

func setDefaults() {
	if configIsEmpty {
		AppConfig.initNewConfig()
		if err := SaveConfig(); err != nil {
			logrus.Errorf("save config file: %v", err)
		}
	}
}

func updateViper() {
	viper.Set("server.addr", AppConfig.Server.Addr)
	viper.Set("server.log_level", AppConfig.Server.LogLevel)
	viper.Set("queue.database_path", AppConfig.Queue.DatabasePath)
	viper.Set("downloader.look_ahead", AppConfig.Downloader.LookAhead)
	viper.Set("downloader.max_concurrent", AppConfig.Downloader.MaxConcurrent)
	viper.Set("downloader.cache_dir", AppConfig.Downloader.CacheDir)
	viper.Set("downloader.resolver_binary", AppConfig.Downloader.ResolverBinary)
	viper.Set("player.prefer_fallback", AppConfig.Player.PreferFallback)
	viper.Set("player.default_volume", AppConfig.Player.DefaultVolume)
	viper.Set("sse.debounce_ms", AppConfig.SSE.DebounceMs)
	viper.Set("ingress.enabled", AppConfig.Ingress.Enabled)
	viper.Set("ingress.addr", AppConfig.Ingress.Addr)
	viper.Set("ingress.token", AppConfig.Ingress.Token)
	viper.Set("client_id", AppConfig.ClientID)
}

// GetClientID returns this instance's persisted client id, generating and
// saving a new one on first use.
func GetClientID() (string, error) {
	if AppConfig.ClientID != "" {
		return AppConfig.ClientID, nil
	}

	newID, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate client UUID: %w", err)
	}

	AppConfig.ClientID = newID.String()
	logrus.Infof("generated new client id: %s", AppConfig.ClientID)

	if err := SaveConfig(); err != nil {
		logrus.Errorf("failed to save config after generating client id: %v", err)
	}
	return AppConfig.ClientID, nil
}

// EnsureIngressToken prompts for and persists a masked ingress token on
// first run, the same ReadUserInput pattern the teacher uses for
// Jellyfin login credentials.
func EnsureIngressToken() (string, error) {
	if AppConfig.Ingress.Token != "" {
		return AppConfig.Ingress.Token, nil
	}
	token, err := ReadUserInput("ingress token", true)
	if err != nil {
		return "", err
	}
	AppConfig.Ingress.Token = token
	if err := SaveConfig(); err != nil {
		logrus.Errorf("failed to save config after setting ingress token: %v", err)
	}
	return token, nil
}
