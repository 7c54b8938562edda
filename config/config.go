// Package config loads the relay's configuration from the environment (or an
// optional .env file under the XDG config directory), following the pattern
// this codebase uses for every runtime knob: a struct of `env:"..."` tagged
// fields loaded with go-simpler.org/env, reloadable on SIGHUP behind an
// atomically-swapped pointer held by the registry package.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"go-simpler.org/env"

	"nexrelay.dev/chk"
	"nexrelay.dev/log"
)

// C is the full set of configuration options enumerated in the external
// interfaces section of the specification.
type C struct {
	AppName   string `env:"RELAY_APP_NAME" default:"nexrelay"`
	Config    string `env:"RELAY_CONFIG_DIR" usage:"location of the .env configuration file"`
	DataDir   string `env:"RELAY_DATA_DIR" usage:"storage location for the event store"`
	BlobDir   string `env:"RELAY_BLOB_DIR" usage:"storage location for blossom blobs, defaults under DataDir"`
	BindIP    string `env:"RELAY_BIND_IP" default:"0.0.0.0" usage:"network listen address"`
	Port      int    `env:"RELAY_PORT" default:"3334" usage:"port to listen on"`
	Hostname  string `env:"RELAY_HOSTNAME" usage:"external hostname the relay is reachable at"`
	UseTLS    bool   `env:"RELAY_USE_TLS" default:"false"`
	CertPath  string `env:"RELAY_CERT_PATH"`
	KeyPath   string `env:"RELAY_KEY_PATH"`
	LogLevel  string `env:"RELAY_LOG_LEVEL" default:"info" usage:"fatal error warn info debug trace"`
	Pprof     bool   `env:"RELAY_PPROF" default:"false" usage:"enable pprof on 127.0.0.1:6060"`

	OpenRelay            bool     `env:"RELAY_OPEN_RELAY" default:"true" usage:"accept events from anyone, not just authorized users"`
	AdminHexKeys         []string `env:"RELAY_ADMIN_HEX_KEYS" usage:"comma-separated hex pubkeys with full moderation authority"`
	AllowScraping        bool     `env:"RELAY_ALLOW_SCRAPING" default:"true" usage:"allow broad REQ filters with no author/id/tag constraint"`
	EnableIPBlocking     bool     `env:"RELAY_ENABLE_IP_BLOCKING" default:"true"`
	AllowDMsToUsers      bool     `env:"RELAY_ALLOW_DMS_TO_USERS" default:"true" usage:"accept events p-tagged to an authorized user even from unauthorized senders"`
	MaxSubscriptions     int      `env:"RELAY_MAX_SUBSCRIPTIONS_PER_CONNECTION" default:"32"`
	MaxFilterCountPerSub int      `env:"RELAY_MAX_FILTER_COUNT_PER_SUB" default:"16"`
	MaxMessageSize       int64    `env:"RELAY_MAX_MESSAGE_SIZE" default:"524288"`
	IdleTimeoutSeconds   int      `env:"RELAY_IDLE_TIMEOUT_SECONDS" default:"600"`
	BroadcastBuffer      int      `env:"RELAY_BROADCAST_BUFFER" default:"512"`
	ViolationThreshold   int      `env:"RELAY_VIOLATION_THRESHOLD" default:"10" usage:"protocol violations tolerated per connection before the IP is banned"`
	MaxEventsPerMinute   int      `env:"RELAY_MAX_EVENTS_PER_MINUTE" default:"120" usage:"per-connection EVENT rate before rate-limiting kicks in, 0 disables"`

	RelayDescription string `env:"RELAY_DESCRIPTION"`
	RelayContact     string `env:"RELAY_CONTACT"`
}

// New creates a new config.C, reading the environment and then an optional
// .env file that overrides it.
func New() (cfg *C, err error) {
	cfg = &C{}
	if err = env.Load(cfg, &env.Options{SliceSep: ","}); chk.T(err) {
		return
	}
	if cfg.Config == "" {
		cfg.Config = filepath.Join(xdg.ConfigHome, cfg.AppName)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(xdg.DataHome, cfg.AppName)
	}
	if cfg.BlobDir == "" {
		cfg.BlobDir = filepath.Join(cfg.DataDir, "blobs")
	}
	envPath := filepath.Join(cfg.Config, ".env")
	if fileExists(envPath) {
		if err = loadEnvFile(cfg, envPath); chk.E(err) {
			return
		}
		log.SetLevel(log.FromString(cfg.LogLevel))
		log.I.F("loaded configuration from %s", envPath)
	}
	return
}

func fileExists(path string) bool {
	st, statErr := os.Stat(path)
	return statErr == nil && !st.IsDir()
}

// loadEnvFile parses a KEY=value file and loads it as the env.Source, so its
// values override anything already read from the process environment.
func loadEnvFile(cfg *C, path string) (err error) {
	var b []byte
	if b, err = os.ReadFile(path); chk.E(err) {
		return
	}
	kv := map[string]string{}
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		kv[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return env.Load(cfg, &env.Options{SliceSep: ",", Source: mapSource(kv)})
}

// mapSource adapts a plain map to go-simpler.org/env's Source interface.
type mapSource map[string]string

func (m mapSource) LookupEnv(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// IsAdmin reports whether pubkeyHex is configured as an admin.
func (c *C) IsAdmin(pubkeyHex string) bool {
	for _, k := range c.AdminHexKeys {
		if strings.EqualFold(k, pubkeyHex) {
			return true
		}
	}
	return false
}

// KV is a key/value pair, used to render configuration for display.
type KV struct{ Key, Value string }

// KVSlice is a sortable collection of KV.
type KVSlice []KV

func (kv KVSlice) Len() int           { return len(kv) }
func (kv KVSlice) Less(i, j int) bool { return kv[i].Key < kv[j].Key }
func (kv KVSlice) Swap(i, j int)      { kv[i], kv[j] = kv[j], kv[i] }

// EnvKV turns a config.C into a list of KEY=value pairs as used by the `env`
// CLI verb and by the rendered .env file.
func EnvKV(cfg C) (m KVSlice) {
	t := reflect.TypeOf(cfg)
	v := reflect.ValueOf(cfg)
	for i := 0; i < t.NumField(); i++ {
		k := t.Field(i).Tag.Get("env")
		if k == "" {
			continue
		}
		fv := v.Field(i).Interface()
		var val string
		switch x := fv.(type) {
		case string:
			val = x
		case int, bool, int64, time.Duration:
			val = fmt.Sprint(x)
		case []string:
			if len(x) > 0 {
				val = strings.Join(x, ",")
			}
		}
		m = append(m, KV{k, val})
	}
	return
}

// PrintEnv renders cfg as KEY=value lines to printer.
func PrintEnv(cfg *C, printer io.Writer) {
	kvs := EnvKV(*cfg)
	sort.Sort(kvs)
	for _, v := range kvs {
		fmt.Fprintf(printer, "%s=%s\n", v.Key, v.Value)
	}
}

// PrintHelp writes a usage banner followed by the current configuration.
func PrintHelp(cfg *C, printer io.Writer) {
	fmt.Fprintf(printer, "%s\n\n", cfg.AppName)
	fmt.Fprintf(printer, "Environment variables that configure %s:\n\n", cfg.AppName)
	env.Usage(cfg, printer, &env.Options{SliceSep: ","})
	fmt.Fprintf(
		printer,
		"\nA .env file at %s/.env is loaded automatically if present.\n"+
			"Use the 'env' CLI argument to print the active configuration in that format.\n\n",
		cfg.Config,
	)
	fmt.Fprintf(printer, "current configuration:\n\n")
	PrintEnv(cfg, printer)
}

// HelpRequested reports whether os.Args requests help text.
func HelpRequested() bool {
	if len(os.Args) > 1 {
		switch strings.ToLower(os.Args[1]) {
		case "help", "-h", "--help", "-help", "?":
			return true
		}
	}
	return false
}

// EnvRequested reports whether os.Args requests a printout of the active
// environment in KEY=value form.
func EnvRequested() bool {
	return len(os.Args) > 1 && strings.ToLower(os.Args[1]) == "env"
}
