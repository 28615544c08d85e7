package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/h3xium/nx/internal/harness"
	"github.com/h3xium/nx/internal/logger"
	"github.com/h3xium/nx/internal/process"
)

// EnvPrefix prefixes environment variables that override top-level keys,
// for example READYPROBE_LOG_LEVEL=debug.
const EnvPrefix = "READYPROBE"

// FileConfig represents the top-level TOML structure of a suite file.
type FileConfig struct {
	Env            []string         `toml:"env" mapstructure:"env"`
	EnvFiles       []string         `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv       bool             `toml:"use_os_env" mapstructure:"use_os_env"`
	LogLevel       string           `toml:"log_level" mapstructure:"log_level"`
	LogFormat      string           `toml:"log_format" mapstructure:"log_format"`
	MetricsAddr    string           `toml:"metrics_addr" mapstructure:"metrics_addr"`
	HistoryDSN     []string         `toml:"history" mapstructure:"history"`
	LockDir        string           `toml:"lock_dir" mapstructure:"lock_dir"`
	StopOnFail     bool             `toml:"stop_on_fail" mapstructure:"stop_on_fail"`
	SampleInterval time.Duration    `toml:"sample_interval" mapstructure:"sample_interval"`
	Log            *LogConfig       `toml:"log" mapstructure:"log"`
	Scenarios      []ScenarioConfig `toml:"scenarios" mapstructure:"scenarios"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ScenarioConfig struct {
	Name          string        `toml:"name" mapstructure:"name"`
	Command       string        `toml:"command" mapstructure:"command"`
	Args          []string      `toml:"args" mapstructure:"args"`
	WorkDir       string        `toml:"workdir" mapstructure:"workdir"`
	Env           []string      `toml:"env" mapstructure:"env"`
	StopGrace     time.Duration `toml:"stop_grace" mapstructure:"stop_grace"`
	Marker        string        `toml:"marker" mapstructure:"marker"`
	ReadyTimeout  time.Duration `toml:"ready_timeout" mapstructure:"ready_timeout"`
	ProbeURL      string        `toml:"probe_url" mapstructure:"probe_url"`
	ProbeTimeout  time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	ProbeRetry    time.Duration `toml:"probe_retry" mapstructure:"probe_retry"`
	ExpectMessage string        `toml:"expect_message" mapstructure:"expect_message"`
	Signal        string        `toml:"signal" mapstructure:"signal"`
	Sessions      int           `toml:"sessions" mapstructure:"sessions"`
	RestartSignal string        `toml:"restart_signal" mapstructure:"restart_signal"`
	ExpectOutput  []string      `toml:"expect_output" mapstructure:"expect_output"`
	Port          int           `toml:"port" mapstructure:"port"`
	Log           *LogConfig    `toml:"log" mapstructure:"log"`
}

// Settings are the suite-wide options after environment overrides.
type Settings struct {
	LogLevel       string
	LogFormat      string
	MetricsAddr    string
	HistoryDSN     []string
	LockDir        string
	StopOnFail     bool
	SampleInterval time.Duration
	Log            logger.FileConfig
}

// Suite is a loaded suite file.
type Suite struct {
	Settings  Settings
	Scenarios []harness.Scenario
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys must be known to viper for AutomaticEnv to apply on Unmarshal.
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("lock_dir", "")
	v.SetDefault("stop_on_fail", false)
	v.SetDefault("sample_interval", "0s")
	v.SetDefault("history", []string{})
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v, nil
}

func readFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	v, err := newViper(path)
	if err != nil {
		return fc, err
	}
	if err := v.Unmarshal(&fc); err != nil {
		return fc, err
	}
	// A comma separated READYPROBE_HISTORY arrives as one element.
	if len(fc.HistoryDSN) == 1 && strings.Contains(fc.HistoryDSN[0], ",") {
		fc.HistoryDSN = strings.Split(fc.HistoryDSN[0], ",")
	}
	return fc, nil
}

// Load parses a suite file into settings and validated scenarios.
func Load(path string) (*Suite, error) {
	fc, err := readFileConfig(path)
	if err != nil {
		return nil, err
	}
	global, err := globalEnv(fc)
	if err != nil {
		return nil, err
	}

	suite := &Suite{Settings: Settings{
		LogLevel:       fc.LogLevel,
		LogFormat:      fc.LogFormat,
		MetricsAddr:    fc.MetricsAddr,
		HistoryDSN:     trimAll(fc.HistoryDSN),
		LockDir:        fc.LockDir,
		StopOnFail:     fc.StopOnFail,
		SampleInterval: fc.SampleInterval,
		Log:            mergeLog(fc.Log, nil),
	}}

	seen := make(map[string]bool, len(fc.Scenarios))
	for i, scc := range fc.Scenarios {
		sc, err := scc.toScenario(global, fc.Log)
		if err != nil {
			return nil, fmt.Errorf("scenario #%d: %w", i+1, err)
		}
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("duplicate scenario name %q", sc.Name)
		}
		seen[sc.Name] = true
		suite.Scenarios = append(suite.Scenarios, sc)
	}
	return suite, nil
}

// Select returns the scenarios whose names are listed, in suite order. No
// names selects everything.
func (s *Suite) Select(names ...string) ([]harness.Scenario, error) {
	if len(names) == 0 {
		return s.Scenarios, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []harness.Scenario
	for _, sc := range s.Scenarios {
		if want[sc.Name] {
			out = append(out, sc)
			delete(want, sc.Name)
		}
	}
	for n := range want {
		return nil, fmt.Errorf("unknown scenario %q", n)
	}
	return out, nil
}

func (c ScenarioConfig) toScenario(global []string, defLog *LogConfig) (harness.Scenario, error) {
	env := mergeEnv(global, c.Env)
	lookup := envMap(env)
	expand := func(s string) string { return expandVars(s, lookup) }

	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = expand(a)
	}
	spec := process.Spec{
		Name:      c.Name,
		Command:   expand(c.Command),
		Args:      args,
		WorkDir:   expand(c.WorkDir),
		Env:       env,
		StopGrace: c.StopGrace,
		Log:       mergeLog(defLog, c.Log),
	}
	if strings.TrimSpace(spec.Command) == "" {
		return harness.Scenario{}, fmt.Errorf("scenario %q requires command", c.Name)
	}
	return harness.Scenario{
		Name:          c.Name,
		Process:       spec,
		Marker:        expand(c.Marker),
		ReadyTimeout:  c.ReadyTimeout,
		ProbeURL:      expand(c.ProbeURL),
		ProbeTimeout:  c.ProbeTimeout,
		ProbeRetry:    c.ProbeRetry,
		ExpectMessage: expand(c.ExpectMessage),
		Signal:        c.Signal,
		Sessions:      c.Sessions,
		RestartSignal: c.RestartSignal,
		ExpectOutput:  c.ExpectOutput,
		Port:          c.Port,
	}, nil
}

// mergeLog starts from the top-level defaults and overrides with per-scenario values.
func mergeLog(def, sc *LogConfig) logger.FileConfig {
	var lc logger.FileConfig
	if def != nil {
		lc = logger.FileConfig{
			Dir:        def.Dir,
			StdoutPath: def.Stdout,
			StderrPath: def.Stderr,
			MaxSizeMB:  def.MaxSizeMB,
			MaxBackups: def.MaxBackups,
			MaxAgeDays: def.MaxAgeDays,
			Compress:   def.Compress,
		}
	}
	if sc == nil {
		return lc
	}
	if sc.Dir != "" {
		lc.Dir = sc.Dir
	}
	if sc.Stdout != "" {
		lc.StdoutPath = sc.Stdout
	}
	if sc.Stderr != "" {
		lc.StderrPath = sc.Stderr
	}
	if sc.MaxSizeMB != 0 {
		lc.MaxSizeMB = sc.MaxSizeMB
	}
	if sc.MaxBackups != 0 {
		lc.MaxBackups = sc.MaxBackups
	}
	if sc.MaxAgeDays != 0 {
		lc.MaxAgeDays = sc.MaxAgeDays
	}
	if sc.Compress {
		lc.Compress = true
	}
	return lc
}

// LoadGlobalEnv merges env from config: top-level env, env_files contents, and optionally OS env when UseOSEnv is true.
// Precedence: OS env (when enabled) provides base; then apply file vars; then top-level env list overrides last.
func LoadGlobalEnv(path string) ([]string, error) {
	fc, err := readFileConfig(path)
	if err != nil {
		return nil, err
	}
	return globalEnv(fc)
}

func globalEnv(fc FileConfig) ([]string, error) {
	var base []string
	if fc.UseOSEnv {
		base = os.Environ()
	}
	for _, p := range fc.EnvFiles {
		pairs, err := LoadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		base = mergeEnv(base, pairs)
	}
	return mergeEnv(base, fc.Env), nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in file order.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
			out = append(out, k+"="+v)
		}
	}
	return out, nil
}

// mergeEnv applies overrides on top of base; later keys win and the
// first-seen order is kept.
func mergeEnv(base, overrides []string) []string {
	idx := make(map[string]int, len(base)+len(overrides))
	var out []string
	for _, list := range [][]string{base, overrides} {
		for _, kv := range list {
			k := kv
			if i := strings.IndexByte(kv, '='); i >= 0 {
				k = kv[:i]
			}
			if j, ok := idx[k]; ok {
				out[j] = kv
				continue
			}
			idx[k] = len(out)
			out = append(out, kv)
		}
	}
	return out
}

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

// expandVars replaces ${VAR} and $VAR using env, falling back to the OS
// environment. Unknown variables are left untouched.
func expandVars(s string, env map[string]string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(k string) string {
		if v, ok := env[k]; ok {
			return v
		}
		if v, ok := os.LookupEnv(k); ok {
			return v
		}
		return "${" + k + "}"
	})
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
