package main

import "time"

// GlobalFlags are the persistent flags shared by every subcommand.
type GlobalFlags struct {
	LogLevel       string
	LogFormat      string
	MetricsAddr    string
	HistoryDSN     []string
	LockDir        string
	SampleInterval time.Duration
}

// RunFlags describe a single scenario on the command line.
type RunFlags struct {
	Name          string
	Cmd           string
	Args          []string
	WorkDir       string
	Env           []string
	Marker        string
	ReadyTimeout  time.Duration
	ProbeURL      string
	ProbeTimeout  time.Duration
	ProbeRetry    time.Duration
	Expect        string
	Signal        string
	StopGrace     time.Duration
	Sessions      int
	RestartSignal string
	ExpectOutput  []string
	Port          int
	JSON          bool
}

type SuiteFlags struct {
	ConfigPath string
	Only       []string
	StopOnFail bool
	JSON       bool
}

type ProbeFlags struct {
	URL     string
	Timeout time.Duration
	Retry   time.Duration
	Expect  string
	JSON    bool
}

type KillFlags struct {
	PID    int
	Signal string
	Grace  time.Duration
}
