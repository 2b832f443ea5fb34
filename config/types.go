package config

// Logging controls the structured logger. When File is set, logs rotate
// through it instead of going to stdout.
type Logging struct {
	Service    string `toml:"Service"`
	Env        string `toml:"Env"`
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"` // key=value,key2=value2
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// Enabled reports whether any exporter is switched on.
func (t Telemetry) Enabled() bool { return t.Traces || t.Metrics }
