package config

type Config struct {
	Service ServiceConfig
	Storage StorageConfig
	Dev     DevConfig
	Log     LogConfig
}

type ServiceConfig struct {
	// BaseURL of the hosted search service. Defaults to the local dev
	// server so a fresh checkout works offline.
	BaseURL string
	APIKey  string
	Model   string
}

type StorageConfig struct {
	DataDir string
}

type DevConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Service: ServiceConfig{
			BaseURL: "http://127.0.0.1:8787",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Dev: DevConfig{
			Port: 8787,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/sesh/config.json, then applies SESH_* environment
// variable overrides. The API key is env-preferred: SESH_SERVICE_API_KEY
// wins over the file value.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	return cfg, nil
}
