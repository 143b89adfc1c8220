package config

import "strings"

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	YouTube YouTubeConfig
	X       XConfig
	Gemini  GeminiConfig
	API     APIConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type YouTubeConfig struct {
	APIKey string
}

type XConfig struct {
	BearerToken string
}

type GeminiConfig struct {
	APIKey string
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4300,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and the platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.vschool.app) and
// secrets fall back to macOS Keychain (service: vschool). On Linux the
// backend is a JSON file at $XDG_CONFIG_HOME/vschool/config.json and
// secrets come from a secrets file or environment variables.
//
// Environment variables (VSCHOOL_*) override backend values on all
// platforms. Missing provider credentials do not fail Load; the fetch
// that needs them reports the configuration error instead, so grading
// from cache and roster data keeps working.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts platform secret access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "vschool"

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(cfg).(string); v != "" {
			continue
		}
		if key, err := kc.Get(keychainService, s.account); err == nil && key != "" {
			s.apply(&cfg, key)
		}
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
