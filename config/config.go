// Package config is the configuration store for the control plane: a JSON
// file under ~/.msconsole plus OS keychain storage for the API credential.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService namespaces our entries in the OS keychain.
	KeyringService = "msconsole"

	keyringAPIKey = "api-key"

	// ConfigFileName is the store's on-disk name inside the config dir.
	ConfigFileName = "config.json"

	// DefaultBackendPort is used when no port is configured.
	DefaultBackendPort = 8765
)

// Database holds the MySQL connection settings handed to the backend.
type Database struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`
}

// Config is the persisted configuration.
type Config struct {
	Model       string   `json:"model,omitempty"`
	BackendPort int      `json:"backend_port,omitempty"`
	Database    Database `json:"database"`

	// ManifestPath overrides where backend.yaml is looked up.
	ManifestPath string `json:"manifest_path,omitempty"`

	// Interpreter overrides manifest interpreter resolution entirely.
	Interpreter string `json:"interpreter,omitempty"`

	UsePTY         bool `json:"use_pty,omitempty"`
	DisableKeyring bool `json:"disable_keyring,omitempty"`

	// APIKey is only used when the keyring is disabled or unavailable.
	APIKey string `json:"api_key,omitempty"`
}

// Manager handles configuration operations. The daemon's watcher reloads
// the config concurrently with HTTP handlers reading it, so every access
// goes through the mutex.
type Manager struct {
	configPath string

	mu     sync.RWMutex
	config *Config
}

// NewManager creates a configuration manager, loading the existing config
// file if one exists. MSCONSOLE_CONFIG_DIR overrides the directory.
func NewManager() (*Manager, error) {
	dir, err := Dir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	m := &Manager{
		configPath: filepath.Join(dir, ConfigFileName),
		config:     &Config{},
	}

	if err := m.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return m, nil
}

// Dir returns the config directory, creating it if needed.
func Dir() (string, error) {
	if dir := os.Getenv("MSCONSOLE_CONFIG_DIR"); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create config directory: %w", err)
		}
		return dir, nil
	}

	home := os.Getenv("HOME")
	if home == "" {
		return "", fmt.Errorf("unable to determine home directory")
	}

	dir := filepath.Join(home, ".msconsole")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// Load reads the configuration from disk, replacing the in-memory config
// only when the file parses.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}

	m.mu.Lock()
	*m.config = cfg
	m.mu.Unlock()
	return nil
}

// Save writes the configuration to disk. The file holds database
// credentials, so it is not world readable.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.save()
}

// save writes the config to disk. Callers must hold mu.
func (m *Manager) save() error {
	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(m.configPath, data, 0600)
}

// Path returns the config file path.
func (m *Manager) Path() string {
	return m.configPath
}

// Get returns a copy of the current configuration. Mutate through the
// setters so changes are persisted.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// Model returns the configured model identifier, possibly empty.
func (m *Manager) Model() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Model
}

// SetModel persists the default model identifier.
func (m *Manager) SetModel(model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Model = model
	return m.save()
}

// BackendPort returns the configured backend port or the default.
func (m *Manager) BackendPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backendPort()
}

// backendPort resolves the port default. Callers must hold mu.
func (m *Manager) backendPort() int {
	if m.config.BackendPort > 0 {
		return m.config.BackendPort
	}
	return DefaultBackendPort
}

// Update applies fn to the config and persists the result.
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.config)
	return m.save()
}

// APIKey retrieves the API credential, checking the keyring first with a
// file-field fallback.
func (m *Manager) APIKey() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.apiKey()
}

// apiKey resolves the credential. Callers must hold mu.
func (m *Manager) apiKey() (string, error) {
	if !m.config.DisableKeyring {
		key, err := keyring.Get(KeyringService, keyringAPIKey)
		if err == nil {
			return key, nil
		}
	}

	if m.config.APIKey != "" {
		return m.config.APIKey, nil
	}

	return "", fmt.Errorf("no API key configured")
}

// SetAPIKey stores the API credential, preferring the keyring with fallback
// to the config file.
func (m *Manager) SetAPIKey(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.DisableKeyring {
		if err := keyring.Set(KeyringService, keyringAPIKey, key); err == nil {
			// Clear any file-stored copy now that the keyring holds it
			if m.config.APIKey != "" {
				m.config.APIKey = ""
				return m.save()
			}
			return nil
		}
	}

	m.config.APIKey = key
	return m.save()
}

// DeleteAPIKey removes the API credential from both keyring and file.
func (m *Manager) DeleteAPIKey() error {
	_ = keyring.Delete(KeyringService, keyringAPIKey)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.APIKey != "" {
		m.config.APIKey = ""
		return m.save()
	}
	return nil
}

// BackendEnv renders the exact environment injected into the spawned
// backend. Treat the result as sensitive: never log it.
func (m *Manager) BackendEnv() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	apiKey, err := m.apiKey()
	if err != nil {
		return nil, err
	}

	db := m.config.Database
	env := []string{
		"OPENAI_API_KEY=" + apiKey,
		"SERVER_PORT=" + strconv.Itoa(m.backendPort()),
	}
	if m.config.Model != "" {
		env = append(env, "OPENAI_MODEL="+m.config.Model)
	}
	if db.Host != "" {
		env = append(env, "MYSQL_HOST="+db.Host)
	}
	if db.Port > 0 {
		env = append(env, "MYSQL_PORT="+strconv.Itoa(db.Port))
	}
	if db.Username != "" {
		env = append(env, "MYSQL_USERNAME="+db.Username)
	}
	if db.Password != "" {
		env = append(env, "MYSQL_PASSWORD="+db.Password)
	}
	if db.Database != "" {
		env = append(env, "MYSQL_DATABASE="+db.Database)
	}

	return env, nil
}

// ConnectionFingerprint hashes the connection-relevant settings: the
// credential, model, database settings and port. The backend only needs a
// restart when this changes.
func (m *Manager) ConnectionFingerprint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	apiKey, _ := m.apiKey()
	db := m.config.Database

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%s\x00%d\x00%s\x00%s\x00%s",
		apiKey,
		m.config.Model,
		m.backendPort(),
		db.Host, db.Port, db.Username, db.Password, db.Database)
	return hex.EncodeToString(h.Sum(nil))
}

// Redact truncates a credential for safe display, e.g. "sk-abcdef...xyz"
// becomes "sk-..xyz". This is the only form credentials may take in logs
// or command output.
func Redact(secret string) string {
	if len(secret) == 0 {
		return "<blank>"
	}
	if len(secret) < 10 {
		if len(secret) <= 3 {
			return secret[:1] + "..."
		}
		return secret[:3] + "..."
	}
	return secret[:3] + ".." + secret[len(secret)-3:]
}
