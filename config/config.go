package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"arrayledger/crypto"
)

// Config is the ledger configuration read from TOML.
type Config struct {
	DataDir           string   `toml:"DataDir"`
	AdminKeystorePath string   `toml:"AdminKeystorePath"`
	Admin             string   `toml:"Admin"`
	DefaultDelegate   string   `toml:"DefaultDelegate"`
	Paused            []string `toml:"Paused"`

	LendingMarket LendingMarket `toml:"LendingMarket"`
	Margin        Margin        `toml:"Margin"`
}

// Load loads the configuration from the given path. A default configuration
// is written when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
	}

	cfg.normalize(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize(baseDir string) {
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = "./array-data"
	}
	c.Admin = strings.TrimSpace(c.Admin)
	c.DefaultDelegate = strings.TrimSpace(c.DefaultDelegate)
	if strings.TrimSpace(c.AdminKeystorePath) == "" {
		c.AdminKeystorePath = defaultKeystorePath(baseDir)
	}
	if c.Paused == nil {
		c.Paused = []string{}
	}
}

// AdminAddress decodes the configured admin address.
func (c *Config) AdminAddress() (crypto.Address, error) {
	if c.Admin == "" {
		return crypto.Address{}, fmt.Errorf("admin address not configured; run arrayctl keygen")
	}
	return crypto.DecodeAddress(c.Admin)
}

// DefaultDelegateAddress decodes the default delegate; unset yields the zero
// address.
func (c *Config) DefaultDelegateAddress() (crypto.Address, error) {
	if c.DefaultDelegate == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(c.DefaultDelegate)
}

// EnsureAdminKeystore generates the admin key when the configured keystore is
// missing and records the admin address in the config file at path.
func EnsureAdminKeystore(path string, cfg *Config, passphrase string) (crypto.Address, error) {
	keystorePath := cfg.AdminKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(filepath.Dir(path))
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return crypto.Address{}, genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
			return crypto.Address{}, err
		}
	} else if err != nil {
		return crypto.Address{}, err
	}

	admin, err := crypto.KeystoreAddress(keystorePath)
	if err != nil {
		return crypto.Address{}, err
	}
	cfg.AdminKeystorePath = keystorePath
	cfg.Admin = admin.String()
	return admin, persist(path, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir: "./array-data",
		Paused:  []string{},
	}
	cfg.AdminKeystorePath = defaultKeystorePath(filepath.Dir(path))

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(dir string) string {
	if dir == "." {
		dir = ""
	}
	return filepath.Join(dir, "admin.keystore")
}
