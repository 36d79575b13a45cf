package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/term"
)

// Config contains all configuration parameters for the wallet daemon.
type Config struct {
	Port                 string        `envconfig:"PORT" default:"8080"`
	StorePath            string        `envconfig:"STORE_PATH" default:"ember.db"`
	ApprovalPollInterval time.Duration `envconfig:"APPROVAL_POLL_INTERVAL" default:"500ms"`
	ApprovalTTL          time.Duration `envconfig:"APPROVAL_TTL" default:"10m"`
	ApprovalNotifyURL    string        `envconfig:"APPROVAL_NOTIFY_URL"`
	UnlockOnStart        bool          `envconfig:"UNLOCK_ON_START" default:"false"`
	RPCTimeout           time.Duration `envconfig:"RPC_TIMEOUT" default:"15s"`
}

// cfg is the global configuration instance
var cfg *Config

// Init loads configuration from environment variables.
func Init() error {
	cfg = &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("failed to process config: %w", err)
	}
	return nil
}

// Get returns the global configuration instance.
// Panics if Init() was not called.
func Get() *Config {
	if cfg == nil {
		panic("config not initialized, call Init() first")
	}
	return cfg
}

// PromptForPassword prompts the user for the wallet password in the terminal.
// The password is read without echoing (hidden input) and returned to the
// caller, which should zero it after use.
func PromptForPassword() ([]byte, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("stdin is not a terminal: run the daemon interactively to enter password")
	}
	fmt.Fprint(os.Stderr, "Enter wallet password: ")
	defer fmt.Fprintln(os.Stderr)

	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("password cannot be empty")
	}

	password := make([]byte, len(raw))
	copy(password, raw)
	clear(raw)
	return password, nil
}
