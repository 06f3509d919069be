package config

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Well-known keys in the user settings store.
const (
	KeySMTPConfiguration = "com.folio.smtp.configuration"
	KeyKindleEmail       = "com.folio.kindle.email"
)

// SMTPConfig holds the outgoing mail settings. The password is never part of
// this struct; it lives in the secret store under the smtp.password account.
type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	UseTLS   bool   `json:"use_tls"`
}

// UserSettings is a small key-value store persisted as a single JSON file in
// the config directory. Values are stored as raw JSON blobs so callers own
// their schemas.
type UserSettings struct {
	mu   sync.Mutex
	path string
}

func NewUserSettings(configDir string) *UserSettings {
	return &UserSettings{path: filepath.Join(configDir, "settings.json")}
}

// Get unmarshals the value stored under key into out. Returns false when the
// key is absent.
func (us *UserSettings) Get(key string, out interface{}) (bool, error) {
	us.mu.Lock()
	defer us.mu.Unlock()

	values, err := us.load()
	if err != nil {
		return false, err
	}
	raw, ok := values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errors.WithStack(err)
	}
	return true, nil
}

// Set marshals value and stores it under key, rewriting the settings file.
func (us *UserSettings) Set(key string, value interface{}) error {
	us.mu.Lock()
	defer us.mu.Unlock()

	values, err := us.load()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.WithStack(err)
	}
	values[key] = raw
	return us.save(values)
}

// Delete removes the value stored under key.
func (us *UserSettings) Delete(key string) error {
	us.mu.Lock()
	defer us.mu.Unlock()

	values, err := us.load()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	return us.save(values)
}

// SMTPConfig returns the stored SMTP configuration, or nil when mail has not
// been configured yet.
func (us *UserSettings) SMTPConfig() (*SMTPConfig, error) {
	cfg := &SMTPConfig{}
	ok, err := us.Get(KeySMTPConfiguration, cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return cfg, nil
}

// SetSMTPConfig persists the SMTP configuration.
func (us *UserSettings) SetSMTPConfig(cfg *SMTPConfig) error {
	return us.Set(KeySMTPConfiguration, cfg)
}

// KindleEmail returns the saved Kindle destination address, or "".
func (us *UserSettings) KindleEmail() (string, error) {
	var email string
	ok, err := us.Get(KeyKindleEmail, &email)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return email, nil
}

// SetKindleEmail persists the default Kindle destination address.
func (us *UserSettings) SetKindleEmail(email string) error {
	return us.Set(KeyKindleEmail, email)
}

func (us *UserSettings) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(us.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, errors.WithStack(err)
	}

	values := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.WithStack(err)
	}
	return values, nil
}

func (us *UserSettings) save(values map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(us.path), 0755); err != nil {
		return errors.WithStack(err)
	}

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}

	err = os.WriteFile(us.path, data, 0600)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
