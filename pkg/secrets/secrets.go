// Package secrets holds credentials outside the regular settings store so
// they are never serialized alongside the configuration that references them.
package secrets

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Well-known account names.
const (
	AccountSMTPPassword = "smtp.password"
	AccountSMTPUsername = "smtp.username" // reserved
)

// ErrNotFound is returned when no secret exists under the requested account.
var ErrNotFound = errors.New("secret not found")

// Store is the contract the delivery service depends on. Implementations may
// be backed by a platform keychain; the default is a file in the config
// directory.
type Store interface {
	Get(account string) (string, error)
	Set(account, value string) error
	Delete(account string) error
}

// FileStore persists secrets as a JSON map with 0600 permissions. It is the
// portable fallback for hosts without a keychain service.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(configDir string) *FileStore {
	return &FileStore{path: filepath.Join(configDir, "secrets.json")}
}

func (s *FileStore) Get(account string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", err
	}
	value, ok := values[account]
	if !ok {
		return "", errors.WithStack(ErrNotFound)
	}
	return value, nil
}

func (s *FileStore) Set(account, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[account] = value
	return s.save(values)
}

func (s *FileStore) Delete(account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	delete(values, account)
	return s.save(values)
}

func (s *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, errors.WithStack(err)
	}

	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.WithStack(err)
	}
	return values, nil
}

func (s *FileStore) save(values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return errors.WithStack(err)
	}

	data, err := json.Marshal(values)
	if err != nil {
		return errors.WithStack(err)
	}

	err = os.WriteFile(s.path, data, 0600)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}
