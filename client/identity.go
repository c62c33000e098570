package client

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrife/devkv/utils/uuid"
	"gopkg.in/yaml.v2"
)

// identityState is the contents of an identity file
type identityState struct {
	UserKey string `yaml:"userKey"`
}

// Identity is a stable per-caller user key. The key is generated
// the first time it is needed and persisted in a small state file
// so later processes reuse it.
type Identity struct {
	path string
	mu   sync.Mutex
	key  string
}

// NewIdentity creates an identity persisted at path
func NewIdentity(path string) *Identity {
	return &Identity{path: path}
}

// Key returns the user key, generating and persisting
// one if the state file is missing or holds no valid key
func (identity *Identity) Key() (string, error) {
	identity.mu.Lock()
	defer identity.mu.Unlock()

	if identity.key != "" {
		return identity.key, nil
	}

	var state identityState

	raw, err := ioutil.ReadFile(identity.path)

	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("could not read identity file %s: %s", identity.path, err)
	}

	if err == nil {
		if err := yaml.Unmarshal(raw, &state); err != nil {
			state = identityState{}
		}
	}

	if uuid.Valid(state.UserKey) {
		identity.key = state.UserKey

		return identity.key, nil
	}

	state.UserKey = uuid.MustUUID()

	if err := identity.save(state); err != nil {
		return "", err
	}

	identity.key = state.UserKey

	return identity.key, nil
}

// Reset forgets the user key and removes the state file.
// The next call to Key generates a new one.
func (identity *Identity) Reset() error {
	identity.mu.Lock()
	defer identity.mu.Unlock()

	identity.key = ""

	if err := os.Remove(identity.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove identity file %s: %s", identity.path, err)
	}

	return nil
}

func (identity *Identity) save(state identityState) error {
	raw, err := yaml.Marshal(state)

	if err != nil {
		return fmt.Errorf("could not encode identity: %s", err)
	}

	if err := os.MkdirAll(filepath.Dir(identity.path), 0700); err != nil {
		return fmt.Errorf("could not create identity directory: %s", err)
	}

	if err := ioutil.WriteFile(identity.path, raw, 0600); err != nil {
		return fmt.Errorf("could not write identity file %s: %s", identity.path, err)
	}

	return nil
}
