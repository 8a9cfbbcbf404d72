// Package secrets is the Secrets Store (spec §4.F): file-per-key
// secrets under a tuple's secrets directory, mounted read-only into
// the consuming container. Passwords for built-in stateful services
// are generated on first deploy; rotation writes a ".new" file and
// atomically renames it into place; secrets a service lists under
// depends_on are fan-out copied into the dependent's own directory.
package secrets

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"time"

	"github.com/cuemby/forge/pkg/execute"
	"github.com/cuemby/forge/pkg/forgeerr"
	"github.com/cuemby/forge/pkg/types"
)

const BasePath = "/var/lib/deploy"

const rotateRenameTimeout = 10 * time.Second

// PasswordKey is the single secret key a built-in stateful service's
// generated password is stored and mounted under (spec §4.F: "generated
// on first deploy of a stateful service").
const PasswordKey = "password"

// Manager encrypts secret values at rest with AES-256-GCM and pushes
// plaintext files to hosts over the Remote Executor at deploy time;
// values only ever exist in plaintext in memory and on the target
// host's mounted secrets directory, never in the store itself.
type Manager struct {
	key      []byte // 32 bytes, AES-256
	executor execute.Executor
	sshUser  string
}

func New(key []byte, executor execute.Executor, sshUser string) (*Manager, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("secrets encryption key must be 32 bytes, got %d", len(key))
	}
	return &Manager{key: key, executor: executor, sshUser: sshUser}, nil
}

func (m *Manager) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (m *Manager) decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(m.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, rest := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, rest, nil)
}

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GeneratePassword returns a cryptographically random 32-character
// alphanumeric string (spec §3: "Values are random 32-char
// alphanumerics for passwords").
func GeneratePassword() (string, error) {
	out := make([]byte, 32)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordAlphabet))))
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

// dir returns the on-host directory a tuple's secrets live in:
// /var/lib/deploy/{tenant}/{project}/{env}/secrets/{service}/
func dir(t types.Tuple) string {
	return filepath.Join(BasePath, t.Tenant, t.Project, t.Env, "secrets", t.Service)
}

// sealedStore is the in-memory/at-rest representation this package
// keeps on the control-plane side (not on the target host): one
// ciphertext blob per tuple+key.
type sealedStore struct {
	values map[types.Tuple]map[string][]byte
}

func newSealedStore() *sealedStore {
	return &sealedStore{values: map[types.Tuple]map[string][]byte{}}
}

// Store is the control-plane-side record of every secret's encrypted
// value, independent of whatever subset is currently pushed to hosts.
type Store struct {
	manager *Manager
	sealed  *sealedStore
}

func NewStore(manager *Manager) *Store {
	return &Store{manager: manager, sealed: newSealedStore()}
}

// Set encrypts and records value for t/key. It does not push
// anything to a host; call Push (or PushAll) after.
func (s *Store) Set(t types.Tuple, key, value string) error {
	ciphertext, err := s.manager.encrypt([]byte(value))
	if err != nil {
		return forgeerr.Wrap(forgeerr.ConfigError, "encrypt secret "+key, err)
	}
	if s.sealed.values[t] == nil {
		s.sealed.values[t] = map[string][]byte{}
	}
	s.sealed.values[t][key] = ciphertext
	return nil
}

// Get decrypts and returns the current value of t/key.
func (s *Store) Get(t types.Tuple, key string) (string, bool, error) {
	perTuple, ok := s.sealed.values[t]
	if !ok {
		return "", false, nil
	}
	ciphertext, ok := perTuple[key]
	if !ok {
		return "", false, nil
	}
	plaintext, err := s.manager.decrypt(ciphertext)
	if err != nil {
		return "", false, forgeerr.Wrap(forgeerr.ConfigError, "decrypt secret "+key, err)
	}
	return string(plaintext), true, nil
}

// EnsureGenerated generates and stores a random password for t/key if
// one does not already exist — "generated on first deploy" (spec §4.F).
func (s *Store) EnsureGenerated(t types.Tuple, key string) (string, error) {
	if value, ok, err := s.Get(t, key); err != nil {
		return "", err
	} else if ok {
		return value, nil
	}
	password, err := GeneratePassword()
	if err != nil {
		return "", forgeerr.Wrap(forgeerr.ConfigError, "generate password for "+key, err)
	}
	if err := s.Set(t, key, password); err != nil {
		return "", err
	}
	return password, nil
}

// Push writes every current key for t to host as individual files
// under the tuple's secrets directory, mode 0400.
func (s *Store) Push(ctx context.Context, host string, t types.Tuple) error {
	perTuple := s.sealed.values[t]
	target := dir(t)
	for key, ciphertext := range perTuple {
		plaintext, err := s.manager.decrypt(ciphertext)
		if err != nil {
			return forgeerr.Wrap(forgeerr.ConfigError, "decrypt secret "+key, err)
		}
		path := filepath.Join(target, key)
		if err := s.manager.executor.Upload(ctx, host, s.manager.sshUser, path, bytes.NewReader(plaintext), 0o400); err != nil {
			return forgeerr.Wrap(forgeerr.TransportError, "push secret "+key+" to "+host, err)
		}
	}
	return nil
}

// Rotate generates a new value for t/key, stages it as a ".new" file
// on host, then atomically renames it into place (spec §4.F). The
// caller is responsible for triggering the rolling restart of
// consumers afterward.
func (s *Store) Rotate(ctx context.Context, host string, t types.Tuple, key string) (string, error) {
	newValue, err := GeneratePassword()
	if err != nil {
		return "", forgeerr.Wrap(forgeerr.ConfigError, "generate rotated value for "+key, err)
	}
	target := dir(t)
	path := filepath.Join(target, key)
	stagedPath := path + ".new"

	if err := s.manager.executor.Upload(ctx, host, s.manager.sshUser, stagedPath, bytes.NewReader([]byte(newValue)), 0o400); err != nil {
		return "", forgeerr.Wrap(forgeerr.SecretRotationConflict, "stage rotated secret "+key, err)
	}
	renameCmd := fmt.Sprintf("mv -f %q %q", stagedPath, path)
	result, err := s.manager.executor.Run(ctx, host, s.manager.sshUser, renameCmd, nil, rotateRenameTimeout)
	if err != nil || result.ExitCode != 0 {
		return "", forgeerr.Wrap(forgeerr.SecretRotationConflict, "rename rotated secret "+key+" into place", err)
	}

	if err := s.Set(t, key, newValue); err != nil {
		return "", err
	}
	return newValue, nil
}

// FanOut copies every key of source's current secrets into the
// directory of each dependent tuple that lists source under
// depends_on (spec §4.F: "fan-out copied into the directories of any
// service that lists it under depends_on").
func (s *Store) FanOut(ctx context.Context, host string, source types.Tuple, dependents []types.Tuple) error {
	perTuple := s.sealed.values[source]
	for _, dependent := range dependents {
		if s.sealed.values[dependent] == nil {
			s.sealed.values[dependent] = map[string][]byte{}
		}
		for key, ciphertext := range perTuple {
			s.sealed.values[dependent][key] = ciphertext
		}
		if err := s.Push(ctx, host, dependent); err != nil {
			return err
		}
	}
	return nil
}
