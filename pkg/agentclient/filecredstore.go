package agentclient

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// DefaultCredentialDir returns the conventional "~/.<tag>" directory
// (e.g. "~/.agentdoor") a FileCredentialStore defaults to when no path is
// given explicitly.
func DefaultCredentialDir(tag string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("agentclient: resolve home directory: %w", err)
	}
	return filepath.Join(home, "."+tag), nil
}

// FileCredentialStore persists Credentials as a single JSON file, keyed
// by normalized service URL. The file is written with 0600 permissions
// best-effort (the chmod call's error is ignored on platforms lacking
// POSIX permission bits). Unknown fields in a stored record are dropped
// on load; only fields known to Credential survive.
//
// When constructed with a passphrase (see WithFilePassphrase on Agent,
// or NewFileCredentialStore's passphrase argument), each credential's
// SecretKey is sealed at rest with a key derived from the passphrase via
// PBKDF2-HMAC-SHA256 and chacha20poly1305 AEAD, so a stolen credentials
// file does not on its own disclose the agent's private signing key.
type FileCredentialStore struct {
	mu         sync.Mutex
	path       string
	passphrase []byte
}

// NewFileCredentialStore returns a store backed by the file at path. An
// empty passphrase disables at-rest encryption (the baseline spec
// behavior: plaintext JSON, 0600 permissions).
func NewFileCredentialStore(path string, passphrase string) *FileCredentialStore {
	var pass []byte
	if passphrase != "" {
		pass = []byte(passphrase)
	}
	return &FileCredentialStore{path: path, passphrase: pass}
}

type fileRecord struct {
	ServiceURL     string   `json:"service_url"`
	AgentID        string   `json:"agent_id"`
	PublicKey      string   `json:"public_key"`
	SecretKey      string   `json:"secret_key"`
	APIKey         string   `json:"api_key,omitempty"`
	Token          string   `json:"token,omitempty"`
	TokenExpiresAt string   `json:"token_expires_at,omitempty"`
	Scopes         []string `json:"scopes,omitempty"`
}

func (s *FileCredentialStore) load() (map[string]Credential, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]Credential{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("agentclient: read credentials file: %w", err)
	}

	var raw map[string]fileRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("agentclient: parse credentials file: %w", err)
	}

	out := make(map[string]Credential, len(raw))
	for url, rec := range raw {
		cred, err := s.fromFileRecord(rec)
		if err != nil {
			return nil, err
		}
		out[url] = cred
	}
	return out, nil
}

func (s *FileCredentialStore) flush(all map[string]Credential) error {
	raw := make(map[string]fileRecord, len(all))
	for url, cred := range all {
		rec, err := s.toFileRecord(cred)
		if err != nil {
			return err
		}
		raw[url] = rec
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("agentclient: marshal credentials file: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("agentclient: create credentials directory: %w", err)
		}
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("agentclient: write credentials file: %w", err)
	}
	_ = os.Chmod(s.path, 0600) // best-effort; ignored on platforms without POSIX chmod

	return nil
}

func (s *FileCredentialStore) Get(serviceURL string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return Credential{}, err
	}
	cred, ok := all[normalizeURL(serviceURL)]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return cred, nil
}

func (s *FileCredentialStore) Save(cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	cred.ServiceURL = normalizeURL(cred.ServiceURL)
	all[cred.ServiceURL] = cred
	return s.flush(all)
}

func (s *FileCredentialStore) Delete(serviceURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return err
	}
	delete(all, normalizeURL(serviceURL))
	return s.flush(all)
}

func (s *FileCredentialStore) ListServices() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for url := range all {
		out = append(out, url)
	}
	return out, nil
}

func (s *FileCredentialStore) toFileRecord(cred Credential) (fileRecord, error) {
	secretKey := cred.SecretKey
	if s.passphrase != nil {
		sealed, err := sealSecret(secretKey, s.passphrase)
		if err != nil {
			return fileRecord{}, err
		}
		secretKey = sealed
	}

	rec := fileRecord{
		ServiceURL: cred.ServiceURL,
		AgentID:    cred.AgentID,
		PublicKey:  cred.PublicKey,
		SecretKey:  secretKey,
		APIKey:     cred.APIKey,
		Token:      cred.Token,
		Scopes:     cred.Scopes,
	}
	if !cred.TokenExpiresAt.IsZero() {
		rec.TokenExpiresAt = cred.TokenExpiresAt.UTC().Format(rfc3339Milli)
	}
	return rec, nil
}

func (s *FileCredentialStore) fromFileRecord(rec fileRecord) (Credential, error) {
	secretKey := rec.SecretKey
	if s.passphrase != nil && secretKey != "" {
		opened, err := openSecret(secretKey, s.passphrase)
		if err != nil {
			return Credential{}, err
		}
		secretKey = opened
	}

	cred := Credential{
		ServiceURL: rec.ServiceURL,
		AgentID:    rec.AgentID,
		PublicKey:  rec.PublicKey,
		SecretKey:  secretKey,
		APIKey:     rec.APIKey,
		Token:      rec.Token,
		Scopes:     rec.Scopes,
	}
	if rec.TokenExpiresAt != "" {
		t, err := parseRFC3339Milli(rec.TokenExpiresAt)
		if err == nil {
			cred.TokenExpiresAt = t
		}
	}
	return cred, nil
}

const (
	pbkdf2Iterations = 200_000
	pbkdf2KeyLen     = chacha20poly1305.KeySize
	sealSaltLen      = 16
)

// sealSecret derives a key from passphrase with a fresh random salt and
// seals plaintext with chacha20poly1305, returning
// "sealed:" + base64(salt || nonce || ciphertext).
func sealSecret(plaintext string, passphrase []byte) (string, error) {
	salt := make([]byte, sealSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("agentclient: generate salt: %w", err)
	}
	key := pbkdf2.Key(passphrase, salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("agentclient: init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("agentclient: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, []byte(plaintext), nil)

	blob := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return "sealed:" + base64.StdEncoding.EncodeToString(blob), nil
}

func openSecret(sealed string, passphrase []byte) (string, error) {
	const prefix = "sealed:"
	if len(sealed) < len(prefix) || sealed[:len(prefix)] != prefix {
		// Not sealed — a plaintext secret key predating encryption, or
		// encryption that was never enabled. Return as-is.
		return sealed, nil
	}
	blob, err := base64.StdEncoding.DecodeString(sealed[len(prefix):])
	if err != nil {
		return "", fmt.Errorf("agentclient: decode sealed secret: %w", err)
	}
	if len(blob) < sealSaltLen {
		return "", fmt.Errorf("agentclient: sealed secret too short")
	}
	salt, rest := blob[:sealSaltLen], blob[sealSaltLen:]
	key := pbkdf2.Key(passphrase, salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", fmt.Errorf("agentclient: init cipher: %w", err)
	}
	if len(rest) < aead.NonceSize() {
		return "", fmt.Errorf("agentclient: sealed secret missing nonce")
	}
	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("agentclient: decrypt secret (wrong passphrase?): %w", err)
	}
	return string(plaintext), nil
}
