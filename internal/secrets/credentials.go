// Package secrets loads User API credentials from age-encrypted files.
//
// A credentials file holds a small YAML document:
//
//	email: analyst@example.com
//	api_key: <64 characters>
//
// Encrypted files (*.age) are decrypted in memory with an X25519 identity and
// never written back in plaintext. Plaintext YAML is only read when the Store
// allows it.
package secrets

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"gopkg.in/yaml.v3"
)

// Credentials identify a User API caller.
type Credentials struct {
	Email  string `yaml:"email"`
	APIKey string `yaml:"api_key"`
}

// Redacted returns the API key reduced to its last four characters.
func (c Credentials) Redacted() string {
	if len(c.APIKey) <= 4 {
		return strings.Repeat("*", len(c.APIKey))
	}
	return strings.Repeat("*", 8) + c.APIKey[len(c.APIKey)-4:]
}

// Store reads credential files.
type Store struct {
	AgeKeyPath     string
	AllowPlaintext bool
}

// Load decrypts and parses the credentials at path. The format is chosen by
// extension: .age is decrypted, .yaml/.yml is read as plaintext when allowed.
func (s Store) Load(path string) (Credentials, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Credentials{}, errors.New("credentials path is required")
	}
	var (
		payload []byte
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".age":
		payload, err = decryptAge(path, s.AgeKeyPath)
	case ".yaml", ".yml":
		if !s.AllowPlaintext {
			return Credentials{}, fmt.Errorf("credentials %s are not encrypted (.age)", path)
		}
		payload, err = os.ReadFile(path)
		if err != nil {
			err = fmt.Errorf("read credentials %s: %w", path, err)
		}
	default:
		return Credentials{}, fmt.Errorf("credentials %s: unsupported file type", path)
	}
	if err != nil {
		return Credentials{}, err
	}
	creds, err := parseCredentials(payload)
	if err != nil {
		return Credentials{}, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return creds, nil
}

// Encrypt seals creds for the given recipients.
func Encrypt(creds Credentials, recipients ...age.Recipient) ([]byte, error) {
	if len(recipients) == 0 {
		return nil, errors.New("at least one age recipient is required")
	}
	payload, err := yaml.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("marshal credentials: %w", err)
	}
	var out bytes.Buffer
	w, err := age.Encrypt(&out, recipients...)
	if err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	return out.Bytes(), nil
}

// WriteEncrypted seals creds and writes them to path with mode 0600.
func WriteEncrypted(path string, creds Credentials, recipients ...age.Recipient) error {
	data, err := Encrypt(creds, recipients...)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ParseRecipients accepts age1... public keys, one per entry.
func ParseRecipients(keys []string) ([]age.Recipient, error) {
	var recipients []age.Recipient
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parse age recipient %q: %w", key, err)
		}
		recipients = append(recipients, r)
	}
	if len(recipients) == 0 {
		return nil, errors.New("no age recipients given")
	}
	return recipients, nil
}

func parseCredentials(data []byte) (Credentials, error) {
	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return Credentials{}, err
	}
	creds.Email = strings.TrimSpace(creds.Email)
	creds.APIKey = strings.TrimSpace(creds.APIKey)
	if creds.Email == "" && creds.APIKey == "" {
		return Credentials{}, errors.New("no email or api_key present")
	}
	return creds, nil
}

func decryptAge(path, keyPath string) ([]byte, error) {
	if strings.TrimSpace(keyPath) == "" {
		return nil, errors.New("age key path is required for .age credentials")
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read age key %s: %w", keyPath, err)
	}
	identities, err := parseAgeIdentities(keyData)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open credentials %s: %w", path, err)
	}
	defer file.Close()
	reader, err := age.Decrypt(file, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials %s: %w", path, err)
	}
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}
	return payload, nil
}

func parseAgeIdentities(data []byte) ([]age.Identity, error) {
	var identities []age.Identity
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "AGE-SECRET-KEY-") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("parse age identity: %w", err)
		}
		identities = append(identities, identity)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read age key: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("no age identities found")
	}
	return identities, nil
}
