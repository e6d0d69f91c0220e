package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Signer signs V4 URL payloads on behalf of a service account.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// ServiceAccountSigner signs with the private key of a Google service account key file.
type ServiceAccountSigner struct {
	email string
	key   crypto.Signer
}

var _ Signer = (*ServiceAccountSigner)(nil)

type keyFile struct {
	Type        string `json:"type"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// LoadServiceAccountSigner accepts either the JSON key itself or a path to it. Inline JSON
// lets the key arrive through a resolved secret reference.
func LoadServiceAccountSigner(source string) (*ServiceAccountSigner, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New("storage: signer key source is empty")
	}
	if strings.HasPrefix(source, "{") {
		return NewServiceAccountSignerFromJSON([]byte(source))
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("storage: read signer key: %w", err)
	}
	return NewServiceAccountSignerFromJSON(data)
}

func NewServiceAccountSignerFromJSON(data []byte) (*ServiceAccountSigner, error) {
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("storage: decode signer key: %w", err)
	}
	if kf.Type != "" && kf.Type != "service_account" {
		return nil, fmt.Errorf("storage: signer key type %q is not service_account", kf.Type)
	}
	var missing []string
	if strings.TrimSpace(kf.ClientEmail) == "" {
		missing = append(missing, "client_email")
	}
	if strings.TrimSpace(kf.PrivateKey) == "" {
		missing = append(missing, "private_key")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("storage: signer key missing %s", strings.Join(missing, ", "))
	}

	key, err := decodeRSAKey([]byte(kf.PrivateKey))
	if err != nil {
		return nil, err
	}
	return &ServiceAccountSigner{email: strings.TrimSpace(kf.ClientEmail), key: key}, nil
}

func (s *ServiceAccountSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes returns the RSASSA-PKCS1-v1_5 SHA-256 signature V4 signing expects.
func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	switch {
	case s == nil || s.key == nil:
		return nil, errors.New("storage: signer not initialised")
	case len(payload) == 0:
		return nil, errors.New("storage: nothing to sign")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := s.key.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("storage: sign: %w", err)
	}
	return sig, nil
}

func decodeRSAKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("storage: private_key is not PEM encoded")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("storage: parse PKCS#1 key: %w", err)
		}
		return key, nil
	default:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("storage: parse PKCS#8 key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: private_key is not an RSA key")
		}
		return key, nil
	}
}
