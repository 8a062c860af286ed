// Package crypto signs archived run records so an archive pulled from disk
// can be checked for tampering.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// SignatureAlg is the only signing algorithm the archive uses.
const SignatureAlg = "ed25519"

// Signature is a detached signature over a serialized run record.
type Signature struct {
	Alg   string `json:"alg"`
	KeyID string `json:"key_id"`
	Sig   string `json:"sig"`
}

// Signer signs run records with a persistent ed25519 key.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	keyID      string
}

// DefaultKeyDir returns the per-user key directory.
func DefaultKeyDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".mergeflow", "keys"), nil
}

// NewSigner loads the key named keyID from keyDir, generating and persisting
// a fresh one when none exists. An empty keyDir uses DefaultKeyDir.
func NewSigner(keyDir, keyID string) (*Signer, error) {
	if keyID == "" {
		return nil, fmt.Errorf("crypto: key id is required")
	}
	if keyDir == "" {
		var err error
		keyDir, err = DefaultKeyDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, err
	}

	keyPath := filepath.Join(keyDir, keyID+".key")

	var privateKey ed25519.PrivateKey
	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		if len(data) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("crypto: key %s has invalid size %d", keyPath, len(data))
		}
		privateKey = ed25519.PrivateKey(data)
	case os.IsNotExist(err):
		_, priv, genErr := ed25519.GenerateKey(rand.Reader)
		if genErr != nil {
			return nil, genErr
		}
		privateKey = priv
		if writeErr := os.WriteFile(keyPath, []byte(privateKey), 0600); writeErr != nil {
			return nil, writeErr
		}
	default:
		return nil, err
	}

	return &Signer{
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
		keyID:      keyID,
	}, nil
}

// KeyID returns the signer's key identifier.
func (s *Signer) KeyID() string { return s.keyID }

// Sign produces a detached signature over data.
func (s *Signer) Sign(data []byte) Signature {
	sig := ed25519.Sign(s.privateKey, data)
	return Signature{
		Alg:   SignatureAlg,
		KeyID: s.keyID,
		Sig:   base64.StdEncoding.EncodeToString(sig),
	}
}

// Verify checks sig against data using the key named in the signature,
// loaded from keyDir (empty keyDir uses DefaultKeyDir).
func Verify(keyDir string, sig Signature, data []byte) error {
	if sig.Alg != SignatureAlg {
		return fmt.Errorf("crypto: unsupported signature alg %q", sig.Alg)
	}
	if sig.KeyID == "" {
		return fmt.Errorf("crypto: signature missing key id")
	}
	if keyDir == "" {
		var err error
		keyDir, err = DefaultKeyDir()
		if err != nil {
			return err
		}
	}

	raw, err := base64.StdEncoding.DecodeString(sig.Sig)
	if err != nil {
		return fmt.Errorf("crypto: decode signature: %w", err)
	}

	keyPath := filepath.Join(keyDir, sig.KeyID+".key")
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("crypto: load key %s: %w", sig.KeyID, err)
	}
	priv := ed25519.PrivateKey(keyData)
	if len(priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("crypto: key %s has invalid size", sig.KeyID)
	}

	if !ed25519.Verify(priv.Public().(ed25519.PublicKey), data, raw) {
		return fmt.Errorf("crypto: signature verification failed for key %s", sig.KeyID)
	}
	return nil
}
