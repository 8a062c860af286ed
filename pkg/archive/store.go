// Package archive persists signed records of finished runs in a
// content-addressed layout, so a terminal decision can be audited long
// after the change-set's PR comment is gone.
package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zen-systems/mergeflow/pkg/crypto"
)

// Record is the durable account of one run reaching a terminal state.
type Record struct {
	RunID      string    `json:"run_id"`
	ChangeSet  string    `json:"change_set"`
	Flow       string    `json:"flow"`
	HeadSHA    string    `json:"head_sha"`
	State      string    `json:"state"`
	Rationale  string    `json:"rationale"`
	ArchivedAt time.Time `json:"archived_at"`

	// Document is the final rendered ledger; DocumentSHA256 is its content
	// address in the objects tree.
	Document       string `json:"document"`
	DocumentSHA256 string `json:"document_sha256"`

	Signature *crypto.Signature `json:"signature,omitempty"`
}

// Store writes run records under basePath: the rendered ledger as a
// sharded content-addressed object, the record itself under runs/.
type Store struct {
	basePath string
	signer   *crypto.Signer
}

// NewStore opens (creating if needed) the archive at basePath. An empty
// basePath uses ~/.mergeflow/archive. A nil signer archives unsigned.
func NewStore(basePath string, signer *crypto.Signer) (*Store, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Join(home, ".mergeflow", "archive")
	}

	for _, d := range []string{
		filepath.Join(basePath, "objects"),
		filepath.Join(basePath, "runs"),
	} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, err
		}
	}

	return &Store{basePath: basePath, signer: signer}, nil
}

// Archive stores rec and returns the path of the written record file. The
// ledger document is deduplicated by content hash; the record is signed
// when the store has a signer.
func (s *Store) Archive(rec *Record) (string, error) {
	if rec.RunID == "" || rec.ChangeSet == "" {
		return "", fmt.Errorf("archive: record needs run id and change-set")
	}

	rec.ArchivedAt = time.Now().UTC()
	hash, err := s.storeObject([]byte(rec.Document))
	if err != nil {
		return "", err
	}
	rec.DocumentSHA256 = hash

	if s.signer != nil {
		payload, err := signingPayload(rec)
		if err != nil {
			return "", err
		}
		sig := s.signer.Sign(payload)
		rec.Signature = &sig
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%s__%s.json", rec.ArchivedAt.Format("20060102150405"), rec.RunID)
	path := filepath.Join(s.basePath, "runs", name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// storeObject writes data by its SHA256 in a sharded objects tree and
// returns the hex hash. Existing objects are left untouched.
func (s *Store) storeObject(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	dir := filepath.Join(s.basePath, "objects", hash[:2])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return hash, nil
}

// Load reads a record file previously written by Archive.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("archive: parse record %s: %w", path, err)
	}
	return &rec, nil
}

// VerifyRecord checks a record's document hash and, when present, its
// signature against the keys in keyDir.
func VerifyRecord(keyDir string, rec *Record) error {
	sum := sha256.Sum256([]byte(rec.Document))
	if got := hex.EncodeToString(sum[:]); got != rec.DocumentSHA256 {
		return fmt.Errorf("archive: document hash mismatch: record says %s, content is %s", rec.DocumentSHA256, got)
	}

	if rec.Signature == nil {
		return nil
	}
	payload, err := signingPayload(rec)
	if err != nil {
		return err
	}
	return crypto.Verify(keyDir, *rec.Signature, payload)
}

// signingPayload is the canonical byte form the signature covers: the
// record with its signature field cleared.
func signingPayload(rec *Record) ([]byte, error) {
	cp := *rec
	cp.Signature = nil
	return json.Marshal(&cp)
}
