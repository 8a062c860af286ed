package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zen-systems/mergeflow/pkg/crypto"
)

func testRecord() *Record {
	return &Record{
		RunID:     "run-1",
		ChangeSet: "acme/widgets#7",
		Flow:      "integrative",
		HeadSHA:   "abc123",
		State:     "merged",
		Rationale: "gates passed: build, tests",
		Document:  "## Validation ledger: acme/widgets#7 @ abc123\n",
	}
}

func TestArchiveAndLoadRoundTrip(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base, nil)
	require.NoError(t, err)

	path, err := store.Archive(testRecord())
	require.NoError(t, err)

	rec, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "merged", rec.State)
	assert.NotEmpty(t, rec.DocumentSHA256)
	assert.Nil(t, rec.Signature)
	require.NoError(t, VerifyRecord("", rec))

	// The document is deduplicated into the sharded objects tree.
	objPath := filepath.Join(base, "objects", rec.DocumentSHA256[:2], rec.DocumentSHA256)
	data, err := os.ReadFile(objPath)
	require.NoError(t, err)
	assert.Equal(t, rec.Document, string(data))
}

func TestArchiveSignsAndVerifies(t *testing.T) {
	base := t.TempDir()
	keyDir := t.TempDir()
	signer, err := crypto.NewSigner(keyDir, "archive-test")
	require.NoError(t, err)

	store, err := NewStore(base, signer)
	require.NoError(t, err)

	path, err := store.Archive(testRecord())
	require.NoError(t, err)

	rec, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, rec.Signature)
	assert.Equal(t, crypto.SignatureAlg, rec.Signature.Alg)
	assert.Equal(t, "archive-test", rec.Signature.KeyID)
	require.NoError(t, VerifyRecord(keyDir, rec))
}

func TestVerifyRejectsTamperedDocument(t *testing.T) {
	base := t.TempDir()
	keyDir := t.TempDir()
	signer, err := crypto.NewSigner(keyDir, "archive-test")
	require.NoError(t, err)

	store, err := NewStore(base, signer)
	require.NoError(t, err)
	path, err := store.Archive(testRecord())
	require.NoError(t, err)

	rec, err := Load(path)
	require.NoError(t, err)
	rec.Document += "tampered\n"
	assert.Error(t, VerifyRecord(keyDir, rec))
}

func TestVerifyRejectsAlteredRationale(t *testing.T) {
	keyDir := t.TempDir()
	signer, err := crypto.NewSigner(keyDir, "archive-test")
	require.NoError(t, err)

	store, err := NewStore(t.TempDir(), signer)
	require.NoError(t, err)
	path, err := store.Archive(testRecord())
	require.NoError(t, err)

	rec, err := Load(path)
	require.NoError(t, err)
	rec.Rationale = "gates passed: none"
	assert.Error(t, VerifyRecord(keyDir, rec))
}

func TestSignerKeyPersistsAcrossLoads(t *testing.T) {
	keyDir := t.TempDir()
	first, err := crypto.NewSigner(keyDir, "stable")
	require.NoError(t, err)
	second, err := crypto.NewSigner(keyDir, "stable")
	require.NoError(t, err)

	payload := []byte("same payload")
	assert.Equal(t, first.Sign(payload), second.Sign(payload))
}
