package delegation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinfoilsh/e2e-delegation/primitives"
)

func TestContentRoundTrip(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"hcp-A", "hcp-B", "hcp-C"} {
		f.owner(t, id, "")
	}
	ctx := context.Background()
	e, secret, encSecret := f.entity(t, "doc-1", "hcp-A")

	ct, err := f.crypto.EncryptContent(ctx, e, "hcp-A", []byte(`{"note":"fever"}`))
	require.NoError(t, err)

	shared, err := f.crypto.AddDelegationsAndEncryptionKeys(ctx, nil, e, "hcp-A", "hcp-B", secret, encSecret)
	require.NoError(t, err)

	pt, err := f.crypto.DecryptContent(ctx, shared, "hcp-B", ct)
	require.NoError(t, err)
	assert.Equal(t, `{"note":"fever"}`, string(pt))

	_, err = f.crypto.DecryptContent(ctx, shared, "hcp-C", ct)
	assert.ErrorIs(t, err, ErrNoEncryptionKey)

	ct[len(ct)-1] ^= 0xff
	_, err = f.crypto.DecryptContent(ctx, shared, "hcp-B", ct)
	assert.Error(t, err)
}

func TestContentKeyIsBoundToEntity(t *testing.T) {
	f := newFixture(t)
	f.owner(t, "hcp-A", "")
	ctx := context.Background()
	e, _, _ := f.entity(t, "doc-1", "hcp-A")

	ct, err := f.crypto.EncryptContent(ctx, e, "hcp-A", []byte("payload"))
	require.NoError(t, err)

	a, err := f.crypto.contentKey("secret", "doc-1")
	require.NoError(t, err)
	b, err := f.crypto.contentKey("secret", "doc-2")
	require.NoError(t, err)
	rawA, err := f.suite.Symmetric.ExportKey(a, primitives.FormatRaw)
	require.NoError(t, err)
	rawB, err := f.suite.Symmetric.ExportKey(b, primitives.FormatRaw)
	require.NoError(t, err)
	assert.NotEqual(t, rawA, rawB)

	other, _, _ := f.entity(t, "doc-2", "hcp-A")
	_, err = f.crypto.DecryptContent(ctx, other, "hcp-A", ct)
	assert.Error(t, err)
}
