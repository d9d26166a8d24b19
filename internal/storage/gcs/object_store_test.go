package gcs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "attachments"})
	require.Error(t, err)
}

func TestObjectKey(t *testing.T) {
	t.Parallel()

	prefixed := &ObjectStore{prefix: "tenants"}
	require.Equal(t, "tenants/7/attachments/u1.pdf", prefixed.objectKey("7/attachments/u1.pdf"))
	require.Equal(t, "tenants/7/a.pdf", prefixed.objectKey("/7/a.pdf/"))
	require.Equal(t, "", prefixed.objectKey("  "))

	bare := &ObjectStore{}
	require.Equal(t, "7/a.pdf", bare.objectKey("7/a.pdf"))
}
