package portal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileExtension(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pdf", FileExtension("https://portal.example/docs/resolucion_tres.pdf"))
	require.Equal(t, "doc", FileExtension("https://portal.example/docs/escrito.doc?dl=1"))
	require.Equal(t, "pdf", FileExtension("https://portal.example/descarga?id=81723"))
	require.Equal(t, "pdf", FileExtension("://not-a-url"))
}
