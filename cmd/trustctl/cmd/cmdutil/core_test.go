package cmdutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/santedb/santedb-server-sub007/internal/auth"
)

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Device ")
	require.NoError(t, err)
	assert.Equal(t, auth.KindDevice, k)

	_, err = ParseKind("robot")
	assert.Error(t, err)
}

func TestReadSecret(t *testing.T) {
	var out bytes.Buffer

	s, err := ReadSecret(strings.NewReader("ignored\n"), &out, "flag", false)
	require.NoError(t, err)
	assert.Equal(t, "flag", s)
	assert.Empty(t, out.String())

	s, err = ReadSecret(strings.NewReader("S3cr3t!\nnext\n"), &out, "", true)
	require.NoError(t, err)
	assert.Equal(t, "S3cr3t!", s)

	_, err = ReadSecret(strings.NewReader(""), &out, "", true)
	assert.Error(t, err)
	_, err = ReadSecret(strings.NewReader(""), &out, "", false)
	assert.Error(t, err)
}
