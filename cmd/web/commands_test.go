package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readstate_backend/internal/auth"
)

func TestTokenCommand(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--user", "u42", "--role", "service", "--secret", "s3cret"})

	require.NoError(t, root.Execute())

	claims, err := auth.ParseToken(strings.TrimSpace(out.String()), []byte("s3cret"))
	require.NoError(t, err)
	assert.Equal(t, "u42", claims.UserID)
	assert.Equal(t, auth.RoleService, claims.Role)
}

func TestTokenCommand_Validation(t *testing.T) {
	for _, args := range [][]string{
		{"token", "--secret", "x"},
		{"token", "--user", "u1", "--role", "root", "--secret", "x"},
	} {
		root := NewRootCommand()
		root.SetOut(&bytes.Buffer{})
		root.SetErr(&bytes.Buffer{})
		root.SetArgs(args)
		assert.Error(t, root.Execute(), args)
	}
}
