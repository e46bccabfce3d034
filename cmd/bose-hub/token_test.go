package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strefethen/bose-hub-go/internal/auth"
)

func TestTokenCommand(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	t.Setenv("API_JWT_SECRET", secret)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "--subject", "living-room-tablet"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())

	user, err := auth.VerifyToken(secret, strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "living-room-tablet", user.Sub)
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("API_JWT_SECRET", "")

	rootCmd.SetArgs([]string{"token", "--subject", "someone"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.ErrorIs(t, rootCmd.Execute(), auth.ErrNoSecret)
}
