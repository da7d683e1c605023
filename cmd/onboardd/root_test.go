package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/onboard-forms/internal/identity"
)

func TestRootRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	var names []string
	for _, sub := range root.Commands() {
		names = append(names, sub.Name())
	}
	require.Subset(t, names, []string{"serve", "migrate", "token"})
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
	require.NotNil(t, root.PersistentFlags().Lookup("env-file"))
}

func TestTokenCommandSignsWithConfiguredSecret(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("auth:\n  jwt_secret: s3cret\n  issuer: onboard\n"), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "ada", "--config", cfgPath, "--env-file", ""})
	require.NoError(t, root.Execute())

	verifier, err := identity.NewTokenVerifier([]byte("s3cret"), identity.WithIssuer("onboard"))
	require.NoError(t, err)
	sub, err := verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, "ada", sub)
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "ada", "--env-file", filepath.Join(t.TempDir(), "missing.env")})
	require.ErrorContains(t, root.Execute(), "jwt_secret")
}

func TestMigrateRequiresDSN(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"migrate", "--env-file", ""})
	require.ErrorContains(t, root.Execute(), "dsn")
}
