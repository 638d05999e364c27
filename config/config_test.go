package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	cfg, args, err := Load("test", []string{"generate", "hcp-A"}, env(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"generate", "hcp-A"}, args)
	assert.Equal(t, "http://localhost:8089", cfg.DirectoryURL)
	assert.Equal(t, KeychainBadger, cfg.Keychain)
	assert.Equal(t, filepath.Join(home, ".e2e-delegation", "keychain"), cfg.KeychainDir)
	assert.Equal(t, 2048, cfg.RSABits)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
directoryUrl: https://file.example
keychain: memory
suite: hpke
retryMax: 7
bearerToken: from-file
`)

	cfg, _, err := Load("test", []string{"--config", path}, env(nil))
	require.NoError(t, err)
	assert.Equal(t, "https://file.example", cfg.DirectoryURL)
	assert.Equal(t, KeychainMemory, cfg.Keychain)
	assert.Equal(t, SuiteHPKE, cfg.Suite)
	assert.Equal(t, 7, cfg.RetryMax)
	// Absent from the file
	assert.Equal(t, 2048, cfg.RSABits)

	vars := map[string]string{
		EnvConfigFile:   path,
		EnvDirectoryURL: "https://env.example",
		EnvBearerToken:  "from-env",
	}
	cfg, _, err = Load("test", nil, env(vars))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example", cfg.DirectoryURL)
	assert.Equal(t, "from-env", cfg.BearerToken)
	assert.Equal(t, 7, cfg.RetryMax)

	cfg, _, err = Load("test", []string{"--directory", "https://flag.example", "--retry-max", "1", "-v"}, env(vars))
	require.NoError(t, err)
	assert.Equal(t, "https://flag.example", cfg.DirectoryURL)
	assert.Equal(t, 1, cfg.RetryMax)
	assert.True(t, cfg.Verbose)
}

func TestLoadErrors(t *testing.T) {
	_, _, err := Load("test", []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, env(nil))
	assert.Error(t, err)

	_, _, err = Load("test", []string{"--config", writeConfig(t, "rsaBits: [nope")}, env(nil))
	assert.Error(t, err)

	_, _, err = Load("test", []string{"--keychain", "floppy"}, env(nil))
	assert.ErrorContains(t, err, "keychain")

	_, _, err = Load("test", []string{"--suite", "rot13"}, env(nil))
	assert.ErrorContains(t, err, "suite")

	_, _, err = Load("test", []string{"--rsa-bits", "512"}, env(nil))
	assert.Error(t, err)

	_, _, err = Load("test", []string{"--no-such-flag"}, env(nil))
	assert.Error(t, err)
}

func TestOpenKeychain(t *testing.T) {
	for _, backend := range []string{KeychainMemory, KeychainBadger} {
		t.Run(backend, func(t *testing.T) {
			cfg := Default()
			cfg.Keychain = backend
			cfg.KeychainDir = filepath.Join(t.TempDir(), "keychain")
			cfg.Suite = SuiteHPKE
			require.NoError(t, cfg.Validate())

			kc, closeFn, err := cfg.OpenKeychain()
			require.NoError(t, err)
			defer closeFn()

			pair, err := cfg.PrimitivesSuite().Asymmetric.GenerateKeyPair()
			require.NoError(t, err)
			require.NoError(t, kc.SaveKeyPair("hcp-A", pair))
			_, err = kc.LoadKeyPair("hcp-A")
			assert.NoError(t, err)
		})
	}
}

func TestDirectory(t *testing.T) {
	cfg := Default()
	_, err := cfg.Directory()
	assert.NoError(t, err)

	cfg.DirectoryURL = "ftp://nope"
	_, err = cfg.Directory()
	assert.Error(t, err)
}

func TestDirectoryBasicAuth(t *testing.T) {
	path := writeConfig(t, `
username: file-user
password: file-pass
`)
	cfg, _, err := Load("test", []string{"--config", path}, env(nil))
	require.NoError(t, err)
	assert.Equal(t, "file-user", cfg.Username)
	assert.Equal(t, "file-pass", cfg.Password)

	vars := map[string]string{EnvUsername: "env-user", EnvPassword: "env-pass"}
	cfg, _, err = Load("test", []string{"--config", path, "--password", "flag-pass"}, env(vars))
	require.NoError(t, err)
	assert.Equal(t, "env-user", cfg.Username)
	assert.Equal(t, "flag-pass", cfg.Password)

	_, _, err = Load("test", []string{"--password", "orphan"}, env(nil))
	assert.Error(t, err)

	type credentials struct{ user, pass string }
	got := make(chan credentials, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		got <- credentials{user, pass}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"hcp-A"}`))
	}))
	t.Cleanup(server.Close)

	cfg.DirectoryURL = server.URL
	dir, err := cfg.Directory()
	require.NoError(t, err)
	_, err = dir.GetDataOwner(context.Background(), "hcp-A")
	require.NoError(t, err)
	assert.Equal(t, credentials{"env-user", "flag-pass"}, <-got)
}
