package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"payndeliver-cart/internal/handler"
	"payndeliver-cart/internal/repository"
	"payndeliver-cart/internal/router"
	"payndeliver-cart/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func TestOfflineCart(t *testing.T) {
	store := []string{"--store", "sqlite", "--store-path", filepath.Join(t.TempDir(), "cart.db"), "--server", "none"}
	cli := func(args ...string) string { return runCLI(t, append(store, args...)...) }

	cli("add", "--id", "p1", "--name", "Rice", "--price", "2.50")
	cli("add", "--id", "p1", "--name", "Rice", "--price", "2.50")
	cli("add", "--id", "p2", "--name", "Beans", "--price", "1")

	out := cli("show")
	assert.Contains(t, out, "state: anonymous")
	assert.Contains(t, out, "Rice")
	assert.Contains(t, out, "6.00")

	out = cli("qty", "p1", "0")
	assert.NotContains(t, out, "Rice")
	assert.Contains(t, out, "Beans")

	out = cli("clear")
	assert.Contains(t, out, "cart is empty")
}

func TestAddRejectsBadPrice(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--store", "memory", "--server", "none", "add", "--id", "p1", "--price", "abc"})
	assert.Error(t, cmd.Execute())
}

func TestUnknownStoreType(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--store", "floppy", "show"})
	assert.Error(t, cmd.Execute())
}

func TestSignedInCartSyncsWithServer(t *testing.T) {
	repo, err := repository.NewSQLiteCartRepository(filepath.Join(t.TempDir(), "server.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	srv := httptest.NewServer(router.New(router.Config{
		CartHandler: handler.NewCartHandler(service.NewCartService(repo, nil), nil),
	}))
	t.Cleanup(srv.Close)

	store := []string{"--store", "sqlite", "--store-path", filepath.Join(t.TempDir(), "cart.db"), "--server", srv.URL + "/api"}
	cli := func(args ...string) string { return runCLI(t, append(store, args...)...) }

	// No server cart yet: the local items survive sign-in.
	cli("add", "--id", "p1", "--name", "Rice", "--price", "3")
	out := cli("login", "u1")
	assert.Contains(t, out, "state: identified (u1)")
	assert.Contains(t, out, "Rice")
	assert.NotContains(t, out, "warning")

	cli("add", "--id", "p2", "--name", "Beans", "--price", "2")

	saved, err := repo.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, saved)
	require.Len(t, saved.Products, 2)
	assert.Equal(t, "p1", saved.Products[0].ID)
	assert.Equal(t, "5", saved.Total.String())

	out = cli("logout")
	assert.Contains(t, out, "state: anonymous")
	assert.Contains(t, cli("show"), "cart is empty")

	// Signing back in restores the server copy.
	out = cli("login", "u1")
	assert.Contains(t, out, "Beans")
}

func TestFetchFailureWarns(t *testing.T) {
	store := []string{"--store", "memory", "--server", "http://127.0.0.1:1/api"}
	out := runCLI(t, append(store, "login", "u1")...)
	assert.Contains(t, out, "warning: failed to load cart")
}

func TestSignInSurvivesFullStore(t *testing.T) {
	t.Setenv("STORE_QUOTA_BYTES", "256")
	store := []string{"--store", "sqlite", "--store-path", filepath.Join(t.TempDir(), "cart.db"), "--server", "none"}
	cli := func(args ...string) string { return runCLI(t, append(store, args...)...) }

	cli("login", "u1")
	cli("add", "--id", "p1", "--name", "Rice", "--price", "1")

	// The cart no longer fits, so the store is purged but the sign-in stays.
	cli("add", "--id", "p2", "--name", strings.Repeat("x", 300), "--price", "1")

	out := cli("show")
	assert.Contains(t, out, "state: identified (u1)")
	assert.Contains(t, out, "cart is empty")
}
