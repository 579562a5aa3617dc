package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/MrEthical07/gameauth/credstore"
	"github.com/MrEthical07/gameauth/credstore/storetest"
)

func TestPostgresStoreConformance(t *testing.T) {
	dsn := os.Getenv("GAMEAUTH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GAMEAUTH_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) credstore.Store {
		ctx := context.Background()
		s, err := Open(ctx, dsn)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		t.Cleanup(s.Close)
		if _, err := s.pool.Exec(ctx, `TRUNCATE oauth_links, identities`); err != nil {
			t.Fatalf("truncate failed: %v", err)
		}
		return s
	})
}

func TestMigrateURLRewritesScheme(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@db:5432/auth?sslmode=disable":   "pgx5://u:p@db:5432/auth?sslmode=disable",
		"postgresql://u:p@db:5432/auth?sslmode=disable": "pgx5://u:p@db:5432/auth?sslmode=disable",
		"pgx5://already": "pgx5://already",
	}
	for in, want := range cases {
		if got := migrateURL(in); got != want {
			t.Fatalf("migrateURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDiffLinks(t *testing.T) {
	before := map[string]credstore.OAuthLink{
		"discord": {ProviderUserID: "d1"},
		"google":  {ProviderUserID: "g1"},
	}
	after := map[string]credstore.OAuthLink{
		"google": {ProviderUserID: "g2"},
		"steam":  {ProviderUserID: "s1"},
	}

	removed, added := diffLinks(before, after)
	if len(removed) != 2 {
		t.Fatalf("expected discord and google removed, got %v", removed)
	}
	if len(added) != 2 || added["google"].ProviderUserID != "g2" || added["steam"].ProviderUserID != "s1" {
		t.Fatalf("unexpected added links: %v", added)
	}
}
