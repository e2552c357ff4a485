package credential

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.CreateSchema(ctx))
	return st
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)

	require.NoError(t, st.Seed(ctx, "kirocli:social:token",
		`{"access_token":"at","refresh_token":"rt","expires_at":"2026-06-01T00:00:00Z"}`))
	require.NoError(t, st.Seed(ctx, "kirocli:odic:token",
		`{"refresh_token":"rt2","region":"us-east-1"}`))
	require.NoError(t, st.Seed(ctx, "kirocli:odic:device-registration",
		`{"client_id":"cid","client_secret":"cs"}`))

	recs, err := st.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "kirocli:social:token", recs[0].Key)
	require.Equal(t, MechanismDesktop, recs[0].Mechanism)
	require.Equal(t, MechanismDeviceOAuth, recs[1].Mechanism)
	require.Equal(t, "cid", recs[1].ClientID)

	rec, err := st.LoadByKey(ctx, "kirocli:odic:token")
	require.NoError(t, err)
	require.Equal(t, "rt2", rec.RefreshToken)
	require.Equal(t, "cs", rec.ClientSecret)

	rec.AccessToken = "fresh"
	rec.RefreshToken = "rotated"
	require.NoError(t, st.Save(ctx, rec))

	again, err := st.LoadByKey(ctx, "kirocli:odic:token")
	require.NoError(t, err)
	require.Equal(t, "fresh", again.AccessToken)
	require.Equal(t, "rotated", again.RefreshToken)
}

func TestSQLiteStoreSaveMissingKey(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)

	err := st.Save(ctx, &Record{Key: "kirocli:social:token", RefreshToken: "rt"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("save of absent key must not create it: %v", err)
	}
}

func TestSQLiteStoreLoadByKeyMissing(t *testing.T) {
	st := newTestSQLite(t)
	_, err := st.LoadByKey(context.Background(), "kirocli:social:token")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStoreMultiAccountOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLite(t)

	require.NoError(t, st.Seed(ctx, "kirocli:social:token:b", `{"refresh_token":"b"}`))
	require.NoError(t, st.Seed(ctx, "kirocli:social:token:a", `{"refresh_token":"a"}`))
	require.NoError(t, st.Seed(ctx, "kirocli:social:token", `{"refresh_token":"base"}`))

	recs, err := st.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "kirocli:social:token", recs[0].Key)
	require.Equal(t, "kirocli:social:token:a", recs[1].Key)
	require.Equal(t, "kirocli:social:token:b", recs[2].Key)
}
