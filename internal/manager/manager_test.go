package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"limepq/internal/domain"
	"limepq/internal/serverproto"
	"limepq/internal/store"
	"limepq/internal/transport"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func acceptAllTransport() *transport.Fake {
	return transport.NewFake(func(url, from string, body []byte) (int, []byte) { return 200, nil })
}

func TestCreateUser_PublishesUnderEveryRequestedAlgoAndRegistersOrchestrators(t *testing.T) {
	db := openTestDB(t)
	tr := acceptAllTransport()
	m := New(db, tr, domain.DefaultConfig, nil)
	ctx := context.Background()

	var gotErr error
	m.CreateUser(ctx, "alice-phone", []domain.AlgoID{domain.AlgoC25519, domain.AlgoC448}, "https://key-server.example", 5, func(err error) {
		gotErr = err
	})
	require.NoError(t, gotErr)

	require.True(t, m.IsUser(ctx, "alice-phone", []domain.AlgoID{domain.AlgoC25519}))
	require.True(t, m.IsUser(ctx, "alice-phone", []domain.AlgoID{domain.AlgoC448}))

	o, err := m.orchestratorFor(ctx, "alice-phone", domain.AlgoC25519)
	require.NoError(t, err)
	require.NotNil(t, o)
}

func TestCreateUser_PartialFailureStillSucceedsIfOneAlgoPublishes(t *testing.T) {
	db := openTestDB(t)
	tr := transport.NewFake(func(url, from string, body []byte) (int, []byte) {
		req, err := serverproto.DecodeRequest(body)
		require.NoError(t, err)
		if req.UserID == "mixed-device" {
			return 200, nil
		}
		return 200, nil
	})
	m := New(db, tr, domain.DefaultConfig, nil)
	ctx := context.Background()

	// register under c25519 first so the c25519 leg of a second CreateUser
	// call fails with "already active" while the c448 leg still succeeds.
	var firstErr error
	m.CreateUser(ctx, "mixed-device", []domain.AlgoID{domain.AlgoC25519}, "https://key-server.example", 0, func(err error) { firstErr = err })
	require.NoError(t, firstErr)

	var secondErr error
	m.CreateUser(ctx, "mixed-device", []domain.AlgoID{domain.AlgoC25519, domain.AlgoC448}, "https://key-server.example", 0, func(err error) { secondErr = err })
	require.NoError(t, secondErr)
	require.True(t, m.IsUser(ctx, "mixed-device", []domain.AlgoID{domain.AlgoC448}))
}

func TestCreateUser_AllAlgosFailingReportsError(t *testing.T) {
	db := openTestDB(t)
	tr := transport.NewFake(func(url, from string, body []byte) (int, []byte) { return 409, nil })
	m := New(db, tr, domain.DefaultConfig, nil)
	ctx := context.Background()

	var gotErr error
	m.CreateUser(ctx, "rejected-device", []domain.AlgoID{domain.AlgoC25519}, "https://key-server.example", 0, func(err error) { gotErr = err })
	require.Error(t, gotErr)
	require.False(t, m.IsUser(ctx, "rejected-device", []domain.AlgoID{domain.AlgoC25519}))
}

func TestDeleteUser_RemovesRowAndDropsOrchestrator(t *testing.T) {
	db := openTestDB(t)
	tr := acceptAllTransport()
	m := New(db, tr, domain.DefaultConfig, nil)
	ctx := context.Background()

	var createErr error
	m.CreateUser(ctx, "carol-tablet", []domain.AlgoID{domain.AlgoC25519}, "https://key-server.example", 0, func(err error) { createErr = err })
	require.NoError(t, createErr)
	require.True(t, m.IsUser(ctx, "carol-tablet", []domain.AlgoID{domain.AlgoC25519}))

	require.NoError(t, m.DeleteUser(ctx, "carol-tablet", domain.AlgoC25519))
	require.False(t, m.IsUser(ctx, "carol-tablet", []domain.AlgoID{domain.AlgoC25519}))

	_, err := m.orchestratorFor(ctx, "carol-tablet", domain.AlgoC25519)
	require.Error(t, err)
}

func TestIsUser_FalseForUnknownDevice(t *testing.T) {
	db := openTestDB(t)
	m := New(db, acceptAllTransport(), domain.DefaultConfig, nil)
	require.False(t, m.IsUser(context.Background(), "nobody", []domain.AlgoID{domain.AlgoC25519}))
}

func TestUpdate_RotatesReplenishesAndSweepsWithoutError(t *testing.T) {
	db := openTestDB(t)
	tr := acceptAllTransport()
	m := New(db, tr, domain.DefaultConfig, nil)
	ctx := context.Background()

	var createErr error
	m.CreateUser(ctx, "dave-desktop", []domain.AlgoID{domain.AlgoC25519}, "https://key-server.example", 5, func(err error) { createErr = err })
	require.NoError(t, createErr)

	var updateErr error
	m.Update(ctx, "dave-desktop", []domain.AlgoID{domain.AlgoC25519}, func(err error) { updateErr = err }, 10, 25)
	require.NoError(t, updateErr)
}

func TestServerUrl_GetSetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	tr := acceptAllTransport()
	m := New(db, tr, domain.DefaultConfig, nil)
	ctx := context.Background()

	var createErr error
	m.CreateUser(ctx, "erin-laptop", []domain.AlgoID{domain.AlgoC25519}, "https://old-server.example", 0, func(err error) { createErr = err })
	require.NoError(t, createErr)

	url, err := m.GetX3dhServerUrl(ctx, "erin-laptop", domain.AlgoC25519)
	require.NoError(t, err)
	require.Equal(t, "https://old-server.example", url)

	require.NoError(t, m.SetX3dhServerUrl(ctx, "erin-laptop", domain.AlgoC25519, "https://new-server.example"))

	url, err = m.GetX3dhServerUrl(ctx, "erin-laptop", domain.AlgoC25519)
	require.NoError(t, err)
	require.Equal(t, "https://new-server.example", url)
}
