package x3dh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"limepq/internal/domain"
	"limepq/internal/logging"
	"limepq/internal/serverproto"
	"limepq/internal/transport"
)

func TestPublishUser_FreshRegistrationActivatesOnSuccess(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	suite := testSuite(t)
	cfg := domain.DefaultConfig
	cfg.InitialOPkBatchSize = 5

	var gotReq serverproto.Request
	tr := transport.NewFake(func(url, from string, body []byte) (int, []byte) {
		req, err := serverproto.DecodeRequest(body)
		require.NoError(t, err)
		gotReq = req
		return 200, nil
	})

	u, err := PublishUser(ctx, db, tr, suite, cfg, "alice-phone", "https://key-server.example", logging.Noop{})
	require.NoError(t, err)
	require.True(t, u.Active)
	require.Equal(t, "alice-phone", u.DeviceID)
	require.Equal(t, serverproto.TypeRegisterUser, gotReq.Type)
	require.Equal(t, "alice-phone", gotReq.UserID)

	payload, err := serverproto.DecodeRegisterPayload(gotReq.Payload)
	require.NoError(t, err)
	require.Len(t, payload.OPks, 5)

	stored, err := db.GetUserByDeviceID(ctx, "alice-phone", suite.Algo())
	require.NoError(t, err)
	require.True(t, stored.Active)
}

func TestPublishUser_RejectedRegistrationRemovesLocalRow(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	suite := testSuite(t)
	cfg := domain.DefaultConfig

	tr := transport.NewFake(func(url, from string, body []byte) (int, []byte) {
		return 409, nil
	})

	_, err := PublishUser(ctx, db, tr, suite, cfg, "bob-laptop", "https://key-server.example", logging.Noop{})
	require.Error(t, err)

	_, err = db.GetUserByDeviceID(ctx, "bob-laptop", suite.Algo())
	require.Equal(t, domain.KindNotFound, domain.AsKind(err))
}

func TestPublishUser_AlreadyActiveIsRejected(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	suite := testSuite(t)
	cfg := domain.DefaultConfig

	tr := transport.NewFake(func(url, from string, body []byte) (int, []byte) { return 200, nil })

	_, err := PublishUser(ctx, db, tr, suite, cfg, "carol-tablet", "https://key-server.example", logging.Noop{})
	require.NoError(t, err)

	_, err = PublishUser(ctx, db, tr, suite, cfg, "carol-tablet", "https://key-server.example", logging.Noop{})
	require.Equal(t, domain.KindInvalidArgument, domain.AsKind(err))
}

func TestPublishUser_RetriesWithSameIdentityAfterNetworkFailure(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	suite := testSuite(t)
	cfg := domain.DefaultConfig

	// a fake transport with no handler installed reports a transport error,
	// simulating "the network never answers" (spec §4.5).
	failing := transport.NewFake(nil)

	_, err := PublishUser(ctx, db, failing, suite, cfg, "dave-desktop", "https://key-server.example", logging.Noop{})
	require.Error(t, err)

	// the inactive row survives; a retry with the same device id reuses it
	// and only re-sends the register call.
	var secondReq serverproto.Request
	okTransport := transport.NewFake(func(url, from string, body []byte) (int, []byte) {
		req, decErr := serverproto.DecodeRequest(body)
		require.NoError(t, decErr)
		secondReq = req
		return 200, nil
	})
	u, err := PublishUser(ctx, db, okTransport, suite, cfg, "dave-desktop", "https://key-server.example", logging.Noop{})
	require.NoError(t, err)
	require.True(t, u.Active)

	payload, err := serverproto.DecodeRegisterPayload(secondReq.Payload)
	require.NoError(t, err)
	require.NotEmpty(t, payload.Ik)
}
