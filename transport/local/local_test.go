package local

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scootdev/grid/domain"
	"github.com/scootdev/grid/transport"
)

func TestCallRoundTrip(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	net := NewNetwork()
	a, b := net.Join("a"), net.Join("b")
	handler := transport.NewMockHandler(mockCtrl)
	require.NoError(t, b.Serve(handler))

	req, err := transport.NewRequest("job", domain.PrimaryRole, domain.OpNewWorker, "a", domain.NewWorkerRequest{WorkerID: "w1"})
	require.NoError(t, err)
	handler.EXPECT().Invoke(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, got transport.Request) (transport.Reply, error) {
			var payload domain.NewWorkerRequest
			require.NoError(t, transport.Decode(got.Payload, &payload))
			assert.Equal(t, "w1", payload.WorkerID)
			assert.Equal(t, domain.OpNewWorker, got.Opcode)
			return transport.NewReply(domain.NewWorkerReply{Granted: true}, &domain.DynamicState{Phase: domain.Running})
		})

	reply, err := a.Call(context.Background(), "b", req)
	require.NoError(t, err)
	var payload domain.NewWorkerReply
	require.NoError(t, transport.Decode(reply.Payload, &payload))
	assert.True(t, payload.Granted)
	assert.Equal(t, domain.Running, reply.State.Phase)
}

func TestUnreachable(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	net := NewNetwork()
	a, b := net.Join("a"), net.Join("b")
	require.NoError(t, b.Serve(transport.NewMockHandler(mockCtrl)))
	req := transport.Request{JobID: "job"}

	_, err := a.Call(context.Background(), "nowhere", req)
	assert.Equal(t, transport.ErrUnreachable, errors.Cause(err))

	net.SetDown("b", true)
	_, err = a.Call(context.Background(), "b", req)
	assert.Equal(t, transport.ErrUnreachable, errors.Cause(err))
	assert.Error(t, a.Send(context.Background(), "b", req))

	net.SetDown("b", false)
	require.NoError(t, b.Close())
	_, err = a.Call(context.Background(), "b", req)
	assert.Equal(t, transport.ErrUnreachable, errors.Cause(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Call(ctx, "b", req)
	assert.Equal(t, context.Canceled, err)
}

func TestAdvertise(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	net := NewNetwork()
	a := net.Join("a")
	handlers := map[domain.Endpoint]*transport.MockHandler{}
	for _, e := range []domain.Endpoint{"b", "c", "d"} {
		handlers[e] = transport.NewMockHandler(mockCtrl)
		require.NoError(t, net.Join(e).Serve(handlers[e]))
	}
	advert := domain.Advert{JobID: "job", Radius: 2, Callback: "a"}

	handlers["b"].EXPECT().HandleAdvert(gomock.Any(), domain.Endpoint("a"), advert)
	handlers["c"].EXPECT().HandleAdvert(gomock.Any(), domain.Endpoint("a"), advert)
	net.SetDown("d", true)
	require.NoError(t, a.Advertise(context.Background(), advert))

	net.SetDown("d", false)
	net.SetPeers("a", "d")
	handlers["d"].EXPECT().HandleAdvert(gomock.Any(), domain.Endpoint("a"), advert)
	require.NoError(t, a.Advertise(context.Background(), advert))
}
