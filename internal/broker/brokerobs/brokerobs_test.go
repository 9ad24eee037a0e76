package brokerobs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctrader_gateway/internal/broker"
	"ctrader_gateway/internal/broker/simulator"
	"ctrader_gateway/internal/logger"
)

func TestWrapDelegates(t *testing.T) {
	ex := simulator.NewExchange()
	factory := WrapFactory(ex.Factory())
	s := factory("1001", broker.EnvironmentDemo)
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx, broker.Credentials{AccessToken: "tok", CTIDAccountID: 1}))
	exec, err := s.SubmitOrder(ctx, broker.OrderRequest{SymbolID: 1, OrderType: 1, TradeSide: "BUY", Volume: 100})
	require.NoError(t, err)
	require.NotNil(t, exec.PositionID)

	positions, err := s.Positions(ctx)
	require.NoError(t, err)
	assert.Len(t, positions, 1)

	require.NoError(t, s.AmendPosition(ctx, *exec.PositionID, broker.Ptr(1.0), nil))
	require.NoError(t, s.ClosePosition(ctx, *exec.PositionID))
	require.NoError(t, s.Subscribe(ctx, []int64{1}))
	_, err = s.Quote(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, s.Disconnect(ctx))

	assert.Equal(t, 1, ex.Calls(simulator.OpSubmit))
	assert.Equal(t, 1, ex.Calls(simulator.OpClose))
}

func TestWrapLogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(logger.Config{Level: "debug", Format: "json"}, &buf)
	t.Cleanup(func() { logger.Init(logger.Config{Level: "info"}) })

	ex := simulator.NewExchange()
	boom := errors.New("vendor down")
	ex.FailNext(simulator.OpAccount, boom)

	s := Wrap(ex.Factory()("1001", broker.EnvironmentLive), "1001", broker.EnvironmentLive)
	_, err := s.Account(context.Background())
	assert.ErrorIs(t, err, boom)

	out := buf.String()
	assert.Contains(t, out, "Broker call failed")
	assert.Contains(t, out, "vendor down")
	assert.Contains(t, out, `"op":"Account"`)
}
