// Package brokerobs decorates broker sessions with logging and tracing.
package brokerobs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"ctrader_gateway/internal/broker"
	"ctrader_gateway/internal/logger"
	"ctrader_gateway/internal/trace"
)

// observableSession wraps a Session with spans and structured logs.
type observableSession struct {
	session     broker.Session
	accountID   string
	environment string
}

// Compile-time interface check
var _ broker.Session = (*observableSession)(nil)

// Wrap decorates one session.
func Wrap(s broker.Session, accountID, environment string) broker.Session {
	return &observableSession{session: s, accountID: accountID, environment: environment}
}

// WrapFactory decorates every session a factory creates.
func WrapFactory(f broker.Factory) broker.Factory {
	return func(accountID, environment string) broker.Session {
		return Wrap(f(accountID, environment), accountID, environment)
	}
}

func (o *observableSession) start(ctx context.Context, op string) (context.Context, oteltrace.Span) {
	ctx, span := trace.StartSpan(ctx, "broker."+op)
	span.SetAttributes(
		attribute.String("account.id", o.accountID),
		attribute.String("account.environment", o.environment),
	)
	return ctx, span
}

func (o *observableSession) finish(ctx context.Context, span oteltrace.Span, op string, err error, args ...any) {
	defer span.End()
	args = append(args, "account", o.accountID, "environment", o.environment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorWithErr(ctx, "Broker call failed", err, append(args, "op", op)...)
		return
	}
	logger.Debug(ctx, "Broker call completed", append(args, "op", op)...)
}

// Connect authorises the session with observability
func (o *observableSession) Connect(ctx context.Context, creds broker.Credentials) error {
	ctx, span := o.start(ctx, "Connect")
	logger.Info(ctx, "Connecting broker session", "account", o.accountID, "environment", o.environment)

	err := o.session.Connect(ctx, creds)
	o.finish(ctx, span, "Connect", err)
	return err
}

// Disconnect releases the session with observability
func (o *observableSession) Disconnect(ctx context.Context) error {
	ctx, span := o.start(ctx, "Disconnect")
	err := o.session.Disconnect(ctx)
	o.finish(ctx, span, "Disconnect", err)
	return err
}

func (o *observableSession) Positions(ctx context.Context) ([]broker.Position, error) {
	ctx, span := o.start(ctx, "Positions")
	positions, err := o.session.Positions(ctx)
	o.finish(ctx, span, "Positions", err, "count", len(positions))
	return positions, err
}

func (o *observableSession) Orders(ctx context.Context) ([]broker.Order, error) {
	ctx, span := o.start(ctx, "Orders")
	orders, err := o.session.Orders(ctx)
	o.finish(ctx, span, "Orders", err, "count", len(orders))
	return orders, err
}

func (o *observableSession) Account(ctx context.Context) (broker.Account, error) {
	ctx, span := o.start(ctx, "Account")
	acct, err := o.session.Account(ctx)
	o.finish(ctx, span, "Account", err)
	return acct, err
}

// SubmitOrder places an order with observability
func (o *observableSession) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Execution, error) {
	ctx, span := o.start(ctx, "SubmitOrder")
	span.SetAttributes(
		attribute.Int64("order.symbol_id", req.SymbolID),
		attribute.String("order.side", req.TradeSide),
		attribute.Int64("order.volume", req.Volume),
	)
	logger.Info(ctx, "Submitting order",
		"account", o.accountID,
		"symbolId", req.SymbolID,
		"side", req.TradeSide,
		"volume", req.Volume,
		"orderType", req.OrderType,
	)

	exec, err := o.session.SubmitOrder(ctx, req)
	o.finish(ctx, span, "SubmitOrder", err, "orderId", exec.OrderID)
	return exec, err
}

func (o *observableSession) AmendPosition(ctx context.Context, positionID int64, stopLoss, takeProfit *float64) error {
	ctx, span := o.start(ctx, "AmendPosition")
	span.SetAttributes(attribute.Int64("position.id", positionID))
	err := o.session.AmendPosition(ctx, positionID, stopLoss, takeProfit)
	o.finish(ctx, span, "AmendPosition", err, "positionId", positionID)
	return err
}

func (o *observableSession) ClosePosition(ctx context.Context, positionID int64) error {
	ctx, span := o.start(ctx, "ClosePosition")
	span.SetAttributes(attribute.Int64("position.id", positionID))
	logger.Info(ctx, "Closing position", "account", o.accountID, "positionId", positionID)
	err := o.session.ClosePosition(ctx, positionID)
	o.finish(ctx, span, "ClosePosition", err, "positionId", positionID)
	return err
}

func (o *observableSession) Quote(ctx context.Context, symbolID int64) (broker.Spot, error) {
	ctx, span := o.start(ctx, "Quote")
	span.SetAttributes(attribute.Int64("symbol.id", symbolID))
	spot, err := o.session.Quote(ctx, symbolID)
	o.finish(ctx, span, "Quote", err, "symbolId", symbolID)
	return spot, err
}

func (o *observableSession) Subscribe(ctx context.Context, symbolIDs []int64) error {
	ctx, span := o.start(ctx, "Subscribe")
	span.SetAttributes(attribute.Int64Slice("symbol.ids", symbolIDs))
	err := o.session.Subscribe(ctx, symbolIDs)
	o.finish(ctx, span, "Subscribe", err, "count", len(symbolIDs))
	return err
}
