package connectivity

import (
	"context"

	market "github.com/grisha2077/vortex-trader-pro/pkg/market/binance"
)

// Stream is one open venue connection.
type Stream interface {
	Read() ([]byte, error)
	Close() error
}

// Dialer opens venue streams. onAlive must be invoked for every frame or pong.
type Dialer interface {
	OpenCombined(ctx context.Context, streams []string, onAlive func()) (Stream, error)
	OpenUserData(ctx context.Context, listenKey string, onAlive func()) (Stream, error)
}

// ListenKeys mints and refreshes user-data listen keys.
type ListenKeys interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context) error
}

// WebsocketDialer adapts the Binance stream client to Dialer.
type WebsocketDialer struct {
	Client *market.StreamClient
}

func (d WebsocketDialer) OpenCombined(ctx context.Context, streams []string, onAlive func()) (Stream, error) {
	conn, err := d.Client.OpenCombined(ctx, streams, onAlive)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d WebsocketDialer) OpenUserData(ctx context.Context, listenKey string, onAlive func()) (Stream, error) {
	conn, err := d.Client.OpenUserData(ctx, listenKey, onAlive)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
