package dbus

import (
	"context"
	"encoding/json"
	"fmt"

	godbus "github.com/godbus/dbus/v5"
)

// Client talks to a running power-monitor-daemon.
type Client struct {
	conn *godbus.Conn
	obj  godbus.BusObject
}

// NewClient connects to the session bus.
func NewClient() (*Client, error) {
	conn, err := godbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &Client{conn: conn, obj: conn.Object(BusName, ObjPath)}, nil
}

// GetState returns the daemon's stored snapshot.
func (c *Client) GetState(ctx context.Context) (*State, error) {
	return c.call(ctx, "GetState")
}

// Refresh asks the daemon to query its source now.
func (c *Client) Refresh(ctx context.Context) (*State, error) {
	return c.call(ctx, "Refresh")
}

func (c *Client) call(ctx context.Context, method string) (*State, error) {
	var jsonStr string
	if err := c.obj.CallWithContext(ctx, IfaceName+"."+method, 0).Store(&jsonStr); err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	var state State
	if err := json.Unmarshal([]byte(jsonStr), &state); err != nil {
		return nil, fmt.Errorf("decode %s reply: %w", method, err)
	}
	return &state, nil
}
