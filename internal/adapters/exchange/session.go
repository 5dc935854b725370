package exchange

import (
	"context"
	"fmt"
	"log/slog"
)

// Login opens a session and stores its token for later requests.
func (c *Client) Login(ctx context.Context) error {
	var resp sessionResponse
	err := c.post(ctx, "/login", loginRequest{Username: c.username, Password: c.password}, &resp)
	if err != nil {
		return fmt.Errorf("exchange.Login: %w", err)
	}
	if resp.Status != statusSuccess || resp.Token == "" {
		return fmt.Errorf("exchange.Login: status %s: %s", resp.Status, resp.Error)
	}
	c.setSessionToken(resp.Token)
	slog.Info("exchange: logged in", "user", c.username)
	return nil
}

// Logout closes the session. The local token is dropped even if the request fails.
func (c *Client) Logout(ctx context.Context) error {
	if c.sessionToken() == "" {
		return nil
	}
	var resp sessionResponse
	err := c.post(ctx, "/logout", struct{}{}, &resp)
	c.setSessionToken("")
	if err != nil {
		return fmt.Errorf("exchange.Logout: %w", err)
	}
	slog.Info("exchange: logged out")
	return nil
}

// Ping keeps the session alive. Any failure here means the exchange is unreachable
// or the session could not be restored.
func (c *Client) Ping(ctx context.Context) error {
	var resp sessionResponse
	if err := c.call(ctx, "/keepAlive", struct{}{}, &resp); err != nil {
		return fmt.Errorf("exchange.Ping: %w", err)
	}
	if resp.Status != statusSuccess {
		return fmt.Errorf("exchange.Ping: status %s: %s", resp.Status, resp.Error)
	}
	return nil
}
