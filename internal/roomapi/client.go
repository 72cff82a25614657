// Package roomapi is the client for the relay backend's room REST API.
package roomapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gamecore/internal/auth"
	"gamecore/internal/game"
	"gamecore/internal/gameerr"
	"gamecore/internal/protocol"
)

// Client talks to one backend. It is safe for concurrent use.
type Client struct {
	base   *url.URL
	tokens auth.TokenProvider
	http   *http.Client
}

func New(baseURL string, tokens auth.TokenProvider) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}
	return &Client{base: u, tokens: tokens, http: &http.Client{Timeout: 10 * time.Second}}, nil
}

// CreateRoom opens a room for variant seating up to capacity players.
func (c *Client) CreateRoom(ctx context.Context, variant string, capacity int) (protocol.RoomDescriptor, error) {
	var room protocol.RoomDescriptor
	err := c.do(ctx, http.MethodPost, "/api/rooms", protocol.CreateRoomRequest{Variant: variant, Capacity: capacity}, &room)
	return room, err
}

// JoinRoom takes a seat in an existing room.
func (c *Client) JoinRoom(ctx context.Context, roomID, displayName string) (protocol.Membership, error) {
	var m protocol.Membership
	err := c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/join", protocol.JoinRoomRequest{DisplayName: displayName}, &m)
	return m, err
}

// StartRoom asks the backend to deal the game. The resulting state arrives
// as a game_started message.
func (c *Client) StartRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/start", nil, nil)
}

func (c *Client) GetRoom(ctx context.Context, roomID string) (protocol.RoomDescriptor, error) {
	var room protocol.RoomDescriptor
	err := c.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(roomID), nil, &room)
	return room, err
}

func (c *Client) Variants(ctx context.Context) ([]game.Info, error) {
	var infos []game.Info
	err := c.do(ctx, http.MethodGet, "/api/variants", nil, &infos)
	return infos, err
}

// WebSocketURL returns the duplex endpoint of the backend.
func (c *Client) WebSocketURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gameerr.New(gameerr.ErrConnectionLost, method+" "+path, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var er protocol.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		if er.Error == "" {
			er.Error = resp.Status
		}
		return statusError(resp.StatusCode, method+" "+path, er.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// statusError maps REST status codes onto error kinds.
func statusError(code int, op, msg string) error {
	var kind error
	switch code {
	case http.StatusNotFound:
		kind = gameerr.ErrNotFound
	case http.StatusUnprocessableEntity:
		kind = gameerr.ErrUnsupportedVariant
	case http.StatusBadRequest, http.StatusConflict:
		kind = gameerr.ErrIllegalMove
	case http.StatusGone:
		kind = gameerr.ErrSessionFinished
	default:
		kind = gameerr.ErrConnectionLost
	}
	return gameerr.Newf(kind, op, "", "%d %s", code, msg)
}
