package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memu-digital/memu-bot/internal/httpkit"
)

// maxResponseBytes bounds how much of a homeserver response is read.
const maxResponseBytes = 16 << 20

// Config holds the connection settings for a Client.
type Config struct {
	HomeserverURL string
	AccessToken   string
	// HTTPClient is used for all requests. If nil, one is built with a
	// timeout comfortably above the sync long-poll.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is an authenticated Matrix client for one bot account.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. It does not contact the server.
func NewClient(cfg Config) (*Client, error) {
	if cfg.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: homeserver URL is required")
	}
	if _, err := url.Parse(cfg.HomeserverURL); err != nil {
		return nil, fmt.Errorf("matrix: invalid homeserver URL %q: %w", cfg.HomeserverURL, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpkit.NewClient(httpkit.WithTimeout(90*time.Second), httpkit.WithLogger(logger))
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.HomeserverURL, "/"),
		token:      cfg.AccessToken,
		httpClient: hc,
		logger:     logger,
	}, nil
}

// WhoAmI returns the user ID the access token belongs to.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	var resp whoAmIResponse
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil, &resp); err != nil {
		return "", fmt.Errorf("whoami: %w", err)
	}
	return resp.UserID, nil
}

// Sync performs one /sync call.
func (c *Client) Sync(ctx context.Context, opts SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if opts.Since != "" {
		query.Set("since", opts.Since)
	}
	query.Set("timeout", strconv.FormatInt(opts.Timeout.Milliseconds(), 10))
	if opts.Filter != "" {
		query.Set("filter", opts.Filter)
	}

	var resp SyncResponse
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/sync", query, nil, &resp); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	return &resp, nil
}

// JoinRoom joins a room by ID or alias and returns the room ID.
func (c *Client) JoinRoom(ctx context.Context, roomIDOrAlias string) (string, error) {
	var resp struct {
		RoomID string `json:"room_id"`
	}
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomIDOrAlias)
	if err := c.do(ctx, http.MethodPost, path, nil, struct{}{}, &resp); err != nil {
		return "", fmt.Errorf("join %s: %w", roomIDOrAlias, err)
	}
	return resp.RoomID, nil
}

// JoinedRooms lists the rooms the bot is in.
func (c *Client) JoinedRooms(ctx context.Context) ([]string, error) {
	var resp joinedRoomsResponse
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/joined_rooms", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("joined rooms: %w", err)
	}
	return resp.JoinedRooms, nil
}

// JoinedMembers returns user ID → display name for a room.
func (c *Client) JoinedMembers(ctx context.Context, roomID string) (map[string]string, error) {
	var resp joinedMembersResponse
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/joined_members"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("members of %s: %w", roomID, err)
	}
	members := make(map[string]string, len(resp.Joined))
	for id, m := range resp.Joined {
		members[id] = m.DisplayName
	}
	return members, nil
}

// SendText sends a text message. The body is also rendered from
// markdown into formatted_body so clients show bold headers and lists.
func (c *Client) SendText(ctx context.Context, roomID, text string) (string, error) {
	content := MessageContent{MsgType: "m.text", Body: text}
	if html, ok := renderMarkdown(text); ok {
		content.Format = "org.matrix.custom.html"
		content.FormattedBody = html
	}
	return c.SendEvent(ctx, roomID, "m.room.message", content)
}

// SendEvent sends a room event with a fresh transaction ID.
func (c *Client) SendEvent(ctx context.Context, roomID, eventType string, content any) (string, error) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) +
		"/send/" + url.PathEscape(eventType) + "/" + url.PathEscape(c.nextTransactionID())

	var resp sendEventResponse
	if err := c.do(ctx, http.MethodPut, path, nil, content, &resp); err != nil {
		return "", fmt.Errorf("send to %s: %w", roomID, err)
	}
	return resp.EventID, nil
}

// RoomMessages pages through room history. An empty From starts at the
// most recent event when paging backwards.
func (c *Client) RoomMessages(ctx context.Context, roomID string, opts RoomMessagesOptions) (*RoomMessagesResponse, error) {
	query := url.Values{}
	if opts.From != "" {
		query.Set("from", opts.From)
	}
	dir := opts.Direction
	if dir == "" {
		dir = "b"
	}
	query.Set("dir", dir)
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var resp RoomMessagesResponse
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, fmt.Errorf("messages of %s: %w", roomID, err)
	}
	return &resp, nil
}

// Search runs a server-side full-text search over message bodies in one
// room, newest first.
func (c *Client) Search(ctx context.Context, roomID, term string, limit int) ([]SearchResult, error) {
	filter := map[string]any{"rooms": []string{roomID}}
	if limit > 0 {
		filter["limit"] = limit
	}
	body := map[string]any{
		"search_categories": map[string]any{
			"room_events": map[string]any{
				"search_term": term,
				"keys":        []string{"content.body"},
				"filter":      filter,
				"order_by":    "recent",
			},
		},
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/_matrix/client/v3/search", nil, body, &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return resp.SearchCategories.RoomEvents.Results, nil
}

// nextTransactionID is unique across restarts, so a resend after a
// crash is never mistaken for a retry of an older message.
func (c *Client) nextTransactionID() string {
	return "memu-" + uuid.NewString()
}

// do performs one JSON request. Non-2xx responses decode into
// *MatrixError when the body allows it.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, reqBody, out any) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var matrixErr MatrixError
		if jsonErr := json.Unmarshal(data, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
			return fmt.Errorf("unexpected %d from %s %s: %s", resp.StatusCode, method, path, truncate(string(data), 200))
		}
		matrixErr.StatusCode = resp.StatusCode
		return &matrixErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
