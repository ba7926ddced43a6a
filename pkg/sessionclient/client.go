package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
)

// Sentinel errors exposed by the client.
var (
	ErrUnauthorized      = errors.New("session_client.unauthorized")
	ErrRequestFailed     = errors.New("session_client.request_failed")
	ErrBodyNotReplayable = errors.New("session_client.body_not_replayable")
)

// replayMarkerKey marks a request as the single permitted retry. Tracking
// the flag in the context of the replayed clone keeps the caller's request
// untouched.
type replayMarkerKey struct{}

// Client wraps an HTTP client with the session interceptor. The cookie jar
// carries the refresh cookie set by the server at login.
type Client struct {
	baseURL    string
	session    *Session
	httpClient *http.Client
}

// Option customizes the Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client. A cookie jar is
// installed if the given client has none.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

// New constructs a Client for the auth API at baseURL.
func New(baseURL string, session *Session, options ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("session_client.new: empty base URL")
	}
	if session == nil {
		session = NewSession()
	}
	client := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: session,
	}
	for _, option := range options {
		option(client)
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{}
	}
	if client.httpClient.Jar == nil {
		jar, jarErr := cookiejar.New(nil)
		if jarErr != nil {
			return nil, fmt.Errorf("session_client.new: %w", jarErr)
		}
		client.httpClient.Jar = jar
	}
	return client, nil
}

// Session exposes the session-context object.
func (client *Client) Session() *Session {
	return client.session
}

// NewRequest builds a request against the auth API base URL.
func (client *Client) NewRequest(ctx context.Context, method string, path string, body io.Reader) (*http.Request, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return http.NewRequestWithContext(ctx, method, client.baseURL+path, body)
}

// Do sends the request with the current bearer token attached. On a 401 it
// performs one silent refresh and replays the request with the new token;
// a second failure is terminal and clears the session. Each failing
// request triggers its own refresh attempt; concurrent 401s are not
// coalesced.
func (client *Client) Do(request *http.Request) (*http.Response, error) {
	prepared := request.Clone(request.Context())
	client.attachBearer(prepared)

	response, requestErr := client.httpClient.Do(prepared)
	if requestErr != nil {
		return nil, requestErr
	}
	if response.StatusCode != http.StatusUnauthorized {
		return response, nil
	}
	if replayed, _ := request.Context().Value(replayMarkerKey{}).(bool); replayed {
		return response, nil
	}

	if refreshErr := client.refreshSession(request.Context()); refreshErr != nil {
		client.session.Clear()
		client.session.notifyUnauthorized()
		return response, nil
	}

	retry, cloneErr := cloneForReplay(request)
	if cloneErr != nil {
		return response, nil
	}
	drainAndClose(response.Body)

	client.attachBearer(retry)
	return client.httpClient.Do(retry)
}

// Login exchanges credentials for a session. The server's refresh cookie
// lands in the jar; the access token stays in memory.
func (client *Client) Login(ctx context.Context, email string, password string, remember bool) (User, error) {
	payload := map[string]interface{}{"email": email, "password": password, "remember": remember}
	result, err := client.postAuth(ctx, "/auth/login", payload)
	if err != nil {
		return User{}, err
	}
	client.session.store(result.Data.AccessToken, result.Data.User)
	return result.Data.User, nil
}

// Logout ends the session on the server and clears local state. Local
// state is cleared even when the server call fails.
func (client *Client) Logout(ctx context.Context) error {
	defer client.session.Clear()

	request, buildErr := client.NewRequest(ctx, http.MethodPost, "/auth/logout", nil)
	if buildErr != nil {
		return buildErr
	}
	client.attachBearer(request)
	response, requestErr := client.httpClient.Do(request)
	if requestErr != nil {
		return requestErr
	}
	defer drainAndClose(response.Body)
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: logout returned %d", ErrRequestFailed, response.StatusCode)
	}
	return nil
}

// Restore silently rebuilds a session from the refresh cookie on app load.
// Failure is not an error; the caller simply stays logged out.
func (client *Client) Restore(ctx context.Context) (User, bool) {
	request, buildErr := client.NewRequest(ctx, http.MethodGet, "/users/status", nil)
	if buildErr != nil {
		return User{}, false
	}
	response, requestErr := client.httpClient.Do(request)
	if requestErr != nil {
		return User{}, false
	}
	defer drainAndClose(response.Body)
	if response.StatusCode != http.StatusOK {
		return User{}, false
	}
	var result authResponse
	if decodeErr := json.NewDecoder(response.Body).Decode(&result); decodeErr != nil {
		return User{}, false
	}
	client.session.store(result.Data.AccessToken, result.Data.User)
	return result.Data.User, true
}

type authResponse struct {
	Data struct {
		User        User   `json:"user"`
		AccessToken string `json:"accessToken"`
	} `json:"data"`
}

func (client *Client) refreshSession(ctx context.Context) error {
	request, buildErr := client.NewRequest(ctx, http.MethodPost, "/auth/refresh-token", nil)
	if buildErr != nil {
		return buildErr
	}
	response, requestErr := client.httpClient.Do(request)
	if requestErr != nil {
		return requestErr
	}
	defer drainAndClose(response.Body)
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: refresh returned %d", ErrUnauthorized, response.StatusCode)
	}
	var result authResponse
	if decodeErr := json.NewDecoder(response.Body).Decode(&result); decodeErr != nil {
		return decodeErr
	}
	if result.Data.AccessToken == "" {
		return fmt.Errorf("%w: refresh returned no token", ErrUnauthorized)
	}
	client.session.store(result.Data.AccessToken, result.Data.User)
	return nil
}

func (client *Client) postAuth(ctx context.Context, path string, payload interface{}) (*authResponse, error) {
	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		return nil, encodeErr
	}
	request, buildErr := client.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(encoded))
	if buildErr != nil {
		return nil, buildErr
	}
	request.Header.Set("Content-Type", "application/json")

	response, requestErr := client.httpClient.Do(request)
	if requestErr != nil {
		return nil, requestErr
	}
	defer drainAndClose(response.Body)
	if response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden || response.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnauthorized, path, response.StatusCode)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrRequestFailed, path, response.StatusCode)
	}
	var result authResponse
	if decodeErr := json.NewDecoder(response.Body).Decode(&result); decodeErr != nil {
		return nil, decodeErr
	}
	return &result, nil
}

func (client *Client) attachBearer(request *http.Request) {
	if accessToken := client.session.AccessToken(); accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

func cloneForReplay(request *http.Request) (*http.Request, error) {
	replayContext := context.WithValue(request.Context(), replayMarkerKey{}, true)
	retry := request.Clone(replayContext)
	if request.Body == nil || request.Body == http.NoBody {
		return retry, nil
	}
	if request.GetBody == nil {
		return nil, ErrBodyNotReplayable
	}
	restored, bodyErr := request.GetBody()
	if bodyErr != nil {
		return nil, bodyErr
	}
	retry.Body = restored
	return retry, nil
}

func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
