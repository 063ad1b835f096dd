package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/pto-service/pto"
)

const (
	pathMyself     = "/rest/api/3/myself"
	pathUserSearch = "/rest/api/3/user/search"

	maxErrorBody = 512
)

// StatusError is a non-2xx answer from a host endpoint.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Endpoint, e.Status, e.Body)
}

// DirectoryClient implements pto.Directory against the host REST API.
type DirectoryClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

var _ pto.Directory = (*DirectoryClient)(nil)

func NewDirectoryClient(baseURL string, timeout time.Duration, logger *zap.Logger) *DirectoryClient {
	return &DirectoryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CurrentUser asks the directory who the caller is.
func (d *DirectoryClient) CurrentUser(ctx context.Context) (*pto.Account, error) {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return nil, pto.ErrNoCaller
	}
	var acct pto.Account
	if err := d.get(ctx, caller, pathMyself, nil, &acct); err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %v", pto.ErrNoCaller, err)
		}
		return nil, err
	}
	if acct.AccountID == "" {
		acct.AccountID = caller.AccountID
	}
	return &acct, nil
}

// SearchUsers runs the directory user search.
func (d *DirectoryClient) SearchUsers(ctx context.Context, query string) ([]pto.Account, error) {
	caller, _ := CallerFrom(ctx)
	var accounts []pto.Account
	if err := d.get(ctx, caller, pathUserSearch, url.Values{"query": {query}}, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (d *DirectoryClient) get(ctx context.Context, caller Caller, path string, query url.Values, out any) error {
	target := d.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if caller.Token != "" {
		req.Header.Set("Authorization", caller.Token)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	d.logger.Debug("directory call",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Endpoint: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decoding response: %w", path, err)
	}
	return nil
}

// =============================================================================
// STATIC DIRECTORY
// =============================================================================

// StaticDirectory serves a fixed account list. It stands in for the host
// directory in development and tests.
type StaticDirectory struct {
	accounts []pto.Account
}

var _ pto.Directory = (*StaticDirectory)(nil)

func NewStaticDirectory(accounts []pto.Account) *StaticDirectory {
	sorted := append([]pto.Account(nil), accounts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DisplayName < sorted[j].DisplayName })
	return &StaticDirectory{accounts: sorted}
}

// CurrentUser returns the configured account of the caller. An unlisted
// caller is reported as an active account named after its id.
func (s *StaticDirectory) CurrentUser(ctx context.Context) (*pto.Account, error) {
	caller, ok := CallerFrom(ctx)
	if !ok || caller.AccountID == "" {
		return nil, pto.ErrNoCaller
	}
	for _, a := range s.accounts {
		if a.AccountID == caller.AccountID {
			acct := a
			return &acct, nil
		}
	}
	return &pto.Account{AccountID: caller.AccountID, DisplayName: caller.AccountID, Active: true}, nil
}

// SearchUsers matches name or email case-insensitively.
func (s *StaticDirectory) SearchUsers(_ context.Context, query string) ([]pto.Account, error) {
	q := strings.ToLower(query)
	out := []pto.Account{}
	for _, a := range s.accounts {
		if strings.Contains(strings.ToLower(a.DisplayName), q) || strings.Contains(strings.ToLower(a.Email), q) {
			out = append(out, a)
		}
	}
	return out, nil
}
