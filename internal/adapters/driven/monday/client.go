package monday

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/custodia-labs/ordersync-core/internal/core/domain"
	"github.com/custodia-labs/ordersync-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.BoardClient = (*Client)(nil)

const (
	defaultAPIURL  = "https://api.monday.com/v2"
	apiVersion     = "2024-10"
	defaultTimeout = 30 * time.Second

	// defaultMinInterval spaces calls so concurrent dispatch stays inside
	// the platform-wide complexity budget.
	defaultMinInterval = 150 * time.Millisecond
)

// Client implements BoardClient against the monday.com GraphQL API.
// Every call goes through a shared rate gate and a bounded retry loop:
// rate-limit rejections honor the server-suggested delay, transient
// failures back off exponentially, validation failures surface immediately.
type Client struct {
	httpClient *http.Client
	apiURL     string
	token      string
	gate       *rateGate
	backoff    BackoffPolicy
	logger     *slog.Logger

	// sleep is swapped out in tests so retries do not really wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// ClientConfig holds configuration for the monday client.
type ClientConfig struct {
	// APIURL overrides the production endpoint (tests, mock servers).
	APIURL string

	// Token is the monday API token (a JWT issued per account).
	Token string

	Logger *slog.Logger

	// RequestTimeout is the hard per-call timeout (default 30s).
	// A timed-out call counts as retryable.
	RequestTimeout time.Duration

	// MinRequestInterval spaces outbound calls across all goroutines
	// (default 150ms).
	MinRequestInterval time.Duration

	// Backoff is the retry policy. Zero value means DefaultBackoff.
	Backoff BackoffPolicy
}

// NewClient creates a new monday API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("monday client: %w: token is required", domain.ErrInvalidInput)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	interval := cfg.MinRequestInterval
	if interval <= 0 {
		interval = defaultMinInterval
	}

	backoff := cfg.Backoff
	if backoff.MaxAttempts <= 0 {
		backoff = DefaultBackoff()
	}

	checkToken(cfg.Token, logger)

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		apiURL:     apiURL,
		token:      cfg.Token,
		gate:       newRateGate(interval),
		backoff:    backoff,
		logger:     logger,
		sleep:      sleepCtx,
	}, nil
}

// checkToken inspects the API token's JWT claims without verifying the
// signature (the platform holds the key). A malformed or expired token is
// worth a warning at startup instead of a wall of 401s mid-run.
func checkToken(token string, logger *slog.Logger) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		logger.Warn("monday API token is not a well-formed JWT", "error", err)
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return // monday tokens usually carry no expiry
	}
	if exp.Before(time.Now()) {
		logger.Warn("monday API token is expired", "expired_at", exp.Time)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// gqlError is one entry of a GraphQL errors array.
type gqlError struct {
	Message    string `json:"message"`
	Path       []any  `json:"path"`
	Extensions struct {
		Code           string `json:"code"`
		RetryInSeconds int    `json:"retry_in_seconds"`
	} `json:"extensions"`
}

// gqlResponse is the GraphQL envelope, including the platform's legacy
// top-level error fields still used for rate limiting.
type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`

	ErrorCode      string `json:"error_code"`
	ErrorMessage   string `json:"error_message"`
	RetryInSeconds int    `json:"retry_in_seconds"`
}

// execute runs one GraphQL document with rate gating and bounded retries.
func (c *Client) execute(ctx context.Context, query string) (*gqlResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= c.backoff.MaxAttempts; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.doOnce(ctx, query)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == c.backoff.MaxAttempts {
			break
		}

		delay := c.backoff.Delay(attempt, domain.RetryAfterHint(err))
		c.logger.Warn("monday call failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %s",
		domain.ErrRetryExhausted, c.backoff.MaxAttempts, domain.ReasonString(lastErr))
}

// doOnce performs a single HTTP attempt and classifies the outcome.
func (c *Client) doOnce(ctx context.Context, query string) (*gqlResponse, error) {
	payload, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Version", apiVersion)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewTransientError(0, err.Error())
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, domain.NewTransientError(httpResp.StatusCode, "read response: "+err.Error())
	}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests:
		return nil, rateLimitFromBody(httpResp, body)
	case httpResp.StatusCode >= 500:
		return nil, domain.NewTransientError(httpResp.StatusCode, truncate(string(body)))
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return nil, domain.NewValidationError("authentication rejected: " + truncate(string(body)))
	case httpResp.StatusCode >= 400:
		return nil, domain.NewValidationError(truncate(string(body)))
	}

	var resp gqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewTransientError(httpResp.StatusCode, "malformed response: "+err.Error())
	}

	// Rate limiting can come back as 200 with a legacy error envelope.
	if resp.ErrorCode == "ComplexityException" || resp.RetryInSeconds > 0 {
		retryAfter := time.Duration(resp.RetryInSeconds) * time.Second
		return nil, domain.NewRateLimitError(nonEmpty(resp.ErrorMessage, "complexity budget exhausted"), retryAfter)
	}
	if resp.ErrorCode != "" {
		return nil, domain.NewValidationError(nonEmpty(resp.ErrorMessage, resp.ErrorCode))
	}

	// Whole-document GraphQL failures (data absent or null).
	if len(resp.Errors) > 0 && isNullJSON(resp.Data) {
		return nil, classifyGQLError(resp.Errors[0])
	}

	return &resp, nil
}

func classifyGQLError(e gqlError) error {
	switch e.Extensions.Code {
	case "ComplexityException", "RateLimitExceeded":
		return domain.NewRateLimitError(e.Message, time.Duration(e.Extensions.RetryInSeconds)*time.Second)
	case "InternalServerException":
		return domain.NewTransientError(500, e.Message)
	case "ResourceNotFoundException":
		return &domain.RemoteError{Kind: domain.RemoteErrNotFound, Message: e.Message}
	default:
		return domain.NewValidationError(e.Message)
	}
}

func rateLimitFromBody(httpResp *http.Response, body []byte) error {
	var resp gqlResponse
	_ = json.Unmarshal(body, &resp)

	retryAfter := time.Duration(resp.RetryInSeconds) * time.Second
	if retryAfter == 0 {
		if header := httpResp.Header.Get("Retry-After"); header != "" {
			if secs, err := strconv.Atoi(header); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return domain.NewRateLimitError(nonEmpty(resp.ErrorMessage, "rate limit exceeded"), retryAfter)
}

// Ping verifies the API is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.execute(ctx, `query { me { id } }`)
	return err
}

// EnsureGroup finds or creates the group titled after key on the board.
// Finding an existing group is the success path, not an error.
func (c *Client) EnsureGroup(ctx context.Context, boardID string, key domain.GroupKey) (string, error) {
	query := fmt.Sprintf(`query { boards (ids: [%s]) { groups { id title } } }`, boardID)
	resp, err := c.execute(ctx, query)
	if err != nil {
		return "", fmt.Errorf("list groups: %w", err)
	}

	var data struct {
		Boards []struct {
			Groups []struct {
				ID    string `json:"id"`
				Title string `json:"title"`
			} `json:"groups"`
		} `json:"boards"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("decode groups: %w", err)
	}
	for _, board := range data.Boards {
		for _, g := range board.Groups {
			if g.Title == string(key) {
				return g.ID, nil
			}
		}
	}

	mutation := fmt.Sprintf(`mutation { create_group (board_id: %s, group_name: %s) { id } }`,
		boardID, strconv.Quote(string(key)))
	resp, err = c.execute(ctx, mutation)
	if err != nil {
		return "", fmt.Errorf("create group: %w", err)
	}

	var created struct {
		CreateGroup struct {
			ID string `json:"id"`
		} `json:"create_group"`
	}
	if err := json.Unmarshal(resp.Data, &created); err != nil {
		return "", fmt.Errorf("decode create_group: %w", err)
	}
	if created.CreateGroup.ID == "" {
		return "", domain.NewValidationError("create_group returned no id")
	}

	c.logger.Info("group created", "board_id", boardID, "group_key", key, "group_id", created.CreateGroup.ID)
	return created.CreateGroup.ID, nil
}

// CreateItems creates the items in one aliased mutation document, so a
// whole batch costs a single API call.
func (c *Client) CreateItems(ctx context.Context, boardID, groupID string, items []driven.ItemSpec) ([]driven.ItemResult, error) {
	build := func(alias string, spec driven.ItemSpec) (string, error) {
		cols, err := columnValues(spec.Fields)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`%s: create_item (board_id: %s, group_id: %s, item_name: %s, column_values: %s) { id }`,
			alias, boardID, strconv.Quote(groupID), strconv.Quote(spec.Name), cols), nil
	}
	return c.batchMutation(ctx, specRecordIDs(items), func(i int, alias string) (string, error) {
		return build(alias, items[i])
	})
}

// CreateSubitems creates subitems under the parent item, one aliased
// mutation per batch.
func (c *Client) CreateSubitems(ctx context.Context, parentItemID string, items []driven.ItemSpec) ([]driven.ItemResult, error) {
	build := func(alias string, spec driven.ItemSpec) (string, error) {
		cols, err := columnValues(spec.Fields)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`%s: create_subitem (parent_item_id: %s, item_name: %s, column_values: %s) { id }`,
			alias, parentItemID, strconv.Quote(spec.Name), cols), nil
	}
	return c.batchMutation(ctx, specRecordIDs(items), func(i int, alias string) (string, error) {
		return build(alias, items[i])
	})
}

// UpdateItems applies column values to existing items, one aliased
// mutation per batch.
func (c *Client) UpdateItems(ctx context.Context, boardID string, updates []driven.ItemUpdate) ([]driven.ItemResult, error) {
	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.RecordID
	}
	return c.batchMutation(ctx, ids, func(i int, alias string) (string, error) {
		cols, err := columnValues(updates[i].Fields)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`%s: change_multiple_column_values (item_id: %s, board_id: %s, column_values: %s) { id }`,
			alias, updates[i].RemoteItemID, boardID, cols), nil
	})
}

// batchMutation assembles one mutation document with an alias per record,
// executes it, and maps aliased results (or per-alias errors) back to
// records. Outcomes within the batch stay independent.
func (c *Client) batchMutation(ctx context.Context, recordIDs []string, buildField func(i int, alias string) (string, error)) ([]driven.ItemResult, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	buf.WriteString("mutation { ")
	for i := range recordIDs {
		field, err := buildField(i, alias(i))
		if err != nil {
			return nil, fmt.Errorf("build mutation for %s: %w", recordIDs[i], err)
		}
		buf.WriteString(field)
		buf.WriteByte(' ')
	}
	buf.WriteString("}")

	resp, err := c.execute(ctx, buf.String())
	if err != nil {
		return nil, err
	}

	var data map[string]*struct {
		ID string `json:"id"`
	}
	if !isNullJSON(resp.Data) {
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, domain.NewTransientError(0, "malformed mutation response: "+err.Error())
		}
	}

	errByAlias := make(map[string]error)
	for _, e := range resp.Errors {
		if len(e.Path) > 0 {
			if a, ok := e.Path[0].(string); ok {
				errByAlias[a] = classifyGQLError(e)
			}
		}
	}

	results := make([]driven.ItemResult, 0, len(recordIDs))
	for i, recordID := range recordIDs {
		a := alias(i)
		if err, ok := errByAlias[a]; ok {
			results = append(results, driven.ItemResult{RecordID: recordID, Err: err})
			continue
		}
		if node, ok := data[a]; ok && node != nil && node.ID != "" {
			results = append(results, driven.ItemResult{RecordID: recordID, RemoteID: node.ID})
			continue
		}
		results = append(results, driven.ItemResult{
			RecordID: recordID,
			Err:      errors.New("no result returned for mutation"),
		})
	}
	return results, nil
}

func alias(i int) string {
	return "m" + strconv.Itoa(i)
}

// columnValues renders fields as the JSON-string literal monday expects for
// column_values arguments.
func columnValues(fields map[string]string) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return strconv.Quote(string(raw)), nil
}

func specRecordIDs(items []driven.ItemSpec) []string {
	ids := make([]string, len(items))
	for i, spec := range items {
		ids[i] = spec.RecordID
	}
	return ids
}

func isNullJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func truncate(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
