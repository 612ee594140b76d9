package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fastjson"
)

const maxLedgerResponseSize = 64 * 1024

// HTTPLedger reads qualifying values from a price service exposing
// GET {base}/tokens/{token}/holders/{user}/value -> {"value": 12.5}
type HTTPLedger struct {
	baseURL    string
	httpClient *http.Client
	parsers    fastjson.ParserPool
	attempts   int
	backoff    time.Duration
}

// NewHTTPLedger creates a new value-endpoint ledger client
func NewHTTPLedger(baseURL string) *HTTPLedger {
	return &HTTPLedger{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(),
		attempts:   2,
		backoff:    200 * time.Millisecond,
	}
}

// Name identifies the backend in metrics
func (l *HTTPLedger) Name() string {
	return "http"
}

// QualifyingValue fetches the user's USD-equivalent holding of the token
func (l *HTTPLedger) QualifyingValue(ctx context.Context, tokenID, userID string) (float64, error) {
	endpoint := fmt.Sprintf("%s/tokens/%s/holders/%s/value",
		l.baseURL, url.PathEscape(tokenID), url.PathEscape(userID))

	var value float64
	err := withRetry(ctx, l.attempts, l.backoff, func() error {
		v, err := l.fetch(ctx, endpoint)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (l *HTTPLedger) fetch(ctx context.Context, endpoint string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch value: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLedgerResponseSize))
	if err != nil {
		return 0, fmt.Errorf("failed to read response: %w", err)
	}

	return l.parseValue(body)
}

// parseValue accepts the value as a JSON number or a decimal string, since
// price services often serialize fixed-point amounts as strings.
func (l *HTTPLedger) parseValue(body []byte) (float64, error) {
	p := l.parsers.Get()
	defer l.parsers.Put(p)

	doc, err := p.ParseBytes(body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	field := doc.Get("value")
	if field == nil {
		return 0, fmt.Errorf("%w: missing value field", ErrMalformedResponse)
	}

	var value float64
	switch field.Type() {
	case fastjson.TypeNumber:
		value, err = field.Float64()
	case fastjson.TypeString:
		value, err = strconv.ParseFloat(string(field.GetStringBytes()), 64)
	default:
		return 0, fmt.Errorf("%w: value has type %s", ErrMalformedResponse, field.Type())
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if err := validValue(value); err != nil {
		return 0, err
	}
	return value, nil
}
