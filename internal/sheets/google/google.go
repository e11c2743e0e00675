package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"folhaponto/internal/log"
	ports "folhaponto/internal/sheets"
)

const defaultRowCacheTTL = 5 * time.Minute

// Ensure interface conformance
var _ ports.SignedFichaWriter = (*Client)(nil)

// Config selects the spreadsheet and the service account credentials. The
// JSON value takes precedence over the file.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

type rowCount struct {
	rows      int
	expiresAt time.Time
}

// Client appends signed fichas to a yearly sheet ("<year> <SheetName>").
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string

	// Next-row lookups are cached per sheet; appends bump the cached count.
	mu                 sync.Mutex
	rowCounts          map[string]rowCount
	cacheValidDuration time.Duration
}

// New creates a Sheets client using service account credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, cfg), nil
}

// NewWithService wraps an existing service, for callers that build their own
// transport.
func NewWithService(svc *gsheet.Service, cfg Config) *Client {
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Fichas assinadas"
	}
	return &Client{
		svc:                svc,
		spreadsheetID:      strings.TrimSpace(cfg.SpreadsheetID),
		sheetBase:          base,
		rowCounts:          map[string]rowCount{},
		cacheValidDuration: defaultRowCacheTTL,
	}
}

func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	file := strings.TrimSpace(cfg.CredentialsFile)
	if cfg.CredentialsJSON == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClientWithPooling()))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", log.FieldComponent, log.ComponentSheets)
	return svc, nil
}

func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// AppendSigned writes row below the last used row of the ficha's yearly sheet.
func (c *Client) AppendSigned(ctx context.Context, row ports.SignedRow) (string, error) {
	if err := row.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	sheet := yearPrefixedName(c.sheetBase, row.Year)
	next, err := c.nextRow(ctx, sheet)
	if err != nil {
		return "", err
	}

	rng := fmt.Sprintf("%s!A%d:H%d", sheet, next, next)
	vr := &gsheet.ValueRange{Values: [][]any{row.Values()}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		c.forget(sheet)
		return "", fmt.Errorf("failed to update %s: %w", rng, err)
	}

	c.mu.Lock()
	if rc, ok := c.rowCounts[sheet]; ok {
		rc.rows = next
		c.rowCounts[sheet] = rc
	}
	c.mu.Unlock()
	return rng, nil
}

// nextRow returns the first empty row of sheet, reading column A when the
// cached count is missing or stale.
func (c *Client) nextRow(ctx context.Context, sheet string) (int, error) {
	c.mu.Lock()
	rc, ok := c.rowCounts[sheet]
	c.mu.Unlock()
	if ok && time.Now().Before(rc.expiresAt) {
		return rc.rows + 1, nil
	}

	rng := fmt.Sprintf("%s!A:A", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get sheet dimensions for %s: %w", sheet, err)
	}
	rows := len(resp.Values)

	c.mu.Lock()
	c.rowCounts[sheet] = rowCount{rows: rows, expiresAt: time.Now().Add(c.cacheValidDuration)}
	c.mu.Unlock()
	return rows + 1, nil
}

func (c *Client) forget(sheet string) {
	c.mu.Lock()
	delete(c.rowCounts, sheet)
	c.mu.Unlock()
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
