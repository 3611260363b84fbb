package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// sheetsSink appends rows to a Google Sheets range. The service client is
// built once and reused across requests; a circuit breaker keeps a
// misbehaving Sheets API from being hammered on every inbound event.
type sheetsSink struct {
	svc           *sheets.Service
	spreadsheetID string
	writeRange    string
	valueInput    string
	timeout       time.Duration
	breaker       *gobreaker.CircuitBreaker
}

// NewSheetsSink builds the Google Sheets row sink. Missing sink address or
// credentials fail here, before any webhook traffic is accepted. Extra
// client options override the credential-derived ones (used by tests to
// point at a local server).
func NewSheetsSink(ctx context.Context, cfg SheetsConfig, opts ...option.ClientOption) (RowSink, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("sheets: spreadsheet_id is required")
	}

	if len(opts) == 0 {
		source, err := tokenSource(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = []option.ClientOption{option.WithTokenSource(source)}
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: new service: %w", err)
	}

	sink := &sheetsSink{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		writeRange:    cfg.Range,
		valueInput:    cfg.ValueInputOption,
		timeout:       time.Duration(cfg.TimeoutMS) * time.Millisecond,
	}
	if cfg.Breaker.Enabled {
		maxFailures := cfg.Breaker.MaxFailures
		sink.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "sheets-append",
			Timeout: time.Duration(cfg.Breaker.OpenForMS) * time.Millisecond,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
		})
	}
	return sink, nil
}

func (s *sheetsSink) Name() string { return "sheets" }

// Append writes one row to the configured range and returns the number of
// rows the API reports as written.
func (s *sheetsSink) Append(ctx context.Context, row []string) (int64, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cells := make([]interface{}, len(row))
	for i, cell := range row {
		cells[i] = cell
	}
	body := &sheets.ValueRange{Values: [][]interface{}{cells}}

	call := func() (interface{}, error) {
		return s.svc.Spreadsheets.Values.
			Append(s.spreadsheetID, s.writeRange, body).
			ValueInputOption(s.valueInput).
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
	}

	var resp interface{}
	var err error
	if s.breaker != nil {
		resp, err = s.breaker.Execute(call)
	} else {
		resp, err = call()
	}
	if err != nil {
		return 0, asSinkError(err)
	}

	appended, ok := resp.(*sheets.AppendValuesResponse)
	if !ok || appended.Updates == nil {
		return 0, nil
	}
	return appended.Updates.UpdatedRows, nil
}

func asSinkError(err error) *SinkError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error()
		}
		return &SinkError{Message: msg, StatusCode: apiErr.Code}
	}
	return &SinkError{Message: err.Error()}
}

// tokenSource builds the service-account token source, from a JSON key file
// when configured, otherwise from the email + private-key pair.
func tokenSource(ctx context.Context, cfg SheetsConfig) (oauth2.TokenSource, error) {
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("sheets: read credentials: %w", err)
		}
		jwtCfg, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("sheets: parse credentials: %w", err)
		}
		return jwtCfg.TokenSource(ctx), nil
	}

	if cfg.ServiceAccountEmail == "" || cfg.PrivateKey == "" {
		return nil, errors.New("sheets: need credentials_file or service_account_email + private_key")
	}
	jwtCfg := &jwt.Config{
		Email: cfg.ServiceAccountEmail,
		// Keys passed through env vars carry literal \n sequences.
		PrivateKey: []byte(strings.ReplaceAll(cfg.PrivateKey, `\n`, "\n")),
		Scopes:     []string{sheets.SpreadsheetsScope},
		TokenURL:   google.JWTTokenURL,
	}
	return jwtCfg.TokenSource(ctx), nil
}
