package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"feeledger/internal/core"
	"feeledger/internal/log"
	ports "feeledger/internal/sheets"
)

// Config selects the spreadsheet and credentials. CredentialsJSON wins over
// CredentialsFile.
type Config struct {
	SpreadsheetID   string
	SheetName       string // base name, the receipt year is prefixed
	CredentialsJSON string
	CredentialsFile string
}

// Client writes the receipt register to a Google spreadsheet, one sheet per
// calendar year ("2025 Receipts").
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	logger        *log.Logger
}

var _ ports.Register = (*Client)(nil)

// New creates a Sheets client. When opts are given they replace the
// credential lookup entirely.
func New(ctx context.Context, cfg Config, logger *log.Logger, opts ...goption.ClientOption) (*Client, error) {
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Receipts"
	}

	if len(opts) == 0 {
		creds, err := credentials(cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets register ready", "sheet", base)

	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetBase: base, logger: logger}, nil
}

func credentials(cfg Config) ([]byte, error) {
	if s := strings.TrimSpace(cfg.CredentialsJSON); s != "" {
		return []byte(s), nil
	}
	path := strings.TrimSpace(cfg.CredentialsFile)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_CREDENTIALS_JSON, GOOGLE_CREDENTIALS_FILE or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return data, nil
}

// AppendReceipt adds a row for p unless the receipt already has one, in
// which case the existing row is returned. Redelivered events therefore
// never duplicate rows.
func (c *Client) AppendReceipt(ctx context.Context, p core.Payment) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if p.ReceiptNumber == "" {
		return "", fmt.Errorf("payment %s has no receipt number", p.ID)
	}
	sheet := c.sheetFor(p.ReceiptNumber)

	row, err := c.findRow(ctx, sheet, p.ReceiptNumber)
	if err == nil {
		c.logger.DebugContext(ctx, "Receipt already in register", log.FieldReceipt, string(p.ReceiptNumber))
		return rowRef(sheet, row), nil
	}
	if !errors.Is(err, ports.ErrRowNotFound) {
		return "", err
	}

	vr := &gsheet.ValueRange{Values: [][]any{ports.NewRegisterRow(p).Values()}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:G", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		return resp.Updates.UpdatedRange, nil
	}
	return sheet, nil
}

// UpdateReceiptStatus rewrites column G of the receipt's row.
func (c *Client) UpdateReceiptStatus(ctx context.Context, p core.Payment) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	sheet := c.sheetFor(p.ReceiptNumber)
	row, err := c.findRow(ctx, sheet, p.ReceiptNumber)
	if err != nil {
		return err
	}

	rng := fmt.Sprintf("%s!G%d", sheet, row)
	vr := &gsheet.ValueRange{Values: [][]any{{ports.Status(p)}}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

func (c *Client) findRow(ctx context.Context, sheet string, receipt core.ReceiptNumber) (int, error) {
	rng := sheet + "!A:A"
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", rng, err)
	}
	row := findReceiptRow(resp.Values, receipt)
	if row == 0 {
		return 0, fmt.Errorf("%s in %s: %w", receipt, sheet, ports.ErrRowNotFound)
	}
	return row, nil
}

// sheetFor picks the yearly sheet from the day embedded in the receipt.
func (c *Client) sheetFor(receipt core.ReceiptNumber) string {
	year := time.Now().Year()
	if day, _, err := core.ParseReceiptNumber(string(receipt)); err == nil {
		year = day.Year()
	}
	return yearPrefixedName(c.sheetBase, year)
}

func rowRef(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:G%d", sheet, row, row)
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
