package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
)

// Row is one fill request of a batch.
type Row struct {
	AccountID string
	Amount    decimal.Decimal
}

var (
	accountColumns = []string{"account", "account-identifier"}
	amountColumns  = []string{"coins", "amount"}
)

// ParseCSV reads a batch upload. The first record is a header naming an
// account column and an amount column; other columns are ignored.
func ParseCSV(contentType string, r io.Reader) ([]Row, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: content type %q", coin.ErrInvalidBatchFormat, contentType)
	}
	switch mediaType {
	case "text/csv", "application/vnd.ms-excel":
	default:
		return nil, fmt.Errorf("%w: unsupported content type %s", coin.ErrInvalidBatchFormat, mediaType)
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty upload", coin.ErrInvalidBatchFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coin.ErrInvalidBatchFormat, err)
	}
	accountCol := column(header, accountColumns)
	amountCol := column(header, amountColumns)
	if accountCol < 0 || amountCol < 0 {
		return nil, fmt.Errorf("%w: header must name account and coins columns", coin.ErrInvalidBatchFormat)
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", coin.ErrInvalidBatchFormat, err)
		}
		if blank(record) {
			continue
		}
		if len(record) <= accountCol || len(record) <= amountCol {
			return nil, fmt.Errorf("%w: line %d: missing columns", coin.ErrInvalidBatchFormat, line)
		}
		id := strings.TrimSpace(record[accountCol])
		if id == "" {
			return nil, fmt.Errorf("%w: line %d: empty account", coin.ErrInvalidBatchFormat, line)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(record[amountCol]))
		if err != nil || amount.IsNegative() {
			return nil, fmt.Errorf("%w: line %d: bad amount %q", coin.ErrInvalidBatchFormat, line, record[amountCol])
		}
		rows = append(rows, Row{AccountID: id, Amount: amount})
	}
	return rows, nil
}

func column(header []string, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, name := range names {
			if h == name {
				return i
			}
		}
	}
	return -1
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
