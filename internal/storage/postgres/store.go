package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
	"github.com/R3E-Network/coin_service/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// --- AccountStore -----------------------------------------------------------

const accountColumns = `
	a.id, a.amount, a.full_name, a.image, a.type, a.created_at, a.updated_at,
	c.address AS chain_address, c.public_key AS chain_public_key,
	c.private_key AS chain_private_key, c.type AS chain_type, c.position AS chain_position`

const accountFrom = `
	FROM coin_accounts a
	LEFT JOIN coin_chain_accounts c ON c.account_id = a.id`

type accountRow struct {
	ID              string          `db:"id"`
	Amount          decimal.Decimal `db:"amount"`
	FullName        string          `db:"full_name"`
	Image           string          `db:"image"`
	Type            string          `db:"type"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
	ChainAddress    sql.NullString  `db:"chain_address"`
	ChainPublicKey  sql.NullString  `db:"chain_public_key"`
	ChainPrivateKey sql.NullString  `db:"chain_private_key"`
	ChainType       sql.NullString  `db:"chain_type"`
	ChainPosition   sql.NullInt64   `db:"chain_position"`
}

func (r accountRow) toAccount() coin.Account {
	acct := coin.Account{
		ID:        r.ID,
		Amount:    r.Amount,
		FullName:  r.FullName,
		Image:     r.Image,
		Type:      coin.AccountType(r.Type),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ChainAddress.Valid {
		acct.ChainAccount = &coin.ChainAccount{
			Address:    r.ChainAddress.String,
			PublicKey:  r.ChainPublicKey.String,
			PrivateKey: r.ChainPrivateKey.String,
			Type:       coin.ChainAccountType(r.ChainType.String),
			AccountID:  r.ID,
			Position:   int(r.ChainPosition.Int64),
		}
	}
	return acct
}

func (s *Store) CreateAccount(ctx context.Context, acct coin.Account) (coin.Account, error) {
	if acct.ID == "" {
		return coin.Account{}, fmt.Errorf("account id required")
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coin_accounts (id, amount, full_name, image, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, acct.ID, acct.Amount, acct.FullName, acct.Image, string(acct.Type), acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return coin.Account{}, err
	}
	return s.GetAccount(ctx, acct.ID)
}

func (s *Store) UpdateAccount(ctx context.Context, acct coin.Account) (coin.Account, error) {
	acct.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE coin_accounts
		SET amount = $2, full_name = $3, image = $4, type = $5, updated_at = $6
		WHERE id = $1
	`, acct.ID, acct.Amount, acct.FullName, acct.Image, string(acct.Type), acct.UpdatedAt)
	if err != nil {
		return coin.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return coin.Account{}, fmt.Errorf("%w: %s", coin.ErrAccountNotFound, acct.ID)
	}
	return s.GetAccount(ctx, acct.ID)
}

func (s *Store) GetAccount(ctx context.Context, id string) (coin.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row, `SELECT `+accountColumns+accountFrom+` WHERE a.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return coin.Account{}, fmt.Errorf("%w: %s", coin.ErrAccountNotFound, id)
	}
	if err != nil {
		return coin.Account{}, err
	}
	return row.toAccount(), nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]coin.Account, error) {
	var rows []accountRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+accountColumns+accountFrom+` ORDER BY a.id`); err != nil {
		return nil, err
	}
	return toAccounts(rows), nil
}

func (s *Store) ListAccountsByType(ctx context.Context, typ coin.AccountType) ([]coin.Account, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+accountColumns+accountFrom+` WHERE a.type = $1 ORDER BY a.id`, string(typ))
	if err != nil {
		return nil, err
	}
	return toAccounts(rows), nil
}

func toAccounts(rows []accountRow) []coin.Account {
	result := make([]coin.Account, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toAccount())
	}
	return result
}

// --- ChainAccountStore ------------------------------------------------------

type chainAccountRow struct {
	Address    string         `db:"address"`
	PublicKey  string         `db:"public_key"`
	PrivateKey string         `db:"private_key"`
	Type       string         `db:"type"`
	AccountID  sql.NullString `db:"account_id"`
	Position   int            `db:"position"`
}

func (r chainAccountRow) toChainAccount() coin.ChainAccount {
	return coin.ChainAccount{
		Address:    r.Address,
		PublicKey:  r.PublicKey,
		PrivateKey: r.PrivateKey,
		Type:       coin.ChainAccountType(r.Type),
		AccountID:  r.AccountID.String,
		Position:   r.Position,
	}
}

func (s *Store) ListChainAccounts(ctx context.Context) ([]coin.ChainAccount, error) {
	var rows []chainAccountRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT address, public_key, private_key, type, account_id, position
		FROM coin_chain_accounts
		ORDER BY position, address
	`)
	if err != nil {
		return nil, err
	}
	result := make([]coin.ChainAccount, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toChainAccount())
	}
	return result, nil
}

func (s *Store) SaveChainAccount(ctx context.Context, acct coin.ChainAccount) error {
	if acct.Address == "" {
		return fmt.Errorf("chain account address required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coin_chain_accounts (address, public_key, private_key, type, account_id, position)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE
		SET public_key = EXCLUDED.public_key,
		    private_key = EXCLUDED.private_key,
		    type = EXCLUDED.type,
		    account_id = EXCLUDED.account_id,
		    position = EXCLUDED.position
	`, acct.Address, acct.PublicKey, acct.PrivateKey, string(acct.Type), nullString(acct.AccountID), acct.Position)
	return err
}

func (s *Store) DeleteChainAccount(ctx context.Context, address string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM coin_chain_accounts WHERE address = $1`, address)
	return err
}

func (s *Store) ClaimFreeChainAccount(ctx context.Context, accountID string) (coin.ChainAccount, error) {
	var row chainAccountRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE coin_chain_accounts
		SET account_id = $1
		WHERE address = (
			SELECT address FROM coin_chain_accounts
			WHERE account_id IS NULL
			ORDER BY position, address
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING address, public_key, private_key, type, account_id, position
	`, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return coin.ChainAccount{}, coin.ErrPoolExhausted
	}
	if err != nil {
		return coin.ChainAccount{}, err
	}
	return row.toChainAccount(), nil
}

// --- TransactionStore -------------------------------------------------------

type transactionRow struct {
	ID            string              `db:"id"`
	AccountID     sql.NullString      `db:"account_id"`
	DestinationID sql.NullString      `db:"destination_id"`
	Amount        decimal.NullDecimal `db:"amount"`
	Remain        decimal.NullDecimal `db:"remain"`
	Comment       string              `db:"comment"`
	Status        string              `db:"status"`
	Error         string              `db:"error"`
	ChainTxID     string              `db:"chain_tx_id"`
	CreatedAt     time.Time           `db:"created_at"`
}

func (r transactionRow) toTransaction() coin.Transaction {
	tx := coin.Transaction{
		ID:            r.ID,
		AccountID:     r.AccountID.String,
		DestinationID: r.DestinationID.String,
		Comment:       r.Comment,
		Status:        coin.TransactionStatus(r.Status),
		Error:         r.Error,
		ChainTxID:     r.ChainTxID,
		CreatedAt:     r.CreatedAt,
	}
	if r.Amount.Valid {
		amount := r.Amount.Decimal
		tx.Amount = &amount
	}
	if r.Remain.Valid {
		remain := r.Remain.Decimal
		tx.Remain = &remain
	}
	return tx
}

func (s *Store) CreateTransaction(ctx context.Context, tx coin.Transaction) (coin.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coin_transactions
			(id, account_id, destination_id, amount, remain, comment, status, error, chain_tx_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, tx.ID, nullString(tx.AccountID), nullString(tx.DestinationID), nullDecimal(tx.Amount), nullDecimal(tx.Remain),
		tx.Comment, string(tx.Status), tx.Error, tx.ChainTxID, tx.CreatedAt)
	if err != nil {
		return coin.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, limit int) ([]coin.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, account_id, destination_id, amount, remain, comment, status, error, chain_tx_id, created_at
		FROM coin_transactions
		WHERE $1 = '' OR account_id = $1 OR destination_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	result := make([]coin.Transaction, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toTransaction())
	}
	return result, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
