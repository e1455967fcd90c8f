package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Howie774/onprompted/app/config"
	"github.com/Howie774/onprompted/app/models"

	_ "github.com/lib/pq"
)

// OpenPostgres connects to Postgres using the configured credentials.
func OpenPostgres(cfg config.PostgresConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s",
		cfg.Username,
		cfg.Password,
		cfg.URL,
		cfg.Port,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return db, nil
}

// PostgresStore is the production AccountStore. Account mutation happens in
// serializable transactions with the row locked FOR UPDATE, so concurrent
// updates for the same identity serialize at the database.
type PostgresStore struct {
	db *sql.DB
}

var _ AccountStore = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS accounts (
			id                 TEXT PRIMARY KEY,
			email              TEXT,
			plan               TEXT        NOT NULL DEFAULT 'free',
			usage_count        INT         NOT NULL DEFAULT 0,
			cycle_start        TIMESTAMPTZ NOT NULL DEFAULT now(),
			quota              INT         NOT NULL DEFAULT 10,
			stripe_customer_id TEXT,
			subscription_id    TEXT
		);
		CREATE INDEX IF NOT EXISTS accounts_stripe_customer_idx
			ON accounts (stripe_customer_id);
		CREATE TABLE IF NOT EXISTS prompt_history (
			id                    BIGSERIAL PRIMARY KEY,
			account_id            TEXT        NOT NULL REFERENCES accounts (id),
			goal                  TEXT        NOT NULL,
			clarification_answers TEXT,
			final_prompt          TEXT        NOT NULL,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, identity, email string) (models.Account, error) {
	def := defaultAccount(identity, email, time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, plan, usage_count, cycle_start, quota)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING;
	`, def.ID, nullIfEmpty(def.Email), def.Plan, def.Usage, def.CycleStart, def.Quota)
	if err != nil {
		return models.Account{}, err
	}
	return s.GetAccount(ctx, identity)
}

func (s *PostgresStore) GetAccount(ctx context.Context, identity string) (models.Account, error) {
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, email, plan, usage_count, cycle_start, quota, stripe_customer_id, subscription_id
		FROM accounts
		WHERE id = $1;
	`, identity))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, ErrAccountNotFound
	}
	return acct, err
}

func (s *PostgresStore) FindByCustomerID(ctx context.Context, customerID string) (models.Account, error) {
	if customerID == "" {
		return models.Account{}, ErrAccountNotFound
	}
	acct, err := scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, email, plan, usage_count, cycle_start, quota, stripe_customer_id, subscription_id
		FROM accounts
		WHERE stripe_customer_id = $1;
	`, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, ErrAccountNotFound
	}
	return acct, err
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, identity string, apply func(*models.Account) error) (models.Account, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return models.Account{}, err
	}
	defer tx.Rollback()

	acct, err := getAccountForUpdate(ctx, tx, identity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if err := insertDefaultAccount(ctx, tx, identity); err != nil {
				return models.Account{}, err
			}
			acct, err = getAccountForUpdate(ctx, tx, identity)
		}
		if err != nil {
			return models.Account{}, err
		}
	}

	if err := apply(&acct); err != nil {
		return models.Account{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE accounts
		SET email = COALESCE($1, email),
		    plan = $2,
		    usage_count = $3,
		    cycle_start = $4,
		    quota = $5,
		    stripe_customer_id = $6,
		    subscription_id = $7
		WHERE id = $8;
	`,
		nullIfEmpty(acct.Email),
		acct.Plan,
		acct.Usage,
		acct.CycleStart,
		acct.Quota,
		nullIfEmpty(acct.StripeCustomerID),
		nullIfEmpty(acct.SubscriptionID),
		identity,
	)
	if err != nil {
		return models.Account{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Account{}, err
	}
	return acct, nil
}

func (s *PostgresStore) SaveTranscript(ctx context.Context, t models.Transcript) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prompt_history (account_id, goal, clarification_answers, final_prompt, created_at)
		VALUES ($1, $2, $3, $4, $5);
	`, t.Identity, t.Goal, nullIfEmpty(t.ClarificationAnswers), t.FinalPrompt, t.CreatedAt)
	return err
}

func (s *PostgresStore) ListTranscripts(ctx context.Context, identity string, limit int) ([]models.Transcript, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT goal, clarification_answers, final_prompt, created_at
		FROM prompt_history
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2;
	`, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transcript
	for rows.Next() {
		var (
			t       models.Transcript
			answers sql.NullString
		)
		if err := rows.Scan(&t.Goal, &answers, &t.FinalPrompt, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Identity = identity
		t.ClarificationAnswers = answers.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func getAccountForUpdate(ctx context.Context, tx *sql.Tx, identity string) (models.Account, error) {
	return scanAccount(tx.QueryRowContext(ctx, `
		SELECT id, email, plan, usage_count, cycle_start, quota, stripe_customer_id, subscription_id
		FROM accounts
		WHERE id = $1
		FOR UPDATE;
	`, identity))
}

func insertDefaultAccount(ctx context.Context, tx *sql.Tx, identity string) error {
	def := defaultAccount(identity, "", time.Now())
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, plan, usage_count, cycle_start, quota)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING;
	`, def.ID, def.Plan, def.Usage, def.CycleStart, def.Quota)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var (
		acct       models.Account
		email      sql.NullString
		customerID sql.NullString
		subID      sql.NullString
	)
	err := row.Scan(
		&acct.ID,
		&email,
		&acct.Plan,
		&acct.Usage,
		&acct.CycleStart,
		&acct.Quota,
		&customerID,
		&subID,
	)
	if err != nil {
		return models.Account{}, err
	}
	acct.Email = email.String
	acct.StripeCustomerID = customerID.String
	acct.SubscriptionID = subID.String
	return acct, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
