package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// SqlxUnitOfWork implements UnitOfWork over a sqlx transaction. Every
// state-changing service operation runs inside exactly one of these, so a
// failure anywhere rolls back the loan update, ledger entries and intent
// consumption together.
type SqlxUnitOfWork struct {
	db *sqlx.DB
}

func NewUnitOfWork(db *sqlx.DB) *SqlxUnitOfWork {
	return &SqlxUnitOfWork{db: db}
}

func (u *SqlxUnitOfWork) WithinTx(ctx context.Context, fn func(r Repos) error) error {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	r := Repos{
		Accounts: NewAccountRepository(tx),
		Loans:    NewLoanRepository(tx),
		Intents:  NewIntentRepository(tx),
	}

	if err := fn(r); err != nil {
		return err
	}

	return tx.Commit()
}

// NewRepos binds repositories directly to the pool for read-only paths
// that do not need transaction scope.
func NewRepos(db *sqlx.DB) Repos {
	return Repos{
		Accounts: NewAccountRepository(db),
		Loans:    NewLoanRepository(db),
		Intents:  NewIntentRepository(db),
	}
}
