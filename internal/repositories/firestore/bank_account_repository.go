package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/naiaprojects/naia-sub001/internal/domain"
	pfirestore "github.com/naiaprojects/naia-sub001/internal/platform/firestore"
)

const bankAccountsCollection = "bankAccounts"

type bankAccountDocument struct {
	BankName      string `firestore:"bankName"`
	AccountNumber string `firestore:"accountNumber"`
	AccountHolder string `firestore:"accountHolder"`
	IsActive      bool   `firestore:"isActive"`
	Position      int    `firestore:"position"`
}

type BankAccountRepository struct {
	base *pfirestore.BaseRepository[bankAccountDocument]
}

func NewBankAccountRepository(provider *pfirestore.Provider) (*BankAccountRepository, error) {
	if provider == nil {
		return nil, errors.New("bank account repository requires firestore provider")
	}
	return &BankAccountRepository{base: pfirestore.NewBaseRepository[bankAccountDocument](provider, bankAccountsCollection)}, nil
}

func (r *BankAccountRepository) ListActive(ctx context.Context) ([]domain.BankAccount, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isActive", "==", true).OrderBy("position", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	accounts := make([]domain.BankAccount, 0, len(docs))
	for _, doc := range docs {
		accounts = append(accounts, domain.BankAccount{
			ID:            doc.ID,
			BankName:      doc.Data.BankName,
			AccountNumber: doc.Data.AccountNumber,
			AccountHolder: doc.Data.AccountHolder,
			IsActive:      doc.Data.IsActive,
			Position:      doc.Data.Position,
		})
	}
	return accounts, nil
}

func (r *BankAccountRepository) Upsert(ctx context.Context, account domain.BankAccount) error {
	return r.base.Set(ctx, account.ID, bankAccountDocument{
		BankName:      account.BankName,
		AccountNumber: account.AccountNumber,
		AccountHolder: account.AccountHolder,
		IsActive:      account.IsActive,
		Position:      account.Position,
	})
}
