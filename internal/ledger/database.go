package ledger

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetOrOpenWallet returns the wallet for (account, asset), creating it with a
// zero balance on first use. Safe to call repeatedly. Runs against the given
// transaction handle so callers can fold provisioning into a larger unit.
func (d *Database) GetOrOpenWallet(tx *gorm.DB, accountID, asset string) (*Wallet, error) {
	var wallet Wallet
	err := tx.Where("account_id = ? AND asset = ?", accountID, asset).First(&wallet).Error
	if err == nil {
		return &wallet, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	wallet = Wallet{
		AccountID: accountID,
		Asset:     asset,
		IsActive:  true,
	}
	if err := tx.Create(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (d *Database) SaveWallet(tx *gorm.DB, wallet *Wallet) error {
	return tx.Save(wallet).Error
}

func (d *Database) GetAllWallets() ([]Wallet, error) {
	var wallets []Wallet
	if err := d.db.Find(&wallets).Error; err != nil {
		return nil, err
	}
	return wallets, nil
}

func (d *Database) CreateTransaction(tx *gorm.DB, txn *Transaction) error {
	if txn.TransactionID == "" {
		txn.TransactionID = "TXN_" + uuid.New().String()
	}
	return tx.Create(txn).Error
}

func (d *Database) GetTransactionsForAccount(accountID, asset string) ([]Transaction, error) {
	var txns []Transaction
	err := d.db.Where("account_id = ? AND asset = ?", accountID, asset).
		Order("created_at DESC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// NetTransactionSum returns credits minus debits recorded for one wallet,
// used by the reconciliation processor to detect drift.
func (d *Database) NetTransactionSum(accountID, asset string) (creditTotal, debitTotal string, err error) {
	row := d.db.Model(&Transaction{}).
		Select("COALESCE(SUM(CASE WHEN entry_type = ? THEN amount ELSE 0 END), 0), COALESCE(SUM(CASE WHEN entry_type = ? THEN amount ELSE 0 END), 0)", EntryCredit, EntryDebit).
		Where("account_id = ? AND asset = ?", accountID, asset).
		Row()
	if err := row.Scan(&creditTotal, &debitTotal); err != nil {
		return "", "", err
	}
	return creditTotal, debitTotal, nil
}
