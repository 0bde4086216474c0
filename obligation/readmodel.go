package obligation

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ObligationRow is the gorm/postgres read-model row refreshed on every
// Ledger.Append, giving the Netting Engine an indexed table to query
// ad hoc by counterparty or window instead of scanning bbolt's append log.
type ObligationRow struct {
	ID        uint64 `gorm:"primaryKey"`
	WindowID  string `gorm:"index"`
	From      string `gorm:"index"`
	To        string `gorm:"index"`
	Kind      string
	Amount    float64
	ReceiptID uint64
	Status    string
	CreatedAt int64
}

func (ObligationRow) TableName() string { return "obligation_rows" }

// ReadModel wraps a gorm/postgres connection kept in sync with the bbolt
// ledger's append log.
type ReadModel struct {
	db *gorm.DB
}

// OpenReadModel connects to dsn and migrates the obligation_rows table.
func OpenReadModel(dsn string) (*ReadModel, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("obligation: open read model: %w", err)
	}
	if err := db.AutoMigrate(&ObligationRow{}); err != nil {
		return nil, fmt.Errorf("obligation: migrate read model: %w", err)
	}
	return &ReadModel{db: db}, nil
}

// Upsert refreshes the read-model row for o.
func (m *ReadModel) Upsert(o Obligation) error {
	row := ObligationRow{
		ID: o.ID, WindowID: o.WindowID, From: o.From, To: o.To,
		Kind: string(o.Kind), Amount: o.Amount, ReceiptID: o.ReceiptID,
		Status: string(o.Status), CreatedAt: o.CreatedAt.Unix(),
	}
	return m.db.Save(&row).Error
}

// ByCounterparty returns every row where party appears as From or To,
// ordered by window, for the Netting Engine's bilateral audit trail.
func (m *ReadModel) ByCounterparty(party string) ([]ObligationRow, error) {
	var rows []ObligationRow
	err := m.db.Where("\"from\" = ? OR \"to\" = ?", party, party).Order("window_id").Find(&rows).Error
	return rows, err
}

// ByWindow returns every row for windowID.
func (m *ReadModel) ByWindow(windowID string) ([]ObligationRow, error) {
	var rows []ObligationRow
	err := m.db.Where("window_id = ?", windowID).Find(&rows).Error
	return rows, err
}

// Ledger.Append's caller wires a ReadModel in via WithReadModel; the ledger
// itself stays the source of truth and treats the read model as a
// best-effort projection.
func (l *Ledger) WithReadModel(rm *ReadModel) *Ledger {
	l.readModel = rm
	return l
}
