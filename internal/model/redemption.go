package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RedemptionHistory is the append-only audit record of one redemption.
type RedemptionHistory struct {
	ID         string    `db:"history_id" json:"history_id"`
	Code       string    `db:"code" json:"code"`
	UserID     string    `db:"user_id" json:"user_id"`
	BookID     string    `db:"book_id" json:"book_id"`
	RedeemedAt time.Time `db:"redeemed_at" json:"redeemed_at"`
	Metadata   Metadata  `db:"redemption_metadata" json:"metadata,omitempty"`
}

// Metadata is free-form data attached to a redemption (order id, amount...).
// It is stored as JSONB.
type Metadata map[string]any

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal redemption metadata: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Metadata", src)
	}
	return json.Unmarshal(raw, m)
}
