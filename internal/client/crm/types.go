package crm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PageRequest struct {
	Query  string
	Root   string
	First  int
	After  string
	Filter map[string]any
}

type PageInfo struct {
	EndCursor   string `json:"endCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

type Page struct {
	Nodes    []json.RawMessage `json:"nodes"`
	PageInfo PageInfo          `json:"pageInfo"`
}

type UpsertRequest struct {
	Mutation string
	Root     string
	ID       string
	Input    map[string]any
}

type RecordRef struct {
	ID        string     `json:"id"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

type UpsertResult struct {
	Record     RecordRef   `json:"record"`
	UserErrors []UserError `json:"userErrors"`
}

type Resolved struct {
	TypeName   string `json:"__typename"`
	ExternalID string `json:"id"`
}

type WebhookInput struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

// Decimal accepts amounts encoded as JSON strings or numbers.
type Decimal struct {
	decimal.Decimal
}

func (d *Decimal) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		d.Decimal = decimal.Zero
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		val, err := decimal.NewFromString(s)
		if err != nil {
			return err
		}
		d.Decimal = val
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		val, err := decimal.NewFromString(n.String())
		if err != nil {
			return err
		}
		d.Decimal = val
		return nil
	}
	return fmt.Errorf("invalid decimal: %s", string(b))
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Decimal.StringFixed(2))
}
