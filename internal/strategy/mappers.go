package strategy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"crmsync/internal/client/crm"
	"crmsync/internal/models"
)

var (
	accountDesc = Descriptor{
		Name:       "Account",
		EntityType: "account",
		ListRoot:   "accounts",
		FilterType: "AccountFilter",
		Fields:     "name domain industry ownerEmail",
		UpsertRoot: "accountUpsert",
		InputType:  "AccountInput",
	}
	contactDesc = Descriptor{
		Name:       "Contact",
		EntityType: "contact",
		ListRoot:   "contacts",
		FilterType: "ContactFilter",
		Fields:     "firstName lastName email phone accountId",
		UpsertRoot: "contactUpsert",
		InputType:  "ContactInput",
	}
	opportunityDesc = Descriptor{
		Name:       "Opportunity",
		EntityType: "opportunity",
		ListRoot:   "opportunities",
		FilterType: "OpportunityFilter",
		Fields:     "name stage amount currency closeDate accountId",
		UpsertRoot: "opportunityUpsert",
		InputType:  "OpportunityInput",
	}
	taskDesc = Descriptor{
		Name:       "Task",
		EntityType: "task",
		ListRoot:   "tasks",
		FilterType: "TaskFilter",
		Fields:     "subject status dueAt ownerEmail relatedType relatedId",
		UpsertRoot: "taskUpsert",
		InputType:  "TaskInput",
	}
	customFieldDesc = Descriptor{
		Name:       "CustomField",
		EntityType: "custom_field",
		ListRoot:   "customFields",
		FilterType: "CustomFieldFilter",
		Fields:     "entityKind key label fieldType options",
		UpsertRoot: "customFieldUpsert",
		InputType:  "CustomFieldInput",
	}
)

type accountMapper struct{}

type remoteAccount struct {
	Name       string  `json:"name"`
	Domain     *string `json:"domain"`
	Industry   *string `json:"industry"`
	OwnerEmail *string `json:"ownerEmail"`
}

func (accountMapper) Columns() []string {
	return []string{"name", "domain", "industry", "owner_email"}
}

func (accountMapper) FromRemote(rec Record) (*models.Account, error) {
	var in remoteAccount
	if err := json.Unmarshal(rec.Raw, &in); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("account %s has no name", rec.ExternalID)
	}
	return &models.Account{
		Name:       name,
		Domain:     trimPtr(in.Domain),
		Industry:   trimPtr(in.Industry),
		OwnerEmail: lowerPtr(in.OwnerEmail),
	}, nil
}

func (accountMapper) ToRemote(item *models.Account) (map[string]any, error) {
	if strings.TrimSpace(item.Name) == "" {
		return nil, fmt.Errorf("account name is empty")
	}
	return map[string]any{
		"name":       item.Name,
		"domain":     item.Domain,
		"industry":   item.Industry,
		"ownerEmail": item.OwnerEmail,
	}, nil
}

type contactMapper struct{}

type remoteContact struct {
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	AccountID *string `json:"accountId"`
}

func (contactMapper) Columns() []string {
	return []string{"first_name", "last_name", "email", "phone", "account_external_id"}
}

func (contactMapper) FromRemote(rec Record) (*models.Contact, error) {
	var in remoteContact
	if err := json.Unmarshal(rec.Raw, &in); err != nil {
		return nil, fmt.Errorf("decode contact: %w", err)
	}
	email := lowerPtr(in.Email)
	if strings.TrimSpace(in.FirstName) == "" && strings.TrimSpace(in.LastName) == "" && email == nil {
		return nil, fmt.Errorf("contact %s has neither name nor email", rec.ExternalID)
	}
	return &models.Contact{
		FirstName:         strings.TrimSpace(in.FirstName),
		LastName:          strings.TrimSpace(in.LastName),
		Email:             email,
		Phone:             trimPtr(in.Phone),
		AccountExternalID: trimPtr(in.AccountID),
	}, nil
}

func (contactMapper) ToRemote(item *models.Contact) (map[string]any, error) {
	if item.FirstName == "" && item.LastName == "" && item.Email == nil {
		return nil, fmt.Errorf("contact has neither name nor email")
	}
	return map[string]any{
		"firstName": item.FirstName,
		"lastName":  item.LastName,
		"email":     item.Email,
		"phone":     item.Phone,
		"accountId": item.AccountExternalID,
	}, nil
}

type opportunityMapper struct{}

type remoteOpportunity struct {
	Name      string      `json:"name"`
	Stage     string      `json:"stage"`
	Amount    crm.Decimal `json:"amount"`
	Currency  string      `json:"currency"`
	CloseDate *string     `json:"closeDate"`
	AccountID *string     `json:"accountId"`
}

func (opportunityMapper) Columns() []string {
	return []string{"name", "stage", "amount", "currency", "close_date", "account_external_id"}
}

func (opportunityMapper) FromRemote(rec Record) (*models.Opportunity, error) {
	var in remoteOpportunity
	if err := json.Unmarshal(rec.Raw, &in); err != nil {
		return nil, fmt.Errorf("decode opportunity: %w", err)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("opportunity %s has no name", rec.ExternalID)
	}
	closeDate, err := parseRemoteTime(in.CloseDate)
	if err != nil {
		return nil, fmt.Errorf("opportunity %s close date: %w", rec.ExternalID, err)
	}
	stage := strings.ToLower(strings.TrimSpace(in.Stage))
	if stage == "" {
		stage = "open"
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "USD"
	}
	return &models.Opportunity{
		Name:              name,
		Stage:             stage,
		Amount:            in.Amount.Decimal.Round(2),
		Currency:          currency,
		CloseDate:         closeDate,
		AccountExternalID: trimPtr(in.AccountID),
	}, nil
}

func (opportunityMapper) ToRemote(item *models.Opportunity) (map[string]any, error) {
	if strings.TrimSpace(item.Name) == "" {
		return nil, fmt.Errorf("opportunity name is empty")
	}
	if item.Amount.LessThan(decimal.Zero) {
		return nil, fmt.Errorf("opportunity amount %s is negative", item.Amount.StringFixed(2))
	}
	out := map[string]any{
		"name":      item.Name,
		"stage":     item.Stage,
		"amount":    item.Amount.StringFixed(2),
		"currency":  item.Currency,
		"accountId": item.AccountExternalID,
	}
	if item.CloseDate != nil {
		out["closeDate"] = item.CloseDate.UTC().Format("2006-01-02")
	}
	return out, nil
}

type taskMapper struct{}

type remoteTask struct {
	Subject     string  `json:"subject"`
	Status      string  `json:"status"`
	DueAt       *string `json:"dueAt"`
	OwnerEmail  *string `json:"ownerEmail"`
	RelatedType *string `json:"relatedType"`
	RelatedID   *string `json:"relatedId"`
}

func (taskMapper) Columns() []string {
	return []string{"subject", "status", "due_at", "owner_email", "related_type", "related_external_id"}
}

func (taskMapper) FromRemote(rec Record) (*models.Task, error) {
	var in remoteTask
	if err := json.Unmarshal(rec.Raw, &in); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		return nil, fmt.Errorf("task %s has no subject", rec.ExternalID)
	}
	dueAt, err := parseRemoteTime(in.DueAt)
	if err != nil {
		return nil, fmt.Errorf("task %s due date: %w", rec.ExternalID, err)
	}
	status := strings.ToLower(strings.TrimSpace(in.Status))
	if status == "" {
		status = "open"
	}
	return &models.Task{
		Subject:           subject,
		Status:            status,
		DueAt:             dueAt,
		OwnerEmail:        lowerPtr(in.OwnerEmail),
		RelatedType:       trimPtr(in.RelatedType),
		RelatedExternalID: trimPtr(in.RelatedID),
	}, nil
}

func (taskMapper) ToRemote(item *models.Task) (map[string]any, error) {
	if strings.TrimSpace(item.Subject) == "" {
		return nil, fmt.Errorf("task subject is empty")
	}
	out := map[string]any{
		"subject":     item.Subject,
		"status":      item.Status,
		"ownerEmail":  item.OwnerEmail,
		"relatedType": item.RelatedType,
		"relatedId":   item.RelatedExternalID,
	}
	if item.DueAt != nil {
		out["dueAt"] = item.DueAt.UTC().Format(time.RFC3339)
	}
	return out, nil
}

type customFieldMapper struct{}

type remoteCustomField struct {
	EntityKind string          `json:"entityKind"`
	Key        string          `json:"key"`
	Label      string          `json:"label"`
	FieldType  string          `json:"fieldType"`
	Options    json.RawMessage `json:"options"`
}

func (customFieldMapper) Columns() []string {
	return []string{"entity_kind", "key", "label", "field_type", "options"}
}

// Custom field definitions without a key are system fields and are skipped.
func (customFieldMapper) FromRemote(rec Record) (*models.CustomField, error) {
	var in remoteCustomField
	if err := json.Unmarshal(rec.Raw, &in); err != nil {
		return nil, fmt.Errorf("decode custom field: %w", err)
	}
	key := strings.TrimSpace(in.Key)
	if key == "" {
		return nil, ErrSkipRecord
	}
	label := strings.TrimSpace(in.Label)
	if label == "" {
		label = key
	}
	var options datatypes.JSON
	if len(in.Options) > 0 && string(in.Options) != "null" {
		options = datatypes.JSON(in.Options)
	}
	return &models.CustomField{
		EntityKind: strings.ToLower(strings.TrimSpace(in.EntityKind)),
		Key:        key,
		Label:      label,
		FieldType:  strings.ToLower(strings.TrimSpace(in.FieldType)),
		Options:    options,
	}, nil
}

func (customFieldMapper) ToRemote(item *models.CustomField) (map[string]any, error) {
	if strings.TrimSpace(item.Key) == "" {
		return nil, fmt.Errorf("custom field key is empty")
	}
	out := map[string]any{
		"entityKind": item.EntityKind,
		"key":        item.Key,
		"label":      item.Label,
		"fieldType":  item.FieldType,
	}
	if len(item.Options) > 0 {
		out["options"] = json.RawMessage(item.Options)
	}
	return out, nil
}

func trimPtr(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func lowerPtr(v *string) *string {
	out := trimPtr(v)
	if out == nil {
		return nil
	}
	s := strings.ToLower(*out)
	return &s
}

func parseRemoteTime(v *string) (*time.Time, error) {
	s := trimPtr(v)
	if s == nil {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, *s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid time %q", *s)
}
