package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"crmsync/internal/client/crm"
	"crmsync/internal/models"
	"crmsync/internal/repository"
)

// Descriptor names the remote documents of one entity kind.
type Descriptor struct {
	Name       string
	EntityType string
	ListRoot   string
	FilterType string
	Fields     string
	UpsertRoot string
	InputType  string
}

// Mapper converts between a local model and the CRM representation.
type Mapper[T any] interface {
	Columns() []string
	FromRemote(rec Record) (*T, error)
	ToRemote(item *T) (map[string]any, error)
}

type syncable[T any] interface {
	*T
	models.Syncable
}

type EntityStrategy[T any, PT syncable[T]] struct {
	Desc         Descriptor
	API          API
	Repo         repository.EntityRepository[T]
	Mapper       Mapper[T]
	PageSize     int
	PartitionIDs []string
	Now          func() time.Time

	listQuery string
	upsertDoc string
}

func NewEntityStrategy[T any, PT syncable[T]](desc Descriptor, api API, repo repository.EntityRepository[T], mapper Mapper[T]) *EntityStrategy[T, PT] {
	return &EntityStrategy[T, PT]{
		Desc:      desc,
		API:       api,
		Repo:      repo,
		Mapper:    mapper,
		listQuery: crm.ListQuery(desc.ListRoot, desc.FilterType, desc.Fields),
		upsertDoc: crm.UpsertMutation(desc.UpsertRoot, desc.InputType),
	}
}

func (s *EntityStrategy[T, PT]) Name() string { return s.Desc.Name }
func (s *EntityStrategy[T, PT]) EntityType() string { return s.Desc.EntityType }

func (s *EntityStrategy[T, PT]) Partitions() []string {
	if len(s.PartitionIDs) == 0 {
		return []string{models.DefaultPartition}
	}
	return s.PartitionIDs
}

func (s *EntityStrategy[T, PT]) Entities() repository.EntityIndex {
	return s.Repo
}

func (s *EntityStrategy[T, PT]) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *EntityStrategy[T, PT]) Pull(ctx context.Context, partition, cursor string) (PullPage, error) {
	if s.API == nil {
		return PullPage{}, fmt.Errorf("%s: api client is nil", s.Desc.Name)
	}
	size := s.PageSize
	if size <= 0 {
		size = 50
	}
	page, err := s.API.Page(ctx, crm.PageRequest{
		Query:  s.listQuery,
		Root:   s.Desc.ListRoot,
		First:  size,
		After:  cursor,
		Filter: partitionFilter(partition),
	})
	if err != nil {
		return PullPage{}, err
	}
	out := PullPage{
		Records:    make([]Record, 0, len(page.Nodes)),
		NextCursor: page.PageInfo.EndCursor,
		Exhausted:  !page.PageInfo.HasNextPage,
	}
	for _, node := range page.Nodes {
		var head struct {
			ID        string     `json:"id"`
			UpdatedAt *time.Time `json:"updatedAt"`
		}
		// a malformed node still becomes a record so ApplyTx can report it
		_ = json.Unmarshal(node, &head)
		out.Records = append(out.Records, Record{
			ExternalID: strings.TrimSpace(head.ID),
			UpdatedAt:  head.UpdatedAt,
			Raw:        node,
		})
	}
	return out, nil
}

func partitionFilter(partition string) map[string]any {
	partition = strings.TrimSpace(partition)
	if partition == "" || partition == models.DefaultPartition {
		return nil
	}
	return map[string]any{"organizationalUnitId": partition}
}

func (s *EntityStrategy[T, PT]) ApplyTx(ctx context.Context, tx *gorm.DB, partition string, rec Record) (ApplyOutcome, error) {
	if rec.ExternalID == "" {
		return Skipped, fmt.Errorf("record has no id")
	}
	item, err := s.Mapper.FromRemote(rec)
	if errors.Is(err, ErrSkipRecord) {
		return Skipped, nil
	}
	if err != nil {
		return Skipped, err
	}
	now := s.now()
	fields := PT(item).Fields()
	ext := rec.ExternalID
	fields.ExternalID = &ext
	fields.PartitionID = partition
	fields.RemoteUpdatedAt = rec.UpdatedAt
	fields.NeedsResync = false
	fields.NeedsPull = false
	fields.LastSyncedAt = &now
	applied, err := s.Repo.UpsertPulledTx(ctx, tx, item, s.Mapper.Columns())
	if err != nil {
		return Skipped, err
	}
	if !applied {
		return Skipped, nil
	}
	return Applied, nil
}

func (s *EntityStrategy[T, PT]) Window(ctx context.Context, partition string, after models.UpdateWatermark, limit int) ([]PushItem, error) {
	rows, err := s.Repo.ListPushWindow(ctx, partition, after, limit)
	if err != nil {
		return nil, err
	}
	items := make([]PushItem, 0, len(rows))
	for i := range rows {
		items = append(items, s.pushItem(&rows[i]))
	}
	return items, nil
}

func (s *EntityStrategy[T, PT]) pushItem(row *T) PushItem {
	p := PT(row)
	fields := p.Fields()
	item := PushItem{
		EntityID:     p.EntityKey(),
		ExternalID:   fields.ExternalID,
		ChangedAt:    fields.ChangedAt,
		UpdatedAt:    p.LastUpdated(),
		AwaitingPull: fields.NeedsPull,
	}
	item.Input, item.Err = s.Mapper.ToRemote(row)
	return item
}

// Push upserts each item by its stable external id. A transient failure ends
// the batch; per-entity failures do not.
func (s *EntityStrategy[T, PT]) Push(ctx context.Context, partition string, items []PushItem) []PushResult {
	results := make([]PushResult, 0, len(items))
	for _, item := range items {
		res := PushResult{
			EntityID:  item.EntityID,
			ChangedAt: item.ChangedAt,
			UpdatedAt: item.UpdatedAt,
		}
		if item.ExternalID != nil {
			res.ExternalID = *item.ExternalID
		}
		if item.Err != nil {
			res.Err = item.Err
			results = append(results, res)
			continue
		}
		if s.API == nil {
			res.Err = fmt.Errorf("%s: api client is nil", s.Desc.Name)
			res.Transient = true
			return append(results, res)
		}
		ref, err := s.API.Upsert(ctx, crm.UpsertRequest{
			Mutation: s.upsertDoc,
			Root:     s.Desc.UpsertRoot,
			ID:       res.ExternalID,
			Input:    item.Input,
		})
		if err != nil {
			res.Err = err
			res.Transient = crm.IsTransient(err)
			results = append(results, res)
			if res.Transient {
				return results
			}
			continue
		}
		res.OK = true
		res.ExternalID = ref.ID
		res.RemoteUpdatedAt = ref.UpdatedAt
		results = append(results, res)
	}
	return results
}

func (s *EntityStrategy[T, PT]) MarkPushedTx(ctx context.Context, tx *gorm.DB, results []PushResult, now time.Time) error {
	for _, res := range results {
		if !res.OK {
			continue
		}
		if err := s.Repo.MarkPushedTx(ctx, tx, repository.PushMark{
			ID:              res.EntityID,
			ExternalID:      res.ExternalID,
			ChangedAt:       res.ChangedAt,
			UpdatedAt:       res.UpdatedAt,
			RemoteUpdatedAt: res.RemoteUpdatedAt,
			At:              now,
		}); err != nil {
			return fmt.Errorf("mark %s %d pushed: %w", s.Desc.EntityType, res.EntityID, err)
		}
	}
	return nil
}

func (s *EntityStrategy[T, PT]) Load(ctx context.Context, id uint64) (PushItem, error) {
	row, err := s.Repo.Get(ctx, id)
	if err != nil {
		return PushItem{}, err
	}
	if row == nil {
		return PushItem{}, ErrNotFound
	}
	return s.pushItem(row), nil
}
