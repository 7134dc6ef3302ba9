package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/fospitia/dynorm/pagination"
	"github.com/fospitia/dynorm/schema"
)

// Model is a compiled entity type bound to a registry. It implements the
// entity lifecycle: save, update, delete, get, find and populate.
type Model struct {
	name     string
	registry *Registry
	schema   *schema.Schema
	table    string
}

// Name returns the entity name.
func (m *Model) Name() string { return m.name }

// Table returns the backing table name, prefix applied.
func (m *Model) Table() string { return m.table }

// Schema returns the compiled schema.
func (m *Model) Schema() *schema.Schema { return m.schema }

// New constructs an unpersisted entity from the given attributes.
func (m *Model) New(attrs map[string]any) *Entity {
	e := &Entity{
		model: m,
		attrs: copyAttrs(attrs),
		isNew: true,
	}
	e.snapshot()
	return e
}

// hydrate builds a persisted entity from a raw record. Values already
// resolved to entities (by populate) bypass the record transform.
func (m *Model) hydrate(record map[string]any) *Entity {
	resolved := make(map[string]*Entity)
	for name := range m.schema.Relations() {
		if ent, ok := record[name].(*Entity); ok {
			resolved[name] = ent
			delete(record, name)
		}
	}
	attrs := m.schema.FromRecord(record)
	for name, ent := range resolved {
		attrs[name] = ent
	}
	e := &Entity{model: m, attrs: attrs}
	e.snapshot()
	return e
}

// EntityFromItem hydrates an entity from a store-native item, e.g. one
// carried by a stream record.
func (m *Model) EntityFromItem(item map[string]types.AttributeValue) (*Entity, error) {
	record, err := itemToRecord(item)
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s item: %w", m.name, err)
	}
	return m.hydrate(record), nil
}

// Save persists the entity: relations are resolved, the document validator
// runs, unique indexes are enforced, timestamps and the version attribute
// are managed, and the put is guarded by a conditional expression.
//
// The uniqueness check and the subsequent put are separate store requests;
// a concurrent writer can slip between them. Cross-invocation correctness
// otherwise rests entirely on the store's conditional-write primitive.
func (m *Model) Save(ctx context.Context, e *Entity) error {
	if err := m.resolveRelations(ctx, e); err != nil {
		return err
	}
	if e.isNew {
		m.applyDefaults(e)
	}
	if err := m.schema.Validate(m.plainAttrs(e)); err != nil {
		return err
	}
	if err := m.checkUniqueIndexes(ctx, e); err != nil {
		return err
	}
	m.applyTimestamps(e)

	cond, err := m.saveCondition(e)
	if err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(m.schema.ToRecord(m.plainAttrs(e)))
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", m.name, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(m.table),
		Item:      item,
	}
	if cond != nil {
		expr, err := expression.NewBuilder().WithCondition(*cond).Build()
		if err != nil {
			return fmt.Errorf("build %s save condition: %w", m.name, err)
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	m.registry.config.Logger.Debug("saving entity",
		"model", m.name, "table", m.table, "new", e.isNew)

	if _, err := m.registry.client.PutItem(ctx, input); err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return &ConstraintViolationError{Model: m.name, Op: "save"}
		}
		return fmt.Errorf("put %s: %w", m.name, err)
	}

	e.isNew = false
	e.snapshot()
	return nil
}

// Delete removes the entity's row by primary key. Store errors propagate.
func (m *Model) Delete(ctx context.Context, e *Entity) error {
	key, err := m.keyItem(e.Key())
	if err != nil {
		return err
	}
	m.registry.config.Logger.Debug("deleting entity", "model", m.name, "table", m.table)
	if _, err := m.registry.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(m.table),
		Key:       key,
	}); err != nil {
		return fmt.Errorf("delete %s: %w", m.name, err)
	}
	return nil
}

// Get fetches one entity by primary key. key is projected onto the key
// attributes; extra attributes are ignored. A missing row returns nil, not
// an error. Relation properties named in fields are resolved via Populate.
func (m *Model) Get(ctx context.Context, key map[string]any, fields ...string) (*Entity, error) {
	keyAV, err := m.keyItem(key)
	if err != nil {
		return nil, err
	}
	out, err := m.registry.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(m.table),
		Key:       keyAV,
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", m.name, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	record, err := itemToRecord(out.Item)
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s item: %w", m.name, err)
	}
	if len(fields) > 0 {
		if err := m.Populate(ctx, fields, []map[string]any{record}); err != nil {
			return nil, err
		}
	}
	return m.hydrate(record), nil
}

// FindResult is a pagination accumulator with raw items replaced by
// hydrated entities.
type FindResult struct {
	Entities    []*Entity
	Accumulator any

	Count        int
	ScannedCount int

	// LastEvaluatedKey is the continuation token when the page limit was
	// reached before the store was exhausted.
	LastEvaluatedKey map[string]types.AttributeValue
}

// Find runs the pagination engine over this model's table, resolves the
// requested relation fields across the returned page and maps every raw
// record to a hydrated entity.
func (m *Model) Find(ctx context.Context, params pagination.Params, opts pagination.Options, fields ...string) (*FindResult, error) {
	params.TableName = m.table
	res, err := pagination.Find(ctx, m.registry.client, params, opts)
	if err != nil {
		return nil, err
	}

	records := make([]map[string]any, 0, len(res.Items))
	for _, item := range res.Items {
		record, err := itemToRecord(item)
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s item: %w", m.name, err)
		}
		records = append(records, record)
	}
	if len(fields) > 0 {
		if err := m.Populate(ctx, fields, records); err != nil {
			return nil, err
		}
	}

	entities := make([]*Entity, 0, len(records))
	for _, record := range records {
		entities = append(entities, m.hydrate(record))
	}
	return &FindResult{
		Entities:         entities,
		Accumulator:      res.Accumulator,
		Count:            res.Count,
		ScannedCount:     res.ScannedCount,
		LastEvaluatedKey: res.LastEvaluatedKey,
	}, nil
}

// resolveRelations fetches the referenced entity for every relation
// property still holding a plain value or a key stub.
func (m *Model) resolveRelations(ctx context.Context, e *Entity) error {
	for name, rel := range m.schema.Relations() {
		v := e.attrs[name]
		if v == nil {
			continue
		}
		if _, ok := v.(*Entity); ok {
			continue
		}

		refModel, err := m.registry.Model(rel.Ref)
		if err != nil {
			return err
		}

		var key map[string]any
		if stub, ok := v.(map[string]any); ok {
			key = refModel.keyFromAttrs(stub)
		} else {
			key = map[string]any{refModel.schema.HashKey: v}
		}

		ref, err := refModel.Get(ctx, key)
		if err != nil {
			return err
		}
		if ref == nil {
			return &RelationNotFoundError{Model: m.name, Field: name, Key: key}
		}
		e.attrs[name] = ref
	}
	return nil
}

// applyDefaults fills absent attributes from property defaults. The string
// "uuid" generates a fresh identifier.
func (m *Model) applyDefaults(e *Entity) {
	for name, prop := range m.schema.Properties() {
		if v, ok := e.attrs[name]; ok && v != nil {
			continue
		}
		if prop.Default == nil {
			continue
		}
		if d, ok := prop.Default.(string); ok && d == "uuid" {
			e.attrs[name] = uuid.NewString()
			continue
		}
		e.attrs[name] = prop.Default
	}
}

// applyTimestamps sets createdAt/updatedAt on create. On update both are
// restored from the original snapshot; updatedAt is deliberately not
// advanced, reproducing the engine's historical behavior.
func (m *Model) applyTimestamps(e *Entity) {
	if !m.schema.Timestamps {
		return
	}
	if e.isNew {
		now := time.Now().UTC()
		e.attrs[schema.CreatedAtAttr] = now
		e.attrs[schema.UpdatedAtAttr] = now
		return
	}
	e.attrs[schema.CreatedAtAttr] = e.original[schema.CreatedAtAttr]
	e.attrs[schema.UpdatedAtAttr] = e.original[schema.UpdatedAtAttr]
}

// saveCondition advances the version attribute and builds the conditional
// guard for the put: version equality on update, key-not-exists on create.
func (m *Model) saveCondition(e *Entity) (*expression.ConditionBuilder, error) {
	s := m.schema
	var conds []expression.ConditionBuilder

	if s.VersionAttr != "" {
		switch s.VersionType {
		case "integer":
			orig := e.original[s.VersionAttr]
			if e.isNew || orig == nil {
				e.attrs[s.VersionAttr] = int64(1)
			} else {
				prev := intOf(orig)
				conds = append(conds, expression.Name(s.VersionAttr).Equal(expression.Value(prev)))
				e.attrs[s.VersionAttr] = prev + 1
			}
		case "date-time":
			orig := e.original[s.VersionAttr]
			if !e.isNew && orig != nil {
				conds = append(conds, expression.Name(s.VersionAttr).Equal(expression.Value(encodeVersion(orig))))
			}
			e.attrs[s.VersionAttr] = time.Now().UTC()
		default:
			return nil, fmt.Errorf("%w: %s is %q", ErrUnsupportedVersionType, s.VersionAttr, s.VersionType)
		}
	}

	if e.isNew {
		conds = append(conds, expression.AttributeNotExists(expression.Name(s.HashKey)))
		if s.RangeKey != "" {
			conds = append(conds, expression.AttributeNotExists(expression.Name(s.RangeKey)))
		}
	}

	if len(conds) == 0 {
		return nil, nil
	}
	cond := conds[0]
	for _, c := range conds[1:] {
		cond = cond.And(c)
	}
	return &cond, nil
}

// checkUniqueIndexes queries every unique index for a colliding row. On
// update the entity's own primary key is excluded from the match.
func (m *Model) checkUniqueIndexes(ctx context.Context, e *Entity) error {
	for _, idxName := range m.schema.UniqueIndexes() {
		idx := m.schema.Indexes()[idxName]

		hashVal := m.indexValue(e, idx.HashKey)
		if isEmptyValue(hashVal) {
			return &MissingIndexValueError{Model: m.name, Index: idxName, Attr: idx.HashKey}
		}
		keyCond := expression.Key(idx.HashKey).Equal(expression.Value(hashVal))

		if idx.RangeKey != "" {
			rangeVal := m.indexValue(e, idx.RangeKey)
			if isEmptyValue(rangeVal) {
				return &MissingIndexValueError{Model: m.name, Index: idxName, Attr: idx.RangeKey}
			}
			keyCond = keyCond.And(expression.Key(idx.RangeKey).Equal(expression.Value(rangeVal)))
		}

		builder := expression.NewBuilder().WithKeyCondition(keyCond)
		if !e.isNew {
			self := expression.Name(m.schema.HashKey).Equal(expression.Value(e.attrs[m.schema.HashKey]))
			if m.schema.RangeKey != "" {
				self = self.And(expression.Name(m.schema.RangeKey).Equal(expression.Value(e.attrs[m.schema.RangeKey])))
			}
			builder = builder.WithFilter(expression.Not(self))
		}
		expr, err := builder.Build()
		if err != nil {
			return fmt.Errorf("build %s unique query: %w", m.name, err)
		}

		out, err := m.registry.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(m.table),
			IndexName:                 aws.String(idxName),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		if err != nil {
			return fmt.Errorf("query unique index %s: %w", idxName, err)
		}
		if len(out.Items) > 0 {
			return &UniqueConstraintError{Model: m.name, Index: idxName, Value: hashVal}
		}
	}
	return nil
}

// indexValue resolves an index key attribute to its record-level value. An
// attribute backed by a relation resolves through the join mapping into the
// referenced entity's matching attribute.
func (m *Model) indexValue(e *Entity, attr string) any {
	for name, rel := range m.schema.Relations() {
		nested := relationAttrs(e.attrs[name])
		if nested == nil {
			continue
		}
		if name == attr {
			for _, foreign := range rel.Join {
				return nested[foreign]
			}
		}
		for local, foreign := range rel.Join {
			if local == attr {
				return nested[foreign]
			}
		}
	}
	return e.attrs[attr]
}

// plainAttrs returns the entity's attributes with resolved relation values
// lowered to plain attribute maps, the shape the validator and the record
// transform expect.
func (m *Model) plainAttrs(e *Entity) map[string]any {
	attrs := copyAttrs(e.attrs)
	for name := range m.schema.Relations() {
		if nested := relationAttrs(attrs[name]); nested != nil {
			attrs[name] = nested
		}
	}
	return attrs
}

// keyFromAttrs projects attrs onto this model's primary key.
func (m *Model) keyFromAttrs(attrs map[string]any) map[string]any {
	key := map[string]any{m.schema.HashKey: attrs[m.schema.HashKey]}
	if m.schema.RangeKey != "" {
		key[m.schema.RangeKey] = attrs[m.schema.RangeKey]
	}
	return key
}

// keyItem marshals a primary key projection to store-native attributes.
func (m *Model) keyItem(key map[string]any) (map[string]types.AttributeValue, error) {
	projected := m.keyFromAttrs(key)
	item, err := attributevalue.MarshalMap(projected)
	if err != nil {
		return nil, fmt.Errorf("marshal %s key: %w", m.name, err)
	}
	return item, nil
}

// relationAttrs lowers a relation value to a plain attribute map.
func relationAttrs(v any) map[string]any {
	switch tv := v.(type) {
	case *Entity:
		return tv.Attributes()
	case map[string]any:
		return tv
	}
	return nil
}

func itemToRecord(item map[string]types.AttributeValue) (map[string]any, error) {
	record := make(map[string]any, len(item))
	if err := attributevalue.UnmarshalMap(item, &record); err != nil {
		return nil, err
	}
	return record, nil
}

func intOf(v any) int64 {
	switch tv := v.(type) {
	case int:
		return int64(tv)
	case int32:
		return int64(tv)
	case int64:
		return tv
	case float64:
		return int64(tv)
	}
	return 0
}

// encodeVersion lowers a version value to its record encoding for use in
// conditional expressions.
func encodeVersion(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UnixMilli()
	}
	return v
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}
