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
)

// UpdateKind selects the update verb.
type UpdateKind int

const (
	// UpdateSet assigns attribute values.
	UpdateSet UpdateKind = iota
	// UpdateAdd adds numeric deltas or extends sets.
	UpdateAdd
	// UpdateDelete removes elements from set attributes.
	UpdateDelete
)

// UpdateOp is a partial update: one verb applied to an attribute delta map.
type UpdateOp struct {
	Kind  UpdateKind
	Attrs map[string]any
}

// Update applies a partial update by primary key and returns the attribute
// state the store reports after the write.
//
// Primary-key attributes in the delta are stripped; they are immutable. A
// version attribute is always advanced. If the delta carries an expected
// prior version value, the write is conditioned on it (optimistic lock on
// partial update); the store rejecting that condition surfaces as
// ErrConstraintViolation.
func (m *Model) Update(ctx context.Context, key map[string]any, op UpdateOp) (map[string]any, error) {
	s := m.schema

	attrs := copyAttrs(op.Attrs)
	delete(attrs, s.HashKey)
	if s.RangeKey != "" {
		delete(attrs, s.RangeKey)
	}

	var expected any
	if s.VersionAttr != "" {
		if v, ok := attrs[s.VersionAttr]; ok {
			expected = v
			delete(attrs, s.VersionAttr)
		}
	}

	if len(attrs) == 0 && s.VersionAttr == "" {
		return nil, fmt.Errorf("update %s: empty update body", m.name)
	}

	upd := expression.UpdateBuilder{}
	for name, v := range attrs {
		if prop := s.Property(name); prop != nil && (prop.Format == "date" || prop.Format == "date-time") {
			if t, ok := v.(time.Time); ok {
				v = t.UnixMilli()
			}
		}
		switch op.Kind {
		case UpdateSet:
			upd = upd.Set(expression.Name(name), expression.Value(v))
		case UpdateAdd:
			upd = upd.Add(expression.Name(name), expression.Value(v))
		case UpdateDelete:
			upd = upd.Delete(expression.Name(name), expression.Value(v))
		}
	}

	if s.VersionAttr != "" {
		switch s.VersionType {
		case "integer":
			if expected != nil {
				upd = upd.Set(expression.Name(s.VersionAttr), expression.Value(intOf(expected)+1))
			} else {
				upd = upd.Set(expression.Name(s.VersionAttr),
					expression.Name(s.VersionAttr).Plus(expression.Value(1)))
			}
		case "date-time":
			upd = upd.Set(expression.Name(s.VersionAttr), expression.Value(time.Now().UTC().UnixMilli()))
		default:
			return nil, fmt.Errorf("%w: %s is %q", ErrUnsupportedVersionType, s.VersionAttr, s.VersionType)
		}
	}

	builder := expression.NewBuilder().WithUpdate(upd)
	if expected != nil {
		builder = builder.WithCondition(
			expression.Name(s.VersionAttr).Equal(expression.Value(encodeVersion(expected))))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build %s update expression: %w", m.name, err)
	}

	keyAV, err := m.keyItem(key)
	if err != nil {
		return nil, err
	}

	m.registry.config.Logger.Debug("updating entity",
		"model", m.name, "table", m.table, "attrs", len(attrs))

	out, err := m.registry.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(m.table),
		Key:                       keyAV,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return nil, &ConstraintViolationError{Model: m.name, Op: "update"}
		}
		return nil, fmt.Errorf("update %s: %w", m.name, err)
	}

	record := make(map[string]any, len(out.Attributes))
	if err := attributevalue.UnmarshalMap(out.Attributes, &record); err != nil {
		return nil, fmt.Errorf("unmarshal %s attributes: %w", m.name, err)
	}
	return m.schema.FromRecord(record), nil
}
