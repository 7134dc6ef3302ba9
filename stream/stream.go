// Package stream hydrates entities from DynamoDB Streams records and
// dispatches them to per-entity handlers. It is designed to back an AWS
// Lambda handler function.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fospitia/dynorm/store"
)

// Kind is the stream event kind.
type Kind string

const (
	Insert Kind = "INSERT"
	Modify Kind = "MODIFY"
	Remove Kind = "REMOVE"
)

// Record is one change event, hydrated against the compiled schema of the
// source table's entity type.
type Record struct {
	Kind   Kind
	Entity string

	// New holds the post-change entity; nil on Remove.
	New *store.Entity

	// Old holds the pre-change entity when the stream is configured to
	// carry old images; nil otherwise and on Insert.
	Old *store.Entity

	// Keys is the raw primary key of the changed row.
	Keys map[string]types.AttributeValue
}

// HandlerFunc consumes one hydrated change record.
type HandlerFunc func(ctx context.Context, rec Record) error

// Handler routes stream events to entity handlers.
type Handler struct {
	registry *store.Registry
	logger   *slog.Logger
	handlers map[string]HandlerFunc
}

// NewHandler creates a stream handler over the registry.
func NewHandler(r *store.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: r,
		logger:   logger,
		handlers: make(map[string]HandlerFunc),
	}
}

// On registers fn for every change of the named entity type.
func (h *Handler) On(entity string, fn HandlerFunc) {
	h.handlers[entity] = fn
}

// HandleEvent processes a DynamoDB stream event. Designed to be passed to
// lambda.Start. Records of tables without a registered schema or handler
// are skipped; a failing handler aborts the batch so the source retries.
func (h *Handler) HandleEvent(ctx context.Context, event events.DynamoDBEvent) error {
	for _, rec := range event.Records {
		if err := h.processRecord(ctx, rec); err != nil {
			h.logger.Error("failed to process stream record",
				"eventID", rec.EventID,
				"error", err,
			)
			return err
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, rec events.DynamoDBEventRecord) error {
	table := tableFromARN(rec.EventSourceArn)
	if table == "" {
		return nil
	}
	model, err := h.registry.ModelForTable(table)
	if err != nil {
		// Not every table of the stream needs a schema.
		return nil
	}
	fn, ok := h.handlers[model.Name()]
	if !ok {
		return nil
	}

	out := Record{
		Kind:   Kind(rec.EventName),
		Entity: model.Name(),
		Keys:   ConvertImage(rec.Change.Keys),
	}
	if len(rec.Change.NewImage) > 0 {
		ent, err := model.EntityFromItem(ConvertImage(rec.Change.NewImage))
		if err != nil {
			return fmt.Errorf("hydrate new image: %w", err)
		}
		out.New = ent
	}
	if len(rec.Change.OldImage) > 0 {
		ent, err := model.EntityFromItem(ConvertImage(rec.Change.OldImage))
		if err != nil {
			return fmt.Errorf("hydrate old image: %w", err)
		}
		out.Old = ent
	}

	h.logger.Debug("dispatching stream record",
		"entity", model.Name(),
		"kind", out.Kind,
	)
	return fn(ctx, out)
}

// tableFromARN extracts the table name from a stream event source ARN of
// the shape arn:aws:dynamodb:region:account:table/NAME/stream/LABEL.
func tableFromARN(arn string) string {
	i := strings.Index(arn, ":table/")
	if i < 0 {
		return ""
	}
	rest := arn[i+len(":table/"):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		return rest[:j]
	}
	return rest
}

// ConvertImage converts a stream image to store-native attributes.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertValue(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertValue(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: v.IsNull()}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, e := range v.List() {
			if av := convertValue(e); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		m := make(map[string]types.AttributeValue, len(v.Map()))
		for k, e := range v.Map() {
			if av := convertValue(e); av != nil {
				m[k] = av
			}
		}
		return &types.AttributeValueMemberM{Value: m}
	}
	return nil
}
