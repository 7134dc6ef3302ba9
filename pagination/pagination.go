// Package pagination drives repeated query or scan calls against DynamoDB
// with continuation-token handling and optional filter, map or reduce
// accumulation. It carries no entity semantics; callers work with raw items.
package pagination

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrConfiguration is returned when the supplied options contradict each
// other (map together with reduce, or reduce without an initial value).
var ErrConfiguration = errors.New("dynorm: invalid pagination options")

// Item is a raw store record.
type Item = map[string]types.AttributeValue

// Client is the client surface needed to drive pagination.
type Client interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Params describes the query or scan to run. A non-empty
// KeyConditionExpression selects query, otherwise scan.
type Params struct {
	TableName                 string
	IndexName                 string
	KeyConditionExpression    string
	FilterExpression          string
	ExpressionAttributeNames  map[string]string
	ExpressionAttributeValues map[string]types.AttributeValue
	ExclusiveStartKey         Item

	// Limit bounds the total number of items fetched across pages.
	// Zero means no limit.
	Limit int32

	ScanIndexForward *bool
}

// Options configures per-page accumulation.
type Options struct {
	// Filter drops items from the result set after fetching. It does not
	// reduce read cost.
	Filter func(Item) bool

	// Map transforms each kept item. Items of one page are transformed
	// concurrently and awaited together before the next page is fetched.
	// Mutually exclusive with Reduce.
	Map func(ctx context.Context, item Item) (Item, error)

	// Reduce folds kept items into the accumulator, seeded from
	// InitialValue. Mutually exclusive with Map.
	Reduce func(ctx context.Context, acc any, item Item) (any, error)

	// InitialValue seeds the Reduce accumulator. Required with Reduce.
	InitialValue any
}

// Result accumulates pages. Items and Accumulator are mutually exclusive:
// Reduce folds into Accumulator, otherwise items grow in fetch order.
type Result struct {
	Items       []Item
	Accumulator any

	// Count is the number of items kept, ScannedCount the number of items
	// the store examined across every page.
	Count        int
	ScannedCount int

	// LastEvaluatedKey is the continuation token when iteration stopped
	// before the store was exhausted; nil otherwise. Feed it back through
	// Params.ExclusiveStartKey to resume.
	LastEvaluatedKey Item
}

// Find drives query or scan pages until the store is exhausted or the limit
// is spent, accumulating according to opts.
func Find(ctx context.Context, c Client, params Params, opts Options) (*Result, error) {
	if opts.Map != nil && opts.Reduce != nil {
		return nil, ErrConfiguration
	}
	if opts.Reduce != nil && opts.InitialValue == nil {
		return nil, ErrConfiguration
	}

	res := &Result{}
	if opts.Reduce != nil {
		res.Accumulator = opts.InitialValue
	}

	remaining := params.Limit
	startKey := params.ExclusiveStartKey

	for {
		items, lastKey, scanned, err := fetchPage(ctx, c, params, startKey, remaining)
		if err != nil {
			return nil, err
		}
		fetched := int32(len(items))
		res.ScannedCount += int(scanned)

		if opts.Filter != nil {
			kept := items[:0]
			for _, item := range items {
				if opts.Filter(item) {
					kept = append(kept, item)
				}
			}
			items = kept
		}

		switch {
		case opts.Map != nil:
			mapped, err := mapConcurrent(ctx, opts.Map, items)
			if err != nil {
				return nil, err
			}
			res.Items = append(res.Items, mapped...)
		case opts.Reduce != nil:
			for _, item := range items {
				acc, err := opts.Reduce(ctx, res.Accumulator, item)
				if err != nil {
					return nil, err
				}
				res.Accumulator = acc
			}
		default:
			res.Items = append(res.Items, items...)
		}
		res.Count += len(items)

		if params.Limit > 0 {
			remaining -= fetched
		}
		if lastKey == nil {
			return res, nil
		}
		if params.Limit > 0 && remaining <= 0 {
			res.LastEvaluatedKey = lastKey
			return res, nil
		}
		startKey = lastKey
	}
}

// fetchPage issues one query or scan call.
func fetchPage(ctx context.Context, c Client, params Params, startKey Item, remaining int32) ([]Item, Item, int32, error) {
	if params.KeyConditionExpression != "" {
		in := &dynamodb.QueryInput{
			TableName:                 aws.String(params.TableName),
			KeyConditionExpression:    aws.String(params.KeyConditionExpression),
			ExpressionAttributeNames:  params.ExpressionAttributeNames,
			ExpressionAttributeValues: params.ExpressionAttributeValues,
			ExclusiveStartKey:         startKey,
			ScanIndexForward:          params.ScanIndexForward,
		}
		if params.IndexName != "" {
			in.IndexName = aws.String(params.IndexName)
		}
		if params.FilterExpression != "" {
			in.FilterExpression = aws.String(params.FilterExpression)
		}
		if remaining > 0 {
			in.Limit = aws.Int32(remaining)
		}
		out, err := c.Query(ctx, in)
		if err != nil {
			return nil, nil, 0, err
		}
		return out.Items, out.LastEvaluatedKey, out.ScannedCount, nil
	}

	in := &dynamodb.ScanInput{
		TableName:                 aws.String(params.TableName),
		ExpressionAttributeNames:  params.ExpressionAttributeNames,
		ExpressionAttributeValues: params.ExpressionAttributeValues,
		ExclusiveStartKey:         startKey,
	}
	if params.IndexName != "" {
		in.IndexName = aws.String(params.IndexName)
	}
	if params.FilterExpression != "" {
		in.FilterExpression = aws.String(params.FilterExpression)
	}
	if remaining > 0 {
		in.Limit = aws.Int32(remaining)
	}
	out, err := c.Scan(ctx, in)
	if err != nil {
		return nil, nil, 0, err
	}
	return out.Items, out.LastEvaluatedKey, out.ScannedCount, nil
}

// mapConcurrent applies fn to every item of one page concurrently and waits
// for the whole page before returning.
func mapConcurrent(ctx context.Context, fn func(context.Context, Item) (Item, error), items []Item) ([]Item, error) {
	out := make([]Item, len(items))
	errs := make(chan error, len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(i int, item Item) {
			defer wg.Done()
			mapped, err := fn(ctx, item)
			if err != nil {
				errs <- err
				return
			}
			out[i] = mapped
		}(i, item)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
