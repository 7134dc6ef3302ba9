// Package batch drives chunked DynamoDB batch reads and writes with
// automatic retry of unprocessed work.
package batch

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDB service limits per request.
const (
	MaxWriteItems = 25
	MaxGetKeys    = 100
)

// Writer is the client surface needed for batch writes.
type Writer interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Getter is the client surface needed for batch reads.
type Getter interface {
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
}

// Item is a store-native record or key.
type Item = map[string]types.AttributeValue

type tableRequest struct {
	table string
	req   types.WriteRequest
}

// WritePuts writes every item of tableItems, chunked at MaxWriteItems per
// request. Unprocessed items reported by the store are reissued until none
// remain; the retry is unbounded and has no backoff.
func WritePuts(ctx context.Context, c Writer, tableItems map[string][]Item) error {
	var reqs []tableRequest
	for _, table := range sortedTables(tableItems) {
		for _, item := range tableItems[table] {
			reqs = append(reqs, tableRequest{table, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: item},
			}})
		}
	}
	return write(ctx, c, reqs)
}

// WriteDeletes deletes every key of tableKeys with the same chunk and retry
// discipline as WritePuts.
func WriteDeletes(ctx context.Context, c Writer, tableKeys map[string][]Item) error {
	var reqs []tableRequest
	for _, table := range sortedTables(tableKeys) {
		for _, key := range tableKeys[table] {
			reqs = append(reqs, tableRequest{table, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: key},
			}})
		}
	}
	return write(ctx, c, reqs)
}

func write(ctx context.Context, c Writer, reqs []tableRequest) error {
	for start := 0; start < len(reqs); start += MaxWriteItems {
		end := start + MaxWriteItems
		if end > len(reqs) {
			end = len(reqs)
		}

		chunk := make(map[string][]types.WriteRequest)
		for _, r := range reqs[start:end] {
			chunk[r.table] = append(chunk[r.table], r.req)
		}

		out, err := c.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: chunk,
		})
		if err != nil {
			return err
		}

		if len(out.UnprocessedItems) > 0 {
			var redo []tableRequest
			for _, table := range sortedTables(out.UnprocessedItems) {
				for _, req := range out.UnprocessedItems[table] {
					redo = append(redo, tableRequest{table, req})
				}
			}
			if err := write(ctx, c, redo); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetKeys fetches every key of tableKeys, chunked at MaxGetKeys per request,
// merging responses per table across chunks and across retries of
// unprocessed keys.
func GetKeys(ctx context.Context, c Getter, tableKeys map[string][]Item) (map[string][]Item, error) {
	type tableKey struct {
		table string
		key   Item
	}
	var keys []tableKey
	for _, table := range sortedTables(tableKeys) {
		for _, key := range tableKeys[table] {
			keys = append(keys, tableKey{table, key})
		}
	}

	results := make(map[string][]Item)
	for start := 0; start < len(keys); start += MaxGetKeys {
		end := start + MaxGetKeys
		if end > len(keys) {
			end = len(keys)
		}

		chunk := make(map[string]types.KeysAndAttributes)
		for _, k := range keys[start:end] {
			ka := chunk[k.table]
			ka.Keys = append(ka.Keys, k.key)
			chunk[k.table] = ka
		}

		out, err := c.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
			RequestItems: chunk,
		})
		if err != nil {
			return nil, err
		}
		for table, items := range out.Responses {
			results[table] = append(results[table], items...)
		}

		if len(out.UnprocessedKeys) > 0 {
			redo := make(map[string][]Item)
			for table, ka := range out.UnprocessedKeys {
				redo[table] = append(redo[table], ka.Keys...)
			}
			more, err := GetKeys(ctx, c, redo)
			if err != nil {
				return nil, err
			}
			for table, items := range more {
				results[table] = append(results[table], items...)
			}
		}
	}
	return results, nil
}

func sortedTables[V any](m map[string]V) []string {
	tables := make([]string, 0, len(m))
	for t := range m {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}
