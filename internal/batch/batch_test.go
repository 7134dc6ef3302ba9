package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeClient struct {
	writeFn func(*dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error)
	getFn   func(*dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error)
}

func (f *fakeClient) BatchWriteItem(_ context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return f.writeFn(params)
}

func (f *fakeClient) BatchGetItem(_ context.Context, params *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return f.getFn(params)
}

func stringItem(attr, value string) Item {
	return Item{attr: &types.AttributeValueMemberS{Value: value}}
}

func countRequests(in *dynamodb.BatchWriteItemInput) int {
	n := 0
	for _, reqs := range in.RequestItems {
		n += len(reqs)
	}
	return n
}

func TestWritePuts_ChunksAtLimit(t *testing.T) {
	items := make([]Item, 60)
	for i := range items {
		items[i] = stringItem("id", fmt.Sprintf("k%03d", i))
	}

	var calls []int
	c := &fakeClient{
		writeFn: func(in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
			calls = append(calls, countRequests(in))
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}

	if err := WritePuts(context.Background(), c, map[string][]Item{"users": items}); err != nil {
		t.Fatalf("WritePuts: %v", err)
	}
	want := []int{25, 25, 10}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), calls)
	}
	for i, n := range want {
		if calls[i] != n {
			t.Errorf("call %d carried %d requests, want %d", i, calls[i], n)
		}
	}
}

func TestWritePuts_InterleavesTablesWithinChunk(t *testing.T) {
	tables := map[string][]Item{
		"accounts": make([]Item, 10),
		"users":    make([]Item, 10),
	}
	for table, items := range tables {
		for i := range items {
			items[i] = stringItem("id", fmt.Sprintf("%s-%d", table, i))
		}
	}

	var calls int
	c := &fakeClient{
		writeFn: func(in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
			calls++
			if got := countRequests(in); got != 20 {
				t.Errorf("expected single 20-request chunk, got %d", got)
			}
			if len(in.RequestItems) != 2 {
				t.Errorf("expected both tables in one request, got %d", len(in.RequestItems))
			}
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}

	if err := WritePuts(context.Background(), c, tables); err != nil {
		t.Fatalf("WritePuts: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestWriteDeletes_RetriesUnprocessed(t *testing.T) {
	keys := []Item{stringItem("id", "a"), stringItem("id", "b")}

	var calls int
	c := &fakeClient{
		writeFn: func(in *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
			calls++
			if calls == 1 {
				// Report the second delete unprocessed once.
				return &dynamodb.BatchWriteItemOutput{
					UnprocessedItems: map[string][]types.WriteRequest{
						"users": {in.RequestItems["users"][1]},
					},
				}, nil
			}
			if got := countRequests(in); got != 1 {
				t.Errorf("retry carried %d requests, want 1", got)
			}
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}

	if err := WriteDeletes(context.Background(), c, map[string][]Item{"users": keys}); err != nil {
		t.Fatalf("WriteDeletes: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestWrite_PropagatesError(t *testing.T) {
	boom := errors.New("throttled")
	c := &fakeClient{
		writeFn: func(*dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
			return nil, boom
		},
	}
	err := WritePuts(context.Background(), c, map[string][]Item{"users": {stringItem("id", "a")}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected propagated error, got %v", err)
	}
}

func TestGetKeys_ChunksAtLimit(t *testing.T) {
	keys := make([]Item, 250)
	for i := range keys {
		keys[i] = stringItem("id", fmt.Sprintf("k%03d", i))
	}

	var calls []int
	c := &fakeClient{
		getFn: func(in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
			ka := in.RequestItems["users"]
			calls = append(calls, len(ka.Keys))
			return &dynamodb.BatchGetItemOutput{
				Responses: map[string][]Item{"users": ka.Keys},
			}, nil
		},
	}

	got, err := GetKeys(context.Background(), c, map[string][]Item{"users": keys})
	if err != nil {
		t.Fatalf("GetKeys: %v", err)
	}
	want := []int{100, 100, 50}
	if len(calls) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), calls)
	}
	for i, n := range want {
		if calls[i] != n {
			t.Errorf("call %d carried %d keys, want %d", i, calls[i], n)
		}
	}
	if len(got["users"]) != 250 {
		t.Errorf("expected 250 merged items, got %d", len(got["users"]))
	}
}

func TestGetKeys_MergesRetriedKeys(t *testing.T) {
	keys := []Item{stringItem("id", "a"), stringItem("id", "b")}

	var calls int
	c := &fakeClient{
		getFn: func(in *dynamodb.BatchGetItemInput) (*dynamodb.BatchGetItemOutput, error) {
			calls++
			ka := in.RequestItems["users"]
			if calls == 1 {
				return &dynamodb.BatchGetItemOutput{
					Responses: map[string][]Item{"users": ka.Keys[:1]},
					UnprocessedKeys: map[string]types.KeysAndAttributes{
						"users": {Keys: ka.Keys[1:]},
					},
				}, nil
			}
			return &dynamodb.BatchGetItemOutput{
				Responses: map[string][]Item{"users": ka.Keys},
			}, nil
		},
	}

	got, err := GetKeys(context.Background(), c, map[string][]Item{"users": keys})
	if err != nil {
		t.Fatalf("GetKeys: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if len(got["users"]) != 2 {
		t.Errorf("expected 2 merged items, got %d", len(got["users"]))
	}
}
