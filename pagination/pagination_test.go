package pagination

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeClient struct {
	queryFn func(*dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	scanFn  func(*dynamodb.ScanInput) (*dynamodb.ScanOutput, error)
}

func (f *fakeClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return f.queryFn(params)
}

func (f *fakeClient) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return f.scanFn(params)
}

func item(id string) Item {
	return Item{"id": &types.AttributeValueMemberS{Value: id}}
}

func idOf(it Item) string {
	return it["id"].(*types.AttributeValueMemberS).Value
}

// pagedScan serves n items in pages of pageSize, returning a continuation key
// whenever items remain.
func pagedScan(n, pageSize int) (*fakeClient, *int) {
	calls := new(int)
	c := &fakeClient{
		scanFn: func(in *dynamodb.ScanInput) (*dynamodb.ScanOutput, error) {
			*calls++
			start := 0
			if in.ExclusiveStartKey != nil {
				n, _ := strconv.Atoi(strings.TrimPrefix(idOf(in.ExclusiveStartKey), "i"))
				start = n + 1
			}
			end := start + pageSize
			if in.Limit != nil && int(*in.Limit) < pageSize {
				end = start + int(*in.Limit)
			}
			if end > n {
				end = n
			}
			out := &dynamodb.ScanOutput{ScannedCount: int32(end - start)}
			for i := start; i < end; i++ {
				out.Items = append(out.Items, item(fmt.Sprintf("i%03d", i)))
			}
			if end < n {
				out.LastEvaluatedKey = item(fmt.Sprintf("i%03d", end-1))
			}
			return out, nil
		},
	}
	return c, calls
}

func TestFind_OptionErrors(t *testing.T) {
	mapFn := func(_ context.Context, it Item) (Item, error) { return it, nil }
	reduceFn := func(_ context.Context, acc any, _ Item) (any, error) { return acc, nil }

	tests := []struct {
		name string
		opts Options
	}{
		{"map with reduce", Options{Map: mapFn, Reduce: reduceFn, InitialValue: 0}},
		{"reduce without initial value", Options{Reduce: reduceFn}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Find(context.Background(), &fakeClient{}, Params{TableName: "t"}, tt.opts)
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestFind_FollowsContinuationKeys(t *testing.T) {
	c, calls := pagedScan(25, 10)

	res, err := Find(context.Background(), c, Params{TableName: "t"}, Options{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if *calls != 3 {
		t.Errorf("expected 3 pages, got %d", *calls)
	}
	if res.Count != 25 || len(res.Items) != 25 {
		t.Errorf("expected 25 items, got count=%d len=%d", res.Count, len(res.Items))
	}
	if res.ScannedCount != 25 {
		t.Errorf("expected scanned count 25, got %d", res.ScannedCount)
	}
	if res.LastEvaluatedKey != nil {
		t.Error("exhausted iteration should clear the continuation key")
	}
	if got := idOf(res.Items[24]); got != "i024" {
		t.Errorf("expected fetch order preserved, last item %s", got)
	}
}

func TestFind_LimitStopsEarlyAndKeepsKey(t *testing.T) {
	c, calls := pagedScan(25, 10)

	res, err := Find(context.Background(), c, Params{TableName: "t", Limit: 15}, Options{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if *calls != 2 {
		t.Errorf("expected 2 pages, got %d", *calls)
	}
	if res.Count != 15 {
		t.Errorf("expected 15 items, got %d", res.Count)
	}
	if res.LastEvaluatedKey == nil {
		t.Fatal("expected continuation key when stopping early")
	}

	// Resuming from the returned key picks up where iteration stopped.
	res2, err := Find(context.Background(), c, Params{
		TableName:         "t",
		ExclusiveStartKey: res.LastEvaluatedKey,
	}, Options{})
	if err != nil {
		t.Fatalf("resume Find: %v", err)
	}
	if res2.Count != 10 {
		t.Errorf("expected 10 remaining items, got %d", res2.Count)
	}
	if got := idOf(res2.Items[0]); got != "i015" {
		t.Errorf("resume started at %s, want i015", got)
	}
}

func TestFind_FilterDropsItemsAfterFetch(t *testing.T) {
	c, _ := pagedScan(10, 10)

	res, err := Find(context.Background(), c, Params{TableName: "t"}, Options{
		Filter: func(it Item) bool { return idOf(it) < "i005" },
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.Count != 5 {
		t.Errorf("expected 5 kept items, got %d", res.Count)
	}
	if res.ScannedCount != 10 {
		t.Errorf("filter must not reduce scanned count, got %d", res.ScannedCount)
	}
}

func TestFind_MapTransformsEveryItem(t *testing.T) {
	c, _ := pagedScan(20, 10)

	res, err := Find(context.Background(), c, Params{TableName: "t"}, Options{
		Map: func(_ context.Context, it Item) (Item, error) {
			out := Item{"id": it["id"], "seen": &types.AttributeValueMemberBOOL{Value: true}}
			return out, nil
		},
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(res.Items) != 20 {
		t.Fatalf("expected 20 items, got %d", len(res.Items))
	}
	for i, it := range res.Items {
		if _, ok := it["seen"]; !ok {
			t.Fatalf("item %d not mapped", i)
		}
		if got, want := idOf(it), fmt.Sprintf("i%03d", i); got != want {
			t.Errorf("item %d out of order: %s", i, got)
		}
	}
}

func TestFind_MapErrorAborts(t *testing.T) {
	c, _ := pagedScan(10, 10)
	boom := errors.New("downstream")

	_, err := Find(context.Background(), c, Params{TableName: "t"}, Options{
		Map: func(_ context.Context, it Item) (Item, error) {
			if idOf(it) == "i003" {
				return nil, boom
			}
			return it, nil
		},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected map error propagated, got %v", err)
	}
}

func TestFind_ReduceFoldsAcrossPages(t *testing.T) {
	c, _ := pagedScan(25, 10)

	res, err := Find(context.Background(), c, Params{TableName: "t"}, Options{
		Reduce: func(_ context.Context, acc any, _ Item) (any, error) {
			return acc.(int) + 1, nil
		},
		InitialValue: 0,
	})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.Accumulator != 25 {
		t.Errorf("expected accumulator 25, got %v", res.Accumulator)
	}
	if len(res.Items) != 0 {
		t.Errorf("reduce must not collect items, got %d", len(res.Items))
	}
}

func TestFind_QueryWhenKeyConditionPresent(t *testing.T) {
	var queried bool
	c := &fakeClient{
		queryFn: func(in *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			queried = true
			if *in.KeyConditionExpression != "#hk = :hk" {
				t.Errorf("unexpected key condition %q", *in.KeyConditionExpression)
			}
			if *in.IndexName != "email-index" {
				t.Errorf("unexpected index %q", *in.IndexName)
			}
			return &dynamodb.QueryOutput{Items: []Item{item("i000")}, ScannedCount: 1}, nil
		},
	}

	res, err := Find(context.Background(), c, Params{
		TableName:              "t",
		IndexName:              "email-index",
		KeyConditionExpression: "#hk = :hk",
	}, Options{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !queried {
		t.Fatal("expected query path")
	}
	if res.Count != 1 {
		t.Errorf("expected 1 item, got %d", res.Count)
	}
}
