package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/atmx/fund-ledger/internal/engine"
	"github.com/atmx/fund-ledger/internal/model"
)

type fakePutter struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func snapshot() *engine.Snapshot {
	return &engine.Snapshot{
		Fund:         model.Fund{ID: "f1", CashAsset: "KRW"},
		Trigger:      engine.TriggerRecord,
		Transactions: 3,
		CommittedAt:  time.Unix(1700000000, 42),
	}
}

func TestPublish_WritesJSONUnderFundKey(t *testing.T) {
	fake := &fakePutter{}
	a := NewWithClient(fake, "bucket", "funds")

	if err := a.Publish(context.Background(), snapshot()); err != nil {
		t.Fatal(err)
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("expected 1 put, got %d", len(fake.inputs))
	}

	in := fake.inputs[0]
	if *in.Bucket != "bucket" {
		t.Errorf("expected bucket 'bucket', got %s", *in.Bucket)
	}
	if want := "funds/f1/snapshots/1700000000000000042.json"; *in.Key != want {
		t.Errorf("expected key %s, got %s", want, *in.Key)
	}
	if *in.ContentType != "application/json" {
		t.Errorf("unexpected content type %s", *in.ContentType)
	}

	var got engine.Snapshot
	if err := json.Unmarshal(fake.bodies[0], &got); err != nil {
		t.Fatalf("body is not a snapshot: %v", err)
	}
	if got.Fund.ID != "f1" || got.Transactions != 3 {
		t.Errorf("unexpected body %+v", got)
	}
}

func TestPublish_WrapsClientError(t *testing.T) {
	cause := errors.New("access denied")
	a := NewWithClient(&fakePutter{err: cause}, "bucket", "")

	err := a.Publish(context.Background(), snapshot())
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	if _, err := New(context.Background(), Options{Region: "us-east-1"}); err == nil {
		t.Error("expected error without bucket")
	}
	if _, err := New(context.Background(), Options{Bucket: "b"}); err == nil {
		t.Error("expected error without region")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	cases := map[string]string{
		"https://s3.example.com": "https://s3.example.com",
		"minio:9000":             "http://minio:9000",
	}
	for in, want := range cases {
		if got := normaliseEndpoint(in, false); got != want {
			t.Errorf("normaliseEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
	if got := normaliseEndpoint("r2.example.com", true); got != "https://r2.example.com" {
		t.Errorf("expected https scheme, got %s", got)
	}
}
