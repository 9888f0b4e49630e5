package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"stablewatch/internal/core"
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

func TestS3ArchiverStore(t *testing.T) {
	putter := &fakePutter{}
	a := NewS3Archiver(putter, Config{Bucket: "tx-archive", Prefix: "sepolia"}, nil)

	txs := []core.Transaction{
		{Hash: "0x1", Timestamp: "2024-01-15T10:30:00Z", Amount: core.Float64(5)},
		{Hash: "0x2", Timestamp: "2024-01-15T10:20:00Z", IsAnomaly: core.Bool(true)},
	}
	key, err := a.Store(context.Background(), txs)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	want := "sepolia/transactions/2024-01-15T10:30:00Z.json"
	if key != want {
		t.Errorf("key = %q, want %q", key, want)
	}
	if len(putter.inputs) != 1 {
		t.Fatalf("PutObject calls = %d, want 1", len(putter.inputs))
	}
	in := putter.inputs[0]
	if aws.ToString(in.Bucket) != "tx-archive" || aws.ToString(in.Key) != want {
		t.Errorf("bucket/key = %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
	}
	if aws.ToString(in.ContentType) != "application/json" {
		t.Errorf("content type = %s", aws.ToString(in.ContentType))
	}

	var stored []core.Transaction
	if err := json.Unmarshal(putter.bodies[0], &stored); err != nil {
		t.Fatalf("body is not a JSON array: %v", err)
	}
	if len(stored) != 2 || stored[1].Hash != "0x2" || !stored[1].Anomalous() {
		t.Errorf("stored = %+v", stored)
	}
}

func TestS3ArchiverKeyDefault(t *testing.T) {
	a := NewS3Archiver(&fakePutter{}, Config{Bucket: "b"}, nil)
	if got := a.Key([]core.Transaction{{Hash: "0x1"}}); got != "transactions/default.json" {
		t.Errorf("Key() = %q", got)
	}
}

func TestS3ArchiverErrors(t *testing.T) {
	a := NewS3Archiver(&fakePutter{}, Config{Bucket: "b"}, nil)
	if _, err := a.Store(context.Background(), nil); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("Store(nil) error = %v, want ErrEmptyBatch", err)
	}

	boom := errors.New("access denied")
	a = NewS3Archiver(&fakePutter{err: boom}, Config{Bucket: "b"}, nil)
	if _, err := a.Store(context.Background(), []core.Transaction{{Hash: "0x1"}}); !errors.Is(err, boom) {
		t.Errorf("Store() error = %v, want wrapped %v", err, boom)
	}
}
