package state

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cairn-io/cairn/internal/ir"
)

func TestNewS3BackendRequiresBucket(t *testing.T) {
	_, err := newS3Backend(map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket")
}

func TestNewS3BackendDefaults(t *testing.T) {
	config := map[string]string{
		"bucket": "my-bucket",
	}
	b, err := newS3Backend(config)
	// May fail on AWS config load in CI without credentials, which is expected
	if err != nil {
		t.Skipf("Skipping S3 backend test (no AWS credentials): %v", err)
	}
	s3b, ok := b.(*s3Backend)
	require.True(t, ok)
	assert.Equal(t, "my-bucket", s3b.bucket)
	assert.Equal(t, "cairn/state.json", s3b.key)
	assert.Equal(t, "us-east-1", s3b.region)
	assert.Empty(t, s3b.dynamoDBTable)
	assert.False(t, s3b.encrypt)
}

func TestNewS3BackendCustomConfig(t *testing.T) {
	config := map[string]string{
		"bucket":         "custom-bucket",
		"key":            "custom/path/state.json",
		"region":         "eu-west-1",
		"dynamodb_table": "cairn-locks",
		"encrypt":        "true",
		"profile":        "staging",
	}
	b, err := newS3Backend(config)
	if err != nil {
		t.Skipf("Skipping S3 backend test (no AWS credentials): %v", err)
	}
	s3b, ok := b.(*s3Backend)
	require.True(t, ok)
	assert.Equal(t, "custom-bucket", s3b.bucket)
	assert.Equal(t, "custom/path/state.json", s3b.key)
	assert.Equal(t, "eu-west-1", s3b.region)
	assert.Equal(t, "cairn-locks", s3b.dynamoDBTable)
	assert.True(t, s3b.encrypt)
}

// fakeDynamo drives the lock paths without a real DynamoDB table.
type fakeDynamo struct {
	putErr  error
	getItem map[string]dbtypes.AttributeValue
	getErr  error

	putInputs []*dynamodb.PutItemInput
	deleted   []string
}

func (f *fakeDynamo) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putInputs = append(f.putInputs, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeDynamo) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if key, ok := in.Key["LockID"].(*dbtypes.AttributeValueMemberS); ok {
		f.deleted = append(f.deleted, key.Value)
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestS3BackendLockPutsConditionalItem(t *testing.T) {
	fake := &fakeDynamo{}
	b := &s3Backend{bucket: "b", key: "cairn/state.json", dynamoDBTable: "cairn-locks", dbClient: fake}

	require.NoError(t, b.Lock())
	require.Len(t, fake.putInputs, 1)
	in := fake.putInputs[0]
	assert.Equal(t, "cairn-locks", *in.TableName)
	assert.Equal(t, "attribute_not_exists(LockID)", *in.ConditionExpression)
	lockID, ok := in.Item["LockID"].(*dbtypes.AttributeValueMemberS)
	require.True(t, ok)
	assert.Equal(t, "cairn/state.json", lockID.Value)

	require.NoError(t, b.Unlock())
	assert.Equal(t, []string{"cairn/state.json"}, fake.deleted)
}

func TestS3BackendLockConflictReportsHolder(t *testing.T) {
	fake := &fakeDynamo{
		putErr: &dbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")},
		getItem: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: "cairn/state.json"},
			"Info":    &dbtypes.AttributeValueMemberS{Value: "cairn-4242-1700000000"},
			"Created": &dbtypes.AttributeValueMemberS{Value: "2026-08-25T10:00:00Z"},
		},
	}
	b := &s3Backend{bucket: "b", key: "cairn/state.json", dynamoDBTable: "cairn-locks", dbClient: fake}

	err := b.Lock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cairn-4242-1700000000")
	assert.Contains(t, err.Error(), "2026-08-25T10:00:00Z")
	assert.Contains(t, err.Error(), "cairn-locks")
}

func TestS3BackendLockConflictWithoutHolderInfo(t *testing.T) {
	fake := &fakeDynamo{
		putErr: &dbtypes.ConditionalCheckFailedException{},
		getErr: errors.New("dynamodb unavailable"),
	}
	b := &s3Backend{key: "cairn/state.json", dynamoDBTable: "cairn-locks", dbClient: fake}

	err := b.Lock()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another process")
}

func TestS3BackendLockNoTableIsNoop(t *testing.T) {
	b := &s3Backend{key: "cairn/state.json"}
	assert.NoError(t, b.Lock())
	assert.NoError(t, b.Unlock())
}

func TestSerializeState(t *testing.T) {
	state := &ir.State{
		Version: 1,
		Serial:  2,
		Lineage: "abc-123",
	}
	content, err := SerializeState(state)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"version": 1`)
	assert.Contains(t, string(content), `"serial": 2`)
	assert.Contains(t, string(content), `"lineage": "abc-123"`)
}

func TestNewBackendRejectsNilConfig(t *testing.T) {
	_, err := NewBackend(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestNewBackendRejectsUnknownType(t *testing.T) {
	_, err := NewBackend(&BackendConfig{Type: "redis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}

func TestNewBackendLocal(t *testing.T) {
	b, err := NewBackend(&BackendConfig{
		Type:   "local",
		Config: map[string]string{"path": "custom/state.json"},
	})
	require.NoError(t, err)
	mgr, ok := b.(*Manager)
	require.True(t, ok)
	assert.Equal(t, "custom/state.json", mgr.Path())
}

func TestNewBackendLocalDefaultPath(t *testing.T) {
	b, err := NewBackend(&BackendConfig{Type: ""})
	require.NoError(t, err)
	mgr, ok := b.(*Manager)
	require.True(t, ok)
	assert.Equal(t, DefaultStatePath, mgr.Path())
}

func TestNewBackendGCSNotImplemented(t *testing.T) {
	_, err := NewBackend(&BackendConfig{Type: "gcs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not yet implemented")
}

func TestNewBackendHTTPNotImplemented(t *testing.T) {
	_, err := NewBackend(&BackendConfig{Type: "http"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not yet implemented")
}
