package vectorsource

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Default attribute names used by the embedding pipeline's table.
const (
	DefaultKeyAttr    = "variant_id"
	DefaultVectorAttr = "repr"
)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Compile time check to ensure DynamoSource satisfies the Source interface.
var _ Source = (*DynamoSource)(nil)

// DynamoSource reads vectors from a DynamoDB table. The vector attribute
// holds the embedding as packed little-endian float32.
type DynamoSource struct {
	client     DDBClient
	tableName  string
	keyAttr    string
	vectorAttr string
}

// DynamoOption configures a DynamoSource.
type DynamoOption func(*DynamoSource)

// WithKeyAttr overrides the partition key attribute name.
func WithKeyAttr(attr string) DynamoOption {
	return func(s *DynamoSource) { s.keyAttr = attr }
}

// WithVectorAttr overrides the vector attribute name.
func WithVectorAttr(attr string) DynamoOption {
	return func(s *DynamoSource) { s.vectorAttr = attr }
}

// NewDynamoSource creates a DynamoDB-backed vector source.
func NewDynamoSource(client DDBClient, tableName string, optFns ...DynamoOption) *DynamoSource {
	s := &DynamoSource{
		client:     client,
		tableName:  tableName,
		keyAttr:    DefaultKeyAttr,
		vectorAttr: DefaultVectorAttr,
	}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

// VectorOf implements Source.
func (s *DynamoSource) VectorOf(ctx context.Context, id string) ([]float32, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			s.keyAttr: &types.AttributeValueMemberS{Value: id},
		},
		ProjectionExpression: aws.String(s.vectorAttr),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorsource: get item %q: %w", id, err)
	}
	if resp.Item == nil {
		return nil, fmt.Errorf("%w: %q", ErrVectorNotFound, id)
	}

	attr, ok := resp.Item[s.vectorAttr]
	if !ok {
		return nil, fmt.Errorf("%w: %q has no attribute %q", ErrVectorNotFound, id, s.vectorAttr)
	}

	bin, ok := attr.(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("vectorsource: %q attribute %q is not binary", id, s.vectorAttr)
	}

	return unpackFloat32(bin.Value)
}

// unpackFloat32 decodes packed little-endian float32 values.
func unpackFloat32(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("vectorsource: packed vector has %d bytes, not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
