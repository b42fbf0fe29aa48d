// Package smtdynamo is a durable NodesTable backend for the sparse Merkle
// tree backed by an Amazon DynamoDB table, keyed by node hash.
package smtdynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/fuellabs/fuel-merkle-go/merkle/smt"
)

const (
	hashAttr      = "Hash"
	primitiveAttr = "Primitive"
)

// Storage is a smt.Storage backed by a DynamoDB table. The table's only
// key is Hash (a binary attribute, the node's 32-byte address); Primitive
// holds the 69-byte encoded node.
type Storage struct {
	client *dynamodb.Client
	table  string
}

// New wraps an existing DynamoDB client and table name. The table must
// already exist with Hash as its partition key (see CreateTableInput for a
// definition matching that expectation).
func New(client *dynamodb.Client, table string) *Storage {
	return &Storage{client: client, table: table}
}

// CreateTableInput returns a CreateTableInput describing the schema Storage
// expects, for use by callers provisioning the table themselves.
func CreateTableInput(table string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(hashAttr), AttributeType: types.ScalarAttributeTypeB},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(hashAttr), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}

var _ smt.Storage = (*Storage)(nil)

func (s *Storage) Get(key smt.Hash) (*smt.Primitive, error) {
	out, err := s.client.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyItem(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("smtdynamo: get item: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	return primitiveFromItem(out.Item)
}

func (s *Storage) Contains(key smt.Hash) (bool, error) {
	prim, err := s.Get(key)
	if err != nil {
		return false, err
	}
	return prim != nil, nil
}

func (s *Storage) Insert(key smt.Hash, value *smt.Primitive) error {
	_, err := s.client.PutItem(context.Background(), &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      itemFor(key, value),
	})
	if err != nil {
		return fmt.Errorf("smtdynamo: put item: %w", err)
	}
	return nil
}

func (s *Storage) Replace(key smt.Hash, value *smt.Primitive) (*smt.Primitive, error) {
	prev, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if err := s.Insert(key, value); err != nil {
		return nil, err
	}
	return prev, nil
}

func (s *Storage) Remove(key smt.Hash) error {
	_, err := s.client.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       keyItem(key),
	})
	if err != nil {
		return fmt.Errorf("smtdynamo: delete item: %w", err)
	}
	return nil
}

func (s *Storage) Take(key smt.Hash) (*smt.Primitive, error) {
	prev, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}
	if err := s.Remove(key); err != nil {
		return nil, err
	}
	return prev, nil
}

// BatchInsert writes every record in a single DynamoDB BatchWriteItem call
// per 25-item page, the service's maximum batch size, for example to
// materialise the output of smt.NodesFromSet.
func (s *Storage) BatchInsert(records []smt.NodeRecord) error {
	const maxBatchSize = 25
	for start := 0; start < len(records); start += maxBatchSize {
		end := min(start+maxBatchSize, len(records))
		writes := make([]types.WriteRequest, 0, end-start)
		for _, rec := range records[start:end] {
			writes = append(writes, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: itemFor(rec.Hash, &rec.Primitive)},
			})
		}
		if _, err := s.client.BatchWriteItem(context.Background(), &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table: writes},
		}); err != nil {
			return fmt.Errorf("smtdynamo: batch write item: %w", err)
		}
	}
	return nil
}

func keyItem(key smt.Hash) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		hashAttr: &types.AttributeValueMemberB{Value: key.Bytes()},
	}
}

func itemFor(key smt.Hash, value *smt.Primitive) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		hashAttr:      &types.AttributeValueMemberB{Value: key.Bytes()},
		primitiveAttr: &types.AttributeValueMemberB{Value: value[:]},
	}
}

func primitiveFromItem(item map[string]types.AttributeValue) (*smt.Primitive, error) {
	av, ok := item[primitiveAttr].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("smtdynamo: item missing binary %q attribute", primitiveAttr)
	}
	if len(av.Value) != smt.PrimitiveSize {
		return nil, fmt.Errorf("smtdynamo: stored primitive is %d bytes, want %d", len(av.Value), smt.PrimitiveSize)
	}
	var p smt.Primitive
	copy(p[:], av.Value)
	return &p, nil
}
