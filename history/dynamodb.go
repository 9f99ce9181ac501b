package history

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// DynamoStore keeps records in a DynamoDB table keyed by run_id.
type DynamoStore struct {
	Table string
	DB    dynamodbiface.DynamoDBAPI
}

// NewDynamoStore returns a store for table.
func NewDynamoStore(sess *session.Session, table string) *DynamoStore {
	return &DynamoStore{
		Table: table,
		DB:    dynamodb.New(sess),
	}
}

// Put writes r to the table.
func (s *DynamoStore) Put(ctx context.Context, r *Record) error {
	av, err := dynamodbattribute.MarshalMap(r)
	if err != nil {
		return err
	}

	_, err = s.DB.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.Table),
		Item:      av,
	})
	return err
}

// List scans the whole table. The table only grows by one item per run, so
// a scan stays cheap.
func (s *DynamoStore) List(ctx context.Context, limit int) ([]Record, error) {
	var (
		records  []Record
		startKey map[string]*dynamodb.AttributeValue
	)

	for {
		out, err := s.DB.ScanWithContext(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.Table),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}

		var page []Record
		if err := dynamodbattribute.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, err
		}
		records = append(records, page...)

		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return newestFirst(records, limit), nil
}
