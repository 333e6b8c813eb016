package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/openfroyo/converge/pkg/provider"
)

type dynamoAPI interface {
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, in *dynamodb.DeleteTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
}

// TableService implements provider.TableService on DynamoDB. Tables are
// created on-demand.
type TableService struct {
	api dynamoAPI
}

var _ provider.TableService = (*TableService)(nil)

func (t *TableService) DescribeTable(ctx context.Context, name string) (*provider.TableInfo, error) {
	out, err := t.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
	if err != nil {
		return nil, classify("dynamodb", "DescribeTable", err)
	}
	if out.Table == nil {
		return nil, provider.NewError("dynamodb", "DescribeTable", provider.ErrNotFound, "", nil)
	}
	return &provider.TableInfo{
		Name:   aws.ToString(out.Table.TableName),
		ARN:    aws.ToString(out.Table.TableArn),
		Status: string(out.Table.TableStatus),
	}, nil
}

func (t *TableService) CreateTable(ctx context.Context, spec provider.TableSpec) error {
	_, err := t.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(spec.Name),
		AttributeDefinitions: []types.AttributeDefinition{{
			AttributeName: aws.String(spec.HashKey),
			AttributeType: types.ScalarAttributeType(spec.HashKeyType),
		}},
		KeySchema: []types.KeySchemaElement{{
			AttributeName: aws.String(spec.HashKey),
			KeyType:       types.KeyTypeHash,
		}},
		BillingMode: types.BillingModePayPerRequest,
	})
	return classify("dynamodb", "CreateTable", err)
}

func (t *TableService) DeleteTable(ctx context.Context, name string) error {
	_, err := t.api.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(name)})
	return classify("dynamodb", "DeleteTable", err)
}
