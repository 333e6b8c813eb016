// Package aws implements the provider boundary on top of aws-sdk-go-v2:
// S3 for artifacts, DynamoDB for the state table, IAM for the execution
// role and Lambda for functions and layers.
package aws

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/openfroyo/converge/pkg/provider"
)

// Name identifies this provider in logs and metrics.
const Name = "aws"

// Environment variables consulted by the factory.
const (
	EnvEndpoint       = "CONVERGE_ENDPOINT"
	EnvAWSEndpoint    = "AWS_ENDPOINT"
	EnvAccessKey      = "AWS_ACCESS_KEY_ID"
	EnvSecretKey      = "AWS_SECRET_ACCESS_KEY"
	defaultLocalKey   = "test"
	defaultLocalToken = ""
)

// Factory builds AWS clients. A non-empty Endpoint points every service at
// a local emulator.
type Factory struct {
	// Endpoint overrides the service endpoint for all services.
	Endpoint string

	// Profile selects a shared config profile.
	Profile string
}

var _ provider.Factory = Factory{}

// ResolveEndpoint returns the configured endpoint or the one named by the
// environment.
func ResolveEndpoint(configured string) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv(EnvEndpoint); v != "" {
		return v
	}
	return os.Getenv(EnvAWSEndpoint)
}

// NewClient loads the SDK configuration for region and returns a Client
// wired to the four services.
func (f Factory) NewClient(ctx context.Context, region string) (*provider.Client, error) {
	cfg, err := f.loadConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	endpoint := ResolveEndpoint(f.Endpoint)

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	dynamoClient := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	iamClient := iam.NewFromConfig(cfg, func(o *iam.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	lambdaClient := lambda.NewFromConfig(cfg, func(o *lambda.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &provider.Client{
		Objects:   &ObjectStore{api: s3Client},
		Tables:    &TableService{api: dynamoClient},
		Roles:     &RoleService{api: iamClient},
		Functions: &FunctionService{api: lambdaClient},
		Name:      Name,
	}, nil
}

func (f Factory) loadConfig(ctx context.Context, region string) (aws.Config, error) {
	if region == "" {
		return aws.Config{}, fmt.Errorf("region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if f.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(f.Profile))
	}
	// Local emulators accept any static credentials.
	if ResolveEndpoint(f.Endpoint) != "" && os.Getenv(EnvAccessKey) == "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(defaultLocalKey, defaultLocalKey, defaultLocalToken)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return cfg, nil
}
