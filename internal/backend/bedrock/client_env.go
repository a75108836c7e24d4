package bedrock

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// NewFromEnv builds a Bedrock-backed Client from the standard AWS
// environment variables (AWS_REGION, AWS_ACCESS_KEY_ID,
// AWS_SECRET_ACCESS_KEY, and optionally AWS_SESSION_TOKEN), without
// depending on the aws-sdk-go-v2/config module's shared-config loader.
func NewFromEnv() (*Client, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		return nil, fmt.Errorf("bedrock: AWS_REGION is required")
	}
	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("bedrock: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required")
	}
	sessionToken := os.Getenv("AWS_SESSION_TOKEN")

	cfg := aws.Config{
		Region: region,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     accessKey,
				SecretAccessKey: secretKey,
				SessionToken:    sessionToken,
			}, nil
		}),
	}
	return New(bedrockruntime.NewFromConfig(cfg))
}
