package lib

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

type AWSSDKClient struct {
	innerConfig *aws.Config
	innerS3     *s3.Client
	innerSQS    *sqs.Client
	innerSNS    *sns.Client
	innerSES    *ses.Client
}

var awsClient *AWSSDKClient

// GetAWSClient loads the default AWS config once. When iamRole is set the
// process runs on temporary credentials for that role.
func GetAWSClient(ctx context.Context, iamRole string) (*AWSSDKClient, error) {
	if awsClient != nil {
		return awsClient, nil
	}
	cfg, err := awsGetSdkConfig(ctx, iamRole)
	if err != nil {
		return nil, err
	}
	awsClient = &AWSSDKClient{
		innerConfig: cfg,
		innerS3:     s3.NewFromConfig(*cfg),
		innerSQS:    sqs.NewFromConfig(*cfg),
		innerSNS:    sns.NewFromConfig(*cfg),
		innerSES:    ses.NewFromConfig(*cfg),
	}
	return awsClient, nil
}

func awsGetSdkConfig(ctx context.Context, iamRole string) (*aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		log.Printf("Error loading default config: %s\n", err.Error())
		return nil, err
	}
	if iamRole == "" {
		return &cfg, nil
	}
	stsClient := sts.NewFromConfig(cfg)
	output, err := stsClient.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(iamRole),
		RoleSessionName: aws.String("ticketing-api"),
	})
	if err != nil {
		log.Printf("Error configuring STS client: %s\n", err.Error())
		return nil, err
	}
	creds := output.Credentials
	cfg, err = config.LoadDefaultConfig(ctx, config.WithCredentialsProvider(
		credentials.NewStaticCredentialsProvider(*creds.AccessKeyId, *creds.SecretAccessKey, *creds.SessionToken),
	))
	if err != nil {
		log.Printf("Error configuration: %s\n", err.Error())
		return nil, err
	}
	return &cfg, nil
}

func (c *AWSSDKClient) Config() aws.Config { return *c.innerConfig }
func (c *AWSSDKClient) S3() *s3.Client     { return c.innerS3 }
func (c *AWSSDKClient) SQS() *sqs.Client   { return c.innerSQS }
func (c *AWSSDKClient) SNS() *sns.Client   { return c.innerSNS }
func (c *AWSSDKClient) SES() *ses.Client   { return c.innerSES }

// SecretsGetter is the part of the Secrets Manager client AWSGetSecrets uses.
type SecretsGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSGetSecrets reads a JSON object secret into a flat key/value map.
func AWSGetSecrets(ctx context.Context, client SecretsGetter, secretID string) (map[string]string, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		log.Printf("[Secrets] Error reading %s: %s\n", secretID, err.Error())
		return nil, err
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", secretID)
	}
	values := map[string]string{}
	if err := json.Unmarshal([]byte(*out.SecretString), &values); err != nil {
		return nil, fmt.Errorf("secret %s is not a flat JSON object: %w", secretID, err)
	}
	return values, nil
}

func NewSecretsClient(c *AWSSDKClient) *secretsmanager.Client {
	return secretsmanager.NewFromConfig(*c.innerConfig)
}
