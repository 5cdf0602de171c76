package rvg

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

const AWSCallTimeout = 10 * time.Second

var awsOnce sync.Once
var awsConfig *aws.Config
var awsConfigErr error

func loadAWSConfig() (*aws.Config, error) {
	awsOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), AWSCallTimeout)
		defer cancel()

		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			awsConfigErr = err
			return
		}
		awsConfig = &cfg
	})

	return awsConfig, awsConfigErr
}

// HasAWSCredentials reports whether the environment has usable credentials and a region.
func HasAWSCredentials() bool {
	cfg, err := loadAWSConfig()
	return err == nil && cfg.Credentials != nil && len(cfg.Region) > 0
}

func GetAWSEncryptedParameter(name string) (string, error) {
	cfg, err := loadAWSConfig()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), AWSCallTimeout)
	defer cancel()

	output, err := ssm.NewFromConfig(*cfg).GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: true,
	})
	if err != nil {
		return "", err
	}
	if output.Parameter == nil || output.Parameter.Value == nil {
		return "", fmt.Errorf("AWS parameter '%s' has no value", name)
	}

	return *output.Parameter.Value, nil
}

var s3Once sync.Once
var s3Client *s3.Client

// PutS3Object uploads body and returns its url.
func PutS3Object(ctx context.Context, bucket string, key string, body []byte) (string, error) {
	cfg, err := loadAWSConfig()
	if err != nil {
		return "", err
	}

	s3Once.Do(func() {
		s3Client = s3.NewFromConfig(*cfg)
	})

	ctx, cancel := context.WithTimeout(ctx, AWSCallTimeout)
	defer cancel()

	_, err = s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("https://%s.s3-%s.amazonaws.com/%s", bucket, cfg.Region, key), nil
}
