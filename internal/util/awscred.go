// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package util

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/tidwall/gjson"
)

// Vault-injected AWS credential files (Kubernetes deployments)
const (
	DefaultAWSKeyFile    = "/vault/secrets/awsaccesskey"
	DefaultAWSSecretFile = "/vault/secrets/awssecretkey"
)

// LoadAWSCredentials loads AWS IAM credentials with the following priority:
// 1. Explicit keys (accessKeyID, secretAccessKey, sessionToken)
// 2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
// 3. AWS SDK default chain (profiles, SSO cache, IAM roles)
// 4. Vault files, only when nothing else set the variables
//
// Environment variables are only written for 1 and 4 so the SDK keeps its full default chain otherwise.
func LoadAWSCredentials(accessKeyID, secretAccessKey, sessionToken string) {
	if accessKeyID != "" && secretAccessKey != "" {
		_ = os.Setenv("AWS_ACCESS_KEY_ID", accessKeyID)
		_ = os.Setenv("AWS_SECRET_ACCESS_KEY", secretAccessKey)
		if sessionToken != "" {
			_ = os.Setenv("AWS_SESSION_TOKEN", sessionToken)
		}
		return
	}

	if os.Getenv("AWS_ACCESS_KEY_ID") != "" && os.Getenv("AWS_SECRET_ACCESS_KEY") != "" {
		return
	}

	loadVaultFile("AWS_ACCESS_KEY_ID", DefaultAWSKeyFile)
	loadVaultFile("AWS_SECRET_ACCESS_KEY", DefaultAWSSecretFile)
}

func loadVaultFile(envKey, path string) {
	if os.Getenv(envKey) != "" {
		return
	}
	if content, err := os.ReadFile(path); err == nil {
		_ = os.Setenv(envKey, strings.TrimSpace(string(content)))
	}
}

// secretsGetter is the subset of the Secrets Manager client used here.
type secretsGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// GetSecretField retrieves one field of a JSON secret from AWS Secrets Manager.
func GetSecretField(ctx context.Context, secretName, region, field string) (string, error) {
	if secretName == "" {
		return "", fmt.Errorf("secret name is required for Secrets Manager")
	}
	if region == "" {
		return "", fmt.Errorf("region is required for Secrets Manager")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return "", fmt.Errorf("create AWS config: %w", err)
	}

	return secretField(ctx, secretsmanager.NewFromConfig(awsCfg), secretName, field)
}

func secretField(ctx context.Context, svc secretsGetter, secretName, field string) (string, error) {
	out, err := svc.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretName),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return "", fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret string empty for %s", secretName)
	}
	if !gjson.Valid(*out.SecretString) {
		return "", fmt.Errorf("parse secret json: invalid JSON in %s", secretName)
	}

	value := gjson.Get(*out.SecretString, field).String()
	if value == "" {
		return "", fmt.Errorf("%s field empty in secret %s", field, secretName)
	}
	return value, nil
}

// ResolveSecret returns the value of envKey when it is set (even to an empty string),
// otherwise the field of the given Secrets Manager secret.
func ResolveSecret(ctx context.Context, envKey, secretName, region, field string) (string, error) {
	if val, ok := os.LookupEnv(envKey); ok {
		return val, nil
	}
	return GetSecretField(ctx, secretName, region, field)
}
