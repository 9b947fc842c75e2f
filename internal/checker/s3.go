package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/m-pilli/aws-security-auditor/internal/models"
	"github.com/m-pilli/aws-security-auditor/pkg/logger"
)

// S3Checker audits S3 buckets for public exposure and hardening gaps.
type S3Checker struct {
	client S3API
	log    logger.Logger
}

// NewS3Checker creates an S3 checker.
func NewS3Checker(client S3API, log logger.Logger) *S3Checker {
	return &S3Checker{
		client: client,
		log:    log.With("service", "S3"),
	}
}

// Service returns the service this checker audits.
func (c *S3Checker) Service() models.Service {
	return models.ServiceS3
}

// Run audits every bucket in the account. Buckets whose checks fail are
// reported in the returned error; findings from the rest are still returned.
func (c *S3Checker) Run(ctx context.Context) ([]models.Finding, error) {
	buckets, err := c.client.ListBuckets(ctx, &s3svc.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("listing buckets: %w", err)
	}

	c.log.Info("auditing S3 buckets", "count", len(buckets.Buckets))

	var findings []models.Finding
	var errs []error

	for _, bucket := range buckets.Buckets {
		name := aws.ToString(bucket.Name)

		checks := []struct {
			fn    func(context.Context, string) ([]models.Finding, error)
			about string
		}{
			{c.checkPublicAccessBlock, "public access block"},
			{c.checkEncryption, "encryption"},
			{c.checkVersioning, "versioning"},
			{c.checkLogging, "logging"},
			{c.checkBucketPolicy, "bucket policy"},
			{c.checkBucketACL, "bucket ACL"},
		}

		for _, check := range checks {
			fs, err := check.fn(ctx, name)
			if err != nil {
				c.log.Warn("S3 check failed", "bucket", name, "check", check.about, "error", err)
				errs = append(errs, fmt.Errorf("%s for %s: %w", check.about, name, err))
				continue
			}
			findings = append(findings, fs...)
		}
	}

	return findings, errors.Join(errs...)
}

// publicAccessBlock is the result of looking up a bucket's public access
// block configuration. Configured is false when the bucket has no
// configuration at all.
type publicAccessBlock struct {
	Config     *s3types.PublicAccessBlockConfiguration
	Configured bool
}

func (c *S3Checker) getPublicAccessBlock(ctx context.Context, bucket string) (publicAccessBlock, error) {
	out, err := c.client.GetPublicAccessBlock(ctx, &s3svc.GetPublicAccessBlockInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		if apiErrorCode(err) == "NoSuchPublicAccessBlockConfiguration" {
			return publicAccessBlock{}, nil
		}
		return publicAccessBlock{}, err
	}

	return publicAccessBlock{
		Config:     out.PublicAccessBlockConfiguration,
		Configured: true,
	}, nil
}

func (c *S3Checker) checkPublicAccessBlock(ctx context.Context, bucket string) ([]models.Finding, error) {
	pab, err := c.getPublicAccessBlock(ctx, bucket)
	if err != nil {
		return nil, err
	}

	if !pab.Configured {
		return []models.Finding{{
			Service:        models.ServiceS3,
			ResourceID:     bucket,
			ResourceName:   bucket,
			Type:           "No Public Access Block",
			Severity:       models.SeverityCritical,
			RiskScore:      10,
			Description:    fmt.Sprintf("S3 bucket %s has no public access block configuration", bucket),
			Recommendation: "Configure public access block to prevent accidental public exposure",
			Details:        map[string]any{"bucket_name": bucket},
		}}, nil
	}

	cfg := pab.Config
	if aws.ToBool(cfg.BlockPublicAcls) &&
		aws.ToBool(cfg.BlockPublicPolicy) &&
		aws.ToBool(cfg.IgnorePublicAcls) &&
		aws.ToBool(cfg.RestrictPublicBuckets) {
		return nil, nil
	}

	return []models.Finding{{
		Service:        models.ServiceS3,
		ResourceID:     bucket,
		ResourceName:   bucket,
		Type:           "Public Access Not Fully Blocked",
		Severity:       models.SeverityCritical,
		RiskScore:      9,
		Description:    fmt.Sprintf("S3 bucket %s does not have all public access blocks enabled", bucket),
		Recommendation: "Enable all public access block settings unless public access is required",
		Details: map[string]any{
			"bucket_name": bucket,
			"public_access_block": map[string]any{
				"block_public_acls":       aws.ToBool(cfg.BlockPublicAcls),
				"block_public_policy":     aws.ToBool(cfg.BlockPublicPolicy),
				"ignore_public_acls":      aws.ToBool(cfg.IgnorePublicAcls),
				"restrict_public_buckets": aws.ToBool(cfg.RestrictPublicBuckets),
			},
		},
	}}, nil
}

func (c *S3Checker) checkEncryption(ctx context.Context, bucket string) ([]models.Finding, error) {
	_, err := c.client.GetBucketEncryption(ctx, &s3svc.GetBucketEncryptionInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil, nil
	}
	if apiErrorCode(err) != "ServerSideEncryptionConfigurationNotFoundError" {
		return nil, err
	}

	return []models.Finding{{
		Service:        models.ServiceS3,
		ResourceID:     bucket,
		ResourceName:   bucket,
		Type:           "No Encryption",
		Severity:       models.SeverityHigh,
		RiskScore:      7,
		Description:    fmt.Sprintf("S3 bucket %s does not have default encryption enabled", bucket),
		Recommendation: "Enable default encryption (AES-256 or KMS)",
		Details:        map[string]any{"bucket_name": bucket},
	}}, nil
}

func (c *S3Checker) checkVersioning(ctx context.Context, bucket string) ([]models.Finding, error) {
	out, err := c.client.GetBucketVersioning(ctx, &s3svc.GetBucketVersioningInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, err
	}

	if out.Status == s3types.BucketVersioningStatusEnabled {
		return nil, nil
	}

	status := string(out.Status)
	if status == "" {
		status = "Disabled"
	}

	return []models.Finding{{
		Service:        models.ServiceS3,
		ResourceID:     bucket,
		ResourceName:   bucket,
		Type:           "Versioning Not Enabled",
		Severity:       models.SeverityMedium,
		RiskScore:      5,
		Description:    fmt.Sprintf("S3 bucket %s does not have versioning enabled", bucket),
		Recommendation: "Enable versioning to protect against accidental deletion",
		Details: map[string]any{
			"bucket_name":       bucket,
			"versioning_status": status,
		},
	}}, nil
}

func (c *S3Checker) checkLogging(ctx context.Context, bucket string) ([]models.Finding, error) {
	out, err := c.client.GetBucketLogging(ctx, &s3svc.GetBucketLoggingInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, err
	}

	if out.LoggingEnabled != nil {
		return nil, nil
	}

	return []models.Finding{{
		Service:        models.ServiceS3,
		ResourceID:     bucket,
		ResourceName:   bucket,
		Type:           "Access Logging Not Enabled",
		Severity:       models.SeverityMedium,
		RiskScore:      4,
		Description:    fmt.Sprintf("S3 bucket %s does not have access logging enabled", bucket),
		Recommendation: "Enable access logging for audit trail",
		Details:        map[string]any{"bucket_name": bucket},
	}}, nil
}

func (c *S3Checker) checkBucketPolicy(ctx context.Context, bucket string) ([]models.Finding, error) {
	out, err := c.client.GetBucketPolicy(ctx, &s3svc.GetBucketPolicyInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		// A bucket without a policy is fine.
		if apiErrorCode(err) == "NoSuchBucketPolicy" {
			return nil, nil
		}
		return nil, err
	}

	var doc bucketPolicyDocument
	if err := json.Unmarshal([]byte(aws.ToString(out.Policy)), &doc); err != nil {
		return nil, fmt.Errorf("parsing bucket policy: %w", err)
	}

	var findings []models.Finding
	for _, statement := range doc.Statement {
		if statement.Effect != "Allow" || !statement.Principal.isPublic() {
			continue
		}

		findings = append(findings, models.Finding{
			Service:        models.ServiceS3,
			ResourceID:     bucket,
			ResourceName:   bucket,
			Type:           "Public Bucket Policy",
			Severity:       models.SeverityCritical,
			RiskScore:      10,
			Description:    fmt.Sprintf("S3 bucket %s has a policy allowing public access", bucket),
			Recommendation: "Remove public access from bucket policy",
			Details: map[string]any{
				"bucket_name": bucket,
				"statement": map[string]any{
					"effect":  statement.Effect,
					"actions": []string(statement.Action),
				},
			},
		})
	}

	return findings, nil
}

func (c *S3Checker) checkBucketACL(ctx context.Context, bucket string) ([]models.Finding, error) {
	out, err := c.client.GetBucketAcl(ctx, &s3svc.GetBucketAclInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		return nil, err
	}

	var findings []models.Finding
	for _, grant := range out.Grants {
		if grant.Grantee == nil {
			continue
		}

		uri := aws.ToString(grant.Grantee.URI)
		if !strings.Contains(uri, "AllUsers") && !strings.Contains(uri, "AuthenticatedUsers") {
			continue
		}

		severity := models.SeverityHigh
		riskScore := 8
		if strings.Contains(uri, "AllUsers") {
			severity = models.SeverityCritical
			riskScore = 10
		}

		permission := string(grant.Permission)
		findings = append(findings, models.Finding{
			Service:        models.ServiceS3,
			ResourceID:     bucket,
			ResourceName:   bucket,
			Type:           "Public ACL",
			Severity:       severity,
			RiskScore:      riskScore,
			Description:    fmt.Sprintf("S3 bucket %s has public ACL granting %s", bucket, permission),
			Recommendation: "Remove public ACL grants",
			Details: map[string]any{
				"bucket_name": bucket,
				"grantee_uri": uri,
				"permission":  permission,
			},
		})
	}

	return findings, nil
}

// bucketPolicyDocument is an S3 bucket policy. The Principal element may be
// the string "*" or an object with an AWS key.
type bucketPolicyDocument struct {
	Statement []bucketPolicyStatement `json:"Statement"`
}

type bucketPolicyStatement struct {
	Effect    string          `json:"Effect"`
	Principal bucketPrincipal `json:"Principal"`
	Action    stringList      `json:"Action"`
}

type bucketPrincipal struct {
	raw json.RawMessage
}

func (p *bucketPrincipal) UnmarshalJSON(data []byte) error {
	p.raw = append(p.raw[:0], data...)
	return nil
}

// isPublic reports whether the principal grants access to everyone, either
// as "*" or as {"AWS": "*"}.
func (p bucketPrincipal) isPublic() bool {
	var str string
	if err := json.Unmarshal(p.raw, &str); err == nil {
		return str == "*"
	}

	var obj struct {
		AWS stringList `json:"AWS"`
	}
	if err := json.Unmarshal(p.raw, &obj); err != nil {
		return false
	}
	return obj.AWS.contains("*")
}
