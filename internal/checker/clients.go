// Package checker implements the per-service security checkers that inspect
// AWS resources and produce findings.
package checker

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	iamsvc "github.com/aws/aws-sdk-go-v2/service/iam"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
)

// IAMAPI is the narrow IAM interface the IAM checker needs. It embeds the
// SDK paginator client interfaces so paginators can be used directly.
type IAMAPI interface {
	iamsvc.ListUsersAPIClient
	iamsvc.ListPoliciesAPIClient
	GetAccountSummary(ctx context.Context, params *iamsvc.GetAccountSummaryInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetAccountSummaryOutput, error)
	ListMFADevices(ctx context.Context, params *iamsvc.ListMFADevicesInput, optFns ...func(*iamsvc.Options)) (*iamsvc.ListMFADevicesOutput, error)
	GetLoginProfile(ctx context.Context, params *iamsvc.GetLoginProfileInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetLoginProfileOutput, error)
	ListAttachedUserPolicies(ctx context.Context, params *iamsvc.ListAttachedUserPoliciesInput, optFns ...func(*iamsvc.Options)) (*iamsvc.ListAttachedUserPoliciesOutput, error)
	ListAccessKeys(ctx context.Context, params *iamsvc.ListAccessKeysInput, optFns ...func(*iamsvc.Options)) (*iamsvc.ListAccessKeysOutput, error)
	GetAccessKeyLastUsed(ctx context.Context, params *iamsvc.GetAccessKeyLastUsedInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetAccessKeyLastUsedOutput, error)
	GetAccountPasswordPolicy(ctx context.Context, params *iamsvc.GetAccountPasswordPolicyInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetAccountPasswordPolicyOutput, error)
	GetPolicy(ctx context.Context, params *iamsvc.GetPolicyInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetPolicyOutput, error)
	GetPolicyVersion(ctx context.Context, params *iamsvc.GetPolicyVersionInput, optFns ...func(*iamsvc.Options)) (*iamsvc.GetPolicyVersionOutput, error)
	ListUserPolicies(ctx context.Context, params *iamsvc.ListUserPoliciesInput, optFns ...func(*iamsvc.Options)) (*iamsvc.ListUserPoliciesOutput, error)
}

// S3API is the narrow S3 interface the S3 checker needs.
type S3API interface {
	ListBuckets(ctx context.Context, params *s3svc.ListBucketsInput, optFns ...func(*s3svc.Options)) (*s3svc.ListBucketsOutput, error)
	GetPublicAccessBlock(ctx context.Context, params *s3svc.GetPublicAccessBlockInput, optFns ...func(*s3svc.Options)) (*s3svc.GetPublicAccessBlockOutput, error)
	GetBucketEncryption(ctx context.Context, params *s3svc.GetBucketEncryptionInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketEncryptionOutput, error)
	GetBucketVersioning(ctx context.Context, params *s3svc.GetBucketVersioningInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketVersioningOutput, error)
	GetBucketLogging(ctx context.Context, params *s3svc.GetBucketLoggingInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketLoggingOutput, error)
	GetBucketPolicy(ctx context.Context, params *s3svc.GetBucketPolicyInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketPolicyOutput, error)
	GetBucketAcl(ctx context.Context, params *s3svc.GetBucketAclInput, optFns ...func(*s3svc.Options)) (*s3svc.GetBucketAclOutput, error)
}

// EC2API is the narrow EC2 interface the EC2 checker needs.
type EC2API interface {
	ec2svc.DescribeSecurityGroupsAPIClient
	ec2svc.DescribeInstancesAPIClient
	ec2svc.DescribeVolumesAPIClient
	ec2svc.DescribeSnapshotsAPIClient
	DescribeSnapshotAttribute(ctx context.Context, params *ec2svc.DescribeSnapshotAttributeInput, optFns ...func(*ec2svc.Options)) (*ec2svc.DescribeSnapshotAttributeOutput, error)
}

// Clients bundles the AWS service clients used by the checkers.
type Clients struct {
	IAM IAMAPI
	S3  S3API
	EC2 EC2API
}

// NewClients creates production SDK clients from the given AWS config.
func NewClients(cfg aws.Config) *Clients {
	return &Clients{
		IAM: iamsvc.NewFromConfig(cfg),
		S3:  s3svc.NewFromConfig(cfg),
		EC2: ec2svc.NewFromConfig(cfg),
	}
}
