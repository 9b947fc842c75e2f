package checker

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-pilli/aws-security-auditor/internal/models"
	"github.com/m-pilli/aws-security-auditor/pkg/logger"
)

var (
	noPublicAccessBlock = &smithy.GenericAPIError{Code: "NoSuchPublicAccessBlockConfiguration"}
	noEncryptionConfig  = &smithy.GenericAPIError{Code: "ServerSideEncryptionConfigurationNotFoundError"}
	noBucketPolicy      = &smithy.GenericAPIError{Code: "NoSuchBucketPolicy"}
)

// fakeS3 implements S3API with per-bucket canned responses. A nil map entry
// means the lookup errors with the zero-value default for that call.
type fakeS3 struct {
	buckets []string

	publicAccessBlocks map[string]*s3types.PublicAccessBlockConfiguration
	pabErrs            map[string]error
	encryptionErrs     map[string]error
	versioningStatus   map[string]s3types.BucketVersioningStatus
	versioningErrs     map[string]error
	loggingEnabled     map[string]bool
	policies           map[string]string
	policyErrs         map[string]error
	grants             map[string][]s3types.Grant
}

func (f *fakeS3) ListBuckets(context.Context, *s3svc.ListBucketsInput, ...func(*s3svc.Options)) (*s3svc.ListBucketsOutput, error) {
	buckets := make([]s3types.Bucket, len(f.buckets))
	for i, name := range f.buckets {
		buckets[i] = s3types.Bucket{Name: aws.String(name)}
	}
	return &s3svc.ListBucketsOutput{Buckets: buckets}, nil
}

func (f *fakeS3) GetPublicAccessBlock(_ context.Context, params *s3svc.GetPublicAccessBlockInput, _ ...func(*s3svc.Options)) (*s3svc.GetPublicAccessBlockOutput, error) {
	bucket := aws.ToString(params.Bucket)
	if err, ok := f.pabErrs[bucket]; ok {
		return nil, err
	}
	cfg, ok := f.publicAccessBlocks[bucket]
	if !ok {
		return nil, noPublicAccessBlock
	}
	return &s3svc.GetPublicAccessBlockOutput{PublicAccessBlockConfiguration: cfg}, nil
}

func (f *fakeS3) GetBucketEncryption(_ context.Context, params *s3svc.GetBucketEncryptionInput, _ ...func(*s3svc.Options)) (*s3svc.GetBucketEncryptionOutput, error) {
	if err, ok := f.encryptionErrs[aws.ToString(params.Bucket)]; ok {
		return nil, err
	}
	return &s3svc.GetBucketEncryptionOutput{}, nil
}

func (f *fakeS3) GetBucketVersioning(_ context.Context, params *s3svc.GetBucketVersioningInput, _ ...func(*s3svc.Options)) (*s3svc.GetBucketVersioningOutput, error) {
	bucket := aws.ToString(params.Bucket)
	if err, ok := f.versioningErrs[bucket]; ok {
		return nil, err
	}
	return &s3svc.GetBucketVersioningOutput{Status: f.versioningStatus[bucket]}, nil
}

func (f *fakeS3) GetBucketLogging(_ context.Context, params *s3svc.GetBucketLoggingInput, _ ...func(*s3svc.Options)) (*s3svc.GetBucketLoggingOutput, error) {
	out := &s3svc.GetBucketLoggingOutput{}
	if f.loggingEnabled[aws.ToString(params.Bucket)] {
		out.LoggingEnabled = &s3types.LoggingEnabled{TargetBucket: aws.String("log-bucket")}
	}
	return out, nil
}

func (f *fakeS3) GetBucketPolicy(_ context.Context, params *s3svc.GetBucketPolicyInput, _ ...func(*s3svc.Options)) (*s3svc.GetBucketPolicyOutput, error) {
	bucket := aws.ToString(params.Bucket)
	if err, ok := f.policyErrs[bucket]; ok {
		return nil, err
	}
	policy, ok := f.policies[bucket]
	if !ok {
		return nil, noBucketPolicy
	}
	return &s3svc.GetBucketPolicyOutput{Policy: aws.String(policy)}, nil
}

func (f *fakeS3) GetBucketAcl(_ context.Context, params *s3svc.GetBucketAclInput, _ ...func(*s3svc.Options)) (*s3svc.GetBucketAclOutput, error) {
	return &s3svc.GetBucketAclOutput{Grants: f.grants[aws.ToString(params.Bucket)]}, nil
}

func fullyBlocked() *s3types.PublicAccessBlockConfiguration {
	return &s3types.PublicAccessBlockConfiguration{
		BlockPublicAcls:       aws.Bool(true),
		BlockPublicPolicy:     aws.Bool(true),
		IgnorePublicAcls:      aws.Bool(true),
		RestrictPublicBuckets: aws.Bool(true),
	}
}

// hardenedBucket returns a fake with one bucket passing every check.
func hardenedBucket(name string) *fakeS3 {
	return &fakeS3{
		buckets:            []string{name},
		publicAccessBlocks: map[string]*s3types.PublicAccessBlockConfiguration{name: fullyBlocked()},
		versioningStatus:   map[string]s3types.BucketVersioningStatus{name: s3types.BucketVersioningStatusEnabled},
		loggingEnabled:     map[string]bool{name: true},
	}
}

func newS3CheckerForTest(client S3API) *S3Checker {
	return NewS3Checker(client, logger.NewMockLogger())
}

func TestS3CheckerHardenedBucket(t *testing.T) {
	findings, err := newS3CheckerForTest(hardenedBucket("good")).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestS3CheckerPublicAccessBlock(t *testing.T) {
	t.Run("missing configuration", func(t *testing.T) {
		fake := hardenedBucket("b")
		delete(fake.publicAccessBlocks, "b")

		findings, err := newS3CheckerForTest(fake).Run(context.Background())
		require.NoError(t, err)
		require.Len(t, findings, 1)

		f := findings[0]
		assert.Equal(t, "No Public Access Block", f.Type)
		assert.Equal(t, models.SeverityCritical, f.Severity)
		assert.Equal(t, 10, f.RiskScore)
	})

	t.Run("partial configuration", func(t *testing.T) {
		fake := hardenedBucket("b")
		cfg := fullyBlocked()
		cfg.RestrictPublicBuckets = aws.Bool(false)
		fake.publicAccessBlocks["b"] = cfg

		findings, err := newS3CheckerForTest(fake).Run(context.Background())
		require.NoError(t, err)
		require.Len(t, findings, 1)

		f := findings[0]
		assert.Equal(t, "Public Access Not Fully Blocked", f.Type)
		assert.Equal(t, models.SeverityCritical, f.Severity)
		assert.Equal(t, 9, f.RiskScore)
	})
}

func TestS3CheckerEncryption(t *testing.T) {
	fake := hardenedBucket("b")
	fake.encryptionErrs = map[string]error{"b": noEncryptionConfig}

	findings, err := newS3CheckerForTest(fake).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "No Encryption", f.Type)
	assert.Equal(t, models.SeverityHigh, f.Severity)
	assert.Equal(t, 7, f.RiskScore)
}

func TestS3CheckerVersioning(t *testing.T) {
	tests := []struct {
		name        string
		status      s3types.BucketVersioningStatus
		wantStatus  string
		wantFinding bool
	}{
		{name: "enabled", status: s3types.BucketVersioningStatusEnabled},
		{name: "suspended", status: s3types.BucketVersioningStatusSuspended, wantFinding: true, wantStatus: "Suspended"},
		{name: "never configured", status: "", wantFinding: true, wantStatus: "Disabled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := hardenedBucket("b")
			fake.versioningStatus["b"] = tt.status

			findings, err := newS3CheckerForTest(fake).Run(context.Background())
			require.NoError(t, err)

			if !tt.wantFinding {
				assert.Empty(t, findings)
				return
			}

			require.Len(t, findings, 1)
			f := findings[0]
			assert.Equal(t, "Versioning Not Enabled", f.Type)
			assert.Equal(t, models.SeverityMedium, f.Severity)
			assert.Equal(t, 5, f.RiskScore)
			assert.Equal(t, tt.wantStatus, f.Details["versioning_status"])
		})
	}
}

func TestS3CheckerLogging(t *testing.T) {
	fake := hardenedBucket("b")
	fake.loggingEnabled["b"] = false

	findings, err := newS3CheckerForTest(fake).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, "Access Logging Not Enabled", f.Type)
	assert.Equal(t, models.SeverityMedium, f.Severity)
	assert.Equal(t, 4, f.RiskScore)
}

func TestS3CheckerBucketPolicy(t *testing.T) {
	tests := []struct {
		name        string
		policy      string
		wantFinding bool
	}{
		{
			name:        "star principal",
			policy:      `{"Statement":[{"Effect":"Allow","Principal":"*","Action":"s3:GetObject"}]}`,
			wantFinding: true,
		},
		{
			name:        "aws star principal",
			policy:      `{"Statement":[{"Effect":"Allow","Principal":{"AWS":"*"},"Action":"s3:GetObject"}]}`,
			wantFinding: true,
		},
		{
			name:   "deny statement ignored",
			policy: `{"Statement":[{"Effect":"Deny","Principal":"*","Action":"s3:*"}]}`,
		},
		{
			name:   "scoped principal",
			policy: `{"Statement":[{"Effect":"Allow","Principal":{"AWS":"arn:aws:iam::1:root"},"Action":"s3:GetObject"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := hardenedBucket("b")
			fake.policies = map[string]string{"b": tt.policy}

			findings, err := newS3CheckerForTest(fake).Run(context.Background())
			require.NoError(t, err)

			if !tt.wantFinding {
				assert.Empty(t, findings)
				return
			}

			require.Len(t, findings, 1)
			f := findings[0]
			assert.Equal(t, "Public Bucket Policy", f.Type)
			assert.Equal(t, models.SeverityCritical, f.Severity)
			assert.Equal(t, 10, f.RiskScore)
		})
	}
}

func TestS3CheckerBucketACL(t *testing.T) {
	allUsers := "http://acs.amazonaws.com/groups/global/AllUsers"
	authUsers := "http://acs.amazonaws.com/groups/global/AuthenticatedUsers"

	fake := hardenedBucket("b")
	fake.grants = map[string][]s3types.Grant{
		"b": {
			{
				Grantee:    &s3types.Grantee{Type: s3types.TypeGroup, URI: aws.String(allUsers)},
				Permission: s3types.PermissionRead,
			},
			{
				Grantee:    &s3types.Grantee{Type: s3types.TypeGroup, URI: aws.String(authUsers)},
				Permission: s3types.PermissionWrite,
			},
			{
				Grantee:    &s3types.Grantee{Type: s3types.TypeCanonicalUser, ID: aws.String("owner")},
				Permission: s3types.PermissionFullControl,
			},
		},
	}

	findings, err := newS3CheckerForTest(fake).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, findings, 2)

	assert.Equal(t, "Public ACL", findings[0].Type)
	assert.Equal(t, models.SeverityCritical, findings[0].Severity)
	assert.Equal(t, 10, findings[0].RiskScore)

	assert.Equal(t, "Public ACL", findings[1].Type)
	assert.Equal(t, models.SeverityHigh, findings[1].Severity)
	assert.Equal(t, 8, findings[1].RiskScore)
}

func TestS3CheckerPartialFailure(t *testing.T) {
	fake := hardenedBucket("b")
	fake.versioningErrs = map[string]error{
		"b": &smithy.GenericAPIError{Code: "AccessDenied"},
	}
	fake.loggingEnabled["b"] = false

	findings, err := newS3CheckerForTest(fake).Run(context.Background())
	require.Error(t, err)

	// The remaining checks still produced findings.
	require.Len(t, findings, 1)
	assert.Equal(t, "Access Logging Not Enabled", findings[0].Type)
}

func TestS3CheckerListBucketsFailure(t *testing.T) {
	fake := &failingS3{}

	findings, err := newS3CheckerForTest(fake).Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, findings)
}

type failingS3 struct {
	fakeS3
}

func (f *failingS3) ListBuckets(context.Context, *s3svc.ListBucketsInput, ...func(*s3svc.Options)) (*s3svc.ListBucketsOutput, error) {
	return nil, &smithy.GenericAPIError{Code: "AccessDenied"}
}
