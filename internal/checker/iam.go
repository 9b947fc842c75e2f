package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	iamsvc "github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/m-pilli/aws-security-auditor/internal/models"
	"github.com/m-pilli/aws-security-auditor/pkg/logger"
)

// DefaultUnusedKeyDays is the unused access key threshold applied when no
// override is configured.
const DefaultUnusedKeyDays = 90

// adminPolicyNames flag a user as administratively privileged when any of
// them appears in an attached policy name.
var adminPolicyNames = []string{
	"AdministratorAccess",
	"PowerUserAccess",
	"IAMFullAccess",
}

// IAMChecker audits IAM users, policies, and account settings.
type IAMChecker struct {
	client        IAMAPI
	log           logger.Logger
	now           func() time.Time
	unusedKeyDays int
}

// NewIAMChecker creates an IAM checker. unusedKeyDays <= 0 selects the
// default threshold.
func NewIAMChecker(client IAMAPI, log logger.Logger, unusedKeyDays int) *IAMChecker {
	if unusedKeyDays <= 0 {
		unusedKeyDays = DefaultUnusedKeyDays
	}
	return &IAMChecker{
		client:        client,
		log:           log.With("service", "IAM"),
		now:           time.Now,
		unusedKeyDays: unusedKeyDays,
	}
}

// Service returns the service this checker audits.
func (c *IAMChecker) Service() models.Service {
	return models.ServiceIAM
}

// Run executes every IAM check. Checks that fail are reported in the
// returned error; findings from the checks that succeeded are still
// returned.
func (c *IAMChecker) Run(ctx context.Context) ([]models.Finding, error) {
	var findings []models.Finding
	var errs []error

	collect := func(name string, fs []models.Finding, err error) {
		findings = append(findings, fs...)
		if err != nil {
			c.log.Warn("IAM check failed", "check", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	fs, err := c.checkRootMFA(ctx)
	collect("root account MFA", fs, err)

	users, err := c.listUsers(ctx)
	if err != nil {
		c.log.Warn("listing IAM users failed", "error", err)
		errs = append(errs, fmt.Errorf("listing users: %w", err))
	} else {
		fs, err = c.checkUserMFA(ctx, users)
		collect("user MFA", fs, err)

		fs, err = c.checkAdminUsers(ctx, users)
		collect("admin users", fs, err)

		fs, err = c.checkAccessKeys(ctx, users)
		collect("access keys", fs, err)

		fs, err = c.checkInlinePolicies(ctx, users)
		collect("inline policies", fs, err)
	}

	fs, err = c.checkPasswordPolicy(ctx)
	collect("password policy", fs, err)

	fs, err = c.checkPermissivePolicies(ctx)
	collect("permissive policies", fs, err)

	return findings, errors.Join(errs...)
}

func (c *IAMChecker) listUsers(ctx context.Context) ([]iamtypes.User, error) {
	var users []iamtypes.User

	paginator := iamsvc.NewListUsersPaginator(c.client, &iamsvc.ListUsersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		users = append(users, page.Users...)
	}

	return users, nil
}

func (c *IAMChecker) checkRootMFA(ctx context.Context) ([]models.Finding, error) {
	summary, err := c.client.GetAccountSummary(ctx, &iamsvc.GetAccountSummaryInput{})
	if err != nil {
		return nil, err
	}

	if summary.SummaryMap[string(iamtypes.SummaryKeyTypeAccountMFAEnabled)] != 0 {
		return nil, nil
	}

	return []models.Finding{{
		Service:        models.ServiceIAM,
		ResourceID:     "root-account",
		ResourceName:   "Root Account",
		Type:           "Root Account MFA Not Enabled",
		Severity:       models.SeverityCritical,
		RiskScore:      10,
		Description:    "Root account does not have MFA enabled",
		Recommendation: "Enable MFA on the root account immediately",
		Details:        map[string]any{"account_mfa_enabled": 0},
	}}, nil
}

func (c *IAMChecker) checkUserMFA(ctx context.Context, users []iamtypes.User) ([]models.Finding, error) {
	var findings []models.Finding
	var errs []error

	for _, user := range users {
		username := aws.ToString(user.UserName)

		devices, err := c.client.ListMFADevices(ctx, &iamsvc.ListMFADevicesInput{UserName: user.UserName})
		if err != nil {
			errs = append(errs, fmt.Errorf("listing MFA devices for %s: %w", username, err))
			continue
		}
		if len(devices.MFADevices) > 0 {
			continue
		}

		// Only users with console access need MFA.
		_, err = c.client.GetLoginProfile(ctx, &iamsvc.GetLoginProfileInput{UserName: user.UserName})
		if err != nil {
			if apiErrorCode(err) == "NoSuchEntity" {
				continue
			}
			errs = append(errs, fmt.Errorf("getting login profile for %s: %w", username, err))
			continue
		}

		details := map[string]any{"user_name": username}
		if user.CreateDate != nil {
			details["create_date"] = user.CreateDate.Format(time.RFC3339)
		}

		findings = append(findings, models.Finding{
			Service:        models.ServiceIAM,
			ResourceID:     username,
			ResourceName:   username,
			Type:           "User Without MFA",
			Severity:       models.SeverityHigh,
			RiskScore:      8,
			Description:    fmt.Sprintf("User %s has console access but no MFA enabled", username),
			Recommendation: "Enable MFA for this user",
			Details:        details,
		})
	}

	return findings, errors.Join(errs...)
}

func (c *IAMChecker) checkAdminUsers(ctx context.Context, users []iamtypes.User) ([]models.Finding, error) {
	var findings []models.Finding
	var errs []error

	for _, user := range users {
		username := aws.ToString(user.UserName)

		attached, err := c.client.ListAttachedUserPolicies(ctx, &iamsvc.ListAttachedUserPoliciesInput{UserName: user.UserName})
		if err != nil {
			errs = append(errs, fmt.Errorf("listing attached policies for %s: %w", username, err))
			continue
		}

		for _, policy := range attached.AttachedPolicies {
			policyName := aws.ToString(policy.PolicyName)
			if !isAdminPolicy(policyName) {
				continue
			}

			findings = append(findings, models.Finding{
				Service:        models.ServiceIAM,
				ResourceID:     username,
				ResourceName:   username,
				Type:           "User with Admin Privileges",
				Severity:       models.SeverityHigh,
				RiskScore:      8,
				Description:    fmt.Sprintf("User %s has administrative policy %s", username, policyName),
				Recommendation: "Review if admin access is necessary, use groups instead",
				Details: map[string]any{
					"user_name":   username,
					"policy_name": policyName,
					"policy_arn":  aws.ToString(policy.PolicyArn),
				},
			})
		}
	}

	return findings, errors.Join(errs...)
}

func isAdminPolicy(policyName string) bool {
	for _, admin := range adminPolicyNames {
		if strings.Contains(policyName, admin) {
			return true
		}
	}
	return false
}

func (c *IAMChecker) checkAccessKeys(ctx context.Context, users []iamtypes.User) ([]models.Finding, error) {
	var findings []models.Finding
	var errs []error

	now := c.now()

	for _, user := range users {
		username := aws.ToString(user.UserName)

		keys, err := c.client.ListAccessKeys(ctx, &iamsvc.ListAccessKeysInput{UserName: user.UserName})
		if err != nil {
			errs = append(errs, fmt.Errorf("listing access keys for %s: %w", username, err))
			continue
		}

		for _, key := range keys.AccessKeyMetadata {
			if key.Status != iamtypes.StatusTypeActive {
				continue
			}

			keyID := aws.ToString(key.AccessKeyId)
			ageDays := 0
			if key.CreateDate != nil {
				ageDays = int(now.Sub(*key.CreateDate).Hours() / 24)
			}

			// Unknown last use counts as never used.
			daysSinceUse := ageDays
			lastUsed, err := c.client.GetAccessKeyLastUsed(ctx, &iamsvc.GetAccessKeyLastUsedInput{AccessKeyId: key.AccessKeyId})
			if err == nil && lastUsed.AccessKeyLastUsed != nil && lastUsed.AccessKeyLastUsed.LastUsedDate != nil {
				daysSinceUse = int(now.Sub(*lastUsed.AccessKeyLastUsed.LastUsedDate).Hours() / 24)
			}

			if daysSinceUse > c.unusedKeyDays {
				severity := models.SeverityMedium
				riskScore := 6
				if daysSinceUse > 180 {
					severity = models.SeverityHigh
					riskScore = 8
				}

				findings = append(findings, models.Finding{
					Service:        models.ServiceIAM,
					ResourceID:     keyID,
					ResourceName:   username,
					Type:           "Unused Access Key",
					Severity:       severity,
					RiskScore:      riskScore,
					Description:    fmt.Sprintf("Access key %s for user %s unused for %d days", keyID, username, daysSinceUse),
					Recommendation: "Rotate or deactivate unused access keys",
					Details: map[string]any{
						"user_name":      username,
						"key_id":         keyID,
						"age_days":       ageDays,
						"days_since_use": daysSinceUse,
						"status":         string(key.Status),
					},
				})
			}

			// Key age is checked independently of use, so a key can be
			// flagged as both unused and old.
			if ageDays > 365 {
				findings = append(findings, models.Finding{
					Service:        models.ServiceIAM,
					ResourceID:     keyID,
					ResourceName:   username,
					Type:           "Old Access Key",
					Severity:       models.SeverityMedium,
					RiskScore:      5,
					Description:    fmt.Sprintf("Access key %s for user %s is %d days old", keyID, username, ageDays),
					Recommendation: "Rotate access keys regularly (at least annually)",
					Details: map[string]any{
						"user_name": username,
						"key_id":    keyID,
						"age_days":  ageDays,
						"status":    string(key.Status),
					},
				})
			}
		}
	}

	return findings, errors.Join(errs...)
}

func (c *IAMChecker) checkPasswordPolicy(ctx context.Context) ([]models.Finding, error) {
	out, err := c.client.GetAccountPasswordPolicy(ctx, &iamsvc.GetAccountPasswordPolicyInput{})
	if err != nil {
		if apiErrorCode(err) == "NoSuchEntity" {
			return []models.Finding{{
				Service:        models.ServiceIAM,
				ResourceID:     "password-policy",
				ResourceName:   "Account Password Policy",
				Type:           "No Password Policy",
				Severity:       models.SeverityHigh,
				RiskScore:      7,
				Description:    "No password policy configured for the account",
				Recommendation: "Configure a strong password policy",
				Details:        map[string]any{},
			}}, nil
		}
		return nil, err
	}

	policy := out.PasswordPolicy
	minLength := int(aws.ToInt32(policy.MinimumPasswordLength))
	details := map[string]any{
		"minimum_password_length": minLength,
		"require_symbols":         policy.RequireSymbols,
		"require_numbers":         policy.RequireNumbers,
	}

	var findings []models.Finding

	if minLength < 14 {
		findings = append(findings, models.Finding{
			Service:        models.ServiceIAM,
			ResourceID:     "password-policy",
			ResourceName:   "Account Password Policy",
			Type:           "Weak Password Policy",
			Severity:       models.SeverityMedium,
			RiskScore:      6,
			Description:    fmt.Sprintf("Password minimum length is %d (recommended: 14+)", minLength),
			Recommendation: "Set minimum password length to at least 14 characters",
			Details:        details,
		})
	}

	if !policy.RequireSymbols {
		findings = append(findings, models.Finding{
			Service:        models.ServiceIAM,
			ResourceID:     "password-policy",
			ResourceName:   "Account Password Policy",
			Type:           "Weak Password Policy",
			Severity:       models.SeverityMedium,
			RiskScore:      5,
			Description:    "Password policy does not require symbols",
			Recommendation: "Enable symbol requirement in password policy",
			Details:        details,
		})
	}

	if !policy.RequireNumbers {
		findings = append(findings, models.Finding{
			Service:        models.ServiceIAM,
			ResourceID:     "password-policy",
			ResourceName:   "Account Password Policy",
			Type:           "Weak Password Policy",
			Severity:       models.SeverityMedium,
			RiskScore:      5,
			Description:    "Password policy does not require numbers",
			Recommendation: "Enable number requirement in password policy",
			Details:        details,
		})
	}

	return findings, nil
}

func (c *IAMChecker) checkPermissivePolicies(ctx context.Context) ([]models.Finding, error) {
	var findings []models.Finding
	var errs []error

	paginator := iamsvc.NewListPoliciesPaginator(c.client, &iamsvc.ListPoliciesInput{
		Scope: iamtypes.PolicyScopeTypeLocal,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("listing policies: %w", err))
			break
		}

		for _, policy := range page.Policies {
			fs, err := c.checkPolicyDocument(ctx, policy)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			findings = append(findings, fs...)
		}
	}

	return findings, errors.Join(errs...)
}

func (c *IAMChecker) checkPolicyDocument(ctx context.Context, policy iamtypes.Policy) ([]models.Finding, error) {
	policyArn := aws.ToString(policy.Arn)
	policyName := aws.ToString(policy.PolicyName)

	got, err := c.client.GetPolicy(ctx, &iamsvc.GetPolicyInput{PolicyArn: policy.Arn})
	if err != nil {
		return nil, fmt.Errorf("getting policy %s: %w", policyName, err)
	}

	version, err := c.client.GetPolicyVersion(ctx, &iamsvc.GetPolicyVersionInput{
		PolicyArn: policy.Arn,
		VersionId: got.Policy.DefaultVersionId,
	})
	if err != nil {
		return nil, fmt.Errorf("getting policy version for %s: %w", policyName, err)
	}

	doc, err := parsePolicyDocument(aws.ToString(version.PolicyVersion.Document))
	if err != nil {
		return nil, fmt.Errorf("parsing policy document for %s: %w", policyName, err)
	}

	var findings []models.Finding
	for _, statement := range doc.Statement {
		if statement.Effect != "Allow" {
			continue
		}

		if statement.Action.contains("*") {
			findings = append(findings, models.Finding{
				Service:        models.ServiceIAM,
				ResourceID:     policyArn,
				ResourceName:   policyName,
				Type:           "Overly Permissive Policy",
				Severity:       models.SeverityHigh,
				RiskScore:      8,
				Description:    fmt.Sprintf("Policy %s allows all actions (*)", policyName),
				Recommendation: "Follow principle of least privilege, specify exact actions needed",
				Details: map[string]any{
					"policy_name": policyName,
					"policy_arn":  policyArn,
					"actions":     []string(statement.Action),
					"resources":   []string(statement.Resource),
				},
			})
		} else if statement.Resource.contains("*") && statement.Action.anyServiceWildcard() {
			findings = append(findings, models.Finding{
				Service:        models.ServiceIAM,
				ResourceID:     policyArn,
				ResourceName:   policyName,
				Type:           "Overly Permissive Policy",
				Severity:       models.SeverityMedium,
				RiskScore:      6,
				Description:    fmt.Sprintf("Policy %s allows broad actions on all resources", policyName),
				Recommendation: "Restrict policy to specific resources",
				Details: map[string]any{
					"policy_name": policyName,
					"policy_arn":  policyArn,
					"actions":     []string(statement.Action),
				},
			})
		}
	}

	return findings, nil
}

func (c *IAMChecker) checkInlinePolicies(ctx context.Context, users []iamtypes.User) ([]models.Finding, error) {
	var findings []models.Finding
	var errs []error

	for _, user := range users {
		username := aws.ToString(user.UserName)

		inline, err := c.client.ListUserPolicies(ctx, &iamsvc.ListUserPoliciesInput{UserName: user.UserName})
		if err != nil {
			errs = append(errs, fmt.Errorf("listing inline policies for %s: %w", username, err))
			continue
		}
		if len(inline.PolicyNames) == 0 {
			continue
		}

		findings = append(findings, models.Finding{
			Service:        models.ServiceIAM,
			ResourceID:     username,
			ResourceName:   username,
			Type:           "Inline Policy Usage",
			Severity:       models.SeverityLow,
			RiskScore:      3,
			Description:    fmt.Sprintf("User %s has %d inline policies", username, len(inline.PolicyNames)),
			Recommendation: "Use managed policies instead of inline policies for better governance",
			Details: map[string]any{
				"user_name":    username,
				"policy_count": len(inline.PolicyNames),
				"policy_names": inline.PolicyNames,
			},
		})
	}

	return findings, errors.Join(errs...)
}

// policyDocument is an IAM policy document. Statement, Action, and Resource
// all accept either a single value or a list on the wire.
type policyDocument struct {
	Statement statementList `json:"Statement"`
}

type policyStatement struct {
	Effect   string     `json:"Effect"`
	Action   stringList `json:"Action"`
	Resource stringList `json:"Resource"`
}

type statementList []policyStatement

func (s *statementList) UnmarshalJSON(data []byte) error {
	var list []policyStatement
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}

	var single policyStatement
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*s = statementList{single}
	return nil
}

type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	*s = stringList{single}
	return nil
}

func (s stringList) contains(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
	}
	return false
}

// anyServiceWildcard reports whether any action grants every operation of a
// service, like "s3:*".
func (s stringList) anyServiceWildcard() bool {
	for _, v := range s {
		if strings.Contains(v, ":*") {
			return true
		}
	}
	return false
}

// parsePolicyDocument decodes a policy document as returned by
// GetPolicyVersion, which URL-encodes the JSON.
func parsePolicyDocument(document string) (*policyDocument, error) {
	decoded, err := url.QueryUnescape(document)
	if err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}

	var doc policyDocument
	if err := json.Unmarshal([]byte(decoded), &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling document: %w", err)
	}

	return &doc, nil
}
