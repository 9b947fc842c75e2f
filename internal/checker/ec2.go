package checker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/m-pilli/aws-security-auditor/internal/models"
	"github.com/m-pilli/aws-security-auditor/pkg/logger"
)

// criticalPorts are services that must never be reachable from the
// internet. The port maps to the display name used in finding types.
var criticalPorts = map[int32]string{
	22:    "SSH",
	3389:  "RDP",
	1433:  "SQL Server",
	3306:  "MySQL",
	5432:  "PostgreSQL",
	27017: "MongoDB",
	6379:  "Redis",
}

// requiredTags must be present on every instance.
var requiredTags = []string{"Name", "Environment", "Owner"}

// EC2Checker audits security groups, instances, volumes, and snapshots.
type EC2Checker struct {
	client EC2API
	log    logger.Logger
}

// NewEC2Checker creates an EC2 checker.
func NewEC2Checker(client EC2API, log logger.Logger) *EC2Checker {
	return &EC2Checker{
		client: client,
		log:    log.With("service", "EC2"),
	}
}

// Service returns the service this checker audits.
func (c *EC2Checker) Service() models.Service {
	return models.ServiceEC2
}

// Run executes every EC2 check. Checks that fail are reported in the
// returned error; findings from the checks that succeeded are still
// returned.
func (c *EC2Checker) Run(ctx context.Context) ([]models.Finding, error) {
	var findings []models.Finding
	var errs []error

	collect := func(name string, fs []models.Finding, err error) {
		findings = append(findings, fs...)
		if err != nil {
			c.log.Warn("EC2 check failed", "check", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	fs, err := c.checkSecurityGroups(ctx)
	collect("security groups", fs, err)

	fs, err = c.checkInstances(ctx)
	collect("instances", fs, err)

	fs, err = c.checkVolumes(ctx)
	collect("volumes", fs, err)

	fs, err = c.checkSnapshots(ctx)
	collect("snapshots", fs, err)

	return findings, errors.Join(errs...)
}

func (c *EC2Checker) checkSecurityGroups(ctx context.Context) ([]models.Finding, error) {
	var findings []models.Finding

	paginator := ec2svc.NewDescribeSecurityGroupsPaginator(c.client, &ec2svc.DescribeSecurityGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return findings, err
		}

		for _, sg := range page.SecurityGroups {
			findings = append(findings, c.auditSecurityGroup(sg)...)
		}
	}

	return findings, nil
}

func (c *EC2Checker) auditSecurityGroup(sg ec2types.SecurityGroup) []models.Finding {
	groupID := aws.ToString(sg.GroupId)
	groupName := aws.ToString(sg.GroupName)

	var findings []models.Finding

	for _, rule := range sg.IpPermissions {
		// A rule without explicit ports covers everything.
		fromPort := int32(0)
		toPort := int32(65535)
		if rule.FromPort != nil {
			fromPort = *rule.FromPort
		}
		if rule.ToPort != nil {
			toPort = *rule.ToPort
		}
		protocol := aws.ToString(rule.IpProtocol)
		if protocol == "" {
			protocol = "-1"
		}

		for _, ipRange := range rule.IpRanges {
			if aws.ToString(ipRange.CidrIp) != "0.0.0.0/0" {
				continue
			}

			ruleDetails := map[string]any{
				"group_id":   groupID,
				"group_name": groupName,
				"protocol":   protocol,
				"from_port":  int(fromPort),
				"to_port":    int(toPort),
				"cidr":       "0.0.0.0/0",
			}

			switch {
			case protocol == "-1" || (fromPort == 0 && toPort == 65535):
				findings = append(findings, models.Finding{
					Service:        models.ServiceEC2,
					ResourceID:     groupID,
					ResourceName:   groupName,
					Type:           "Security Group - All Ports Open",
					Severity:       models.SeverityCritical,
					RiskScore:      10,
					Description:    fmt.Sprintf("Security group %s allows all traffic from 0.0.0.0/0", groupName),
					Recommendation: "Restrict security group to specific ports and IP ranges",
					Details:        ruleDetails,
				})

			case criticalPorts[fromPort] != "" || criticalPorts[toPort] != "":
				portName := criticalPorts[fromPort]
				if portName == "" {
					portName = criticalPorts[toPort]
				}

				details := map[string]any{
					"group_id":   groupID,
					"group_name": groupName,
					"port":       int(fromPort),
					"service":    portName,
				}
				findings = append(findings, models.Finding{
					Service:        models.ServiceEC2,
					ResourceID:     groupID,
					ResourceName:   groupName,
					Type:           fmt.Sprintf("Security Group - %s Open to Internet", portName),
					Severity:       models.SeverityCritical,
					RiskScore:      9,
					Description:    fmt.Sprintf("Security group %s allows %s (port %d) from 0.0.0.0/0", groupName, portName, fromPort),
					Recommendation: fmt.Sprintf("Restrict %s access to specific IP ranges", portName),
					Details:        details,
				})

			case fromPort != 80 && fromPort != 443:
				findings = append(findings, models.Finding{
					Service:        models.ServiceEC2,
					ResourceID:     groupID,
					ResourceName:   groupName,
					Type:           "Security Group - Port Open to Internet",
					Severity:       models.SeverityHigh,
					RiskScore:      7,
					Description:    fmt.Sprintf("Security group %s allows port %d from 0.0.0.0/0", groupName, fromPort),
					Recommendation: "Restrict access to specific IP ranges",
					Details:        ruleDetails,
				})
			}
		}

		for _, ipv6Range := range rule.Ipv6Ranges {
			if aws.ToString(ipv6Range.CidrIpv6) != "::/0" {
				continue
			}

			findings = append(findings, models.Finding{
				Service:        models.ServiceEC2,
				ResourceID:     groupID,
				ResourceName:   groupName,
				Type:           "Security Group - IPv6 Open to Internet",
				Severity:       models.SeverityHigh,
				RiskScore:      8,
				Description:    fmt.Sprintf("Security group %s allows IPv6 traffic from ::/0", groupName),
				Recommendation: "Restrict IPv6 access to specific ranges",
				Details: map[string]any{
					"group_id":   groupID,
					"group_name": groupName,
					"protocol":   protocol,
					"from_port":  int(fromPort),
					"to_port":    int(toPort),
					"cidr":       "::/0",
				},
			})
		}
	}

	return findings
}

func (c *EC2Checker) checkInstances(ctx context.Context) ([]models.Finding, error) {
	var findings []models.Finding

	paginator := ec2svc.NewDescribeInstancesPaginator(c.client, &ec2svc.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return findings, err
		}

		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				findings = append(findings, c.auditInstance(instance)...)
			}
		}
	}

	return findings, nil
}

func (c *EC2Checker) auditInstance(instance ec2types.Instance) []models.Finding {
	if instance.State == nil || instance.State.Name != ec2types.InstanceStateNameRunning {
		return nil
	}

	instanceID := aws.ToString(instance.InstanceId)
	tags := tagMap(instance.Tags)
	displayName := tags["Name"]
	if displayName == "" {
		displayName = instanceID
	}

	var findings []models.Finding

	var missingTags []string
	for _, tag := range requiredTags {
		if _, ok := tags[tag]; !ok {
			missingTags = append(missingTags, tag)
		}
	}
	if len(missingTags) > 0 {
		findings = append(findings, models.Finding{
			Service:        models.ServiceEC2,
			ResourceID:     instanceID,
			ResourceName:   displayName,
			Type:           "Missing Security Tags",
			Severity:       models.SeverityLow,
			RiskScore:      3,
			Description:    fmt.Sprintf("Instance %s missing tags: %s", instanceID, strings.Join(missingTags, ", ")),
			Recommendation: "Add required tags for proper resource management",
			Details: map[string]any{
				"instance_id":  instanceID,
				"missing_tags": missingTags,
				"current_tags": tags,
			},
		})
	}

	if publicIP := aws.ToString(instance.PublicIpAddress); publicIP != "" {
		findings = append(findings, models.Finding{
			Service:        models.ServiceEC2,
			ResourceID:     instanceID,
			ResourceName:   displayName,
			Type:           "Instance with Public IP",
			Severity:       models.SeverityMedium,
			RiskScore:      5,
			Description:    fmt.Sprintf("Instance %s has public IP address", instanceID),
			Recommendation: "Review if public IP is necessary, use bastion host or VPN instead",
			Details: map[string]any{
				"instance_id": instanceID,
				"public_ip":   publicIP,
			},
		})
	}

	if instance.MetadataOptions == nil || instance.MetadataOptions.HttpTokens != ec2types.HttpTokensStateRequired {
		httpTokens := ""
		if instance.MetadataOptions != nil {
			httpTokens = string(instance.MetadataOptions.HttpTokens)
		}
		findings = append(findings, models.Finding{
			Service:        models.ServiceEC2,
			ResourceID:     instanceID,
			ResourceName:   displayName,
			Type:           "IMDSv1 Enabled",
			Severity:       models.SeverityMedium,
			RiskScore:      6,
			Description:    fmt.Sprintf("Instance %s allows IMDSv1 (insecure metadata service)", instanceID),
			Recommendation: "Require IMDSv2 for better security",
			Details: map[string]any{
				"instance_id": instanceID,
				"http_tokens": httpTokens,
			},
		})
	}

	if instance.Monitoring == nil || instance.Monitoring.State != ec2types.MonitoringStateEnabled {
		findings = append(findings, models.Finding{
			Service:        models.ServiceEC2,
			ResourceID:     instanceID,
			ResourceName:   displayName,
			Type:           "Detailed Monitoring Not Enabled",
			Severity:       models.SeverityLow,
			RiskScore:      2,
			Description:    fmt.Sprintf("Instance %s does not have detailed monitoring enabled", instanceID),
			Recommendation: "Enable detailed monitoring for better visibility",
			Details:        map[string]any{"instance_id": instanceID},
		})
	}

	return findings
}

func (c *EC2Checker) checkVolumes(ctx context.Context) ([]models.Finding, error) {
	var findings []models.Finding

	paginator := ec2svc.NewDescribeVolumesPaginator(c.client, &ec2svc.DescribeVolumesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return findings, err
		}

		for _, volume := range page.Volumes {
			if aws.ToBool(volume.Encrypted) {
				continue
			}

			volumeID := aws.ToString(volume.VolumeId)
			tags := tagMap(volume.Tags)
			volumeName := tags["Name"]
			if volumeName == "" {
				volumeName = volumeID
			}

			findings = append(findings, models.Finding{
				Service:        models.ServiceEC2,
				ResourceID:     volumeID,
				ResourceName:   volumeName,
				Type:           "Unencrypted EBS Volume",
				Severity:       models.SeverityHigh,
				RiskScore:      7,
				Description:    fmt.Sprintf("EBS volume %s is not encrypted", volumeID),
				Recommendation: "Enable encryption for all EBS volumes",
				Details: map[string]any{
					"volume_id": volumeID,
					"size":      int(aws.ToInt32(volume.Size)),
					"state":     string(volume.State),
				},
			})
		}
	}

	return findings, nil
}

func (c *EC2Checker) checkSnapshots(ctx context.Context) ([]models.Finding, error) {
	var findings []models.Finding

	paginator := ec2svc.NewDescribeSnapshotsPaginator(c.client, &ec2svc.DescribeSnapshotsInput{
		OwnerIds: []string{"self"},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return findings, err
		}

		for _, snapshot := range page.Snapshots {
			snapshotID := aws.ToString(snapshot.SnapshotId)

			attrs, err := c.client.DescribeSnapshotAttribute(ctx, &ec2svc.DescribeSnapshotAttributeInput{
				SnapshotId: snapshot.SnapshotId,
				Attribute:  ec2types.SnapshotAttributeNameCreateVolumePermission,
			})
			if err != nil {
				// One unreadable snapshot should not abort the sweep.
				c.log.Debug("skipping snapshot attribute check", "snapshot", snapshotID, "error", err)
				continue
			}

			for _, permission := range attrs.CreateVolumePermissions {
				if permission.Group != ec2types.PermissionGroupAll {
					continue
				}

				findings = append(findings, models.Finding{
					Service:        models.ServiceEC2,
					ResourceID:     snapshotID,
					ResourceName:   snapshotID,
					Type:           "Public Snapshot",
					Severity:       models.SeverityCritical,
					RiskScore:      9,
					Description:    fmt.Sprintf("Snapshot %s is publicly accessible", snapshotID),
					Recommendation: "Remove public access from snapshot",
					Details: map[string]any{
						"snapshot_id": snapshotID,
						"volume_id":   aws.ToString(snapshot.VolumeId),
					},
				})
				break
			}
		}
	}

	return findings, nil
}

func tagMap(tags []ec2types.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, tag := range tags {
		m[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return m
}
