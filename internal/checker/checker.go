package checker

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"

	"github.com/m-pilli/aws-security-auditor/internal/models"
)

// Checker inspects one AWS service and reports security findings.
//
// Run returns every finding it could determine along with an error
// describing any checks that could not complete. A non-nil error does not
// invalidate the returned findings; callers decide whether a partial result
// is acceptable.
type Checker interface {
	Service() models.Service
	Run(ctx context.Context) ([]models.Finding, error)
}

// apiErrorCode extracts the AWS API error code from err, or returns "" if
// err is not an API error.
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
