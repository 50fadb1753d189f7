package collector

import "strings"

// GlobalQueryRegion is where calls for global resource types are sent.
const GlobalQueryRegion = "us-east-1"

// globalServices are account-scoped services whose resources are not tied to
// a region and must be queried once per account.
var globalServices = map[string]struct{}{
	"iam":               {},
	"route53":           {},
	"route53domains":    {},
	"cloudfront":        {},
	"organizations":     {},
	"shield":            {},
	"waf":               {},
	"globalaccelerator": {},
	"support":           {},
	"billing":           {},
	"ce":                {},
	"s3":                {},
}

// IsGlobalService reports whether a service is account-scoped.
func IsGlobalService(service string) bool {
	_, ok := globalServices[strings.ToLower(service)]
	return ok
}

// ServiceOf derives the service name from a resource type such as
// AWS::EC2::Instance.
func ServiceOf(resourceType string) string {
	parts := strings.Split(resourceType, "::")
	if len(parts) < 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}
