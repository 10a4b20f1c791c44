package utils

import "strings"

// KeyRefKind classifies how a KMS key is referenced.
type KeyRefKind string

const (
	KeyRefAlias    KeyRefKind = "alias"
	KeyRefAliasARN KeyRefKind = "alias-arn"
	KeyRefKeyARN   KeyRefKind = "key-arn"
	KeyRefKeyID    KeyRefKind = "key-id"
)

// ClassifyKeyRef reports whether ref is an alias name, an alias ARN, a key
// ARN or a bare key id.
func ClassifyKeyRef(ref string) KeyRefKind {
	switch {
	case strings.HasPrefix(ref, "alias/"):
		return KeyRefAlias
	case strings.HasPrefix(ref, "arn:") && strings.Contains(ref, ":alias/"):
		return KeyRefAliasARN
	case strings.HasPrefix(ref, "arn:"):
		return KeyRefKeyARN
	default:
		return KeyRefKeyID
	}
}

// ShortName extracts the last segment after "/" from an ARN or path.
// Returns the input unchanged if no "/" is found.
func ShortName(arn string) string {
	if parts := strings.Split(arn, "/"); len(parts) > 1 {
		return parts[len(parts)-1]
	}
	return arn
}
