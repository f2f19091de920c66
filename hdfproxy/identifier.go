package hdfproxy

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// BuildIdentifier returns the identifier of a dataset under a resource.
func BuildIdentifier(resourceURI, datasetPath string) ArrayIdentifier {
	return ArrayIdentifier{URI: resourceURI, PathInResource: datasetPath}
}

// DatasetPath joins a group path and a dataset name with a single slash.
// A group that already ends in a slash is used as is.
func DatasetPath(group, name string) string {
	if strings.HasSuffix(group, "/") {
		return group + name
	}
	return group + "/" + name
}

// BuildResourceURI returns the ETP 1.2 URI of a data object.
//
//	eml:///dataspace('<dataspace>')/<objectType>(<uuid>)
//
// The dataspace segment is omitted when dataspace is empty.
func BuildResourceURI(dataspace, objectType string, id uuid.UUID) (string, error) {
	if objectType == "" {
		return "", fmt.Errorf("hdfproxy: object type must not be empty: %w", ErrInvalidArgument)
	}
	if id == uuid.Nil {
		return "", fmt.Errorf("hdfproxy: object uuid must not be nil: %w", ErrInvalidArgument)
	}
	if dataspace == "" {
		return fmt.Sprintf("eml:///%s(%s)", objectType, id), nil
	}
	return fmt.Sprintf("eml:///dataspace('%s')/%s(%s)", dataspace, objectType, id), nil
}
