package storage

import (
	"fmt"
	"path"
	"strings"
)

// ItemAssetPath returns the object key for a catalog item's deliverable file. A stored
// object path that is already absolute within the bucket is returned cleaned.
func ItemAssetPath(itemID, fileName string) (string, error) {
	fileName = strings.TrimSpace(fileName)
	if strings.HasPrefix(fileName, "items/") {
		if err := rejectTraversal("fileName", fileName); err != nil {
			return "", err
		}
		return path.Clean(fileName), nil
	}
	id, err := validateSegment("itemID", itemID)
	if err != nil {
		return "", err
	}
	name, err := validateSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("items/%s/assets/%s", id, name), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	return value, rejectTraversal(name, value)
}

func rejectTraversal(name, value string) error {
	if strings.Contains(value, "..") {
		return fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return nil
}
