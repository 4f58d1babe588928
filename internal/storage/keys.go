package storage

import (
	"fmt"
	"strings"
)

// RootID normalizes a configured destination root into a container ID:
// no leading slash, exactly one trailing slash. An empty root is the bucket itself.
func RootID(root string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return ""
	}
	return root + "/"
}

// ChildKey joins a container ID and a child name into an object key.
func ChildKey(parentID, name string) (string, error) {
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if parentID != "" && !strings.HasSuffix(parentID, "/") {
		return "", fmt.Errorf("%w: container id %q must end with /", ErrInvalidName, parentID)
	}
	return parentID + name, nil
}

// ContainerKey is the marker key of a container named name under parentID.
func ContainerKey(parentID, name string) (string, error) {
	key, err := ChildKey(parentID, name)
	if err != nil {
		return "", err
	}
	return key + "/", nil
}

// entryFromKey converts a listed key under parentID into an Entry.
// ok is false for the parent's own marker.
func entryFromKey(parentID, key string) (Entry, bool) {
	rel := strings.TrimPrefix(key, parentID)
	if rel == "" {
		return Entry{}, false
	}
	if strings.HasSuffix(rel, "/") {
		return Entry{ID: key, Name: strings.TrimSuffix(rel, "/"), Container: true}, true
	}
	return Entry{ID: key, Name: rel}, true
}
