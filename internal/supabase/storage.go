package supabase

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	storage "github.com/supabase-community/storage-go"
)

// StorageClient archives verified webhook payloads so they can be replayed.
type StorageClient struct {
	client *storage.Client
	bucket string
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string) (*StorageClient, error) {
	if bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	baseURL := strings.TrimSuffix(supabaseURL, "/")
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return &StorageClient{
		client: client,
		bucket: bucket,
	}, nil
}

// EventPath is the object key for an archived event.
func EventPath(eventID string) string {
	return fmt.Sprintf("events/%s.json", eventID)
}

// ArchiveEvent stores the raw payload. Redeliveries overwrite the same object.
func (s *StorageClient) ArchiveEvent(eventID string, payload []byte) (string, error) {
	storagePath := EventPath(eventID)

	contentType := "application/json"
	upsert := true
	_, err := s.client.UploadFile(s.bucket, storagePath, bytes.NewReader(payload), storage.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive event %s: %w", eventID, err)
	}

	return storagePath, nil
}

func (s *StorageClient) FetchEvent(eventID string) ([]byte, error) {
	data, err := s.client.DownloadFile(s.bucket, EventPath(eventID))
	if err != nil {
		return nil, fmt.Errorf("failed to download event %s: %w", eventID, err)
	}

	return data, nil
}

func (s *StorageClient) DeleteEvent(eventID string) error {
	if _, err := s.client.RemoveFile(s.bucket, []string{EventPath(eventID)}); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", eventID, err)
	}
	return nil
}
