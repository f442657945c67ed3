package s3client

import (
	"context"
	"testing"
)

// TestClient creates an S3 client backed by gofakes3 for testing.
// The server is closed when the test completes.
func TestClient(t testing.TB, bucketName string) *Client {
	t.Helper()

	ms, err := StartMemoryServer()
	if err != nil {
		t.Fatalf("failed to start memory S3: %v", err)
	}
	t.Cleanup(func() {
		ms.Close()
	})

	c, err := ms.Client(context.Background(), bucketName)
	if err != nil {
		t.Fatalf("failed to create test bucket: %v", err)
	}
	return c
}
