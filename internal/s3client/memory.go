package s3client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"github.com/kuitang/yanote/internal/obs"
)

// MemoryServer is a gofakes3 server on a loopback port. Objects live only
// as long as the process.
type MemoryServer struct {
	URL    string
	server *http.Server
	done   chan struct{}
}

// StartMemoryServer listens on 127.0.0.1 with an in-memory S3 backend.
func StartMemoryServer() (*MemoryServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("s3client: listen: %w", err)
	}
	faker := gofakes3.New(s3mem.New())
	ms := &MemoryServer{
		URL:    "http://" + ln.Addr().String(),
		server: &http.Server{Handler: faker.Server()},
		done:   make(chan struct{}),
	}
	go func() {
		defer close(ms.done)
		if err := ms.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Pkg("s3client").Error("memory_s3_stopped", "error", err)
		}
	}()
	return ms, nil
}

// Client returns a client for bucketName on this server, creating the bucket.
func (ms *MemoryServer) Client(ctx context.Context, bucketName string) (*Client, error) {
	c, err := New(ctx, Config{
		Endpoint:        ms.URL,
		Region:          "us-east-1",
		AccessKeyID:     "memory-key",
		SecretAccessKey: "memory-secret",
		BucketName:      bucketName,
		UsePathStyle:    true,
	})
	if err != nil {
		return nil, err
	}
	_, err = c.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)})
	if err != nil {
		return nil, fmt.Errorf("s3client: create bucket %q: %w", bucketName, err)
	}
	return c, nil
}

// Close stops the server and waits for it to exit.
func (ms *MemoryServer) Close() error {
	err := ms.server.Close()
	<-ms.done
	return err
}
