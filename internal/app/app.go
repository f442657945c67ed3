// Package app assembles the yanote services from a Config. Both the server
// and notesctl build on it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/kuitang/yanote/internal/auth"
	"github.com/kuitang/yanote/internal/backup"
	"github.com/kuitang/yanote/internal/config"
	"github.com/kuitang/yanote/internal/crypto"
	"github.com/kuitang/yanote/internal/db"
	"github.com/kuitang/yanote/internal/notes"
	"github.com/kuitang/yanote/internal/s3client"
)

// App holds the opened database and the services built on it.
type App struct {
	Config   *config.Config
	DB       *db.DB
	Users    *auth.UserService
	Sessions *auth.SessionService
	Notes    *notes.Service

	// Backups is nil unless a backup store is configured.
	Backups *backup.Runner

	memS3 *s3client.MemoryServer
}

// New opens the database and wires the services. withBackups builds the
// backup runner even when BACKUP_INTERVAL is unset (for one-off backups).
func New(ctx context.Context, cfg *config.Config, withBackups bool) (*App, error) {
	masterKey, err := crypto.ParseMasterKey(cfg.MasterKey)
	if err != nil {
		return nil, err
	}
	database, err := db.Open(cfg.DatabasePath, crypto.DatabaseKeyHex(masterKey))
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		DB:       database,
		Users:    auth.NewUserService(database, auth.Argon2Hasher{}),
		Sessions: auth.NewSessionService(database, cfg.SessionDuration, cfg.RequireSecureCookies()),
		Notes:    notes.NewService(database),
	}

	if withBackups || cfg.BackupsEnabled() {
		store, err := a.openBackupStore(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Backups = backup.NewRunner(database, store, backup.Config{Retain: cfg.BackupRetain})
	}
	return a, nil
}

func (a *App) openBackupStore(ctx context.Context) (*s3client.Client, error) {
	cfg := a.Config
	if cfg.NoS3 {
		ms, err := s3client.StartMemoryServer()
		if err != nil {
			return nil, err
		}
		a.memS3 = ms
		bucket := cfg.AWSBucketName
		if bucket == "" {
			bucket = "yanote-backups"
		}
		return ms.Client(ctx, bucket)
	}
	if cfg.AWSBucketName == "" {
		return nil, errors.New("BUCKET_NAME is required for backups (or use --no-s3)")
	}
	client, err := s3client.New(ctx, s3client.Config{
		Endpoint:        cfg.AWSEndpointS3,
		Region:          cfg.AWSRegion,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
		BucketName:      cfg.AWSBucketName,
	})
	if err != nil {
		return nil, fmt.Errorf("backup store: %w", err)
	}
	return client, nil
}

// Close stops the backup loop and releases the database.
func (a *App) Close() error {
	if a.Backups != nil {
		a.Backups.Stop()
	}
	if a.memS3 != nil {
		a.memS3.Close()
	}
	return a.DB.Close()
}
