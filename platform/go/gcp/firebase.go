package gcp

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// FirebaseConfig selects the project and credentials. Empty values fall back
// to application default credentials.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// NewApp creates a Firebase App instance.
func NewApp(ctx context.Context, cfg FirebaseConfig) (*firebase.App, error) {
	var conf *firebase.Config
	if strings.TrimSpace(cfg.ProjectID) != "" {
		conf = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return firebase.NewApp(ctx, conf, opts...)
}

// InitFirebaseAuth initializes the Firebase App and returns an Auth client.
func InitFirebaseAuth(ctx context.Context, cfg FirebaseConfig) (*firebaseauth.Client, error) {
	app, err := NewApp(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app [%w]", err)
	}

	fbAuth, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase auth [%w]", err)
	}
	return fbAuth, nil
}
