package identity

import (
	"context"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// NewApp initializes the Firebase app shared by auth, identity lookups and push.
// When projectID is empty it is taken from the default credentials.
func NewApp(ctx context.Context, projectID, credentialsFile string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	if projectID == "" {
		id, err := discoverProjectID(ctx, credentialsFile)
		if err != nil {
			return nil, err
		}
		projectID = id
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	return app, nil
}

func discoverProjectID(ctx context.Context, credentialsFile string) (string, error) {
	var (
		creds *google.Credentials
		err   error
	)
	if credentialsFile != "" {
		data, readErr := os.ReadFile(credentialsFile)
		if readErr != nil {
			return "", fmt.Errorf("read credentials: %w", readErr)
		}
		creds, err = google.CredentialsFromJSON(ctx, data)
	} else {
		creds, err = google.FindDefaultCredentials(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("FIREBASE_PROJECT_ID is not set and no default credentials: %w", err)
	}
	if creds.ProjectID == "" {
		return "", fmt.Errorf("FIREBASE_PROJECT_ID is not set and credentials carry no project id")
	}
	return creds.ProjectID, nil
}
