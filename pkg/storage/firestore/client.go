package firestore

import (
	"cloud.google.com/go/firestore"

	shared "github.com/fitglue/workoutsync/pkg"
	"github.com/fitglue/workoutsync/pkg/types"
)

type Client struct {
	fs *firestore.Client
}

func NewClient(client *firestore.Client) *Client {
	return &Client{fs: client}
}

func (c *Client) Close() error {
	return c.fs.Close()
}

// Credentials is a top-level collection: integration_credentials/{userId}_{provider}
func (c *Client) Credentials() *Collection[types.CredentialRecord] {
	return &Collection[types.CredentialRecord]{
		Ref:           c.fs.Collection(shared.CollectionCredentials),
		ToFirestore:   CredentialToFirestore,
		FromFirestore: FirestoreToCredential,
	}
}

// CredentialDocID is the document id of the (user, provider) record.
func CredentialDocID(userID string, provider types.Provider) string {
	return userID + "_" + provider.String()
}
