package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mentionist/pkg/domain/interfaces"
	"github.com/secmon-lab/mentionist/pkg/domain/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	workspacesCollection  = "workspaces"
	usersCollection       = "users"
	metadataCollection    = "metadata"
	userDirectoryDocument = "user_directory"

	// Firestore batch operation limits
	// Reference: https://cloud.google.com/firestore/docs/query-data/get-data#go
	firestoreGetAllLimit = 30 // Maximum document references per GetAll
)

type userRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

var _ interfaces.UserRepository = &userRepository{}

func newUserRepository(client *firestore.Client) *userRepository {
	return &userRepository{
		client: client,
	}
}

// userDoc is the Firestore persistence model
type userDoc struct {
	ID          string    `firestore:"id"`
	ExternalID  string    `firestore:"external_id"`
	Name        string    `firestore:"name"`
	DisplayName string    `firestore:"display_name"`
	FullName    string    `firestore:"full_name"`
	AvatarURL   string    `firestore:"avatar_url"`
	UpdatedAt   time.Time `firestore:"updated_at"`
}

// userDirectoryMetadataDoc is the Firestore persistence model for metadata
type userDirectoryMetadataDoc struct {
	LastRefreshSuccess time.Time `firestore:"last_refresh_success"`
	LastRefreshAttempt time.Time `firestore:"last_refresh_attempt"`
	UserCount          int       `firestore:"user_count"`
}

func (r *userRepository) workspace(workspaceID string) *firestore.DocumentRef {
	if r.collectionPrefix != "" {
		return r.client.Collection(r.collectionPrefix + "_" + workspacesCollection).Doc(workspaceID)
	}
	return r.client.Collection(workspacesCollection).Doc(workspaceID)
}

func (r *userRepository) collection(workspaceID string) *firestore.CollectionRef {
	return r.workspace(workspaceID).Collection(usersCollection)
}

func (r *userRepository) metadataDoc(workspaceID string) *firestore.DocumentRef {
	return r.workspace(workspaceID).Collection(metadataCollection).Doc(userDirectoryDocument)
}

func toUserDoc(user *model.User) *userDoc {
	return &userDoc{
		ID:          string(user.ID),
		ExternalID:  user.ExternalID,
		Name:        user.Name,
		DisplayName: user.DisplayName,
		FullName:    user.FullName,
		AvatarURL:   user.AvatarURL,
		UpdatedAt:   user.UpdatedAt,
	}
}

func fromUserDoc(doc *userDoc) *model.User {
	return &model.User{
		ID:          model.UserID(doc.ID),
		ExternalID:  doc.ExternalID,
		Name:        doc.Name,
		DisplayName: doc.DisplayName,
		FullName:    doc.FullName,
		AvatarURL:   doc.AvatarURL,
		UpdatedAt:   doc.UpdatedAt,
	}
}

// GetAll retrieves all users of a workspace, ordered by ID
func (r *userRepository) GetAll(ctx context.Context, workspaceID string) ([]*model.User, error) {
	iter := r.collection(workspaceID).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var users []*model.User
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate users", goerr.V("workspace_id", workspaceID))
		}

		var d userDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal user",
				goerr.V("workspace_id", workspaceID),
				goerr.V("docID", doc.Ref.ID))
		}

		users = append(users, fromUserDoc(&d))
	}

	return users, nil
}

// GetByIDs retrieves multiple users by IDs.
// Splits requests into batches of firestoreGetAllLimit documents.
func (r *userRepository) GetByIDs(ctx context.Context, workspaceID string, ids []model.UserID) (map[model.UserID]*model.User, error) {
	result := make(map[model.UserID]*model.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	for i := 0; i < len(ids); i += firestoreGetAllLimit {
		end := min(i+firestoreGetAllLimit, len(ids))
		batch := ids[i:end]

		refs := make([]*firestore.DocumentRef, len(batch))
		for j, id := range batch {
			refs[j] = r.collection(workspaceID).Doc(string(id))
		}

		docs, err := r.client.GetAll(ctx, refs)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to batch get users",
				goerr.V("workspace_id", workspaceID),
				goerr.V("count", len(batch)))
		}

		for idx, doc := range docs {
			if !doc.Exists() {
				// Missing users are not included in the result map (not an error)
				continue
			}

			var d userDoc
			if err := doc.DataTo(&d); err != nil {
				return nil, goerr.Wrap(err, "failed to unmarshal user",
					goerr.V("workspace_id", workspaceID),
					goerr.V("id", batch[idx]))
			}

			result[batch[idx]] = fromUserDoc(&d)
		}
	}

	return result, nil
}

// SaveMany saves multiple users (upsert operation)
func (r *userRepository) SaveMany(ctx context.Context, workspaceID string, users []*model.User) error {
	if len(users) == 0 {
		return nil
	}

	// BulkWriter handles the 500 writes per batch limit
	bulkWriter := r.client.BulkWriter(ctx)
	defer bulkWriter.End()

	jobs := make([]*firestore.BulkWriterJob, 0, len(users))
	for _, user := range users {
		job, err := bulkWriter.Set(r.collection(workspaceID).Doc(string(user.ID)), toUserDoc(user))
		if err != nil {
			return goerr.Wrap(err, "failed to add Set operation to bulk writer",
				goerr.V("workspace_id", workspaceID),
				goerr.V("user_id", user.ID))
		}
		jobs = append(jobs, job)
	}

	bulkWriter.Flush()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to save user", goerr.V("workspace_id", workspaceID))
		}
	}

	return nil
}

// DeleteAll deletes all users of a workspace
func (r *userRepository) DeleteAll(ctx context.Context, workspaceID string) error {
	iter := r.collection(workspaceID).Documents(ctx)
	defer iter.Stop()

	var refs []*firestore.DocumentRef
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return goerr.Wrap(err, "failed to iterate users for deletion", goerr.V("workspace_id", workspaceID))
		}
		refs = append(refs, doc.Ref)
	}

	if len(refs) == 0 {
		return nil
	}

	bulkWriter := r.client.BulkWriter(ctx)
	defer bulkWriter.End()

	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bulkWriter.Delete(ref)
		if err != nil {
			return goerr.Wrap(err, "failed to add Delete operation to bulk writer", goerr.V("workspace_id", workspaceID))
		}
		jobs = append(jobs, job)
	}

	bulkWriter.Flush()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to delete user", goerr.V("workspace_id", workspaceID))
		}
	}

	return nil
}

// GetMetadata retrieves refresh metadata
func (r *userRepository) GetMetadata(ctx context.Context, workspaceID string) (*model.UserDirectoryMetadata, error) {
	doc, err := r.metadataDoc(workspaceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Zero value if the directory was never refreshed
			return &model.UserDirectoryMetadata{}, nil
		}
		return nil, goerr.Wrap(err, "failed to get user directory metadata", goerr.V("workspace_id", workspaceID))
	}

	var d userDirectoryMetadataDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal user directory metadata", goerr.V("workspace_id", workspaceID))
	}

	return &model.UserDirectoryMetadata{
		LastRefreshSuccess: d.LastRefreshSuccess,
		LastRefreshAttempt: d.LastRefreshAttempt,
		UserCount:          d.UserCount,
	}, nil
}

// SaveMetadata saves refresh metadata
func (r *userRepository) SaveMetadata(ctx context.Context, workspaceID string, metadata *model.UserDirectoryMetadata) error {
	_, err := r.metadataDoc(workspaceID).Set(ctx, &userDirectoryMetadataDoc{
		LastRefreshSuccess: metadata.LastRefreshSuccess,
		LastRefreshAttempt: metadata.LastRefreshAttempt,
		UserCount:          metadata.UserCount,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to save user directory metadata", goerr.V("workspace_id", workspaceID))
	}
	return nil
}
