package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/toolgate"
)

type userDocument struct {
	AllowedTools []string `bson:"allowed_tools"`
}

// UserPermissions reads users.allowed_tools.
type UserPermissions struct {
	users *mongo.Collection
}

func NewUserPermissions(db *mongo.Database) *UserPermissions {
	return &UserPermissions{users: db.Collection(UsersCollection)}
}

// LookupUserPermissions implements toolgate.PermissionChecker. Unknown users
// and malformed ids have no tools.
func (p *UserPermissions) LookupUserPermissions(ctx context.Context, userID string) ([]string, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, nil
	}

	opts := options.FindOne().SetProjection(bson.M{"allowed_tools": 1})

	var doc userDocument
	if err := p.users.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	return doc.AllowedTools, nil
}

var _ toolgate.PermissionChecker = (*UserPermissions)(nil)
