package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"go.pilab.hu/toolgate"
	"go.pilab.hu/toolgate/internal/crypto"
)

type credentialsDocument struct {
	LoginURL      string `bson:"login_url,omitempty"`
	Username      string `bson:"username,omitempty"`
	Password      string `bson:"password,omitempty"`
	UsernameField string `bson:"username_field,omitempty"`
	PasswordField string `bson:"password_field,omitempty"`
}

type toolDocument struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty"`
	Name        string               `bson:"name"`
	URL         string               `bson:"url,omitempty"`
	Delivery    string               `bson:"delivery,omitempty"`
	Credentials *credentialsDocument `bson:"credentials,omitempty"`
}

// ToolCatalog reads tools from the tools collection. Tool ids are ObjectID
// hex strings.
type ToolCatalog struct {
	tools  *mongo.Collection
	sealer *crypto.Sealer
}

// NewToolCatalog returns a catalog over db. Sealed passwords are opened with
// sealer; a nil sealer rejects them at lookup time.
func NewToolCatalog(db *mongo.Database, sealer *crypto.Sealer) *ToolCatalog {
	return &ToolCatalog{
		tools:  db.Collection(ToolsCollection),
		sealer: sealer,
	}
}

// LookupTool implements toolgate.ToolCatalog.
func (c *ToolCatalog) LookupTool(ctx context.Context, toolID string) (*toolgate.Tool, error) {
	oid, err := primitive.ObjectIDFromHex(toolID)
	if err != nil {
		return nil, toolgate.ErrInvalidToolID
	}

	var doc toolDocument
	if err := c.tools.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, toolgate.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find tool: %w", err)
	}

	return c.toTool(&doc)
}

func (c *ToolCatalog) toTool(doc *toolDocument) (*toolgate.Tool, error) {
	tool := &toolgate.Tool{
		ID:       doc.ID.Hex(),
		Name:     doc.Name,
		URL:      doc.URL,
		Delivery: toolgate.ParseDeliveryMode(doc.Delivery),
	}

	if cd := doc.Credentials; cd != nil {
		if crypto.IsSealed(cd.Password) && c.sealer == nil {
			return nil, fmt.Errorf("tool %s has a sealed password but no credential key is configured", tool.ID)
		}
		password, err := c.sealer.OpenString(cd.Password)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tool.ID, err)
		}
		tool.Credentials = &toolgate.ToolCredentials{
			LoginURL:      cd.LoginURL,
			Username:      cd.Username,
			Password:      password,
			UsernameField: cd.UsernameField,
			PasswordField: cd.PasswordField,
		}
	}

	return tool, nil
}

var _ toolgate.ToolCatalog = (*ToolCatalog)(nil)
