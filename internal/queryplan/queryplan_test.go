package queryplan

import (
	"github.com/rpattn/querygate/internal/auth"
	"github.com/rpattn/querygate/internal/catalog"
	"github.com/rpattn/querygate/internal/domain"

	"github.com/google/uuid"
)

func testCatalog() *catalog.Static {
	return catalog.NewStatic([]domain.EntityDefinition{
		{
			Name:         "orders",
			Label:        "Orders",
			DisplayField: "reference",
			TenantField:  "organization_id",
			Fields: []domain.FieldMetadata{
				{Name: "reference", Type: domain.FieldTypeString, Stored: true},
				{Name: "status", Type: domain.FieldTypeString, Stored: true},
				{Name: "amount", Type: domain.FieldTypeFloat, Stored: true},
				{Name: "created_at", Type: domain.FieldTypeDatetime, Stored: true},
				{Name: "organization_id", Type: domain.FieldTypeString, Stored: true},
				{Name: "customer", Type: domain.FieldTypeRelation, Stored: true, RelationTarget: "customers"},
				{Name: "margin", Type: domain.FieldTypeFloat, Stored: false},
			},
		},
		{
			Name:         "customers",
			Label:        "Customers",
			DisplayField: "name",
			Fields: []domain.FieldMetadata{
				{Name: "name", Type: domain.FieldTypeString, Stored: true},
				{Name: "email", Type: domain.FieldTypeString, Stored: true},
				{Name: "parent", Type: domain.FieldTypeRelation, Stored: true, RelationTarget: "customers"},
			},
		},
		{
			Name:      "invoices",
			Label:     "Invoices",
			ReadRoles: []string{"finance"},
			Fields: []domain.FieldMetadata{
				{Name: "number", Type: domain.FieldTypeString, Stored: true},
			},
		},
	})
}

func testIdentity(roles ...string) auth.Identity {
	return auth.Identity{
		UserID:         uuid.New(),
		OrganizationID: uuid.New(),
		Roles:          roles,
	}
}
