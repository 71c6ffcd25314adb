package repository

import (
	stderrors "errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-plt-approvals/internal/platform/errors"
)

type userDoc struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Superuser bool     `yaml:"superuser"`
	Inactive  bool     `yaml:"inactive"`
	Roles     []string `yaml:"roles"`
}

type entityDoc struct {
	Type string `yaml:"type"`
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Seed is the content of a seed file.
type Seed struct {
	Workflows []*WorkflowDefinition
	Users     []*User
	Entities  []*Entity
}

// LoadSeed decodes a seed file. An empty document yields nil.
func LoadSeed(r io.Reader) (*Seed, error) {
	var file seedFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfiguration, "failed to decode seed file")
	}

	workflows, err := decodeWorkflows(file.Workflows)
	if err != nil {
		return nil, err
	}
	seed := &Seed{Workflows: workflows}

	for _, doc := range file.Users {
		if doc.ID == "" {
			return nil, errors.InvalidConfiguration("user id is required")
		}
		u := &User{
			ID:          doc.ID,
			DisplayName: doc.Name,
			IsSuperuser: doc.Superuser,
			IsActive:    !doc.Inactive,
			Roles:       make(map[string]bool, len(doc.Roles)),
		}
		for _, role := range doc.Roles {
			u.Roles[role] = true
		}
		seed.Users = append(seed.Users, u)
	}

	for _, doc := range file.Entities {
		entityType, ok := ParseEntityType(doc.Type)
		if !ok {
			return nil, errors.InvalidConfiguration(fmt.Sprintf("entity %q: unknown type %q", doc.ID, doc.Type))
		}
		if doc.ID == "" {
			return nil, errors.InvalidConfiguration("entity id is required")
		}
		seed.Entities = append(seed.Entities, &Entity{
			Type:           entityType,
			ID:             doc.ID,
			Name:           doc.Name,
			ApprovalStatus: StatusNone,
		})
	}
	return seed, nil
}
