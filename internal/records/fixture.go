package records

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// FixtureUser is a seeded user with a plaintext password that is hashed on import.
type FixtureUser struct {
	UserDTO
	Password string `json:"password"`
}

// Fixture is the JSON document the local backends are seeded from. It uses
// the same record shapes as the upstream API, keyed by user id.
type Fixture struct {
	Users     []FixtureUser         `json:"users"`
	Routes    []RouteDTO            `json:"routes"`
	Histories map[string]HistoryDTO `json:"histories"`
	Misc      map[string][]MiscDTO  `json:"miscellaneous"`
}

func DecodeFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	return &f, nil
}

func LoadFixture(path string) (*Fixture, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer file.Close()
	return DecodeFixture(file)
}
