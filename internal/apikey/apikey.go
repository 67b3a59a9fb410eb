// Package apikey mints client API keys.
package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/sourcefinder/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Prefix starts every raw key.
	Prefix = "sf_"
	// PrefixLen is how many leading characters are stored in clear for lookup.
	PrefixLen = 8

	secretBytes = 24
)

var validScopes = map[string]bool{
	models.ScopeSearch: true,
	models.ScopeAdmin:  true,
}

// Generate creates a key named name with the given scopes. It returns the raw
// key, which is shown once, and the record to persist.
func Generate(name string, scopes []string) (string, *models.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("name is required")
	}
	if len(scopes) == 0 {
		return "", nil, fmt.Errorf("at least one scope is required")
	}
	for _, s := range scopes {
		if !validScopes[s] {
			return "", nil, fmt.Errorf("unknown scope %q", s)
		}
	}

	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, fmt.Errorf("generating key: %w", err)
	}
	raw := Prefix + hex.EncodeToString(secret)

	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key: %w", err)
	}

	now := time.Now().UTC()
	return raw, &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:PrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Matches reports whether raw is the key behind key's hash.
func Matches(key *models.APIKey, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)) == nil
}

// ParseScopes splits a comma-separated scope list.
func ParseScopes(s string) []string {
	var scopes []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			scopes = append(scopes, part)
		}
	}
	return scopes
}
