package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"

	"github.com/ChayaSt/QCFractal/pkg/types"
)

// digestCost keeps login checks fast on shared clusters where a
// manager authenticates on every heartbeat.
const digestCost = 6

// AddUser creates a user with a bcrypt password digest. Returns false
// without error when the username is already taken.
func (s *BoltSocket) AddUser(username, password string, permissions []string) (bool, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(password), digestCost)
	if err != nil {
		return false, err
	}

	added := false
	now := time.Now().UTC()

	err = s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketUsers)
		if docs.Get([]byte(username)) != nil {
			return nil
		}
		u := types.User{
			ID:          uuid.New().String(),
			Username:    username,
			Password:    digest,
			Permissions: permissions,
			CreatedOn:   now,
			ModifiedOn:  now,
		}
		if err := putJSON(docs, []byte(username), &u); err != nil {
			return err
		}
		added = true
		return nil
	})
	return added, err
}

// VerifyUser checks a password and a required permission in one call.
// The returned string is a human-readable reason suitable for an error
// envelope. With security bypassed every check passes.
func (s *BoltSocket) VerifyUser(username, password, permission string) (bool, string, error) {
	if s.bypass {
		return true, "Success", nil
	}

	var u types.User
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(username))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &u); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, "", err
	}
	if !found {
		return false, "User not found.", nil
	}
	if bcrypt.CompareHashAndPassword(u.Password, []byte(password)) != nil {
		return false, "Incorrect password.", nil
	}

	for _, p := range u.Permissions {
		if p == permission || p == types.PermissionAdmin {
			return true, "Success", nil
		}
	}
	return false, "User has insufficient permissions.", nil
}

// RemoveUser deletes a user by name. Returns whether the user existed.
func (s *BoltSocket) RemoveUser(username string) (bool, error) {
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketUsers)
		if docs.Get([]byte(username)) == nil {
			return nil
		}
		existed = true
		return docs.Delete([]byte(username))
	})
	return existed, err
}
