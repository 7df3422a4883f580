package session

import "errors"

// Context identifies whose data a daemon operates on. It is passed
// explicitly to the writer, coordinator and reconciler.
type Context struct {
	Profile     string
	OwnerUserID string
}

// Validate checks the profile name and that an owner is set.
func (c Context) Validate() error {
	if err := ValidateName(c.Profile); err != nil {
		return err
	}
	if c.OwnerUserID == "" {
		return errors.New("owner user id is required")
	}
	return nil
}
