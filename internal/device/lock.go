package device

import "fmt"

// Lock locks the device.
//
// With no password configured any call succeeds, and a non-empty password
// becomes the lock password. Once a password is set, Lock requires it.
// Locking an already-locked device with the right password is a no-op.
//
// Hashing runs outside the store lock; the commit re-checks that the stored
// hash is still the one that was verified.
func (s *Store) Lock(password string) (Change, error) {
	expected := s.Read().LockPasswordHash

	if err := s.checkPassword(password, expected); err != nil {
		return Change{}, err
	}

	var newHash string
	if expected == "" && password != "" {
		h, err := hashPassword(password)
		if err != nil {
			return Change{}, fmt.Errorf("hashing lock password: %w", err)
		}
		newHash = h
	}

	ch, err := s.Mutate(func(tx *Tx) error {
		if tx.State.LockPasswordHash != expected {
			return ErrInvalidCredential
		}
		if newHash != "" {
			tx.State.LockPasswordHash = newHash
			tx.MarkInfoChanged()
		}
		if !tx.State.Locked {
			tx.State.Locked = true
			tx.MarkInfoChanged()
		}
		return nil
	})
	if err == nil {
		s.logger.Info("device locked", "password_set", expected != "" || newHash != "")
	}
	return ch, err
}

// Unlock unlocks the device. The lock password, if any, must match.
// The password stays configured after unlocking.
func (s *Store) Unlock(password string) (Change, error) {
	expected := s.Read().LockPasswordHash

	if err := s.checkPassword(password, expected); err != nil {
		return Change{}, err
	}

	ch, err := s.Mutate(func(tx *Tx) error {
		if tx.State.LockPasswordHash != expected {
			return ErrInvalidCredential
		}
		if tx.State.Locked {
			tx.State.Locked = false
			tx.MarkInfoChanged()
		}
		return nil
	})
	if err == nil {
		s.logger.Info("device unlocked")
	}
	return ch, err
}

// ChangeLockPassword replaces the lock password. current must match the
// configured password (anything is accepted when none is set). An empty
// newPassword removes the password. Fails with ErrLocked while locked.
func (s *Store) ChangeLockPassword(current, newPassword string) (Change, error) {
	snap := s.Read()
	if snap.Locked {
		return Change{}, ErrLocked
	}
	expected := snap.LockPasswordHash

	if err := s.checkPassword(current, expected); err != nil {
		return Change{}, err
	}

	var newHash string
	if newPassword != "" {
		h, err := hashPassword(newPassword)
		if err != nil {
			return Change{}, fmt.Errorf("hashing lock password: %w", err)
		}
		newHash = h
	}

	return s.Mutate(func(tx *Tx) error {
		if err := tx.RequireUnlocked(); err != nil {
			return err
		}
		if tx.State.LockPasswordHash != expected {
			return ErrInvalidCredential
		}
		tx.State.LockPasswordHash = newHash
		tx.MarkInfoChanged()
		return nil
	})
}

func (s *Store) checkPassword(password, encoded string) error {
	if encoded == "" {
		return nil
	}
	ok, err := verifyPassword(password, encoded)
	if err != nil {
		return fmt.Errorf("verifying lock password: %w", err)
	}
	if !ok {
		return ErrInvalidCredential
	}
	return nil
}
