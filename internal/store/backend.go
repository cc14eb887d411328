package store

import "fmt"

// OpenBackend opens the backend named by driver ("sqlite" or "badger") at path.
func OpenBackend(driver, path string) (Backend, error) {
	switch driver {
	case "", "sqlite":
		db, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "badger":
		if path == ":memory:" {
			path = ""
		}
		db, err := OpenBadger(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
