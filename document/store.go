package document

import (
	"errors"
	"fmt"

	"github.com/tidwall/buntdb"
	"nyiyui.ca/rosen"
)

const (
	keyGraph  = "graph:data"
	keyRoutes = "routes:data"
)

// ErrNoDocument is returned by Store.Load when nothing was ever saved.
var ErrNoDocument = errors.New("no saved documents")

// Store persists the documents in a buntdb file. Saving is explicit; the
// editor never writes behind the user's back.
type Store struct {
	db *buntdb.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Save(ex rosen.Export) error {
	graphData, routesData, err := Marshal(ex)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(keyGraph, string(graphData), nil); err != nil {
			return err
		}
		_, _, err := tx.Set(keyRoutes, string(routesData), nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("save documents: %w", err)
	}
	return nil
}

func (s *Store) Load() (*rosen.Map, error) {
	var graphData, routesData string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(keyGraph)
		if err != nil {
			return err
		}
		graphData = v
		v, err = tx.Get(keyRoutes)
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		routesData = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return nil, ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	return Load([]byte(graphData), []byte(routesData))
}
