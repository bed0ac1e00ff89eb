package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/burrowvirt/burrow/pkg/types"
)

var (
	// Bucket names
	bucketVMs      = []byte("vms")
	bucketMicroOps = []byte("microops")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketVMs, bucketMicroOps} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// VM operations

func (s *BoltStore) CreateVM(vm *types.VM) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVMs)
		data, err := json.Marshal(vm)
		if err != nil {
			return err
		}
		return b.Put([]byte(vm.ID), data)
	})
}

func (s *BoltStore) GetVM(id string) (*types.VM, error) {
	var vm types.VM
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVMs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", types.ErrVMNotFound, id)
		}
		return json.Unmarshal(data, &vm)
	})
	if err != nil {
		return nil, err
	}
	return &vm, nil
}

func (s *BoltStore) GetVMByName(name string) (*types.VM, error) {
	var found *types.VM
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVMs).ForEach(func(k, v []byte) error {
			var vm types.VM
			if err := json.Unmarshal(v, &vm); err != nil {
				return err
			}
			if vm.Name == name {
				found = &vm
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: name %s", types.ErrVMNotFound, name)
	}
	return found, nil
}

func (s *BoltStore) ListVMs() ([]*types.VM, error) {
	var vms []*types.VM
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVMs).ForEach(func(k, v []byte) error {
			var vm types.VM
			if err := json.Unmarshal(v, &vm); err != nil {
				return err
			}
			vms = append(vms, &vm)
			return nil
		})
	})
	return vms, err
}

func (s *BoltStore) UpdateVM(vm *types.VM) error {
	return s.CreateVM(vm) // upsert
}

func (s *BoltStore) DeleteVM(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVMs).Delete([]byte(id))
	})
}

// Micro-op operations

func (s *BoltStore) SaveMicroOp(op *types.MicroOp) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMicroOps)
		data, err := json.Marshal(op)
		if err != nil {
			return err
		}
		return b.Put([]byte(op.ID), data)
	})
}

func (s *BoltStore) GetMicroOp(id string) (*types.MicroOp, error) {
	var op types.MicroOp
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMicroOps).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("micro-op not found: %s", id)
		}
		return json.Unmarshal(data, &op)
	})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (s *BoltStore) ListMicroOpsByVM(vmID string) ([]*types.MicroOp, error) {
	var ops []*types.MicroOp
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMicroOps).ForEach(func(k, v []byte) error {
			var op types.MicroOp
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			if op.VMID == vmID {
				ops = append(ops, &op)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Bucket iteration is keyed by op ID; history reads want queue order.
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].EnqueuedAt.Before(ops[j].EnqueuedAt)
	})
	return ops, nil
}

func (s *BoltStore) DeleteMicroOpsByVM(vmID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMicroOps)
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var op types.MicroOp
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			if op.VMID == vmID {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
