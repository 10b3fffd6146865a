package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/silentius-satoshi/ZapTok-sub006/cashu"
	"github.com/silentius-satoshi/ZapTok-sub006/crypto"
	bolt "go.etcd.io/bbolt"
)

const (
	keysetsBucket             = "keysets"
	proofsBucket              = "proofs"
	reservedProofsBucket      = "reserved_proofs"
	pendingTransactionsBucket = "pending_transactions"
	seedBucket                = "seed"

	mnemonicKey = "mnemonic"
	seedKey     = "seed"
)

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "wallet.db"), 0600,
		&bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	boltdb := &BoltDB{bolt: db}
	if err := boltdb.initWalletBuckets(); err != nil {
		return nil, fmt.Errorf("error setting bolt db: %v", err)
	}

	return boltdb, nil
}

func (db *BoltDB) initWalletBuckets() error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		buckets := []string{
			keysetsBucket,
			proofsBucket,
			reservedProofsBucket,
			pendingTransactionsBucket,
			seedBucket,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

func (db *BoltDB) SaveMnemonicSeed(mnemonic string, seed []byte) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		seedb := tx.Bucket([]byte(seedBucket))
		if err := seedb.Put([]byte(seedKey), seed); err != nil {
			return err
		}
		return seedb.Put([]byte(mnemonicKey), []byte(mnemonic))
	})
}

func (db *BoltDB) GetMnemonic() string {
	var mnemonic string
	db.bolt.View(func(tx *bolt.Tx) error {
		mnemonic = string(tx.Bucket([]byte(seedBucket)).Get([]byte(mnemonicKey)))
		return nil
	})
	return mnemonic
}

func (db *BoltDB) GetSeed() []byte {
	var seed []byte
	db.bolt.View(func(tx *bolt.Tx) error {
		seedValue := tx.Bucket([]byte(seedBucket)).Get([]byte(seedKey))
		seed = make([]byte, len(seedValue))
		copy(seed, seedValue)
		return nil
	})
	return seed
}

func (db *BoltDB) SaveProofs(proofs cashu.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		for _, proof := range proofs {
			key := []byte(proof.Secret)
			jsonProof, err := json.Marshal(proof)
			if err != nil {
				return fmt.Errorf("invalid proof: %v", err)
			}
			if err := proofsb.Put(key, jsonProof); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) GetProofs() cashu.Proofs {
	proofs := cashu.Proofs{}

	db.bolt.View(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))

		c := proofsb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var proof cashu.Proof
			if err := json.Unmarshal(v, &proof); err != nil {
				return fmt.Errorf("error getting proofs: %v", err)
			}
			proofs = append(proofs, proof)
		}
		return nil
	})

	return proofs
}

// DeleteProof removes the proof with the given secret.
// It is a no-op if the proof is not present.
func (db *BoltDB) DeleteProof(secret string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		proofsb := tx.Bucket([]byte(proofsBucket))
		return proofsb.Delete([]byte(secret))
	})
}

func (db *BoltDB) AddReservedProofs(id string, proofs cashu.Proofs) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		reservedb := tx.Bucket([]byte(reservedProofsBucket))
		jsonProofs, err := json.Marshal(proofs)
		if err != nil {
			return fmt.Errorf("invalid proofs: %v", err)
		}
		return reservedb.Put([]byte(id), jsonProofs)
	})
}

func (db *BoltDB) GetReservedProofs(id string) cashu.Proofs {
	proofs := cashu.Proofs{}

	db.bolt.View(func(tx *bolt.Tx) error {
		reservedb := tx.Bucket([]byte(reservedProofsBucket))
		v := reservedb.Get([]byte(id))
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &proofs)
	})

	return proofs
}

func (db *BoltDB) GetAllReservedProofs() map[string]cashu.Proofs {
	reserved := make(map[string]cashu.Proofs)

	db.bolt.View(func(tx *bolt.Tx) error {
		reservedb := tx.Bucket([]byte(reservedProofsBucket))

		c := reservedb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			proofs := cashu.Proofs{}
			if err := json.Unmarshal(v, &proofs); err != nil {
				return fmt.Errorf("error getting reserved proofs: %v", err)
			}
			reserved[string(k)] = proofs
		}
		return nil
	})

	return reserved
}

func (db *BoltDB) DeleteReservedProofs(id string) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		reservedb := tx.Bucket([]byte(reservedProofsBucket))
		return reservedb.Delete([]byte(id))
	})
}

func (db *BoltDB) SaveKeyset(keyset *crypto.WalletKeyset) error {
	jsonKeyset, err := json.Marshal(keyset)
	if err != nil {
		return fmt.Errorf("invalid keyset: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))
		mintBucket, err := keysetsb.CreateBucketIfNotExists([]byte(keyset.MintURL))
		if err != nil {
			return err
		}
		return mintBucket.Put([]byte(keyset.Id), jsonKeyset)
	})
}

func (db *BoltDB) GetKeysets() crypto.KeysetsMap {
	keysets := make(crypto.KeysetsMap)

	db.bolt.View(func(tx *bolt.Tx) error {
		keysetsb := tx.Bucket([]byte(keysetsBucket))

		return keysetsb.ForEachBucket(func(mintURL []byte) error {
			mintKeysets := make(map[string]crypto.WalletKeyset)
			mintBucket := keysetsb.Bucket(mintURL)

			c := mintBucket.Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				var keyset crypto.WalletKeyset
				if err := json.Unmarshal(v, &keyset); err != nil {
					return fmt.Errorf("error getting keyset: %v", err)
				}
				mintKeysets[keyset.Id] = keyset
			}

			keysets[string(mintURL)] = mintKeysets
			return nil
		})
	})

	return keysets
}

func (db *BoltDB) SavePendingTransaction(tx PendingTransaction) error {
	if tx.Id == "" {
		return errors.New("pending transaction needs an id")
	}

	jsonTx, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("invalid pending transaction: %v", err)
	}

	return db.bolt.Update(func(btx *bolt.Tx) error {
		pendingb := btx.Bucket([]byte(pendingTransactionsBucket))
		return pendingb.Put([]byte(tx.Id), jsonTx)
	})
}

func (db *BoltDB) GetPendingTransactions() []PendingTransaction {
	pending := []PendingTransaction{}

	db.bolt.View(func(btx *bolt.Tx) error {
		pendingb := btx.Bucket([]byte(pendingTransactionsBucket))

		c := pendingb.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var tx PendingTransaction
			if err := json.Unmarshal(v, &tx); err != nil {
				return fmt.Errorf("error getting pending transaction: %v", err)
			}
			pending = append(pending, tx)
		}
		return nil
	})

	return pending
}

func (db *BoltDB) DeletePendingTransaction(id string) error {
	return db.bolt.Update(func(btx *bolt.Tx) error {
		pendingb := btx.Bucket([]byte(pendingTransactionsBucket))
		return pendingb.Delete([]byte(id))
	})
}
